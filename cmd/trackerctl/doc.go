// Command trackerctl talks to a tracker through a running bridge host.
//
// It dials the host's websocket, sends requests through the caller-side
// bridge and prints the mapped results as JSON:
//
//	trackerctl me --force
//	trackerctl issue PRJ-7
//	trackerctl transition PRJ-7 31
//	trackerctl guard unblock --session-backend redis --session-id desk
package main
