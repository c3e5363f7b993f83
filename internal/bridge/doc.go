/*
Package bridge is the caller side of the tracker request bridge.

The bridge never talks to the tracker itself. Send checks its
preconditions, records a pending entry under a fresh request id, and ships
the request over an ipc.Caller to the host process, which performs the HTTP
call. The answer comes back through HandleResponse (or the loop started by
Start) and settles the request's Future exactly once.

# Lifecycle of a request

	Send
	  ready gate -> cookie -> online -> config -> guard   (rejections create no entry)
	  insert pending{timer} -> Channel.Send
	HandleResponse / timer
	  remove entry -> stop timer -> resolve | reject

Whichever of response, error or timeout removes the entry from the pending
table first owns the Future; the others find nothing and are dropped.

A timeout or an authentication failure trips the access guard, after which
every non-forced Send is refused until Unblock is called.

# Transforms

A Request may carry a Transform applied to the raw payload before the
Future resolves. A transform that fails or panics rejects the Future with a
*TransformError and raises an "invalid response" notification.
*/
package bridge
