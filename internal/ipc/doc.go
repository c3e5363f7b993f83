/*
Package ipc carries bridged requests between the caller process and the
privileged host process.

# Messages

The caller sends an OutboundRequest tagged with its correlation id; the host
answers with exactly one InboundResponse carrying the same id and either a
response payload or an error payload. On the wire both travel inside an
Envelope whose Event names the direction:

	OUTBOUND_REQUEST   caller -> host
	INBOUND_RESPONSE   host   -> caller
	HOST_READY         host   -> caller, once, after the connection is accepted

# Transports

Two transports implement the Caller and Host ends:

  - MemoryPipe: buffered Go channels, used in tests and when the executor
    runs in-process.
  - WebSocket: gorilla/websocket connection, one JSON envelope per message.
    Writes are serialised per connection; the read loop owns delivery.

Neither transport closes its message channels. Consumers select on Done()
to learn that the other end went away.
*/
package ipc
