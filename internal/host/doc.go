/*
Package host is the privileged side of the tracker bridge.

An Executor receives ipc.OutboundRequest messages, installs the request's
credentials into the header injector, performs the HTTP call and replies
with exactly one ipc.InboundResponse per request id.

	bridge --OUTBOUND_REQUEST--> Serve -> inject.Transport -> tracker
	bridge <--INBOUND_RESPONSE-- Serve <- decodeBody / ErrorPayload

Certificate verification is disabled only for calls whose AuthConfig
allows self-signed certificates; the two policies use separate transports.

Outbound calls are rate limited and run through a circuit breaker that only
counts transport failures and 5xx answers.
*/
package host
