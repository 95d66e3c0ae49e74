// Package handshake secures and authenticates a new connection before it carries
// ordinary requests.
//
// The handshake is an explicit state machine. Transition is a pure function
// (state, event) -> (state, effects) and can be tested without a socket; Handshake
// is the driver that installs itself as the head handler of a base.Conn, feeds
// the connection's events into Transition and performs the resulting effects.
//
// States:
//
//	TlsStart  --active / send StartTLS-->        TlsWait
//	TlsWait   --StartTLS ack / start tls-->      SslWait
//	SslWait   --tls complete / send AuthReq-->   AuthWait
//	AuthWait  --AuthResp / remove, succeed-->    Done
//
// Plaintext authentication starts in AuthWait (AuthReq is sent on active),
// implicit TLS starts in SslWait (the TLS handshake starts on active).
// An ErrorResp frame, an unexpected code, a failed TLS handshake, a fault or the
// connection closing ends the handshake in Done with exactly one failure.
//
// The outcome is a *base.Exchange returned synchronously by Perform. It is
// resolved exactly once; on failure the caller closes the connection.
package handshake
