// Package base provides the protocol-independent part of the transports
// (TCP, Unix sockets). Connectors only dial, listen and tune sockets; framing,
// the security handshake and error handling live here.
//
// The package focuses on:
//   - The frame codec: a 4-byte big-endian length (code byte + payload), the code and the payload
//   - A per-connection event loop with a handler chain and an in-place TLS upgrade
//   - One outstanding request per connection and a read timeout armed on every write
//   - Retries and reconnection for requests that hit a closed connection
//
// Key Components:
//
//   - Conn: runs the event loop of one socket. Decoded frames go to the head
//     handler only, lifecycle events (active, tls complete, fault, closed) to every
//     handler. A StartTLS request is carried out after the current callback has
//     returned; plaintext bytes received after the acknowledgement are a protocol
//     violation.
//
//   - Exchange: the one-shot outcome of a request or of the handshake.
//
//   - Correlator: the handler pairing the single outstanding request with its
//     response. An ErrorResp answer fails the exchange with a RemoteError.
//
//   - ReadTimeoutGuard: closes a connection whose response is overdue.
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Core client implementation that manages multiple connections
//     with round-robin load balancing. Every connection completes the handshake
//     (injected as a HandshakeFunc) before it is used; unreachable endpoints are skipped.
//
//   - serverTransport: Core server implementation that answers the handshake,
//     Ping and GetServerInfo itself and routes every other request to the handler.
//
// Thread Safety:
//
//	All public methods are thread-safe. Handler callbacks of one connection are
//	never called concurrently, while the server creates a dedicated goroutine
//	for each connection.
package base
