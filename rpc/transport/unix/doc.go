// Package unix implements the protocol transport over Unix domain sockets for
// processes running on the same machine.
//
// This package extends the base transport layer with Unix socket-specific connectors
// while inheriting framing, the security handshake and error handling from the
// base package. TLS over a Unix socket works, but the server name has to be set
// explicitly since it cannot be derived from a socket path (the client transport
// rejects a TLS configuration without one, see common.ErrTLSServerNameRequired).
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners and accepts connections
package unix
