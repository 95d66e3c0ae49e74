// Package tcp implements the TCP transport of the protocol. It provides concrete
// implementations of the base package's connector interfaces for TCP sockets.
//
// This package builds on the base package's transport functionality: framing,
// the per connection event loop, the read timeout and the client side
// round robin with retries. Every client connection runs the security handshake
// (optional StartTLS or implicit TLS, then authentication) before it carries requests.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Socket options (TCP_NODELAY, keep-alive, linger, buffer sizes) are taken from
// common.TCPConf and common.SocketConf and applied to both sides.
package tcp
