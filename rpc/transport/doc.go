// Package transport defines the interfaces and abstractions for socket communication
// with a protocol server. It provides a common contract that all transport implementations
// must fulfill, enabling medium-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Exchanging whole frames (operation code + payload), never partial messages
//   - Enabling multiple transport implementations (TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management, the security handshake and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     answer the handshake and route all other requests to a handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
