// Package rpc provides the client side of a length-prefixed binary protocol
// with protobuf bodies, and a small server for development and tests.
// Every connection runs a security handshake before it carries requests.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the protocol,
//     including frames, message codes, the error kinds, configuration and logging.
//
//   - serializer: protobuf encoding of the frame bodies the protocol itself defines
//     (ErrorResp, AuthReq, GetServerInfoResp).
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets). The base subpackage holds the frame codec, the
//     per-connection event loop and the request correlation.
//
//   - handshake: the security handshake state machine (StartTLS or implicit TLS,
//     then authentication) and the handler driving it on a connection.
//
//   - client: the client used by applications, on top of a connected transport.
//
//   - server: a server that answers the handshake and dispatches requests by message code.
//
//   - testing: TLS fixtures and a scripted peer for tests.
package rpc
