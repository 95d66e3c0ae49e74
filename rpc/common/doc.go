// Package common provides core data structures and utilities shared across
// the protocol engine. It defines the wire frame, the operation codes, the
// error kinds, configuration structures and logging.
//
// The package focuses on:
//   - Frame definition (operation code + payload) for all socket communication
//   - Error kinds every fatal protocol failure is classified into
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Frame: One length-prefixed protocol message. The codec lives in the
//     transport/base package, this package only defines the value.
//
//   - MessageCode: Enumeration of the operation codes used by the handshake
//     (StartTLS, AuthReq/AuthResp, ErrorResp) and by the liveness requests.
//     Numeric values are owned by the database server.
//
//   - Error: Typed error carrying an ErrorKind (protocol violation, remote error,
//     transport error, connection closed, timeout, illegal state). Use errors.Is
//     with the sentinels (ErrTimeout, ErrRemote, ...) or errors.As to get the
//     server's error code and message.
//
//   - ClientConfig / ServerConfig: Connection parameters, credentials and TLS
//     settings. TLSConf builds *tls.Config values from PEM files.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger factory while providing consistent formatting across the module.
package common
