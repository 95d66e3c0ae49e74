// Package serializer encodes and decodes the frame payloads the protocol engine
// itself has to understand. The database server uses protobuf for all message
// bodies; the bodies needed here are small enough that they are written with
// the low level protowire package instead of generated code.
//
// Key Components:
//
//   - IPayload: Interface implemented by all message bodies (Serialize / Deserialize).
//
//   - ErrorResponse: Body of an ErrorResp frame (message + code). Both fields are
//     required by the server's schema, a body missing one is rejected.
//
//   - AuthRequest: Body of an AuthReq frame (user + password).
//
//   - ServerInfo: Body of a GetServerInfoResp frame (node + server version).
//
// Unknown fields are skipped, so newer servers can add fields without breaking
// older clients.
package serializer
