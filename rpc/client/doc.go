// Package client implements the request facade of the protocol. It sends
// requests over a connected client transport and checks the response codes.
//
// The package focuses on:
//   - Liveness (Ping) and node information (ServerInfo) of the server
//   - Raw request/response exchanges for all other message codes
//   - Error classification: explicit server errors arrive as common.KindRemoteError,
//     unexpected response codes as common.KindProtocolViolation
//
// Usage Example:
//
//	config := common.ClientConfig{
//		TimeoutSecond: 5,
//		Credentials:   common.Credentials{Username: "user", Password: "pass"},
//		TLS:           common.TLSConf{Enabled: true, StartTLS: true, CAFile: "ca.pem"},
//		Transport: common.ClientTransportConfig{
//			Endpoints:  []string{"localhost:8087"},
//			RetryCount: 3,
//		},
//	}
//
//	c, err := client.NewClient(config, tcp.NewTCPClientTransport())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if err := c.Ping(ctx); err != nil {
//		return err
//	}
//
// Thread Safety:
//
//	The client is safe for concurrent use. Requests on one connection are
//	serialized, parallelism comes from ConnectionsPerEndpoint.
package client
