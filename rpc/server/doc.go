// Package server implements the protocol server used for development and tests.
//
// The transport (see the base package) performs the server side of the security
// handshake (StartTLS acknowledgement or implicit TLS, then the AuthReq check
// against the configured users) and answers Ping and GetServerInfo. Every other
// request of an authenticated connection is dispatched by its message code to a
// HandlerFunc registered with Handle. Unknown codes are answered with an ErrorResp.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Endpoint:      "0.0.0.0:8087",
//		TimeoutSecond: 5,
//		Users:         map[string]string{"user": "pass"},
//		NodeName:      "node-1",
//		MetricsEndpoint: ":9090",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport())
//	s.Handle(100, func(req common.Frame) common.Frame {
//		return common.NewFrame(101, req.Payload)
//	})
//
//	if err := s.Serve(ctx); err != nil {
//		log.Fatalf("Server error: %v", err)
//	}
//
// Metrics of the whole process (connections, frames, handshakes, timeouts and
// per code request counters) are served in the prometheus format on
// MetricsEndpoint/metrics.
package server
