package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/transport"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("server")

// NewRPCServer creates a new protocol server
// It takes a config and a transport as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//	)
//	s.Handle(100, func(req common.Frame) common.Frame { ... })
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, transport transport.IRPCServerTransport) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created protocol server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:    config,
		transport: transport,
		handlers:  xsync.NewMapOf[common.MessageCode, HandlerFunc](),
	}
}

// RPCServer dispatches the requests of authenticated connections to the handler
// registered for their message code. The security handshake, Ping and
// GetServerInfo are answered by the transport itself.
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	handlers  *xsync.MapOf[common.MessageCode, HandlerFunc]
}

// Handle registers h for requests with the given code, replacing an earlier handler
func (s *RPCServer) Handle(code common.MessageCode, h HandlerFunc) {
	s.handlers.Store(code, h)
	Logger.Debugf("registered handler for %s", code)
}

// Serve starts the metrics endpoint (if configured) and the transport.
// It returns when ctx is done or the transport fails.
func (s *RPCServer) Serve(ctx context.Context) error {
	s.transport.RegisterHandler(s.dispatch)

	if s.config.MetricsEndpoint != "" {
		metricsSrv := s.startMetrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.transport.Listen(s.config)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		Logger.Infof("Shutting down server")
		if err := s.transport.Close(); err != nil {
			Logger.Warningf("error closing transport: %v", err)
		}
		return <-errCh
	}
}

// Addr blocks until the transport is listening and returns its address
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// dispatch is the transport handler
func (s *RPCServer) dispatch(req common.Frame) common.Frame {
	metrics.GetOrCreateCounter(fmt.Sprintf(`pbwire_server_requests_total{code="%d"}`, req.Code)).Inc()

	h, ok := s.handlers.Load(req.Code)
	if !ok {
		return base.ErrorFrame(base.ErrCodeUnknownMessage, fmt.Sprintf("unknown message code %s", req.Code))
	}

	resp := h(req)
	if resp.Code == common.MsgCErrorResp {
		metrics.GetOrCreateCounter(fmt.Sprintf(`pbwire_server_errors_total{code="%d"}`, req.Code)).Inc()
	}
	return resp
}

// startMetrics serves the prometheus metrics on the configured endpoint
func (s *RPCServer) startMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	srv := &http.Server{
		Addr:              s.config.MetricsEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		Logger.Infof("Starting metrics server on %s", s.config.MetricsEndpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

// ErrorFrame builds an ErrorResp frame for handlers
func ErrorFrame(code uint32, msg string) common.Frame {
	return base.ErrorFrame(code, msg)
}
