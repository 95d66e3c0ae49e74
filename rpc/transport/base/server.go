package base

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/serializer"
	"github.com/ValentinKolb/pbwire/rpc/transport"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Error codes sent in ErrorResp frames by the server
const (
	ErrCodeGeneric        uint32 = 1
	ErrCodeAuthRequired   uint32 = 2
	ErrCodeAuthFailed     uint32 = 3
	ErrCodeTLSUnavailable uint32 = 4
	ErrCodeUnknownMessage uint32 = 5
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the server side of the protocol: the security
// handshake, the liveness requests and the dispatch of everything else to the
// registered handler
type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerHandleFunc
	config    common.ServerConfig
	tlsConfig *tls.Config
	listener  net.Listener
	ready     chan struct{} // closed once the listener is bound
	readyOnce sync.Once
	conns     *xsync.MapOf[string, net.Conn] // open connections by id
	closing   atomic.Bool
	wg        sync.WaitGroup
}

// serverSession is the per connection state of the server
type serverSession struct {
	id            string
	raw           net.Conn
	rw            net.Conn // raw or the *tls.Conn on top of it
	secure        bool
	authenticated bool
	user          string
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		ready:     make(chan struct{}),
		conns:     xsync.NewMapOf[string, net.Conn](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	tlsConfig, err := config.TLS.BuildServerTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to configure tls: %w", err)
	}
	t.tlsConfig = tlsConfig

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener
	t.readyOnce.Do(func() { close(t.ready) })

	Logger.Infof("Starting %s server on %s (tls=%t, starttls=%t, auth=%t)",
		t.connector.GetName(), listener.Addr(), config.TLS.Enabled, config.TLS.StartTLS, len(config.Users) > 0)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() {
				t.wg.Wait()
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			continue
		}

		// Handle the connection in a goroutine
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn)
		}()
	}
}

func (t *serverTransport) Addr() net.Addr {
	<-t.ready
	return t.listener.Addr()
}

func (t *serverTransport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	select {
	case <-t.ready:
		err = t.listener.Close()
	default:
	}

	t.conns.Range(func(_ string, conn net.Conn) bool {
		conn.Close()
		return true
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection serves one connection. Requests are answered strictly one
// after the other, a client never has more than one request in flight.
func (t *serverTransport) handleConnection(conn net.Conn) {
	s := &serverSession{
		id:            uuid.NewString(),
		raw:           conn,
		rw:            conn,
		authenticated: len(t.config.Users) == 0,
	}

	t.conns.Store(s.id, conn)
	defer func() {
		t.conns.Delete(s.id)
		s.rw.Close()
	}()

	Logger.Debugf("[%s] accepted connection from %s", s.id, conn.RemoteAddr())

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		Logger.Errorf("[%s] failed to upgrade connection: %v", s.id, err)
		return
	}

	// Implicit TLS: the handshake starts right away
	if t.tlsConfig != nil && !t.config.TLS.StartTLS {
		if err := t.upgrade(s); err != nil {
			Logger.Warningf("[%s] tls handshake failed: %v", s.id, err)
			return
		}
	}

	timeout := t.config.Timeout()

	for {
		if timeout > 0 {
			if err := s.rw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("[%s] failed to set read deadline: %v", s.id, err)
				return
			}
		}

		req, err := ReadFrame(s.rw, t.config.MaxFrameSize)

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("[%s] connection closed by client", s.id)
			return
		}

		// Case error: log and close connection
		if err != nil {
			if !t.closing.Load() {
				Logger.Warningf("[%s] error reading request: %v", s.id, err)
			}
			return
		}

		resp, upgrade := t.handleFrame(s, req)

		if timeout > 0 {
			if err := s.rw.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("[%s] failed to set write deadline: %v", s.id, err)
				return
			}
		}
		if err := WriteFrame(s.rw, resp); err != nil {
			Logger.Errorf("[%s] failed to write response: %v", s.id, err)
			return
		}

		// the ack went out in plaintext, everything after it is TLS
		if upgrade {
			if err := t.upgrade(s); err != nil {
				Logger.Warningf("[%s] tls handshake failed: %v", s.id, err)
				return
			}
		}
	}
}

// handleFrame answers one request. upgrade is true if the TLS handshake has to
// follow the response.
func (t *serverTransport) handleFrame(s *serverSession, req common.Frame) (resp common.Frame, upgrade bool) {
	switch req.Code {
	case common.MsgCStartTLS:
		if t.tlsConfig == nil || !t.config.TLS.StartTLS || s.secure {
			return ErrorFrame(ErrCodeTLSUnavailable, "tls is not available"), false
		}
		return common.NewFrame(common.MsgCStartTLS, nil), true

	case common.MsgCAuthReq:
		return t.authenticate(s, req), false

	case common.MsgCPingReq:
		if !s.authenticated {
			return ErrorFrame(ErrCodeAuthRequired, "authentication required"), false
		}
		return common.NewFrame(common.MsgCPingResp, nil), false

	case common.MsgCGetServerInfoReq:
		if !s.authenticated {
			return ErrorFrame(ErrCodeAuthRequired, "authentication required"), false
		}
		info := serializer.ServerInfo{Node: t.config.NodeName, ServerVersion: t.config.ServerVersion}
		return common.NewFrame(common.MsgCGetServerInfoResp, info.Serialize()), false

	default:
		if !s.authenticated {
			return ErrorFrame(ErrCodeAuthRequired, "authentication required"), false
		}
		if t.handler == nil {
			return ErrorFrame(ErrCodeUnknownMessage, fmt.Sprintf("unknown message code %s", req.Code)), false
		}

		start := time.Now()
		resp := t.handler(req)
		Logger.Debugf("[%s] processed %s in %s", s.id, req, time.Since(start))
		return resp, false
	}
}

// authenticate checks the credentials of an AuthReq frame
func (t *serverTransport) authenticate(s *serverSession, req common.Frame) common.Frame {
	if t.tlsConfig != nil && !s.secure {
		return ErrorFrame(ErrCodeAuthRequired, "security requires tls before authentication")
	}

	var auth serializer.AuthRequest
	if err := auth.Deserialize(req.Payload); err != nil {
		return ErrorFrame(ErrCodeGeneric, err.Error())
	}

	password, ok := t.config.Users[auth.User]
	if len(t.config.Users) > 0 && (!ok || password != auth.Password) {
		Logger.Warningf("[%s] authentication failed for user %q", s.id, auth.User)
		return ErrorFrame(ErrCodeAuthFailed, "Authentication failed")
	}

	s.authenticated = true
	s.user = auth.User
	Logger.Infof("[%s] user %q authenticated", s.id, auth.User)
	return common.NewFrame(common.MsgCAuthResp, nil)
}

// upgrade runs the server side TLS handshake on the session's socket
func (t *serverTransport) upgrade(s *serverSession) error {
	tlsConn := tls.Server(s.raw, t.tlsConfig)
	if timeout := t.config.Timeout(); timeout > 0 {
		if err := tlsConn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	s.rw = tlsConn
	s.secure = true
	return nil
}

// ErrorFrame builds an ErrorResp frame carrying one of the ErrCode values
func ErrorFrame(code uint32, msg string) common.Frame {
	body := serializer.ErrorResponse{Code: code, Message: msg}
	return common.NewFrame(common.MsgCErrorResp, body.Serialize())
}
