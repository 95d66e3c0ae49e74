package testing

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/serializer"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
)

// Script plays the server side of one accepted connection
type Script func(p *Peer) error

// ScriptedServer accepts loopback TCP connections and runs a script on each of
// them. It is used to let a client talk to well behaved as well as broken peers.
type ScriptedServer struct {
	listener net.Listener
	script   Script

	mu       sync.Mutex
	received []common.Frame
	errs     []error
	peers    []*Peer

	wg sync.WaitGroup
}

// NewScriptedServer starts a server on 127.0.0.1 running script for every connection.
// It is closed automatically when the test ends.
func NewScriptedServer(t testing.TB, script Script) *ScriptedServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &ScriptedServer{listener: l, script: script}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on
func (s *ScriptedServer) Addr() string {
	return s.listener.Addr().String()
}

// Dial opens a raw TCP connection to the server
func (s *ScriptedServer) Dial(t testing.TB) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", s.Addr(), err)
	}
	return conn
}

// Received returns every frame read by the scripts so far, over all connections
func (s *ScriptedServer) Received() []common.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Frame(nil), s.received...)
}

// Codes returns the codes of Received
func (s *ScriptedServer) Codes() []common.MessageCode {
	frames := s.Received()
	codes := make([]common.MessageCode, len(frames))
	for i, f := range frames {
		codes[i] = f.Code
	}
	return codes
}

// Wait blocks until all scripts have returned and reports their errors
func (s *ScriptedServer) Wait() error {
	s.listener.Close()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

// Close stops the server and closes all open connections
func (s *ScriptedServer) Close() {
	s.listener.Close()

	s.mu.Lock()
	for _, p := range s.peers {
		p.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *ScriptedServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		p := &Peer{server: s, raw: conn, conn: conn}
		s.mu.Lock()
		s.peers = append(s.peers, p)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer p.Close()
			if err := s.script(p); err != nil {
				s.mu.Lock()
				s.errs = append(s.errs, err)
				s.mu.Unlock()
			}
		}()
	}
}

// --------------------------------------------------------------------------
// Peer
// --------------------------------------------------------------------------

// Peer is the server end of one scripted connection
type Peer struct {
	server *ScriptedServer
	raw    net.Conn

	mu   sync.Mutex
	conn net.Conn // raw or the *tls.Conn on top of it
}

// ReadFrame reads the next frame and records it
func (p *Peer) ReadFrame() (common.Frame, error) {
	f, err := base.ReadFrame(p.current(), 0)
	if err != nil {
		return common.Frame{}, err
	}
	p.server.mu.Lock()
	p.server.received = append(p.server.received, f)
	p.server.mu.Unlock()
	return f, nil
}

// Expect reads the next frame and fails unless it carries code
func (p *Peer) Expect(code common.MessageCode) (common.Frame, error) {
	f, err := p.ReadFrame()
	if err != nil {
		return common.Frame{}, err
	}
	if f.Code != code {
		return f, common.NewUnexpectedCode(f.Code, code)
	}
	return f, nil
}

// WriteFrame sends one frame
func (p *Peer) WriteFrame(f common.Frame) error {
	return base.WriteFrame(p.current(), f)
}

// Reply sends a frame with code and no payload
func (p *Peer) Reply(code common.MessageCode) error {
	return p.WriteFrame(common.NewFrame(code, nil))
}

// ReplyError sends an ErrorResp frame
func (p *Peer) ReplyError(code uint32, msg string) error {
	body := serializer.ErrorResponse{Code: code, Message: msg}
	return p.WriteFrame(common.NewFrame(common.MsgCErrorResp, body.Serialize()))
}

// WriteRaw sends bytes unframed
func (p *Peer) WriteRaw(b []byte) error {
	_, err := p.current().Write(b)
	return err
}

// StartTLS performs the server side TLS handshake on the connection
func (p *Peer) StartTLS(cfg *tls.Config) error {
	tlsConn := tls.Server(p.raw, cfg)
	if err := tlsConn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = tlsConn
	p.mu.Unlock()
	return nil
}

// Hold blocks until the client closes the connection (or the server is closed)
func (p *Peer) Hold() error {
	buf := make([]byte, 512)
	for {
		if _, err := p.current().Read(buf); err != nil {
			return nil
		}
	}
}

// Close closes the connection
func (p *Peer) Close() {
	p.current().Close()
}

func (p *Peer) current() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}
