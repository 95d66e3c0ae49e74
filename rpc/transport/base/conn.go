package base

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	// readChunkSize is the size of a single socket read of the event loop
	readChunkSize = 32 * 1024
)

// -----------------------------------------------------------
// Interface Definitions
// -----------------------------------------------------------

// IHandler receives the events of one connection.
// All methods are called from the connection's event loop goroutine, one at a time.
//
// Frames are delivered to the head handler only (the most recently pushed one),
// lifecycle events to every installed handler, head first.
type IHandler interface {
	// OnActive is called once when the event loop starts
	OnActive(c *Conn)
	// OnFrame is called for every decoded frame
	OnFrame(c *Conn, f common.Frame)
	// OnTLSComplete is called when a TLS handshake requested via StartTLS finished
	OnTLSComplete(c *Conn, err error)
	// OnFault is called before OnClosed if the connection is closed because of an error
	OnFault(c *Conn, err error)
	// OnClosed is called once when the connection is closed
	OnClosed(c *Conn)
}

// ConnOptions configures a connection
type ConnOptions struct {
	// Timeout is the read timeout guarding every exchange and the deadline of
	// writes and TLS handshakes (0 = none)
	Timeout time.Duration
	// MaxFrameSize limits incoming frames (0 = DefaultMaxFrameSize)
	MaxFrameSize uint32
}

// -----------------------------------------------------------
// Connection
// -----------------------------------------------------------

// Conn runs the event loop of one socket: it decodes incoming bytes into frames,
// dispatches them to the installed handlers, inserts a TLS layer on request and
// enforces the read timeout. Frames are processed strictly in arrival order.
type Conn struct {
	id    string
	opts  ConnOptions
	raw   net.Conn
	guard *ReadTimeoutGuard

	mu         sync.Mutex // protects the fields below
	conn       net.Conn   // current layer: raw or the *tls.Conn on top of it
	handlers   []IHandler
	pendingTLS *tls.Config
	fault      error
	closing    bool

	writeMu   sync.Mutex
	inbound   bytes.Buffer // only touched by the event loop
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an established socket. The event loop starts with Start.
func NewConn(conn net.Conn, opts ConnOptions) *Conn {
	c := &Conn{
		id:   uuid.NewString(),
		opts: opts,
		raw:  conn,
		conn: conn,
		done: make(chan struct{}),
	}
	c.guard = NewReadTimeoutGuard(opts.Timeout, func() {
		c.closeWith(common.NewTimeout(fmt.Sprintf("no response within %s", opts.Timeout)))
	})
	connectionsOpened.Inc()
	return c
}

// ID returns the unique id of the connection used in logs
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the address of the peer
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Push installs h at the head of the handler chain
func (c *Conn) Push(h IHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append([]IHandler{h}, c.handlers...)
}

// Remove uninstalls h. It returns false if h was not installed.
func (c *Conn) Remove(h IHandler) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, installed := range c.handlers {
		if installed == h {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Handlers returns a snapshot of the installed handlers, head first
func (c *Conn) Handlers() []IHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]IHandler(nil), c.handlers...)
}

// Start launches the event loop. Calling it more than once has no effect.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// StartTLS asks the event loop to put a TLS client layer on top of the socket.
// The TLS handshake runs after the current handler callback returned; its
// outcome is delivered via OnTLSComplete. Must be called from a handler callback.
func (c *Conn) StartTLS(cfg *tls.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingTLS = cfg
}

// TLSState returns the TLS connection state once the TLS layer is active
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tlsConn, ok := c.conn.(*tls.Conn); ok {
		return tlsConn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// Write sends f as a single contiguous write and arms the read timeout.
// A failed write closes the connection.
func (c *Conn) Write(f common.Frame) error {
	if c.IsClosed() {
		return common.NewConnectionClosed("write on closed connection")
	}
	data := Encode(f)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.current()
	if c.opts.Timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
			return common.NewTransportError("set write deadline", err)
		}
	}

	// arm before writing, a fast peer may answer before Write returns
	c.guard.Flushed()
	if _, err := conn.Write(data); err != nil {
		werr := common.NewTransportError("write "+f.Code.String(), err)
		c.closeWith(werr)
		return werr
	}
	framesSent.Inc()
	return nil
}

// Fail closes the connection because of err; handlers see OnFault(err) and then OnClosed
func (c *Conn) Fail(err error) {
	c.closeWith(err)
}

// Close closes the connection. Handlers see OnClosed once the event loop has stopped.
func (c *Conn) Close() error {
	c.closeWith(nil)

	// never started: no loop will deliver the close, do it here
	c.startOnce.Do(func() {
		go c.finish()
	})
	return nil
}

// IsClosed reports whether the connection is closed or closing
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Done is closed after OnClosed was delivered to all handlers
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

func (c *Conn) run() {
	defer c.finish()

	Logger.Debugf("[%s] connection active (%s)", c.id, c.raw.RemoteAddr())
	for _, h := range c.Handlers() {
		h.OnActive(c)
	}
	if !c.upgradeIfRequested() {
		return
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, err := c.current().Read(chunk)
		if n > 0 {
			c.inbound.Write(chunk[:n])
			if !c.drain() {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.IsClosed() {
				c.setFault(common.NewTransportError("read", err))
			}
			return
		}
	}
}

// drain dispatches every complete frame in the inbound buffer.
// It returns false if the loop has to stop.
func (c *Conn) drain() bool {
	for {
		f, ok, err := DecodeStrict(&c.inbound, c.opts.MaxFrameSize)
		if err != nil {
			c.setFault(err)
			return false
		}
		if !ok {
			return true
		}

		c.guard.Observed()
		framesReceived.Inc()

		if h := c.head(); h != nil {
			h.OnFrame(c, f)
		} else {
			Logger.Warningf("[%s] dropping %s, no handler installed", c.id, f)
		}

		if c.IsClosed() || !c.upgradeIfRequested() {
			return false
		}
	}
}

// upgradeIfRequested performs a TLS handshake requested by a handler.
// It returns false if the loop has to stop.
func (c *Conn) upgradeIfRequested() bool {
	c.mu.Lock()
	cfg := c.pendingTLS
	c.pendingTLS = nil
	c.mu.Unlock()

	if cfg == nil {
		return true
	}

	// the peer must not send anything between the StartTLS ack and its TLS records
	if c.inbound.Len() > 0 {
		err := common.NewProtocolViolation("%d plaintext bytes received before tls handshake", c.inbound.Len())
		c.tlsComplete(err)
		c.closeWith(nil)
		return false
	}

	ctx := context.Background()
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	tlsConn := tls.Client(c.raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		// closed underneath us: the close (or its fault) is the signal
		if c.IsClosed() {
			return false
		}
		tlsFailures.Inc()
		if ctx.Err() != nil {
			// the peer stayed silent for the whole window
			readTimeouts.Inc()
			c.tlsComplete(common.NewTimeout(fmt.Sprintf("tls handshake not completed within %s", c.opts.Timeout)))
		} else {
			c.tlsComplete(common.NewTransportError("tls handshake failed", err))
		}
		c.closeWith(nil)
		return false
	}

	c.mu.Lock()
	c.conn = tlsConn
	c.mu.Unlock()

	tlsUpgrades.Inc()
	Logger.Debugf("[%s] tls established (version %x)", c.id, tlsConn.ConnectionState().Version)
	c.tlsComplete(nil)
	return !c.IsClosed()
}

func (c *Conn) tlsComplete(err error) {
	for _, h := range c.Handlers() {
		h.OnTLSComplete(c, err)
	}
}

// finish delivers the close events; it runs exactly once
func (c *Conn) finish() {
	c.closeWith(nil)

	c.mu.Lock()
	fault := c.fault
	c.mu.Unlock()

	handlers := c.Handlers()
	if fault != nil {
		Logger.Debugf("[%s] connection failed: %v", c.id, fault)
		for _, h := range handlers {
			h.OnFault(c, fault)
		}
	}
	for _, h := range handlers {
		h.OnClosed(c)
	}

	connectionsClosed.Inc()
	Logger.Debugf("[%s] connection closed", c.id)
	close(c.done)
}

// closeWith closes the socket exactly once. The first non nil fault is kept
// and reported to the handlers before OnClosed.
func (c *Conn) closeWith(fault error) {
	c.setFault(fault)
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		conn := c.conn
		c.mu.Unlock()

		c.guard.Stop()
		if err := conn.Close(); err != nil {
			Logger.Debugf("[%s] close: %v", c.id, err)
		}
	})
}

func (c *Conn) setFault(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fault == nil && !c.closing {
		c.fault = err
	}
}

func (c *Conn) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Conn) head() IHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handlers) == 0 {
		return nil
	}
	return c.handlers[0]
}
