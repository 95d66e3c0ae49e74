package handshake

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("handshake")

var handshakeDuration = metrics.NewSummary(`pbwire_handshake_duration_seconds`)

// TLSOptions selects TLS for the handshake. StartTLS negotiates the upgrade
// in-band; otherwise the TLS handshake starts as soon as the connection is active.
type TLSOptions struct {
	Config   *tls.Config
	StartTLS bool
}

// Handshake drives the security handshake of one connection. It is installed as
// the head handler of the connection, consumes every frame until the outcome is
// decided and then removes itself so ordinary traffic reaches the handlers below.
//
// All methods except Exchange run on the connection's event loop.
type Handshake struct {
	creds     common.Credentials
	tlsConfig *tls.Config
	state     State
	exchange  *base.Exchange
	started   time.Time
}

// New creates a handshake that only authenticates (plaintext)
func New(creds common.Credentials) *Handshake {
	return &Handshake{
		creds:    creds,
		state:    InitialState(false, false),
		exchange: base.NewExchange(),
	}
}

// NewTLS creates a handshake that secures the connection before authenticating
func NewTLS(tlsConfig *tls.Config, creds common.Credentials, startTLS bool) *Handshake {
	return &Handshake{
		creds:     creds,
		tlsConfig: tlsConfig,
		state:     InitialState(true, startTLS),
		exchange:  base.NewExchange(),
	}
}

// Perform installs a handshake on conn, starts the connection and returns the
// pending outcome. conn must not have been started yet. A nil opts (or nil
// opts.Config) selects plaintext authentication.
//
// On failure the caller is responsible for closing the connection.
func Perform(conn *base.Conn, creds common.Credentials, opts *TLSOptions) *base.Exchange {
	var h *Handshake
	if opts != nil && opts.Config != nil {
		h = NewTLS(opts.Config, creds, opts.StartTLS)
	} else {
		h = New(creds)
	}
	conn.Push(h)
	conn.Start()
	return h.Exchange()
}

// PerformFunc adapts Perform to base.HandshakeFunc for the client transports
func PerformFunc(conn *base.Conn, creds common.Credentials, tlsConfig *tls.Config, startTLS bool) *base.Exchange {
	var opts *TLSOptions
	if tlsConfig != nil {
		opts = &TLSOptions{Config: tlsConfig, StartTLS: startTLS}
	}
	return Perform(conn, creds, opts)
}

// Exchange returns the pending outcome. It is available right after construction.
func (h *Handshake) Exchange() *base.Exchange {
	return h.exchange
}

// State returns the current state. It may only be read from another goroutine
// after Exchange().Done() is closed; the state is StateDone from then on.
func (h *Handshake) State() State {
	return h.state
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IHandler)
// --------------------------------------------------------------------------

func (h *Handshake) OnActive(c *base.Conn) {
	h.started = time.Now()
	h.handle(c, Event{Kind: EventActive})
}

func (h *Handshake) OnFrame(c *base.Conn, f common.Frame) {
	h.handle(c, Event{Kind: EventFrame, Frame: f})
}

func (h *Handshake) OnTLSComplete(c *base.Conn, err error) {
	h.handle(c, Event{Kind: EventTLSComplete, Err: err})
}

func (h *Handshake) OnFault(c *base.Conn, err error) {
	h.handle(c, Event{Kind: EventFault, Err: err})
}

func (h *Handshake) OnClosed(c *base.Conn) {
	h.handle(c, Event{Kind: EventClosed})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handle runs one transition and performs its effects
func (h *Handshake) handle(c *base.Conn, ev Event) {
	// decided handshakes are never written again
	if h.state == StateDone {
		return
	}

	prev := h.state
	next, eff := Transition(prev, ev, h.creds)
	h.state = next

	if prev != next {
		Logger.Debugf("[%s] %s --%s--> %s", c.ID(), prev, ev.Kind, next)
	}

	if eff.Remove {
		c.Remove(h)
	}
	if eff.Send != nil {
		if err := c.Write(*eff.Send); err != nil {
			h.finish(c, err)
			return
		}
	}
	if eff.StartTLS {
		if h.tlsConfig == nil {
			h.finish(c, common.NewIllegalState("tls requested without tls configuration"))
			return
		}
		c.StartTLS(h.tlsConfig)
	}
	if eff.Resolve {
		h.finish(c, eff.Err)
	}
}

// finish decides the outcome; only the first call has an effect
func (h *Handshake) finish(c *base.Conn, err error) {
	h.state = StateDone
	c.Remove(h)

	if err == nil {
		if h.exchange.Succeed(common.Frame{}) {
			countOutcome("success")
			handshakeDuration.UpdateDuration(h.started)
			Logger.Debugf("[%s] handshake completed as %q", c.ID(), h.creds.Username)
		}
		return
	}

	if h.exchange.Fail(err) {
		countOutcome(strings.ReplaceAll(common.KindOf(err).String(), " ", "_"))
		Logger.Warningf("[%s] handshake with %s failed: %v", c.ID(), c.RemoteAddr(), err)
	}
}

func countOutcome(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`pbwire_handshakes_total{result=%q}`, result)).Inc()
}
