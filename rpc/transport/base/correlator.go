package base

import (
	"sync"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/serializer"
)

// Correlator pairs the single outstanding request of a connection with its response.
// It is installed as a handler on the connection: decoded frames resolve the
// outstanding exchange, faults and the connection closing fail it.
//
// At most one request may be outstanding at a time. The caller enforces this
// (the client transport holds a per-connection lock across Issue and Wait),
// it is not validated again here.
type Correlator struct {
	conn    *Conn
	mu      sync.Mutex
	pending *Exchange
}

// NewCorrelator creates a correlator for conn. It still has to be pushed onto the connection.
func NewCorrelator(conn *Conn) *Correlator {
	return &Correlator{conn: conn}
}

// Issue writes req and records that exactly one response is now outstanding.
// If the write fails the returned exchange is already failed.
func (c *Correlator) Issue(req common.Frame) (*Exchange, error) {
	ex := NewExchange()

	// register before writing, the response may arrive before Write returns
	c.mu.Lock()
	c.pending = ex
	c.mu.Unlock()

	if err := c.conn.Write(req); err != nil {
		c.Fail(err)
		return ex, err
	}
	exchangesIssued.Inc()
	return ex, nil
}

// Resolve completes the outstanding exchange with f. An ErrorResp frame fails the
// exchange with a RemoteError, every other frame succeeds it.
// It returns false if nothing was outstanding.
func (c *Correlator) Resolve(f common.Frame) bool {
	ex := c.take()
	if ex == nil {
		Logger.Warningf("[%s] dropping %s, no request outstanding", c.conn.ID(), f)
		return false
	}

	if err := ResponseError(f); err != nil {
		return ex.Fail(err)
	}
	return ex.Succeed(f)
}

// Fail completes the outstanding exchange with err. Subsequent calls are no-ops.
func (c *Correlator) Fail(err error) bool {
	ex := c.take()
	if ex == nil {
		return false
	}
	return ex.Fail(err)
}

// Outstanding reports whether a request is waiting for its response
func (c *Correlator) Outstanding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Correlator) take() *Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex := c.pending
	c.pending = nil
	return ex
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IHandler)
// --------------------------------------------------------------------------

func (c *Correlator) OnActive(*Conn) {}

func (c *Correlator) OnFrame(_ *Conn, f common.Frame) {
	c.Resolve(f)
}

func (c *Correlator) OnTLSComplete(*Conn, error) {}

func (c *Correlator) OnFault(_ *Conn, err error) {
	c.Fail(err)
}

func (c *Correlator) OnClosed(*Conn) {
	c.Fail(common.NewConnectionClosed("connection closed before response"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ResponseError returns the RemoteError carried by an ErrorResp frame, or nil for
// any other frame. An undecodable error body is a protocol violation.
func ResponseError(f common.Frame) error {
	if f.Code != common.MsgCErrorResp {
		return nil
	}
	var resp serializer.ErrorResponse
	if err := resp.Deserialize(f.Payload); err != nil {
		return &common.Error{Kind: common.KindProtocolViolation, Msg: "malformed error response", Err: err}
	}
	return common.NewRemoteError(resp.Code, resp.Message)
}
