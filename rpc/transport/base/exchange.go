package base

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/pbwire/rpc/common"
)

// Exchange is a one-shot container for the outcome of one outstanding request.
// It is resolved exactly once, by Succeed or Fail; every later call is a no-op
// that returns false. The outcome is safe to read from any goroutine once Done is closed.
type Exchange struct {
	resolved atomic.Bool
	done     chan struct{}
	resp     common.Frame
	err      error
}

// NewExchange creates an unresolved exchange
func NewExchange() *Exchange {
	return &Exchange{done: make(chan struct{})}
}

// Succeed resolves the exchange with a response frame.
// It returns false if the exchange was already resolved.
func (e *Exchange) Succeed(resp common.Frame) bool {
	if !e.resolved.CompareAndSwap(false, true) {
		return false
	}
	e.resp = resp
	close(e.done)
	return true
}

// Fail resolves the exchange with an error.
// It returns false if the exchange was already resolved.
func (e *Exchange) Fail(err error) bool {
	if !e.resolved.CompareAndSwap(false, true) {
		return false
	}
	e.err = err
	close(e.done)
	return true
}

// Done is closed once the exchange is resolved
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// IsDone reports whether the exchange is resolved
func (e *Exchange) IsDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the exchange is resolved or ctx is done.
// Giving up on ctx does not resolve the exchange.
func (e *Exchange) Wait(ctx context.Context) (common.Frame, error) {
	select {
	case <-e.done:
		return e.resp, e.err
	case <-ctx.Done():
		return common.Frame{}, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while unresolved.
func (e *Exchange) Result() (resp common.Frame, err error, ok bool) {
	if !e.IsDone() {
		return common.Frame{}, nil, false
	}
	return e.resp, e.err, true
}
