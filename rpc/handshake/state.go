package handshake

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/serializer"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
)

// --------------------------------------------------------------------------
// States
// --------------------------------------------------------------------------

// State is the position of one connection in the security handshake.
// Transitions only move forward; StateDone is terminal.
type State uint8

const (
	// StateTLSStart: the StartTLS request is sent once the connection is active
	StateTLSStart State = iota
	// StateTLSWait: waiting for the StartTLS acknowledgement
	StateTLSWait
	// StateSSLWait: waiting for the TLS handshake to complete
	StateSSLWait
	// StateAuthWait: waiting for the AuthResp (the AuthReq is sent on entry)
	StateAuthWait
	// StateDone: the outcome has been decided
	StateDone
)

func (s State) String() string {
	switch s {
	case StateTLSStart:
		return "TlsStart"
	case StateTLSWait:
		return "TlsWait"
	case StateSSLWait:
		return "SslWait"
	case StateAuthWait:
		return "AuthWait"
	case StateDone:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// InitialState returns the state a handshake starts in.
// Without TLS only authentication is performed.
func InitialState(useTLS, startTLS bool) State {
	switch {
	case !useTLS:
		return StateAuthWait
	case startTLS:
		return StateTLSStart
	default:
		return StateSSLWait
	}
}

// --------------------------------------------------------------------------
// Events and effects
// --------------------------------------------------------------------------

// EventKind distinguishes the inputs of the state machine
type EventKind uint8

const (
	EventActive EventKind = iota + 1
	EventFrame
	EventTLSComplete
	EventFault
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventActive:
		return "active"
	case EventFrame:
		return "frame"
	case EventTLSComplete:
		return "tls-complete"
	case EventFault:
		return "fault"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one input of the state machine. Frame is set for EventFrame,
// Err for EventTLSComplete (nil on success) and EventFault.
type Event struct {
	Kind  EventKind
	Frame common.Frame
	Err   error
}

// Effects are the actions the driver performs after a transition, in field order:
// remove the handler, send a frame, start TLS, resolve the outcome.
type Effects struct {
	Remove   bool
	Send     *common.Frame
	StartTLS bool
	Resolve  bool
	Err      error // outcome if Resolve is set, nil means success
}

// --------------------------------------------------------------------------
// Transition function
// --------------------------------------------------------------------------

// Transition computes the next state and the effects for one event.
// Every event either moves to a valid next state or ends in StateDone with
// exactly one resolution. Events after StateDone have no effect.
func Transition(s State, ev Event, creds common.Credentials) (State, Effects) {
	if s == StateDone {
		return StateDone, Effects{}
	}

	switch ev.Kind {
	case EventClosed:
		return fail(common.NewConnectionClosed(fmt.Sprintf("connection closed during handshake (%s)", s)))

	case EventFault:
		return fail(asProtocolError(ev.Err))

	case EventActive:
		switch s {
		case StateTLSStart:
			req := common.NewFrame(common.MsgCStartTLS, nil)
			return StateTLSWait, Effects{Send: &req}
		case StateSSLWait:
			return StateSSLWait, Effects{StartTLS: true}
		case StateAuthWait:
			req := authFrame(creds)
			return StateAuthWait, Effects{Send: &req}
		}

	case EventFrame:
		switch s {
		case StateTLSWait:
			switch ev.Frame.Code {
			case common.MsgCStartTLS:
				return StateSSLWait, Effects{StartTLS: true}
			case common.MsgCErrorResp:
				return fail(base.ResponseError(ev.Frame))
			default:
				return fail(common.NewUnexpectedCode(ev.Frame.Code, common.MsgCStartTLS, common.MsgCErrorResp))
			}
		case StateAuthWait:
			switch ev.Frame.Code {
			case common.MsgCAuthResp:
				return StateDone, Effects{Remove: true, Resolve: true}
			case common.MsgCErrorResp:
				return fail(base.ResponseError(ev.Frame))
			default:
				return fail(common.NewUnexpectedCode(ev.Frame.Code, common.MsgCAuthResp, common.MsgCErrorResp))
			}
		}

	case EventTLSComplete:
		if s == StateSSLWait {
			if ev.Err != nil {
				return fail(asProtocolError(ev.Err))
			}
			req := authFrame(creds)
			return StateAuthWait, Effects{Send: &req}
		}
	}

	return fail(common.NewIllegalState("unexpected %s event in state %s", ev.Kind, s))
}

// fail ends the handshake with err
func fail(err error) (State, Effects) {
	return StateDone, Effects{Remove: true, Resolve: true, Err: err}
}

// authFrame builds the AuthReq frame from the credentials
func authFrame(creds common.Credentials) common.Frame {
	body := serializer.AuthRequest{User: creds.Username, Password: creds.Password}
	return common.NewFrame(common.MsgCAuthReq, body.Serialize())
}

// asProtocolError keeps classified errors and wraps everything else as a transport error
func asProtocolError(err error) error {
	var e *common.Error
	if errors.As(err, &e) {
		return err
	}
	return common.NewTransportError("handshake", err)
}
