package handshake

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/ValentinKolb/pbwire/rpc/serializer"
	"github.com/ValentinKolb/pbwire/rpc/transport/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = common.Credentials{Username: "u", Password: "p"}

func TestInitialState(t *testing.T) {
	assert.Equal(t, StateAuthWait, InitialState(false, false))
	assert.Equal(t, StateAuthWait, InitialState(false, true))
	assert.Equal(t, StateTLSStart, InitialState(true, true))
	assert.Equal(t, StateSSLWait, InitialState(true, false))
}

func TestTransitionHappyPaths(t *testing.T) {
	t.Run("StartTLS", func(t *testing.T) {
		s, eff := Transition(StateTLSStart, Event{Kind: EventActive}, creds)
		assert.Equal(t, StateTLSWait, s)
		require.NotNil(t, eff.Send)
		assert.Equal(t, common.MsgCStartTLS, eff.Send.Code)
		assert.Empty(t, eff.Send.Payload)
		assert.False(t, eff.Resolve)

		s, eff = Transition(s, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCStartTLS, nil)}, creds)
		assert.Equal(t, StateSSLWait, s)
		assert.True(t, eff.StartTLS)
		assert.Nil(t, eff.Send)

		s, eff = Transition(s, Event{Kind: EventTLSComplete}, creds)
		assert.Equal(t, StateAuthWait, s)
		require.NotNil(t, eff.Send)
		assert.Equal(t, common.MsgCAuthReq, eff.Send.Code)

		var auth serializer.AuthRequest
		require.NoError(t, auth.Deserialize(eff.Send.Payload))
		assert.Equal(t, "u", auth.User)
		assert.Equal(t, "p", auth.Password)

		s, eff = Transition(s, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCAuthResp, nil)}, creds)
		assert.Equal(t, StateDone, s)
		assert.True(t, eff.Remove)
		assert.True(t, eff.Resolve)
		assert.NoError(t, eff.Err)
	})

	t.Run("ImplicitTLS", func(t *testing.T) {
		s, eff := Transition(StateSSLWait, Event{Kind: EventActive}, creds)
		assert.Equal(t, StateSSLWait, s)
		assert.True(t, eff.StartTLS)
		assert.Nil(t, eff.Send)
	})

	t.Run("Plaintext", func(t *testing.T) {
		s, eff := Transition(StateAuthWait, Event{Kind: EventActive}, creds)
		assert.Equal(t, StateAuthWait, s)
		require.NotNil(t, eff.Send)
		assert.Equal(t, common.MsgCAuthReq, eff.Send.Code)
		assert.Equal(t, []byte{0x0a, 0x01, 'u', 0x12, 0x01, 'p'}, eff.Send.Payload)
	})
}

func TestTransitionFailures(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
		kind  common.ErrorKind
	}{
		{"StartTLSRejected", StateTLSWait, Event{Kind: EventFrame, Frame: base.ErrorFrame(1, "bad cert")}, common.KindRemoteError},
		{"StartTLSUnexpected", StateTLSWait, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCAuthResp, nil)}, common.KindProtocolViolation},
		{"AuthRejected", StateAuthWait, Event{Kind: EventFrame, Frame: base.ErrorFrame(3, "Authentication failed")}, common.KindRemoteError},
		{"AuthUnexpected", StateAuthWait, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCPingResp, nil)}, common.KindProtocolViolation},
		{"AuthMalformedError", StateAuthWait, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCErrorResp, []byte{0xff})}, common.KindProtocolViolation},
		{"TLSFailed", StateSSLWait, Event{Kind: EventTLSComplete, Err: errors.New("x509: unknown authority")}, common.KindTransportError},
		{"FrameInTLSStart", StateTLSStart, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCAuthResp, nil)}, common.KindIllegalState},
		{"FrameInSSLWait", StateSSLWait, Event{Kind: EventFrame, Frame: common.NewFrame(common.MsgCAuthResp, nil)}, common.KindIllegalState},
		{"TLSCompleteInAuthWait", StateAuthWait, Event{Kind: EventTLSComplete}, common.KindIllegalState},
		{"ActiveInTLSWait", StateTLSWait, Event{Kind: EventActive}, common.KindIllegalState},
		{"ClosedInAuthWait", StateAuthWait, Event{Kind: EventClosed}, common.KindConnectionClosed},
		{"TimeoutInTLSWait", StateTLSWait, Event{Kind: EventFault, Err: common.NewTimeout("no response")}, common.KindTimeout},
		{"IOFaultInSSLWait", StateSSLWait, Event{Kind: EventFault, Err: errors.New("connection reset")}, common.KindTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, eff := Transition(tt.state, tt.event, creds)
			assert.Equal(t, StateDone, s)
			assert.True(t, eff.Remove)
			assert.True(t, eff.Resolve)
			assert.Nil(t, eff.Send, "a failed handshake never sends")
			assert.False(t, eff.StartTLS)
			require.Error(t, eff.Err)
			assert.Equal(t, tt.kind, common.KindOf(eff.Err))
		})
	}
}

func TestTransitionRemoteErrorDetails(t *testing.T) {
	_, eff := Transition(StateTLSWait, Event{Kind: EventFrame, Frame: base.ErrorFrame(1, "bad cert")}, creds)

	var perr *common.Error
	require.True(t, errors.As(eff.Err, &perr))
	assert.Equal(t, common.KindRemoteError, perr.Kind)
	assert.Equal(t, uint32(1), perr.Code)
	assert.Equal(t, "bad cert", perr.Msg)
}

// Every state either moves on or resolves exactly once, for every input.
func TestTransitionTerminates(t *testing.T) {
	states := []State{StateTLSStart, StateTLSWait, StateSSLWait, StateAuthWait}

	events := []Event{
		{Kind: EventActive},
		{Kind: EventTLSComplete},
		{Kind: EventTLSComplete, Err: errors.New("handshake failure")},
		{Kind: EventFault, Err: errors.New("broken pipe")},
		{Kind: EventClosed},
	}
	for code := 0; code <= 255; code++ {
		events = append(events,
			Event{Kind: EventFrame, Frame: common.NewFrame(common.MessageCode(code), nil)},
			Event{Kind: EventFrame, Frame: common.NewFrame(common.MessageCode(code), []byte{0x0a, 0x00, 0x10, 0x01})},
		)
	}

	for _, s := range states {
		for _, ev := range events {
			next, eff := Transition(s, ev, creds)

			if next == StateDone {
				assert.True(t, eff.Resolve, "%s/%s: done without resolution", s, ev.Kind)
				assert.True(t, eff.Remove, "%s/%s: done but still installed", s, ev.Kind)
				continue
			}

			assert.False(t, eff.Resolve, "%s/%s: resolved but not done", s, ev.Kind)
			assert.GreaterOrEqual(t, next, s, "%s/%s: moved backwards to %s", s, ev.Kind, next)
			assert.True(t, eff.Send != nil || eff.StartTLS, "%s/%s: no progress", s, ev.Kind)
		}
	}
}

func TestTransitionAfterDone(t *testing.T) {
	for _, ev := range []Event{
		{Kind: EventActive},
		{Kind: EventFrame, Frame: common.NewFrame(common.MsgCAuthResp, nil)},
		{Kind: EventTLSComplete},
		{Kind: EventFault, Err: errors.New("late")},
		{Kind: EventClosed},
	} {
		s, eff := Transition(StateDone, ev, creds)
		assert.Equal(t, StateDone, s)
		assert.Equal(t, Effects{}, eff)
	}
}
