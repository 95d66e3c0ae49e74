package common

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// --------------------------------------------------------------------------
// Frame Structure
// --------------------------------------------------------------------------

// Frame is one length-prefixed protocol message.
// On the wire it is encoded as
//
//	+----------------+----------+-------------------+
//	| length (4B BE) | code(1B) | payload (N bytes) |
//	+----------------+----------+-------------------+
//
// where length = 1 + len(Payload).
type Frame struct {
	// Code is the operation code of the message
	Code MessageCode `json:"code"`
	// Payload is the encoded message body (may be empty)
	Payload []byte `json:"payload,omitempty"`
}

// NewFrame creates a new frame with the given code and payload
func NewFrame(code MessageCode, payload []byte) Frame {
	return Frame{Code: code, Payload: payload}
}

// WireLength returns the value of the length prefix for this frame
func (f Frame) WireLength() uint32 {
	return uint32(len(f.Payload)) + 1
}

// String returns a short representation of the frame for logging
func (f Frame) String() string {
	return fmt.Sprintf("%s(%d bytes)", f.Code, len(f.Payload))
}

// --------------------------------------------------------------------------
// Message Code Definition
// --------------------------------------------------------------------------

// MessageCode is the one byte operation code of a frame.
// The numeric values are owned by the database server's protocol.
type MessageCode uint8

const (
	// MsgCErrorResp is the generic error response, usable at any stage
	MsgCErrorResp MessageCode = 0
	// MsgCPingReq / MsgCPingResp are the liveness check
	MsgCPingReq  MessageCode = 1
	MsgCPingResp MessageCode = 2
	// MsgCGetServerInfoReq / MsgCGetServerInfoResp query node name and version
	MsgCGetServerInfoReq  MessageCode = 7
	MsgCGetServerInfoResp MessageCode = 8
	// MsgCAuthReq carries username and password, MsgCAuthResp acknowledges it
	MsgCAuthReq  MessageCode = 253
	MsgCAuthResp MessageCode = 254
	// MsgCStartTLS is both the upgrade request and its acknowledgement
	MsgCStartTLS MessageCode = 255
)

// String returns the string representation of a MessageCode.
func (c MessageCode) String() string {
	switch c {
	case MsgCErrorResp:
		return "errorResp"
	case MsgCPingReq:
		return "pingReq"
	case MsgCPingResp:
		return "pingResp"
	case MsgCGetServerInfoReq:
		return "getServerInfoReq"
	case MsgCGetServerInfoResp:
		return "getServerInfoResp"
	case MsgCAuthReq:
		return "authReq"
	case MsgCAuthResp:
		return "authResp"
	case MsgCStartTLS:
		return "startTls"
	default:
		return "code(" + strconv.Itoa(int(c)) + ")"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageCode.
// Known codes are written by name, unknown codes as a number.
func (c MessageCode) MarshalJSON() ([]byte, error) {
	if _, ok := parseMessageCode(c.String()); ok {
		return json.Marshal(c.String())
	}
	return json.Marshal(uint8(c))
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageCode.
func (c *MessageCode) UnmarshalJSON(data []byte) error {
	var n uint8
	if err := json.Unmarshal(data, &n); err == nil {
		*c = MessageCode(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	code, ok := parseMessageCode(s)
	if !ok {
		return fmt.Errorf("unknown message code: %s", s)
	}
	*c = code
	return nil
}

// parseMessageCode converts a code name back to the MessageCode
func parseMessageCode(s string) (MessageCode, bool) {
	switch s {
	case "errorResp":
		return MsgCErrorResp, true
	case "pingReq":
		return MsgCPingReq, true
	case "pingResp":
		return MsgCPingResp, true
	case "getServerInfoReq":
		return MsgCGetServerInfoReq, true
	case "getServerInfoResp":
		return MsgCGetServerInfoResp, true
	case "authReq":
		return MsgCAuthReq, true
	case "authResp":
		return MsgCAuthResp, true
	case "startTls":
		return MsgCStartTLS, true
	default:
		return 0, false
	}
}
