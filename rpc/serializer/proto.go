package serializer

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the server's protobuf messages
const (
	fieldErrMsg  protowire.Number = 1
	fieldErrCode protowire.Number = 2

	fieldUser     protowire.Number = 1
	fieldPassword protowire.Number = 2

	fieldNode          protowire.Number = 1
	fieldServerVersion protowire.Number = 2
)

// --------------------------------------------------------------------------
// ErrorResponse
// --------------------------------------------------------------------------

// ErrorResponse is the body of an ErrorResp frame
type ErrorResponse struct {
	Message string
	Code    uint32
}

func (m *ErrorResponse) Serialize() []byte {
	b := make([]byte, 0, len(m.Message)+12)
	b = protowire.AppendTag(b, fieldErrMsg, protowire.BytesType)
	b = protowire.AppendString(b, m.Message)
	b = protowire.AppendTag(b, fieldErrCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Code))
	return b
}

func (m *ErrorResponse) Deserialize(b []byte) error {
	var hasMsg, hasCode bool
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldErrMsg && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Message, hasMsg = string(v), true
			return n, nil
		case num == fieldErrCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Code, hasCode = uint32(v), true
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return fmt.Errorf("error response: %w", err)
	}
	if !hasMsg || !hasCode {
		return fmt.Errorf("error response: missing required field")
	}
	return nil
}

// --------------------------------------------------------------------------
// AuthRequest
// --------------------------------------------------------------------------

// AuthRequest is the body of an AuthReq frame
type AuthRequest struct {
	User     string
	Password string
}

func (m *AuthRequest) Serialize() []byte {
	b := make([]byte, 0, len(m.User)+len(m.Password)+8)
	b = protowire.AppendTag(b, fieldUser, protowire.BytesType)
	b = protowire.AppendString(b, m.User)
	b = protowire.AppendTag(b, fieldPassword, protowire.BytesType)
	b = protowire.AppendString(b, m.Password)
	return b
}

func (m *AuthRequest) Deserialize(b []byte) error {
	var hasUser, hasPassword bool
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType && (num == fieldUser || num == fieldPassword) {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if num == fieldUser {
				m.User, hasUser = string(v), true
			} else {
				m.Password, hasPassword = string(v), true
			}
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	if !hasUser || !hasPassword {
		return fmt.Errorf("auth request: missing required field")
	}
	return nil
}

// --------------------------------------------------------------------------
// ServerInfo
// --------------------------------------------------------------------------

// ServerInfo is the body of a GetServerInfoResp frame. Both fields are optional.
type ServerInfo struct {
	Node          string `json:"node,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
}

func (m *ServerInfo) Serialize() []byte {
	var b []byte
	if m.Node != "" {
		b = protowire.AppendTag(b, fieldNode, protowire.BytesType)
		b = protowire.AppendString(b, m.Node)
	}
	if m.ServerVersion != "" {
		b = protowire.AppendTag(b, fieldServerVersion, protowire.BytesType)
		b = protowire.AppendString(b, m.ServerVersion)
	}
	return b
}

func (m *ServerInfo) Deserialize(b []byte) error {
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType && (num == fieldNode || num == fieldServerVersion) {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if num == fieldNode {
				m.Node = string(v)
			} else {
				m.ServerVersion = string(v)
			}
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return fmt.Errorf("server info: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// consumeFields walks all fields of an encoded message and hands each value to fn.
// fn returns the number of bytes of the value it consumed.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// skipField consumes a field this package does not know
func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
