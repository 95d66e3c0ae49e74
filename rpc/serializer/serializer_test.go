package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// TestErrorResponseRoundTrip tests that error responses survive serialization
func TestErrorResponseRoundTrip(t *testing.T) {
	tests := []ErrorResponse{
		{Message: "bad cert", Code: 1},
		{Message: "", Code: 0},
		{Message: "Authentication failed", Code: 1 << 31},
		{Message: "ünïcödé message", Code: 42},
	}

	for _, tt := range tests {
		t.Run(tt.Message, func(t *testing.T) {
			data := tt.Serialize()

			var got ErrorResponse
			require.NoError(t, got.Deserialize(data))
			assert.Equal(t, tt, got)
		})
	}
}

// TestErrorResponseMissingField tests that both required fields are enforced
func TestErrorResponseMissingField(t *testing.T) {
	onlyMsg := protowire.AppendTag(nil, fieldErrMsg, protowire.BytesType)
	onlyMsg = protowire.AppendString(onlyMsg, "oops")

	var got ErrorResponse
	assert.Error(t, got.Deserialize(onlyMsg))
	assert.Error(t, got.Deserialize(nil))
}

// TestErrorResponseMalformed tests truncated input
func TestErrorResponseMalformed(t *testing.T) {
	data := (&ErrorResponse{Message: "truncated", Code: 7}).Serialize()

	var got ErrorResponse
	assert.Error(t, got.Deserialize(data[:5]))
}

// TestAuthRequestRoundTrip tests the auth request encoding
func TestAuthRequestRoundTrip(t *testing.T) {
	req := AuthRequest{User: "u", Password: "p"}
	data := req.Serialize()

	// user = field 1 (bytes), password = field 2 (bytes)
	assert.Equal(t, []byte{0x0a, 0x01, 'u', 0x12, 0x01, 'p'}, data)

	var got AuthRequest
	require.NoError(t, got.Deserialize(data))
	assert.Equal(t, req, got)
}

// TestAuthRequestEmptyPassword tests that an empty password is still present on the wire
func TestAuthRequestEmptyPassword(t *testing.T) {
	req := AuthRequest{User: "riak"}

	var got AuthRequest
	require.NoError(t, got.Deserialize(req.Serialize()))
	assert.Equal(t, req, got)
}

// TestUnknownFieldsSkipped tests forward compatibility
func TestUnknownFieldsSkipped(t *testing.T) {
	data := (&ErrorResponse{Message: "m", Code: 3}).Serialize()
	data = protowire.AppendTag(data, 15, protowire.VarintType)
	data = protowire.AppendVarint(data, 99)
	data = protowire.AppendTag(data, 16, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("extra"))

	var got ErrorResponse
	require.NoError(t, got.Deserialize(data))
	assert.Equal(t, ErrorResponse{Message: "m", Code: 3}, got)
}

// TestServerInfoRoundTrip tests the optional fields of the server info body
func TestServerInfoRoundTrip(t *testing.T) {
	tests := []ServerInfo{
		{},
		{Node: "node@127.0.0.1"},
		{Node: "node@127.0.0.1", ServerVersion: "3.2.0"},
	}

	for _, tt := range tests {
		var got ServerInfo
		require.NoError(t, got.Deserialize(tt.Serialize()))
		assert.Equal(t, tt, got)
	}
}

// BenchmarkAuthRequestSerialize measures the cost of building the auth body
func BenchmarkAuthRequestSerialize(b *testing.B) {
	req := AuthRequest{User: "benchmark-user", Password: "benchmark-password"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = req.Serialize()
	}
}
