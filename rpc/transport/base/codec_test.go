package base

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	b := Encode(common.NewFrame(common.MsgCGetServerInfoReq, []byte("ab")))
	assert.Equal(t, []byte{0, 0, 0, 3, 7, 'a', 'b'}, b)

	b = Encode(common.NewFrame(common.MsgCStartTLS, nil))
	assert.Equal(t, []byte{0, 0, 0, 1, 255}, b)
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 2, 127, 128, 255, 256, 4096, 1 << 16}

	for code := 0; code <= 255; code++ {
		for _, size := range sizes {
			payload := bytes.Repeat([]byte{byte(code)}, size)
			f := common.NewFrame(common.MessageCode(code), payload)

			buf := bytes.NewBuffer(Encode(f))
			got, ok := Decode(buf)
			require.True(t, ok, "code %d size %d", code, size)
			assert.Equal(t, f.Code, got.Code)
			assert.Equal(t, f.Payload, got.Payload)
			assert.Zero(t, buf.Len(), "code %d size %d left bytes", code, size)
		}
	}
}

func TestDecodePartialFrames(t *testing.T) {
	first := Encode(common.NewFrame(common.MsgCAuthReq, []byte{0x0a, 0x01, 'u', 0x12, 0x01, 'p'}))
	second := Encode(common.NewFrame(common.MsgCAuthResp, nil))
	stream := append(append([]byte{}, first...), second...)

	var buf bytes.Buffer
	var decoded []common.Frame

	for i, b := range stream {
		buf.WriteByte(b)
		before := buf.Len()

		f, ok := Decode(&buf)
		if !ok {
			assert.Equal(t, before, buf.Len(), "byte %d: incomplete decode consumed input", i)
			continue
		}
		decoded = append(decoded, f)

		switch len(decoded) {
		case 1:
			assert.Equal(t, len(first)-1, i, "first frame decoded early")
		case 2:
			assert.Equal(t, len(stream)-1, i, "second frame decoded early")
		}
	}

	require.Len(t, decoded, 2)
	assert.Equal(t, common.MsgCAuthReq, decoded[0].Code)
	assert.Equal(t, common.MsgCAuthResp, decoded[1].Code)
	assert.Empty(t, decoded[1].Payload)
}

func TestDecodeLeavesTrailingBytes(t *testing.T) {
	next := Encode(common.NewFrame(common.MsgCPingResp, []byte("xyz")))

	var buf bytes.Buffer
	buf.Write(Encode(common.NewFrame(common.MsgCPingReq, nil)))
	buf.Write(next[:3])

	f, ok := Decode(&buf)
	require.True(t, ok)
	assert.Equal(t, common.MsgCPingReq, f.Code)
	assert.Equal(t, 3, buf.Len())

	_, ok = Decode(&buf)
	assert.False(t, ok)
	assert.Equal(t, next[:3], buf.Bytes())
}

func TestDecodePayloadIsCopied(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode(common.NewFrame(common.MsgCErrorResp, []byte("abc"))))

	f, ok := Decode(&buf)
	require.True(t, ok)

	buf.Reset()
	buf.Write([]byte("zzzzzzzz"))
	assert.Equal(t, []byte("abc"), f.Payload)
}

func TestDecodeZeroLengthStalls(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 1})
	_, ok := Decode(buf)
	assert.False(t, ok)
	assert.Equal(t, 5, buf.Len())
}

func TestDecodeStrict(t *testing.T) {
	t.Run("ZeroLength", func(t *testing.T) {
		_, ok, err := DecodeStrict(bytes.NewBuffer([]byte{0, 0, 0, 0}), 0)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, common.ErrProtocolViolation))
	})

	t.Run("Oversize", func(t *testing.T) {
		header := binary.BigEndian.AppendUint32(nil, 1025)
		_, ok, err := DecodeStrict(bytes.NewBuffer(header), 1024)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, common.ErrProtocolViolation))
	})

	t.Run("DefaultLimit", func(t *testing.T) {
		header := binary.BigEndian.AppendUint32(nil, DefaultMaxFrameSize+1)
		_, _, err := DecodeStrict(bytes.NewBuffer(header), 0)
		assert.Error(t, err)
	})

	t.Run("ShortPrefix", func(t *testing.T) {
		_, ok, err := DecodeStrict(bytes.NewBuffer([]byte{0, 0}), 0)
		assert.False(t, ok)
		assert.NoError(t, err)
	})

	t.Run("Complete", func(t *testing.T) {
		f, ok, err := DecodeStrict(bytes.NewBuffer(Encode(common.NewFrame(common.MsgCPingResp, nil))), 0)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, common.MsgCPingResp, f.Code)
	})
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, common.NewFrame(common.MsgCAuthReq, []byte("payload"))))
	require.NoError(t, WriteFrame(&buf, common.NewFrame(common.MsgCPingReq, nil)))

	// the stream codec writes the same bytes as the buffer codec
	assert.Equal(t, Encode(common.NewFrame(common.MsgCAuthReq, []byte("payload"))), buf.Bytes()[:12])

	f, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, common.MsgCAuthReq, f.Code)
	assert.Equal(t, []byte("payload"), f.Payload)

	f, err = ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, common.MsgCPingReq, f.Code)

	_, err = ReadFrame(&buf, 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameErrors(t *testing.T) {
	full := Encode(common.NewFrame(common.MsgCAuthReq, []byte("payload")))

	_, err := ReadFrame(bytes.NewReader(full[:7]), 0)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, err = ReadFrame(bytes.NewReader(full[:4]), 0)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, err = ReadFrame(bytes.NewReader(full[:2]), 0)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, err = ReadFrame(bytes.NewReader(full), 4)
	assert.True(t, errors.Is(err, common.ErrProtocolViolation))
}

func BenchmarkEncodeDecode(b *testing.B) {
	f := common.NewFrame(common.MsgCGetServerInfoResp, bytes.Repeat([]byte{1}, 1024))
	var buf bytes.Buffer

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Write(Encode(f))
		if _, ok := Decode(&buf); !ok {
			b.Fatal("decode failed")
		}
	}
}
