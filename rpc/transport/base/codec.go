package base

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/ValentinKolb/pbwire/rpc/common"
)

const (
	// LengthPrefixSize is the size of the big endian length prefix
	LengthPrefixSize = 4
	// HeaderSize is the length prefix plus the operation code
	HeaderSize = LengthPrefixSize + 1
	// DefaultMaxFrameSize limits the announced length of incoming frames (64 MiB)
	DefaultMaxFrameSize uint32 = 64 << 20
)

// --------------------------------------------------------------------------
// Buffer codec (used by the connection event loop)
// --------------------------------------------------------------------------

// Encode returns the wire representation of f as one contiguous slice:
// 4 byte big endian length (= len(payload)+1), 1 byte code, payload.
func Encode(f common.Frame) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(f.Payload)), f)
}

// AppendFrame appends the wire representation of f to dst
func AppendFrame(dst []byte, f common.Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.WireLength())
	dst = append(dst, byte(f.Code))
	return append(dst, f.Payload...)
}

// Decode takes one frame from the front of buf.
// If buf does not yet hold a complete frame, nothing is consumed and false is returned;
// call again once more bytes have been appended. Bytes of a following frame are never consumed.
// A zero length prefix can never complete and stalls as well.
func Decode(buf *bytes.Buffer) (common.Frame, bool) {
	b := buf.Bytes()
	if len(b) < LengthPrefixSize {
		return common.Frame{}, false
	}

	length := binary.BigEndian.Uint32(b[:LengthPrefixSize])
	if length == 0 || uint64(len(b)-LengthPrefixSize) < uint64(length) {
		return common.Frame{}, false
	}

	// copy the payload, the buffer is reused for the next read
	payload := make([]byte, length-1)
	copy(payload, b[HeaderSize:LengthPrefixSize+int(length)])
	f := common.Frame{Code: common.MessageCode(b[LengthPrefixSize]), Payload: payload}

	buf.Next(LengthPrefixSize + int(length))
	return f, true
}

// DecodeStrict is Decode for a live connection: a length prefix that can never
// be satisfied (zero or above maxSize) is reported as a protocol violation
// instead of stalling. maxSize 0 means DefaultMaxFrameSize.
func DecodeStrict(buf *bytes.Buffer, maxSize uint32) (common.Frame, bool, error) {
	if err := checkLength(buf.Bytes(), maxSize); err != nil {
		return common.Frame{}, false, err
	}
	f, ok := Decode(buf)
	return f, ok, nil
}

func checkLength(b []byte, maxSize uint32) error {
	if len(b) < LengthPrefixSize {
		return nil
	}
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	length := binary.BigEndian.Uint32(b[:LengthPrefixSize])
	if length == 0 {
		return common.NewProtocolViolation("zero length frame")
	}
	if length > maxSize {
		return common.NewProtocolViolation("frame length %d exceeds limit %d", length, maxSize)
	}
	return nil
}

// --------------------------------------------------------------------------
// Stream codec (used by the blocking server loop)
// --------------------------------------------------------------------------

// WriteFrame writes a frame to w, header and payload batched via net.Buffers
func WriteFrame(w io.Writer, f common.Frame) error {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[:LengthPrefixSize], f.WireLength())
	header[LengthPrefixSize] = byte(f.Code)

	b := net.Buffers{header}
	if len(f.Payload) > 0 {
		b = append(b, f.Payload)
	}
	_, err := b.WriteTo(w)
	return err
}

// ReadFrame reads exactly one frame from r.
// It returns io.EOF if the stream ended cleanly before a new frame started.
func ReadFrame(r io.Reader, maxSize uint32) (common.Frame, error) {
	var header [HeaderSize]byte

	// Read length prefix
	if _, err := io.ReadFull(r, header[:LengthPrefixSize]); err != nil {
		return common.Frame{}, err
	}
	if err := checkLength(header[:LengthPrefixSize], maxSize); err != nil {
		return common.Frame{}, err
	}
	length := binary.BigEndian.Uint32(header[:LengthPrefixSize])

	// Read code and payload
	if _, err := io.ReadFull(r, header[LengthPrefixSize:]); err != nil {
		return common.Frame{}, noEOF(err)
	}
	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return common.Frame{}, noEOF(err)
	}

	return common.Frame{Code: common.MessageCode(header[LengthPrefixSize]), Payload: payload}, nil
}

// noEOF turns a clean EOF in the middle of a frame into io.ErrUnexpectedEOF
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
