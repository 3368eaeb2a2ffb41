// Package framing converts between a raw TCP byte stream and discrete
// application messages.
//
// A Framer is stateful: Unframe is fed strictly incremental chunks of the
// stream and buffers partial messages internally until they complete, so
// messages may be split arbitrarily across reads and multiple complete
// messages may arrive in one read. One Framer instance serves exactly one
// connection and direction; instances are not safe for concurrent use.
package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMaxMessageSize caps a single decoded message at 10 MiB so a hostile
// length header cannot force an unbounded allocation.
const DefaultMaxMessageSize = 10 * 1024 * 1024

var (
	ErrMessageTooLarge = errors.New("framing: message exceeds maximum size")
	ErrEmptyDelimiter  = errors.New("framing: delimiter must not be empty")
)

// Framer turns messages into wire bytes and wire bytes back into messages.
//
// The contract: decoded messages preserve payload content byte for byte and
// arrive in call order; Unframe never drops a partial message, it stays
// buffered until completed or Reset is called.
type Framer interface {
	// Frame wraps one message for the wire.
	Frame(msg []byte) ([]byte, error)

	// Unframe appends newly read bytes to the internal buffer and returns
	// zero or more completed messages.
	Unframe(data []byte) ([][]byte, error)

	// IsComplete reports whether data on its own holds at least one complete
	// message. It does not consult or mutate the internal buffer.
	IsComplete(data []byte) bool

	// Reset discards all accumulated state.
	Reset()
}

// LengthType selects the width of a length-prefixed framer's header.
type LengthType int

const (
	Uint8 LengthType = iota
	Uint16
	Uint32
	Uint64
)

func (t LengthType) size() int {
	switch t {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint64:
		return 8
	default:
		return 4
	}
}

// max returns the largest payload length the header width can express.
func (t LengthType) max() uint64 {
	switch t {
	case Uint8:
		return 1<<8 - 1
	case Uint16:
		return 1<<16 - 1
	case Uint32:
		return 1<<32 - 1
	default:
		return 1<<64 - 1
	}
}

// LengthPrefixedFramer precedes each payload with a fixed-width integer
// holding the payload length.
type LengthPrefixedFramer struct {
	lengthType LengthType
	order      binary.ByteOrder
	maxSize    int

	buf        []byte
	expected   int
	haveLength bool
}

// NewLengthPrefixed returns a framer using the given header width and byte
// order. The common wire format is NewLengthPrefixed(Uint32, binary.BigEndian).
func NewLengthPrefixed(t LengthType, order binary.ByteOrder) *LengthPrefixedFramer {
	return &LengthPrefixedFramer{
		lengthType: t,
		order:      order,
		maxSize:    DefaultMaxMessageSize,
	}
}

// SetMaxMessageSize overrides the decoded-message cap. Zero or negative
// restores the default.
func (f *LengthPrefixedFramer) SetMaxMessageSize(n int) {
	if n <= 0 {
		n = DefaultMaxMessageSize
	}
	f.maxSize = n
}

func (f *LengthPrefixedFramer) Frame(msg []byte) ([]byte, error) {
	if len(msg) > f.maxSize {
		return nil, ErrMessageTooLarge
	}
	if uint64(len(msg)) > f.lengthType.max() {
		return nil, fmt.Errorf("framing: payload size %d does not fit a %d-byte length header", len(msg), f.lengthType.size())
	}

	out := make([]byte, f.lengthType.size()+len(msg))
	f.putLength(out, uint64(len(msg)))
	copy(out[f.lengthType.size():], msg)
	return out, nil
}

func (f *LengthPrefixedFramer) Unframe(data []byte) ([][]byte, error) {
	f.buf = append(f.buf, data...)

	var msgs [][]byte
	headerSize := f.lengthType.size()
	for {
		if !f.haveLength {
			if len(f.buf) < headerSize {
				break
			}
			length := f.readLength(f.buf)
			if length > uint64(f.maxSize) {
				f.Reset()
				return msgs, ErrMessageTooLarge
			}
			f.expected = int(length)
			f.haveLength = true
			f.buf = f.buf[headerSize:]
		}

		if len(f.buf) < f.expected {
			break
		}

		msg := make([]byte, f.expected)
		copy(msg, f.buf[:f.expected])
		msgs = append(msgs, msg)
		f.buf = f.buf[f.expected:]
		f.expected = 0
		f.haveLength = false
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
	return msgs, nil
}

func (f *LengthPrefixedFramer) IsComplete(data []byte) bool {
	headerSize := f.lengthType.size()
	if len(data) < headerSize {
		return false
	}
	return uint64(len(data)-headerSize) >= f.readLength(data)
}

func (f *LengthPrefixedFramer) Reset() {
	f.buf = nil
	f.expected = 0
	f.haveLength = false
}

func (f *LengthPrefixedFramer) putLength(dst []byte, n uint64) {
	switch f.lengthType {
	case Uint8:
		dst[0] = byte(n)
	case Uint16:
		f.order.PutUint16(dst, uint16(n))
	case Uint64:
		f.order.PutUint64(dst, n)
	default:
		f.order.PutUint32(dst, uint32(n))
	}
}

func (f *LengthPrefixedFramer) readLength(src []byte) uint64 {
	switch f.lengthType {
	case Uint8:
		return uint64(src[0])
	case Uint16:
		return uint64(f.order.Uint16(src))
	case Uint64:
		return f.order.Uint64(src)
	default:
		return uint64(f.order.Uint32(src))
	}
}

// DelimiterFramer terminates each message with a fixed byte sequence, for
// example "\r\n" for line-oriented protocols.
type DelimiterFramer struct {
	delim            []byte
	includeDelimiter bool
	maxSize          int

	buf []byte
}

// NewDelimiter returns a framer splitting on delim. When includeDelimiter is
// true the delimiter bytes are retained at the end of each decoded message.
func NewDelimiter(delim []byte, includeDelimiter bool) (*DelimiterFramer, error) {
	if len(delim) == 0 {
		return nil, ErrEmptyDelimiter
	}
	d := make([]byte, len(delim))
	copy(d, delim)
	return &DelimiterFramer{
		delim:            d,
		includeDelimiter: includeDelimiter,
		maxSize:          DefaultMaxMessageSize,
	}, nil
}

// SetMaxMessageSize overrides the buffered-message cap. Zero or negative
// restores the default.
func (f *DelimiterFramer) SetMaxMessageSize(n int) {
	if n <= 0 {
		n = DefaultMaxMessageSize
	}
	f.maxSize = n
}

func (f *DelimiterFramer) Frame(msg []byte) ([]byte, error) {
	if len(msg) > f.maxSize {
		return nil, ErrMessageTooLarge
	}
	out := make([]byte, 0, len(msg)+len(f.delim))
	out = append(out, msg...)
	out = append(out, f.delim...)
	return out, nil
}

func (f *DelimiterFramer) Unframe(data []byte) ([][]byte, error) {
	f.buf = append(f.buf, data...)

	var msgs [][]byte
	for {
		idx := bytes.Index(f.buf, f.delim)
		if idx < 0 {
			break
		}

		end := idx
		if f.includeDelimiter {
			end += len(f.delim)
		}
		msg := make([]byte, end)
		copy(msg, f.buf[:end])
		msgs = append(msgs, msg)
		f.buf = f.buf[idx+len(f.delim):]
	}

	if len(f.buf) == 0 {
		f.buf = nil
	} else if len(f.buf) > f.maxSize {
		f.Reset()
		return msgs, ErrMessageTooLarge
	}
	return msgs, nil
}

func (f *DelimiterFramer) IsComplete(data []byte) bool {
	return bytes.Contains(data, f.delim)
}

func (f *DelimiterFramer) Reset() {
	f.buf = nil
}
