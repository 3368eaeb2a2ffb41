package framing_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/tcpnet/framing"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint32, binary.BigEndian)

	framed, err := f.Frame([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, framed)

	msgs, err := f.Unframe(framed)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("hello"), msgs[0])
}

func TestLengthPrefixedMultipleMessagesOneChunk(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint32, binary.BigEndian)

	chunk := []byte{0, 0, 0, 3, 'a', 'b', 'c', 0, 0, 0, 2, 'x', 'y'}
	msgs, err := f.Unframe(chunk)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("abc"), msgs[0])
	assert.Equal(t, []byte("xy"), msgs[1])
}

func TestLengthPrefixedChunkInvariance(t *testing.T) {
	t.Parallel()

	// The same stream must decode identically no matter how it is split.
	whole := framing.NewLengthPrefixed(framing.Uint16, binary.BigEndian)
	stream := []byte{}
	want := [][]byte{[]byte("first"), {}, []byte("third message")}
	for _, m := range want {
		framed, err := whole.Frame(m)
		require.NoError(t, err)
		stream = append(stream, framed...)
	}

	byByte := framing.NewLengthPrefixed(framing.Uint16, binary.BigEndian)
	var got [][]byte
	for i := range stream {
		msgs, err := byByte.Unframe(stream[i : i+1])
		require.NoError(t, err)
		got = append(got, msgs...)
	}

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i], got[i], "message %d", i)
	}
}

func TestLengthPrefixedPartialThenRest(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint32, binary.BigEndian)

	msgs, err := f.Unframe([]byte{0, 0, 0, 4, 'a', 'b'})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = f.Unframe([]byte{'c', 'd'})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("abcd"), msgs[0])
}

func TestLengthPrefixedLittleEndian(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint16, binary.LittleEndian)

	framed, err := f.Frame([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 'o', 'k'}, framed)

	msgs, err := f.Unframe(framed)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("ok"), msgs[0])
}

func TestLengthPrefixedOversizeHeader(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint32, binary.BigEndian)
	f.SetMaxMessageSize(8)

	_, err := f.Unframe([]byte{0, 0, 1, 0, 'x'})
	require.ErrorIs(t, err, framing.ErrMessageTooLarge)

	// Buffered garbage must be gone after the failure.
	msgs, err := f.Unframe([]byte{0, 0, 0, 2, 'h', 'i'})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("hi"), msgs[0])
}

func TestLengthPrefixedFrameTooLarge(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint8, binary.BigEndian)
	_, err := f.Frame(bytes.Repeat([]byte{'x'}, 300))
	require.Error(t, err)
}

func TestLengthPrefixedIsComplete(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint32, binary.BigEndian)
	assert.False(t, f.IsComplete([]byte{0, 0, 0}))
	assert.False(t, f.IsComplete([]byte{0, 0, 0, 2, 'a'}))
	assert.True(t, f.IsComplete([]byte{0, 0, 0, 2, 'a', 'b'}))
	assert.True(t, f.IsComplete([]byte{0, 0, 0, 0}))
}

func TestLengthPrefixedReset(t *testing.T) {
	t.Parallel()

	f := framing.NewLengthPrefixed(framing.Uint32, binary.BigEndian)
	_, err := f.Unframe([]byte{0, 0, 0, 9, 'p', 'a', 'r'})
	require.NoError(t, err)

	f.Reset()

	msgs, err := f.Unframe([]byte{0, 0, 0, 1, 'z'})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("z"), msgs[0])
}

func TestDelimiterSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	f, err := framing.NewDelimiter([]byte("\r\n"), false)
	require.NoError(t, err)

	msgs, err := f.Unframe([]byte("abc\r\nde"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("abc"), msgs[0])

	msgs, err = f.Unframe([]byte("f\r\n"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("def"), msgs[0])
}

func TestDelimiterIncludeDelimiter(t *testing.T) {
	t.Parallel()

	f, err := framing.NewDelimiter([]byte("\n"), true)
	require.NoError(t, err)

	msgs, err := f.Unframe([]byte("one\ntwo\n"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one\n"), msgs[0])
	assert.Equal(t, []byte("two\n"), msgs[1])
}

func TestDelimiterEmptyDelimiterRejected(t *testing.T) {
	t.Parallel()

	_, err := framing.NewDelimiter(nil, false)
	require.ErrorIs(t, err, framing.ErrEmptyDelimiter)
}

func TestDelimiterFrameAppendsDelimiter(t *testing.T) {
	t.Parallel()

	f, err := framing.NewDelimiter([]byte("\r\n"), false)
	require.NoError(t, err)

	framed, err := f.Frame([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping\r\n"), framed)
}

func TestDelimiterUnmatchedBufferBounded(t *testing.T) {
	t.Parallel()

	f, err := framing.NewDelimiter([]byte("\n"), false)
	require.NoError(t, err)
	f.SetMaxMessageSize(4)

	_, err = f.Unframe([]byte("toolongwithoutnewline"))
	require.ErrorIs(t, err, framing.ErrMessageTooLarge)
}
