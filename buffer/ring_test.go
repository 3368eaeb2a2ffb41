package buffer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/tcpnet/buffer"
)

func TestRingWriteRead(t *testing.T) {
	t.Parallel()

	r := buffer.NewRing(16)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 16, r.Capacity())

	n := r.Write([]byte("hello"))
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, 11, r.Available())

	dst := make([]byte, 5)
	assert.Equal(t, 5, r.Read(dst))
	assert.Equal(t, []byte("hello"), dst)
	assert.True(t, r.IsEmpty())
}

func TestRingWrapAround(t *testing.T) {
	t.Parallel()

	r := buffer.NewRing(8)
	require.Equal(t, 6, r.Write([]byte("abcdef")))

	dst := make([]byte, 4)
	require.Equal(t, 4, r.Read(dst))
	require.Equal(t, []byte("abcd"), dst)

	// Writing 5 bytes now forces the tail past the end of the backing array.
	require.Equal(t, 5, r.Write([]byte("ghijk")))
	assert.Equal(t, 7, r.Len())

	out := make([]byte, 7)
	require.Equal(t, 7, r.Read(out))
	assert.Equal(t, []byte("efghijk"), out)
}

func TestRingSilentTruncation(t *testing.T) {
	t.Parallel()

	r := buffer.NewRing(4)
	n := r.Write([]byte("abcdef"))
	assert.Equal(t, 4, n)
	assert.True(t, r.IsFull())
	assert.Equal(t, 0, r.Write([]byte("x")))

	dst := make([]byte, 8)
	assert.Equal(t, 4, r.Read(dst))
	assert.Equal(t, []byte("abcd"), dst[:4])
}

func TestRingPeekDoesNotConsume(t *testing.T) {
	t.Parallel()

	r := buffer.NewRing(8)
	r.Write([]byte("data"))

	dst := make([]byte, 4)
	assert.Equal(t, 4, r.Peek(dst))
	assert.Equal(t, []byte("data"), dst)
	assert.Equal(t, 4, r.Len())

	assert.Equal(t, 4, r.Read(dst))
	assert.True(t, r.IsEmpty())
}

func TestRingSkip(t *testing.T) {
	t.Parallel()

	r := buffer.NewRing(8)
	r.Write([]byte("abcdef"))

	assert.Equal(t, 2, r.Skip(2))
	dst := make([]byte, 4)
	assert.Equal(t, 4, r.Read(dst))
	assert.Equal(t, []byte("cdef"), dst)

	// Skipping more than is buffered discards only what exists.
	r.Write([]byte("xy"))
	assert.Equal(t, 2, r.Skip(100))
	assert.True(t, r.IsEmpty())
}

func TestRingClear(t *testing.T) {
	t.Parallel()

	r := buffer.NewRing(8)
	r.Write([]byte("abc"))
	r.Clear()
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 8, r.Available())
	assert.Equal(t, 3, r.Write([]byte("xyz")))
}

func TestRingInterleavedStream(t *testing.T) {
	t.Parallel()

	// Push a long stream through a small ring in uneven chunks and check
	// the bytes come out in order and intact.
	r := buffer.NewRing(7)
	src := bytes.Repeat([]byte("0123456789"), 20)
	var got []byte

	in := src
	for len(got) < len(src) {
		if len(in) > 0 {
			chunk := 5
			if chunk > len(in) {
				chunk = len(in)
			}
			n := r.Write(in[:chunk])
			in = in[n:]
		}
		dst := make([]byte, 3)
		n := r.Read(dst)
		got = append(got, dst[:n]...)
	}

	assert.Equal(t, src, got)
}
