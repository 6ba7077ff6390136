package delta_test

import (
	"testing"

	"github.com/nivl-forge/gitcore/delta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeSize writes n as a variable-length size field: 7 value bits
// per byte, continuation signaled by the byte's high bit, least
// significant group first.
func encodeSize(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

// encodeCopy builds a copy instruction byte plus its gated offset/size
// bytes, omitting any byte whose corresponding value is zero (the
// minimal encoding), matching how a real delta producer would emit it.
func encodeCopy(offset, size int) []byte {
	cmd := byte(0x80)
	var rest []byte

	off := offset
	for i := 0; i < 4; i++ {
		b := byte(off & 0xff)
		off >>= 8
		if b != 0 {
			cmd |= 1 << uint(i)
			rest = append(rest, b)
		}
	}

	sz := size
	if sz == 65536 {
		sz = 0
	}
	for i := 0; i < 2; i++ {
		b := byte(sz & 0xff)
		sz >>= 8
		if b != 0 {
			cmd |= 1 << uint(4+i)
			rest = append(rest, b)
		}
	}

	return append([]byte{cmd}, rest...)
}

func encodeInsert(s string) []byte {
	if len(s) == 0 || len(s) > 0x7f {
		panic("encodeInsert: length must be in [1,127] for this helper")
	}
	return append([]byte{byte(len(s))}, []byte(s)...)
}

func TestDecodeSplicesAndCopies(t *testing.T) {
	t.Parallel()

	base := []byte("The quick brown fox jumps over the lazy dog\n")
	require.Len(t, base, 44)

	var d []byte
	d = append(d, encodeSize(len(base))...)

	want := "The quick brown slow red over the lazy dog\n"
	d = append(d, encodeSize(len(want))...)
	d = append(d, encodeCopy(0, 16)...)     // "The quick brown "
	d = append(d, encodeInsert("slow red ")...)
	d = append(d, encodeCopy(26, 18)...) // "over the lazy dog\n"

	got, err := delta.Decode(base, d)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestDecodeRejectsBaseSizeMismatch(t *testing.T) {
	t.Parallel()

	base := []byte("abc")
	d := append(encodeSize(99), encodeSize(0)...)

	_, err := delta.Decode(base, d)
	assert.ErrorIs(t, err, delta.ErrBaseSize)
}

func TestDecodeZeroCopySizeMeans65536(t *testing.T) {
	t.Parallel()

	base := make([]byte, 65536)
	for i := range base {
		base[i] = byte(i)
	}

	var d []byte
	d = append(d, encodeSize(len(base))...)
	d = append(d, encodeSize(65536)...)
	d = append(d, byte(0x80|0x10), byte(0)) // copy offset=0 (all gate bits clear), size byte=0 forces 65536 special case

	got, err := delta.Decode(base, d)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}

func TestDecodeCopyFromResultPrefix(t *testing.T) {
	t.Parallel()

	base := []byte("xy")
	want := "xyxy"

	var d []byte
	d = append(d, encodeSize(len(base))...)
	d = append(d, encodeSize(len(want))...)
	d = append(d, encodeCopy(0, 2)...)

	cmd := encodeCopy(0, 2)
	cmd[0] |= 0x40 // legacy variant: copy from the already-produced result
	d = append(d, cmd...)

	got, err := delta.Decode(base, d)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestDecodeRejectsShapeMismatch(t *testing.T) {
	t.Parallel()

	base := []byte("abc")
	var d []byte
	d = append(d, encodeSize(len(base))...)
	d = append(d, encodeSize(10)...) // declares 10 bytes but nothing follows

	_, err := delta.Decode(base, d)
	assert.ErrorIs(t, err, delta.ErrShape)
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	t.Parallel()

	_, err := delta.Decode([]byte("abc"), encodeSize(3))
	assert.ErrorIs(t, err, delta.ErrTooShort)
}
