// Package delta decodes the copy/insert instruction stream used by
// pack entries with type "delta-against-sha1". Only decoding is in
// scope; producing deltas is left to an external encoder.
package delta

import (
	"errors"

	"golang.org/x/xerrors"
)

// ErrTooShort is returned when the delta stream ends before its header
// is fully readable.
var ErrTooShort = errors.New("delta stream too short")

// ErrBaseSize is returned when the delta's declared source size does
// not match the length of the base buffer handed to Decode.
var ErrBaseSize = errors.New("delta base size mismatch")

// ErrShape is returned when the instruction stream doesn't produce
// exactly the declared result size, or leaves unconsumed bytes, or
// contains a zero control byte.
var ErrShape = errors.New("malformed delta instruction stream")

// ErrCopyOutOfBounds is returned when a copy instruction's offset/size
// reach past the end of its source buffer.
var ErrCopyOutOfBounds = errors.New("delta copy out of bounds")

const copyFromResultBit = 0x40 // legacy variant bit, see Decode doc.

// Decode reconstructs the target buffer described by delta against
// base:
//
//  1. read source-size and result-size as variable-length integers (7
//     value bits per byte, continuation in the byte's high bit,
//     least-significant group first);
//  2. fail ErrBaseSize if source-size != len(base);
//  3. allocate the declared result size;
//  4. replay copy/insert instructions until the stream is exhausted;
//  5. fail ErrShape if the produced length doesn't match the declared
//     result size or input bytes remain unconsumed.
//
// Bit 0x40 of a copy instruction's control byte is a legacy
// variant: when set, the copy source is the already-produced prefix of
// the result buffer instead of base. Vanilla git deltas never set this
// bit; it is preserved here because older delta producers used it to
// reference the partially-reconstructed result.
func Decode(base, delta []byte) (result []byte, err error) {
	d := delta

	srcSize, d, err := readSize(d)
	if err != nil {
		return nil, err
	}
	if srcSize != len(base) {
		return nil, ErrBaseSize
	}

	resultSize, d, err := readSize(d)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, resultSize)

	for len(d) > 0 {
		cmd := d[0]
		d = d[1:]

		switch {
		case cmd == 0:
			return nil, xerrors.Errorf("zero control byte: %w", ErrShape)

		case cmd&0x80 != 0:
			var offset, size int
			var err error
			offset, d, err = readGated(d, cmd, 0, 4)
			if err != nil {
				return nil, err
			}
			size, d, err = readGated(d, cmd, 4, 2)
			if err != nil {
				return nil, err
			}
			if size == 0 {
				size = 65536
			}

			src := base
			if cmd&copyFromResultBit != 0 {
				src = out
			}
			if offset < 0 || size < 0 || offset+size > len(src) {
				return nil, ErrCopyOutOfBounds
			}
			out = append(out, src[offset:offset+size]...)

		default:
			n := int(cmd & 0x7f)
			if n == 0 || n > len(d) {
				return nil, xerrors.Errorf("literal insert past end of stream: %w", ErrShape)
			}
			out = append(out, d[:n]...)
			d = d[n:]
		}
	}

	if len(out) != resultSize {
		return nil, xerrors.Errorf("produced %d bytes, expected %d: %w", len(out), resultSize, ErrShape)
	}
	return out, nil
}

// readSize reads one of the two variable-length size fields from the
// head of a delta stream and returns the remaining bytes.
func readSize(d []byte) (size int, rest []byte, err error) {
	shift := uint(0)
	for {
		if len(d) == 0 {
			return 0, nil, xerrors.Errorf("truncated size field: %w", ErrTooShort)
		}
		b := d[0]
		d = d[1:]
		size |= int(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return size, d, nil
		}
	}
}

// readGated reads up to maxBytes little-endian bytes from d, one per
// set bit of cmd starting at bitOffset, accumulating them into an int.
// Used for both the 4-byte gated copy offset and the 2-byte gated copy
// size.
func readGated(d []byte, cmd byte, bitOffset, maxBytes uint) (value int, rest []byte, err error) {
	for i := uint(0); i < maxBytes; i++ {
		if cmd&(1<<(bitOffset+i)) == 0 {
			continue
		}
		if len(d) == 0 {
			return 0, nil, xerrors.Errorf("truncated copy instruction: %w", ErrTooShort)
		}
		value |= int(d[0]) << (8 * i)
		d = d[1:]
	}
	return value, d, nil
}
