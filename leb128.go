package uwuwind

import "fmt"

// maxLEB128Bytes bounds how many bytes a single LEB128 value may consume
// before decoding fails: 10 bytes of 7 bits each (70 bits) is the fewest
// that covers a full 64-bit accumulator.
const maxLEB128Bytes = 10

// decodeULEB128 reads an unsigned little-endian base-128 value from b,
// returning the decoded value and the number of bytes consumed.
func decodeULEB128(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		if i >= maxLEB128Bytes {
			return 0, 0, fmt.Errorf("uleb128 longer than %d bytes: %w", maxLEB128Bytes, ErrMalformedEncoding)
		}
		byt := b[i]
		if shift >= 64 || (shift == 63 && byt&0x7f > 1) {
			return 0, 0, fmt.Errorf("uleb128 exceeds 64 bits: %w", ErrMalformedEncoding)
		}
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated uleb128: %w", ErrEOF)
}

// decodeSLEB128 reads a signed little-endian base-128 value from b,
// sign-extending when the final byte's bit 6 is set and the value didn't
// fill the full 64-bit width.
func decodeSLEB128(b []byte) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(b); i++ {
		if i >= maxLEB128Bytes {
			return 0, 0, fmt.Errorf("sleb128 longer than %d bytes: %w", maxLEB128Bytes, ErrMalformedEncoding)
		}
		byt := b[i]
		if shift >= 64 {
			return 0, 0, fmt.Errorf("sleb128 exceeds 64 bits: %w", ErrMalformedEncoding)
		}
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			if shift < 64 && byt&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("truncated sleb128: %w", ErrEOF)
}

// encodeULEB128 appends the ULEB128 encoding of v to dst and returns the
// extended slice. The decoders never need it; tests checking the
// round-trip property do.
func encodeULEB128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		dst = append(dst, b)
		return dst
	}
}

// encodeSLEB128 appends the SLEB128 encoding of v to dst and returns the
// extended slice.
func encodeSLEB128(dst []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
