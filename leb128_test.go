package uwuwind

import (
	"bytes"
	"math"
	"testing"
)

func TestDecodeULEB128(t *testing.T) {
	// The classic worked example from the DWARF standard's appendix.
	got, n, err := decodeULEB128([]byte{0xE5, 0x8E, 0x26})
	if err != nil {
		t.Fatalf("decodeULEB128: %v", err)
	}
	if got != 624485 {
		t.Errorf("got %d, want 624485", got)
	}
	if n != 3 {
		t.Errorf("consumed %d bytes, want 3", n)
	}
}

func TestDecodeSLEB128(t *testing.T) {
	cases := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x9B, 0xF1, 0x59}, -624485},
		{[]byte{0xC0, 0xBB, 0x78}, -123456},
	}
	for _, c := range cases {
		got, _, err := decodeSLEB128(c.in)
		if err != nil {
			t.Fatalf("decodeSLEB128(%x): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("decodeSLEB128(%x) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestULEB128RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 624485, math.MaxUint32, math.MaxUint64}
	for _, v := range values {
		enc := encodeULEB128(nil, v)
		got, n, err := decodeULEB128(enc)
		if err != nil {
			t.Fatalf("decodeULEB128(encodeULEB128(%d)): %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("round trip for %d: got %d (consumed %d of %d)", v, got, n, len(enc))
		}
	}
}

func TestSLEB128RoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 63, -64, 624485, -624485, math.MinInt64, math.MaxInt64}
	for _, v := range values {
		enc := encodeSLEB128(nil, v)
		got, n, err := decodeSLEB128(enc)
		if err != nil {
			t.Fatalf("decodeSLEB128(encodeSLEB128(%d)): %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("round trip for %d: got %d (consumed %d of %d)", v, got, n, len(enc))
		}
	}
}

func TestULEB128EncodeKnownBytes(t *testing.T) {
	want := []byte{0xE5, 0x8E, 0x26}
	got := encodeULEB128(nil, 624485)
	if !bytes.Equal(got, want) {
		t.Errorf("encodeULEB128(624485) = % x, want % x", got, want)
	}
}

func TestULEB128Overflow(t *testing.T) {
	// Nine continuation bytes put the tenth at bit 63; a tenth byte with
	// more than the single low bit set would spill past 64 bits.
	over := append(bytes.Repeat([]byte{0x80}, 9), 0x02)
	if _, _, err := decodeULEB128(over); err == nil {
		t.Fatal("expected error decoding a value exceeding 64 bits")
	}

	// The same shape with only the low bit set is exactly 1<<63.
	max := append(bytes.Repeat([]byte{0x80}, 9), 0x01)
	got, _, err := decodeULEB128(max)
	if err != nil {
		t.Fatalf("decodeULEB128(1<<63): %v", err)
	}
	if got != 1<<63 {
		t.Errorf("got %#x, want 1<<63", got)
	}
}

func TestULEB128TooLong(t *testing.T) {
	allContinue := make([]byte, 11)
	for i := range allContinue {
		allContinue[i] = 0x80
	}
	if _, _, err := decodeULEB128(allContinue); err == nil {
		t.Fatal("expected error decoding an 11-byte run of continuation bytes")
	}
}
