package uwuwind

import (
	"encoding/binary"
	"testing"
)

// buildFourEntryHeader constructs an .eh_frame_hdr with four table entries
// at initial_location 0x1000, 0x1100, 0x1200, 0x1300, using absolute
// udata4 encodings throughout so the test doesn't also need to exercise
// datarel base resolution.
func buildFourEntryHeader(t *testing.T) *EhFrameHeader {
	t.Helper()

	locs := []uint32{0x1000, 0x1100, 0x1200, 0x1300}
	fdeAddrs := []uint32{0x7000, 0x7100, 0x7200, 0x7300}

	buf := make([]byte, 0, 12+len(locs)*8)
	buf = append(buf, 1)                             // version
	buf = append(buf, byte(ehPEUData4|ehPEAbsolute)) // eh_frame_ptr_enc
	buf = append(buf, byte(ehPEUData4|ehPEAbsolute)) // fde_count_enc
	buf = append(buf, byte(ehPEUData4|ehPEAbsolute)) // table_enc

	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], 0x9000) // eh_frame_ptr (unused by this test)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(locs))) // fde_count
	buf = append(buf, tmp[:]...)

	for i := range locs {
		binary.LittleEndian.PutUint32(tmp[:], locs[i])
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint32(tmp[:], fdeAddrs[i])
		buf = append(buf, tmp[:]...)
	}

	h, err := ParseEhFrameHeader(0x5000, buf)
	if err != nil {
		t.Fatalf("ParseEhFrameHeader: %v", err)
	}
	return h
}

func TestEhFrameHeaderBinarySearch(t *testing.T) {
	h := buildFourEntryHeader(t)

	if h.FdeCount != 4 {
		t.Fatalf("FdeCount = %d, want 4", h.FdeCount)
	}

	fdeAddr, err := h.lookupFDE(0x1150)
	if err != nil {
		t.Fatalf("lookupFDE: %v", err)
	}
	if fdeAddr != 0x7100 {
		t.Errorf("lookupFDE(0x1150) = %s, want 0x7100 (the entry for initial_location 0x1100)", fdeAddr)
	}
}

func TestEhFrameHeaderBinarySearchTieBreak(t *testing.T) {
	h := buildFourEntryHeader(t)

	fdeAddr, err := h.lookupFDE(0x1200)
	if err != nil {
		t.Fatalf("lookupFDE: %v", err)
	}
	if fdeAddr != 0x7200 {
		t.Errorf("lookupFDE(0x1200) = %s, want 0x7200 (target equal to initial_location selects that entry)", fdeAddr)
	}
}

func TestEhFrameHeaderTableSorted(t *testing.T) {
	h := buildFourEntryHeader(t)
	if err := h.CheckTableSorted(); err != nil {
		t.Fatalf("CheckTableSorted on a sorted table: %v", err)
	}
}

func TestEhFrameHeaderTableOutOfOrder(t *testing.T) {
	// Same layout as buildFourEntryHeader but with the middle entries
	// swapped.
	buf := make([]byte, 0, 44)
	buf = append(buf, 1)
	buf = append(buf, byte(ehPEUData4|ehPEAbsolute))
	buf = append(buf, byte(ehPEUData4|ehPEAbsolute))
	buf = append(buf, byte(ehPEUData4|ehPEAbsolute))

	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], 0x9000)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], 4)
	buf = append(buf, tmp[:]...)

	for _, pair := range [][2]uint32{{0x1000, 0x7000}, {0x1200, 0x7200}, {0x1100, 0x7100}, {0x1300, 0x7300}} {
		binary.LittleEndian.PutUint32(tmp[:], pair[0])
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint32(tmp[:], pair[1])
		buf = append(buf, tmp[:]...)
	}

	h, err := ParseEhFrameHeader(0x5000, buf)
	if err != nil {
		t.Fatalf("ParseEhFrameHeader: %v", err)
	}
	if err := h.CheckTableSorted(); err == nil {
		t.Fatal("expected CheckTableSorted to reject an out-of-order table")
	}
}

func TestEhFrameHeaderRejectsLEB128TableEnc(t *testing.T) {
	buf := []byte{
		1,
		byte(ehPEUData4 | ehPEAbsolute),
		byte(ehPEUData4 | ehPEAbsolute),
		byte(ehPEULEB128 | ehPEAbsolute), // table entries of unknowable size
		0x00, 0x90, 0x00, 0x00,           // eh_frame_ptr
		0x00, 0x00, 0x00, 0x00,           // fde_count
	}
	if _, err := ParseEhFrameHeader(0x1000, buf); err == nil {
		t.Fatal("expected a LEB128 table_enc to be rejected")
	}
}

func TestEhFrameHeaderRejectsBadVersion(t *testing.T) {
	buf := []byte{2, 0, 0, 0}
	if _, err := ParseEhFrameHeader(0x1000, buf); err == nil {
		t.Fatal("expected an error for eh_frame_hdr version != 1")
	}
}
