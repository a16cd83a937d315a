package uwuwind

import (
	"bytes"
	"testing"
)

// gccDefaultCIEBytes is the zR CIE GCC emits for plain x86-64 code:
// code alignment 1, data alignment -8, return address in column 16,
// pointers encoded pcrel sdata4, CFA seeded at rsp+8 with the return
// address saved at cfa-8.
var gccDefaultCIEBytes = []byte{
	0x14, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x7A, 0x52, 0x00,
	0x01, 0x78, 0x10, 0x01, 0x1B, 0x0C, 0x07, 0x08, 0x90, 0x01, 0x00, 0x00,
}

func TestParseCIE(t *testing.T) {
	sec := NewSection(0x1000, gccDefaultCIEBytes, nil, nil)

	cie, err := parseCIE(sec, 0x1000)
	if err != nil {
		t.Fatalf("parseCIE: %v", err)
	}

	if cie.Augmentation != "zR" {
		t.Errorf("Augmentation = %q, want %q", cie.Augmentation, "zR")
	}
	if cie.CodeAlignmentFactor != 1 {
		t.Errorf("CodeAlignmentFactor = %d, want 1", cie.CodeAlignmentFactor)
	}
	if cie.DataAlignmentFactor != -8 {
		t.Errorf("DataAlignmentFactor = %d, want -8", cie.DataAlignmentFactor)
	}
	if cie.ReturnAddressRegister != 16 {
		t.Errorf("ReturnAddressRegister = %d, want 16", cie.ReturnAddressRegister)
	}
	if !cie.AugData.HasFdeEncoding || cie.AugData.FdePointerEncoding != 0x1B {
		t.Errorf("FdePointerEncoding = %v (has=%v), want 0x1B", cie.AugData.FdePointerEncoding, cie.AugData.HasFdeEncoding)
	}

	wantInstr := []byte{0x0C, 0x07, 0x08, 0x90, 0x01, 0x00, 0x00}
	if !bytes.Equal(cie.InitialInstructions, wantInstr) {
		t.Errorf("InitialInstructions = % x, want % x", cie.InitialInstructions, wantInstr)
	}
}

func TestParseCIERejectsDwarf64(t *testing.T) {
	raw := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0}
	sec := NewSection(0x2000, raw, nil, nil)
	if _, err := parseCIE(sec, 0x2000); err == nil {
		t.Fatal("expected DWARF64 length form to be rejected")
	}
}

func TestParseCIERejectsNonzeroID(t *testing.T) {
	// length=4, id=1 (an FDE's shape, not a CIE's).
	raw := []byte{0x04, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	sec := NewSection(0x3000, raw, nil, nil)
	if _, err := parseCIE(sec, 0x3000); err == nil {
		t.Fatal("expected parseCIE to reject an entry with nonzero id")
	}
}
