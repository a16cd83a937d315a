package uwuwind

import (
	"bytes"
	"testing"
)

// buildCIEFDESection lays out the GCC default CIE at 0x1000 followed by
// an FDE referencing it: pc_begin 0x2000 (sdata4 pcrel, per the CIE's
// 0x1B R encoding), pc_range 0x40, no LSDA, and the instruction stream
// advance_loc(1); def_cfa_offset(16).
func buildCIEFDESection() *Section {
	raw := append([]byte{}, gccDefaultCIEBytes...)
	raw = append(raw,
		0x10, 0x00, 0x00, 0x00, // length = 16
		0x1C, 0x00, 0x00, 0x00, // id: CIE is 0x1C bytes back from here
		0xE0, 0x0F, 0x00, 0x00, // pc_begin: 0x1020 + 0xFE0 = 0x2000
		0x40, 0x00, 0x00, 0x00, // pc_range = 0x40 (absolute, it is a size)
		0x00,             // augmentation length 0
		0x41, 0x0E, 0x10, // advance_loc(1); def_cfa_offset(16)
	)
	return NewSection(0x1000, raw, nil, nil)
}

func TestParseFDE(t *testing.T) {
	sec := buildCIEFDESection()

	fde, err := parseFDE(sec, 0x1018)
	if err != nil {
		t.Fatalf("parseFDE: %v", err)
	}

	if fde.Cie == nil || fde.Cie.Augmentation != "zR" {
		t.Fatalf("FDE did not resolve its CIE: %+v", fde.Cie)
	}
	if fde.PcBegin != 0x2000 {
		t.Errorf("PcBegin = %s, want 0x2000", fde.PcBegin)
	}
	if fde.PcRange != 0x40 {
		t.Errorf("PcRange = %#x, want 0x40", fde.PcRange)
	}
	if fde.HasLsda {
		t.Error("FDE under a zR CIE should carry no LSDA")
	}
	wantInstr := []byte{0x41, 0x0E, 0x10}
	if !bytes.Equal(fde.Instructions, wantInstr) {
		t.Errorf("Instructions = % x, want % x", fde.Instructions, wantInstr)
	}
}

func TestFdeContains(t *testing.T) {
	sec := buildCIEFDESection()
	fde, err := parseFDE(sec, 0x1018)
	if err != nil {
		t.Fatalf("parseFDE: %v", err)
	}

	cases := []struct {
		pc   Address
		want bool
	}{
		{0x1FFF, false},
		{0x2000, true},
		{0x203F, true},
		{0x2040, false},
	}
	for _, c := range cases {
		if got := fde.Contains(c.pc); got != c.want {
			t.Errorf("Contains(%s) = %v, want %v", c.pc, got, c.want)
		}
	}
}

func TestParseFDEWithLsda(t *testing.T) {
	// A zLR CIE (LSDA encoding udata4 absolute, R encoding sdata4 pcrel)
	// followed by an FDE whose augmentation data holds LSDA 0x5000.
	raw := []byte{
		0x10, 0x00, 0x00, 0x00, // CIE length = 16
		0x00, 0x00, 0x00, 0x00, // id = 0
		0x01,                   // version
		0x7A, 0x4C, 0x52, 0x00, // "zLR"
		0x01,       // code alignment factor 1
		0x78,       // data alignment factor -8
		0x10,       // return address register 16
		0x02,       // augmentation length 2
		0x03, 0x1B, // L: udata4 absolute; R: sdata4 pcrel
		0x00, // one nop of initial instructions

		0x11, 0x00, 0x00, 0x00, // FDE length = 17
		0x18, 0x00, 0x00, 0x00, // id: CIE is 0x18 bytes back from here
		0xE4, 0x0F, 0x00, 0x00, // pc_begin: 0x301C + 0xFE4 = 0x4000
		0x20, 0x00, 0x00, 0x00, // pc_range = 0x20
		0x04,                   // augmentation length 4
		0x00, 0x50, 0x00, 0x00, // LSDA = 0x5000
	}
	sec := NewSection(0x3000, raw, nil, nil)

	fde, err := parseFDE(sec, 0x3014)
	if err != nil {
		t.Fatalf("parseFDE: %v", err)
	}
	if fde.PcBegin != 0x4000 || fde.PcRange != 0x20 {
		t.Errorf("pc range = [%s, +%#x), want [0x4000, +0x20)", fde.PcBegin, fde.PcRange)
	}
	if !fde.HasLsda || fde.Lsda != 0x5000 {
		t.Errorf("LSDA = %s (has=%v), want 0x5000", fde.Lsda, fde.HasLsda)
	}
	if len(fde.Instructions) != 0 {
		t.Errorf("Instructions = % x, want empty", fde.Instructions)
	}
}

func TestParseFDERejectsZeroID(t *testing.T) {
	raw := []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	sec := NewSection(0x6000, raw, nil, nil)
	if _, err := parseFDE(sec, 0x6000); err == nil {
		t.Fatal("expected parseFDE to reject an entry with id 0")
	}
}

func TestParseFDERejectsDwarf64(t *testing.T) {
	raw := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x00, 0x00, 0x00}
	sec := NewSection(0x7000, raw, nil, nil)
	if _, err := parseFDE(sec, 0x7000); err == nil {
		t.Fatal("expected DWARF64 length form to be rejected")
	}
}
