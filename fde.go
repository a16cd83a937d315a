package uwuwind

import "fmt"

// Fde is a parsed Frame Description Entry, a view over its owning
// Section's bytes, tied to the Cie that governs its encodings.
type Fde struct {
	Offset       Address // address of this FDE's length field
	Cie          *Cie
	PcBegin      Address
	PcRange      uint64
	Instructions []byte
	HasLsda      bool
	Lsda         Address

	// instrAddr is the absolute address of Instructions[0]; see
	// Cie.instrAddr.
	instrAddr Address
}

// Contains reports whether pc falls within this FDE's covered range.
func (f *Fde) Contains(pc Address) bool {
	return f.PcBegin <= pc && pc.Sub(f.PcBegin) < int64(f.PcRange)
}

// parseFDE parses the entry at addr, which must not be a CIE (id == 0).
// It locates and parses the owning CIE itself, since the FDE's fields
// (pc_begin's encoding in particular) cannot be read without it.
func parseFDE(sec *Section, addr Address) (*Fde, error) {
	c, err := sec.cursorAt(addr)
	if err != nil {
		return nil, fmt.Errorf("locating FDE at %s: %w", addr, err)
	}

	length, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("FDE length at %s: %w", addr, err)
	}
	if length == dwarf64Sentinel {
		return nil, fmt.Errorf("FDE at %s uses DWARF64 length form: %w", addr, ErrUnsupported)
	}
	if length == 0 {
		return nil, fmt.Errorf("entry at %s is a terminator, not an FDE: %w", addr, ErrNotFound)
	}

	idFieldAddr := c.here()

	body, err := c.sub(int(length))
	if err != nil {
		return nil, fmt.Errorf("FDE body at %s: %w", addr, err)
	}

	id, err := body.u32()
	if err != nil {
		return nil, fmt.Errorf("FDE id at %s: %w", addr, err)
	}
	if id == 0 {
		return nil, fmt.Errorf("entry at %s has id 0, not an FDE: %w", addr, ErrMalformedInstruction)
	}

	// id is the byte distance back from idFieldAddr to the owning CIE's
	// length field: the CIE starts at (id field address) - id.
	cieAddr := idFieldAddr.Add(-int64(id))
	cie, err := parseCIE(sec, cieAddr)
	if err != nil {
		return nil, fmt.Errorf("FDE at %s locating CIE at %s: %w", addr, cieAddr, err)
	}

	rEnc := cie.fdePointerEncoding()
	ptrCtx := sec.ptrContext()

	pcBegin, err := readEncodedPointer(body, rEnc, ptrCtx)
	if err != nil {
		return nil, fmt.Errorf("FDE pc_begin at %s: %w", addr, err)
	}

	// pc_range is always absolute regardless of R's application half: it
	// is a byte count, not a pointer.
	pcRangeRaw, err := readRawByFormat(body, rEnc.format())
	if err != nil {
		return nil, fmt.Errorf("FDE pc_range at %s: %w", addr, err)
	}

	fde := &Fde{
		Offset:  addr,
		Cie:     cie,
		PcBegin: pcBegin,
		PcRange: pcRangeRaw,
	}

	if len(cie.Augmentation) > 0 && cie.Augmentation[0] == 'z' {
		augLen, err := body.uleb128()
		if err != nil {
			return nil, fmt.Errorf("FDE augmentation length at %s: %w", addr, err)
		}
		augBytes, err := body.bytes(int(augLen))
		if err != nil {
			return nil, fmt.Errorf("FDE augmentation data at %s: %w", addr, err)
		}
		if cie.AugData.HasLsda {
			augCur := newCursor(augBytes, body.here().Add(int64(-len(augBytes))))
			lsda, err := readEncodedPointer(augCur, cie.AugData.LsdaEncoding, ptrCtx)
			if err != nil {
				return nil, fmt.Errorf("FDE LSDA pointer at %s: %w", addr, err)
			}
			fde.HasLsda = true
			fde.Lsda = lsda
		}
	}

	fde.instrAddr = body.here()
	instr, err := body.bytes(body.remaining())
	if err != nil {
		return nil, fmt.Errorf("FDE instructions at %s: %w", addr, err)
	}
	fde.Instructions = instr

	return fde, nil
}
