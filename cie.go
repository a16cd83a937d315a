package uwuwind

import "fmt"

// dwarf64Sentinel is the length-field value (0xFFFFFFFF) that signals the
// DWARF64 64-bit length form. This package targets x86-64 Linux, where
// GCC and Clang never emit DWARF64 .eh_frame data, so it is rejected.
const dwarf64Sentinel = 0xFFFFFFFF

// AugmentationData holds the optional per-CIE extras named by letters in
// a z-prefixed augmentation string.
type AugmentationData struct {
	// LsdaEncoding is the pointer encoding FDEs with an L augmentation use
	// for their LSDA pointer. Only meaningful if HasLsda.
	HasLsda      bool
	LsdaEncoding Encoding

	// Personality is the decoded personality routine address, present
	// when the augmentation string contains P.
	HasPersonality bool
	Personality    Address

	// FdePointerEncoding governs how FDEs under this CIE encode pc_begin
	// and set_loc's address operand, present when the string contains R.
	// Defaults to DW_EH_PE_absptr when R is absent, per common libgcc
	// convention (absent R means "encode as an absolute pointer").
	HasFdeEncoding     bool
	FdePointerEncoding Encoding
}

// Cie is a parsed Common Information Entry, a view over its owning
// Section's bytes.
type Cie struct {
	Offset                Address // address of this CIE's length field
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	AugData               AugmentationData
	InitialInstructions   []byte

	// instrAddr is the absolute address of InitialInstructions[0], kept so
	// the interpreter can hand the decoder a correctly based cursor (a
	// pc-relative set_loc operand resolves against the operand's own
	// address, not the entry's).
	instrAddr Address
}

// fdePointerEncoding returns the encoding FDEs under this CIE should use
// for pc_begin/set_loc, applying the absptr default when R was absent.
func (c *Cie) fdePointerEncoding() Encoding {
	if c.AugData.HasFdeEncoding {
		return c.AugData.FdePointerEncoding
	}
	return ehPEAbsPtr
}

// parseCIE parses the CIE whose length field starts at addr within sec.
// addr must point at the 4-byte length field, not the ID field.
func parseCIE(sec *Section, addr Address) (*Cie, error) {
	c, err := sec.cursorAt(addr)
	if err != nil {
		return nil, fmt.Errorf("locating CIE at %s: %w", addr, err)
	}

	length, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("CIE length at %s: %w", addr, err)
	}
	if length == dwarf64Sentinel {
		return nil, fmt.Errorf("CIE at %s uses DWARF64 length form: %w", addr, ErrUnsupported)
	}

	body, err := c.sub(int(length))
	if err != nil {
		return nil, fmt.Errorf("CIE body at %s: %w", addr, err)
	}

	id, err := body.u32()
	if err != nil {
		return nil, fmt.Errorf("CIE id at %s: %w", addr, err)
	}
	if id != 0 {
		return nil, fmt.Errorf("entry at %s has nonzero id 0x%x, not a CIE: %w", addr, id, ErrMalformedInstruction)
	}

	version, err := body.u8()
	if err != nil {
		return nil, fmt.Errorf("CIE version at %s: %w", addr, err)
	}
	if version != 1 {
		return nil, fmt.Errorf("CIE at %s has version %d, want 1: %w", addr, version, ErrUnsupported)
	}

	augStr, err := body.cString()
	if err != nil {
		return nil, fmt.Errorf("CIE augmentation string at %s: %w", addr, err)
	}

	caf, err := body.uleb128()
	if err != nil {
		return nil, fmt.Errorf("CIE code alignment factor at %s: %w", addr, err)
	}
	daf, err := body.sleb128()
	if err != nil {
		return nil, fmt.Errorf("CIE data alignment factor at %s: %w", addr, err)
	}
	raReg, err := body.uleb128()
	if err != nil {
		return nil, fmt.Errorf("CIE return address register at %s: %w", addr, err)
	}

	cie := &Cie{
		Offset:                addr,
		Augmentation:          augStr,
		CodeAlignmentFactor:   caf,
		DataAlignmentFactor:   daf,
		ReturnAddressRegister: raReg,
	}

	if len(augStr) > 0 && augStr[0] == 'z' {
		augLen, err := body.uleb128()
		if err != nil {
			return nil, fmt.Errorf("CIE augmentation length at %s: %w", addr, err)
		}
		augBytes, err := body.bytes(int(augLen))
		if err != nil {
			return nil, fmt.Errorf("CIE augmentation data at %s: %w", addr, err)
		}
		augCur := newCursor(augBytes, body.here().Add(int64(-len(augBytes))))

		for i := 1; i < len(augStr); i++ {
			switch augStr[i] {
			case 'L':
				enc, err := augCur.u8()
				if err != nil {
					return nil, fmt.Errorf("CIE 'L' LSDA encoding at %s: %w", addr, err)
				}
				cie.AugData.HasLsda = true
				cie.AugData.LsdaEncoding = Encoding(enc)
			case 'P':
				encByte, err := augCur.u8()
				if err != nil {
					return nil, fmt.Errorf("CIE 'P' personality encoding at %s: %w", addr, err)
				}
				personalityEnc := Encoding(encByte)
				addrVal, err := readEncodedPointer(augCur, personalityEnc, sec.ptrContext())
				if err != nil {
					return nil, fmt.Errorf("CIE 'P' personality pointer at %s: %w", addr, err)
				}
				cie.AugData.HasPersonality = true
				cie.AugData.Personality = addrVal
			case 'R':
				enc, err := augCur.u8()
				if err != nil {
					return nil, fmt.Errorf("CIE 'R' FDE pointer encoding at %s: %w", addr, err)
				}
				cie.AugData.HasFdeEncoding = true
				cie.AugData.FdePointerEncoding = Encoding(enc)
			case 'z':
				return nil, fmt.Errorf("CIE augmentation string at %s has 'z' after position 0: %w", addr, ErrMalformedInstruction)
			default:
				return nil, fmt.Errorf("CIE augmentation string at %s has unknown character %q: %w", addr, augStr[i], ErrMalformedInstruction)
			}
		}
	} else if len(augStr) > 0 {
		// Non-"z" augmentation strings carry no length-prefixed data we
		// know how to interpret, but their presence alone isn't an error.
	}

	cie.instrAddr = body.here()
	rest, err := body.bytes(body.remaining())
	if err != nil {
		return nil, fmt.Errorf("CIE initial instructions at %s: %w", addr, err)
	}
	cie.InitialInstructions = rest

	return cie, nil
}
