package uwuwind

import "fmt"

// cfiOp names a decoded CFA opcode, independent of its primary/extended
// encoding in the byte stream.
type cfiOp int

const (
	opNop cfiOp = iota
	opSetLoc
	opAdvanceLoc
	opDefCfa
	opDefCfaRegister
	opDefCfaOffset
	opDefCfaOffsetSf
	opDefCfaSf
	opDefCfaExpression
	opUndefined
	opSameValue
	opOffset
	opOffsetExtendedSf
	opRegister
	opRememberState
	opRestoreState
	opRestore
	opValOffset
	opValOffsetSf
	opExpression
	opValExpression
	opVendor
)

// cfiInstruction is one decoded CFA opcode and its operands. Not every
// field is populated for every op; see instruction.go's decode switch and
// interpreter.go's execute switch for which fields apply to which op.
type cfiInstruction struct {
	op       cfiOp
	reg      uint64
	reg2     uint64
	offset   int64 // as read; interpreter multiplies by DAF except for def_cfa/def_cfa_offset
	addr     Address
	bytes    []byte
	rawDelta uint64 // advance_loc's already-factor-independent delta units
	vendor   byte
}

// instructionDecoder yields cfiInstructions from a byte slice scoped to
// one CIE's initial_instructions or one FDE's instruction stream. It
// never reads beyond the slice it was built from — the slice is already
// the entry's own bounded sub-cursor, so malformed length fields can't
// make it walk off the end of someone else's memory.
type instructionDecoder struct {
	c      *cursor
	rEnc   Encoding // CIE's R-augmentation pointer encoding, for set_loc
	ptrCtx pointerContext
}

func newInstructionDecoder(c *cursor, rEnc Encoding, ptrCtx pointerContext) *instructionDecoder {
	return &instructionDecoder{c: c, rEnc: rEnc, ptrCtx: ptrCtx}
}

func (d *instructionDecoder) done() bool {
	return d.c.eof()
}

// next decodes one instruction. Callers must check done() first.
func (d *instructionDecoder) next() (cfiInstruction, error) {
	opByte, err := d.c.u8()
	if err != nil {
		return cfiInstruction{}, fmt.Errorf("reading opcode byte: %w", err)
	}

	primary := opByte >> 6
	low6 := uint64(opByte & 0x3f)

	switch primary {
	case 0x01:
		return cfiInstruction{op: opAdvanceLoc, rawDelta: low6}, nil
	case 0x02:
		foff, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("offset(%d) factored offset: %w", low6, err)
		}
		return cfiInstruction{op: opOffset, reg: low6, offset: int64(foff)}, nil
	case 0x03:
		return cfiInstruction{op: opRestore, reg: low6}, nil
	}

	// primary == 0x00: extended opcode, whole byte significant.
	switch opByte {
	case 0x00:
		return cfiInstruction{op: opNop}, nil
	case 0x01:
		if d.rEnc.isOmit() {
			return cfiInstruction{}, fmt.Errorf("set_loc with omit pointer encoding: %w", ErrMalformedEncoding)
		}
		addr, err := readEncodedPointer(d.c, d.rEnc, d.ptrCtx)
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("set_loc address: %w", err)
		}
		return cfiInstruction{op: opSetLoc, addr: addr}, nil
	case 0x02:
		v, err := d.c.u8()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("advance_loc1: %w", err)
		}
		return cfiInstruction{op: opAdvanceLoc, rawDelta: uint64(v)}, nil
	case 0x03:
		v, err := d.c.u16()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("advance_loc2: %w", err)
		}
		return cfiInstruction{op: opAdvanceLoc, rawDelta: uint64(v)}, nil
	case 0x04:
		v, err := d.c.u32()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("advance_loc4: %w", err)
		}
		return cfiInstruction{op: opAdvanceLoc, rawDelta: uint64(v)}, nil
	case 0x05:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("offset_extended reg: %w", err)
		}
		foff, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("offset_extended factored offset: %w", err)
		}
		return cfiInstruction{op: opOffset, reg: reg, offset: int64(foff)}, nil
	case 0x06:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("restore_extended reg: %w", err)
		}
		return cfiInstruction{op: opRestore, reg: reg}, nil
	case 0x07:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("undefined reg: %w", err)
		}
		return cfiInstruction{op: opUndefined, reg: reg}, nil
	case 0x08:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("same_value reg: %w", err)
		}
		return cfiInstruction{op: opSameValue, reg: reg}, nil
	case 0x09:
		target, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("register target: %w", err)
		}
		src, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("register source: %w", err)
		}
		return cfiInstruction{op: opRegister, reg: target, reg2: src}, nil
	case 0x0A:
		return cfiInstruction{op: opRememberState}, nil
	case 0x0B:
		return cfiInstruction{op: opRestoreState}, nil
	case 0x0C:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa reg: %w", err)
		}
		off, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa offset: %w", err)
		}
		return cfiInstruction{op: opDefCfa, reg: reg, offset: int64(off)}, nil
	case 0x0D:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_register reg: %w", err)
		}
		return cfiInstruction{op: opDefCfaRegister, reg: reg}, nil
	case 0x0E:
		off, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_offset: %w", err)
		}
		return cfiInstruction{op: opDefCfaOffset, offset: int64(off)}, nil
	case 0x0F:
		n, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_expression length: %w", err)
		}
		b, err := d.c.bytes(int(n))
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_expression bytes: %w", err)
		}
		return cfiInstruction{op: opDefCfaExpression, bytes: b}, nil
	case 0x10:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("expression reg: %w", err)
		}
		n, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("expression length: %w", err)
		}
		b, err := d.c.bytes(int(n))
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("expression bytes: %w", err)
		}
		return cfiInstruction{op: opExpression, reg: reg, bytes: b}, nil
	case 0x11:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("offset_extended_sf reg: %w", err)
		}
		soff, err := d.c.sleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("offset_extended_sf offset: %w", err)
		}
		return cfiInstruction{op: opOffsetExtendedSf, reg: reg, offset: soff}, nil
	case 0x12:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_sf reg: %w", err)
		}
		soff, err := d.c.sleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_sf offset: %w", err)
		}
		return cfiInstruction{op: opDefCfaSf, reg: reg, offset: soff}, nil
	case 0x13:
		soff, err := d.c.sleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("def_cfa_offset_sf: %w", err)
		}
		return cfiInstruction{op: opDefCfaOffsetSf, offset: soff}, nil
	case 0x14:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_offset reg: %w", err)
		}
		foff, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_offset factored offset: %w", err)
		}
		return cfiInstruction{op: opValOffset, reg: reg, offset: int64(foff)}, nil
	case 0x15:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_offset_sf reg: %w", err)
		}
		soff, err := d.c.sleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_offset_sf offset: %w", err)
		}
		return cfiInstruction{op: opValOffsetSf, reg: reg, offset: soff}, nil
	case 0x16:
		reg, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_expression reg: %w", err)
		}
		n, err := d.c.uleb128()
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_expression length: %w", err)
		}
		b, err := d.c.bytes(int(n))
		if err != nil {
			return cfiInstruction{}, fmt.Errorf("val_expression bytes: %w", err)
		}
		return cfiInstruction{op: opValExpression, reg: reg, bytes: b}, nil
	}

	if opByte >= 0x1C && opByte <= 0x3F {
		return cfiInstruction{op: opVendor, vendor: opByte}, nil
	}

	return cfiInstruction{}, fmt.Errorf("opcode 0x%02x: %w", opByte, ErrMalformedInstruction)
}
