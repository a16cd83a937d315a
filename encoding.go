package uwuwind

import "fmt"

// Encoding is a DWARF exception-header pointer encoding byte: the low
// nibble names the value's format, the high nibble names how it is
// applied to reach an absolute address. 0xFF ("omit") means the field
// this encoding describes is absent.
type Encoding byte

const ehPEOmit Encoding = 0xFF

// Format half (low nibble).
const (
	ehPEAbsPtr  Encoding = 0x00
	ehPEULEB128 Encoding = 0x01
	ehPEUData2  Encoding = 0x02
	ehPEUData4  Encoding = 0x03
	ehPEUData8  Encoding = 0x04
	ehPESLEB128 Encoding = 0x09
	ehPESData2  Encoding = 0x0A
	ehPESData4  Encoding = 0x0B
	ehPESData8  Encoding = 0x0C
)

// Application half (high nibble).
const (
	ehPEAbsolute Encoding = 0x00
	ehPEPCRel    Encoding = 0x10
	ehPETextRel  Encoding = 0x20
	ehPEDataRel  Encoding = 0x30
	ehPEFuncRel  Encoding = 0x40
	ehPEAligned  Encoding = 0x50
)

func (e Encoding) format() Encoding      { return e & 0x0F }
func (e Encoding) application() Encoding { return e & 0xF0 }

func (e Encoding) isOmit() bool { return e == ehPEOmit }

func (e Encoding) String() string {
	if e.isOmit() {
		return "omit"
	}
	return fmt.Sprintf("0x%02x", byte(e))
}

// pointerContext supplies the base addresses an encoded pointer's
// application half may need. textBase and dataBase are nil when the
// caller has none to offer; funcrel encodings are vanishingly rare in
// practice (no FDE-level function base is tracked here) and are treated
// as requiring a base the locator never supplies.
type pointerContext struct {
	textBase *Address
	dataBase *Address
	funcBase *Address
}

// readEncodedPointer decodes a value under enc from c and resolves it to
// an absolute address using ctx. enc must not be the omit sentinel;
// callers that allow an absent field must check isOmit first.
func readEncodedPointer(c *cursor, enc Encoding, ctx pointerContext) (Address, error) {
	if enc.isOmit() {
		return 0, fmt.Errorf("encoded pointer requires a value but encoding is omit: %w", ErrMalformedEncoding)
	}

	if enc.application() == ehPEAligned {
		ptrSize := 8
		if err := c.alignTo(ptrSize); err != nil {
			return 0, fmt.Errorf("aligning encoded pointer: %w", err)
		}
	}

	fieldAddr := c.here()

	raw, err := readRawByFormat(c, enc.format())
	if err != nil {
		return 0, fmt.Errorf("reading encoded pointer raw value: %w", err)
	}

	switch enc.application() {
	case ehPEAbsolute:
		return Address(raw), nil
	case ehPEPCRel:
		return fieldAddr.Add(int64(raw)), nil
	case ehPETextRel:
		if ctx.textBase == nil {
			return 0, fmt.Errorf("textrel pointer with no text base: %w", ErrEncodingContext)
		}
		return ctx.textBase.Add(int64(raw)), nil
	case ehPEDataRel:
		if ctx.dataBase == nil {
			return 0, fmt.Errorf("datarel pointer with no data base: %w", ErrEncodingContext)
		}
		return ctx.dataBase.Add(int64(raw)), nil
	case ehPEFuncRel:
		if ctx.funcBase == nil {
			return 0, fmt.Errorf("funcrel pointer with no function base: %w", ErrEncodingContext)
		}
		return ctx.funcBase.Add(int64(raw)), nil
	case ehPEAligned:
		// aligned has no application offset of its own; treat as absolute
		// once the read has been aligned, matching libgcc's unwind-pe.h.
		return Address(raw), nil
	default:
		return 0, fmt.Errorf("application nibble 0x%x: %w", byte(enc.application()), ErrMalformedEncoding)
	}
}

// readRawByFormat reads the raw bit pattern named by the format half of
// an encoding, sign-extending signed fixed-width forms to 64 bits and
// routing LEB128 forms through the shared decoders. format 0x00
// (DW_EH_PE_absptr) is accepted as a fixed 8-byte absolute value: it is
// the single most common encoding in real .eh_frame data, used by every
// CIE/FDE pointer field GCC emits without -fPIC.
func readRawByFormat(c *cursor, format Encoding) (uint64, error) {
	switch format {
	case ehPEAbsPtr, ehPEUData8:
		return c.u64()
	case ehPEULEB128:
		return c.uleb128()
	case ehPEUData2:
		v, err := c.u16()
		return uint64(v), err
	case ehPEUData4:
		v, err := c.u32()
		return uint64(v), err
	case ehPESLEB128:
		v, err := c.sleb128()
		return uint64(v), err
	case ehPESData2:
		v, err := c.u16()
		if err != nil {
			return 0, err
		}
		return uint64(int64(int16(v))), nil
	case ehPESData4:
		v, err := c.u32()
		if err != nil {
			return 0, err
		}
		return uint64(int64(int32(v))), nil
	case ehPESData8:
		return c.u64()
	default:
		return 0, fmt.Errorf("format nibble 0x%x: %w", byte(format), ErrMalformedEncoding)
	}
}

// fixedSize reports the byte width of a fixed-width format, or ok=false
// for the LEB128 formats whose size isn't known without decoding. Used
// by header.go, which requires table_enc to be fixed-width so binary
// search can compute entry offsets without a linear scan.
func (e Encoding) fixedSize() (int, bool) {
	switch e.format() {
	case ehPEAbsPtr, ehPEUData8, ehPESData8:
		return 8, true
	case ehPEUData4, ehPESData4:
		return 4, true
	case ehPEUData2, ehPESData2:
		return 2, true
	default:
		return 0, false
	}
}
