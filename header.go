package uwuwind

import (
	"debug/elf"
	"fmt"
)

// EhFrameHeader is a parsed view over an .eh_frame_hdr section: the
// fixed 4-byte prefix plus the resolved eh_frame_ptr/fde_count and a
// handle back to the raw table bytes for binary search.
type EhFrameHeader struct {
	base          Address
	raw           []byte
	EhFramePtrEnc Encoding
	FdeCountEnc   Encoding
	TableEnc      Encoding
	EhFramePtr    Address
	FdeCount      uint64

	tableOffset int // byte offset within raw where the table starts
	entrySize   int // size of one (initial_location, fde_address) pair
}

// ParseEhFrameHeader parses the fixed prefix and the two scalar fields
// of an .eh_frame_hdr mapped at base. It does not read the table entries
// themselves; lookupFDE reads them lazily during binary search.
func ParseEhFrameHeader(base Address, raw []byte) (*EhFrameHeader, error) {
	c := newCursor(raw, base)

	version, err := c.u8()
	if err != nil {
		return nil, fmt.Errorf("eh_frame_hdr version: %w", err)
	}
	if version != 1 {
		return nil, fmt.Errorf("eh_frame_hdr version %d, want 1: %w", version, ErrUnsupported)
	}

	ehFramePtrEncByte, err := c.u8()
	if err != nil {
		return nil, fmt.Errorf("eh_frame_hdr eh_frame_ptr_enc: %w", err)
	}
	fdeCountEncByte, err := c.u8()
	if err != nil {
		return nil, fmt.Errorf("eh_frame_hdr fde_count_enc: %w", err)
	}
	tableEncByte, err := c.u8()
	if err != nil {
		return nil, fmt.Errorf("eh_frame_hdr table_enc: %w", err)
	}

	h := &EhFrameHeader{
		base:          base,
		raw:           raw,
		EhFramePtrEnc: Encoding(ehFramePtrEncByte),
		FdeCountEnc:   Encoding(fdeCountEncByte),
		TableEnc:      Encoding(tableEncByte),
	}

	dataBase := base
	ptrCtx := pointerContext{dataBase: &dataBase}

	if h.EhFramePtrEnc.isOmit() {
		return nil, fmt.Errorf("eh_frame_hdr has no eh_frame_ptr: %w", ErrMalformedEncoding)
	}
	ehFramePtr, err := readEncodedPointer(c, h.EhFramePtrEnc, ptrCtx)
	if err != nil {
		return nil, fmt.Errorf("eh_frame_hdr eh_frame_ptr: %w", err)
	}
	h.EhFramePtr = ehFramePtr

	if h.FdeCountEnc.isOmit() {
		return nil, fmt.Errorf("eh_frame_hdr has no fde_count: %w", ErrMalformedEncoding)
	}
	fdeCount, err := readRawByFormat(c, h.FdeCountEnc.format())
	if err != nil {
		return nil, fmt.Errorf("eh_frame_hdr fde_count: %w", err)
	}
	h.FdeCount = fdeCount

	// table_enc must name a fixed-width format: the binary search below
	// must be able to index entry i without scanning entries 0..i-1, so
	// a LEB128 table_enc (size unknown without decoding) is rejected.
	// Both table columns (initial_location, fde_address) share this one
	// encoding; nothing in .eh_frame_hdr's layout names a second one.
	entryHalfSize, ok := h.TableEnc.fixedSize()
	if !ok {
		return nil, fmt.Errorf("eh_frame_hdr table_enc 0x%02x is not fixed-width: %w", byte(h.TableEnc), ErrUnsupported)
	}
	h.entrySize = entryHalfSize * 2
	h.tableOffset = c.pos

	return h, nil
}

// tableEntry is one decoded row of the binary-search table.
type tableEntry struct {
	initialLocation Address
	fdeAddress      Address
}

// readTableEntry decodes the i'th table row. Each call builds a fresh
// cursor positioned at the entry's true absolute address so that
// pc-relative table encodings (rare in practice, but not excluded by the
// format) decode correctly, not just the common datarel/absolute case.
func (h *EhFrameHeader) readTableEntry(i int) (tableEntry, error) {
	off := h.tableOffset + i*h.entrySize
	if off < 0 || off+h.entrySize > len(h.raw) {
		return tableEntry{}, fmt.Errorf("table entry %d out of bounds: %w", i, ErrEOF)
	}
	entryAddr := h.base.Add(int64(off))
	c := newCursor(h.raw[off:off+h.entrySize], entryAddr)

	dataBase := h.base
	ptrCtx := pointerContext{dataBase: &dataBase}

	loc, err := readEncodedPointer(c, h.TableEnc, ptrCtx)
	if err != nil {
		return tableEntry{}, fmt.Errorf("table entry %d initial_location: %w", i, err)
	}
	fdeAddr, err := readEncodedPointer(c, h.TableEnc, ptrCtx)
	if err != nil {
		return tableEntry{}, fmt.Errorf("table entry %d fde_address: %w", i, err)
	}
	return tableEntry{initialLocation: loc, fdeAddress: fdeAddr}, nil
}

// lookupFDE binary-searches the table for the entry whose interval
// should contain target: when target equals an initial_location exactly,
// that entry wins the tie. It returns the candidate fde_address; the
// caller still must parse that FDE and verify target actually falls in
// its [pc_begin, pc_begin+pc_range).
func (h *EhFrameHeader) lookupFDE(target Address) (Address, error) {
	if h.FdeCount == 0 {
		return 0, ErrNotFound
	}

	lo, hi := uint64(0), h.FdeCount
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		entry, err := h.readTableEntry(int(mid))
		if err != nil {
			return 0, fmt.Errorf("binary search at index %d: %w", mid, err)
		}
		if target < entry.initialLocation {
			hi = mid
		} else {
			lo = mid
		}
	}

	entry, err := h.readTableEntry(int(lo))
	if err != nil {
		return 0, fmt.Errorf("binary search candidate at index %d: %w", lo, err)
	}
	return entry.fdeAddress, nil
}

// CheckTableSorted verifies the binary-search table's own invariant:
// entries strictly increase by initial_location. The lookup path assumes
// this rather than paying an O(n) scan per query; tooling that inspects
// a header wholesale (cmd/ehframedump's dump subcommand) runs the check
// once up front so a violation is reported as the malformed input it is
// instead of as a baffling wrong-FDE answer later.
func (h *EhFrameHeader) CheckTableSorted() error {
	var prev Address
	for i := uint64(0); i < h.FdeCount; i++ {
		entry, err := h.readTableEntry(int(i))
		if err != nil {
			return err
		}
		if i > 0 && entry.initialLocation <= prev {
			return fmt.Errorf("table entry %d initial_location %s does not increase over %s: %w",
				i, entry.initialLocation, prev, ErrMalformedEncoding)
		}
		prev = entry.initialLocation
	}
	return nil
}

// DumpTableEntry exposes the i'th binary-search table row for
// cmd/ehframedump's "dump" subcommand; not used by the lookup path
// itself, which only ever needs readTableEntry.
func (h *EhFrameHeader) DumpTableEntry(i int) (Address, Address, error) {
	entry, err := h.readTableEntry(i)
	if err != nil {
		return 0, 0, err
	}
	return entry.initialLocation, entry.fdeAddress, nil
}

// ParseEhFrameHeaderFile opens the ELF file at path and parses its
// .eh_frame_hdr at its link-time address (load bias 0; this reads a
// file on disk, not a live mapping, so there is no runtime bias to
// apply). Returns the parsed header and its declared FDE count. This is
// the standalone-file counterpart to ProcMapsLocator, which does the
// same parse against a live process's mappings.
func ParseEhFrameHeaderFile(path string) (*EhFrameHeader, int, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sec := f.Section(".eh_frame_hdr")
	if sec == nil {
		return nil, 0, fmt.Errorf("%s has no .eh_frame_hdr section: %w", path, ErrNotFound)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, 0, fmt.Errorf("reading .eh_frame_hdr of %s: %w", path, err)
	}

	header, err := ParseEhFrameHeader(Address(sec.Addr), data)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing .eh_frame_hdr of %s: %w", path, err)
	}
	return header, int(header.FdeCount), nil
}
