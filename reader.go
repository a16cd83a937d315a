package uwuwind

import (
	"encoding/binary"
	"fmt"
)

// cursor is a bounded reader over a byte slice that belongs to someone
// else — the loaded ELF image's .eh_frame or .eh_frame_hdr section. It
// never copies the slice, only narrows the window it reads from, and it
// carries the absolute address of byte 0 of that window so pc-relative
// encodings can be resolved without a separate base parameter at every
// call site.
type cursor struct {
	buf  []byte
	pos  int
	base Address // absolute address corresponding to buf[0]
}

func newCursor(buf []byte, base Address) *cursor {
	return &cursor{buf: buf, base: base}
}

// here returns the absolute address of the next unread byte.
func (c *cursor) here() Address {
	return c.base.Add(int64(c.pos))
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) eof() bool {
	return c.pos >= len(c.buf)
}

func (c *cursor) require(n int) error {
	if n < 0 || c.pos+n > len(c.buf) {
		return fmt.Errorf("need %d bytes at offset %d of %d: %w", n, c.pos, len(c.buf), ErrEOF)
	}
	return nil
}

func (c *cursor) u8() (byte, error) {
	if err := c.require(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if err := c.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

// bytes returns a sub-slice of length n starting at the cursor and
// advances past it. The returned slice aliases the cursor's buffer.
func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.require(n); err != nil {
		return nil, err
	}
	v := c.buf[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

// cString reads a NUL-terminated byte run and advances past the NUL.
func (c *cursor) cString() (string, error) {
	start := c.pos
	for {
		if c.pos >= len(c.buf) {
			return "", fmt.Errorf("unterminated string starting at offset %d: %w", start, ErrEOF)
		}
		if c.buf[c.pos] == 0 {
			s := string(c.buf[start:c.pos])
			c.pos++
			return s, nil
		}
		c.pos++
	}
}

func (c *cursor) uleb128() (uint64, error) {
	v, n, err := decodeULEB128(c.buf[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

func (c *cursor) sleb128() (int64, error) {
	v, n, err := decodeSLEB128(c.buf[c.pos:])
	if err != nil {
		return 0, err
	}
	c.pos += n
	return v, nil
}

// alignTo rounds the cursor's position up to the next multiple of n,
// relative to the start of buf. Used by DW_EH_PE_aligned.
func (c *cursor) alignTo(n int) error {
	rem := c.pos % n
	if rem == 0 {
		return nil
	}
	pad := n - rem
	if err := c.require(pad); err != nil {
		return err
	}
	c.pos += pad
	return nil
}

// sub returns a new cursor scoped to the next n bytes, independent of the
// parent's subsequent reads. Used to bound a sub-entry (a CIE/FDE body,
// an instruction stream) by its own length field, so a malformed length
// can't let a read walk off the end of someone else's memory.
func (c *cursor) sub(n int) (*cursor, error) {
	start := c.here()
	b, err := c.bytes(n)
	if err != nil {
		return nil, err
	}
	return newCursor(b, start), nil
}
