package uwuwind

import "fmt"

// Section is a read-only view over one loaded object's .eh_frame bytes,
// together with the base addresses its encoded pointers may be resolved
// against. It is a view, not an owned copy: the bytes belong to the
// loaded ELF image, which on Linux is never unmapped during the life of
// the process.
type Section struct {
	Data Address // absolute address of data[0]
	data []byte

	// TextBase and DataBase back textrel/datarel encodings seen while
	// parsing CIEs/FDEs in this section; nil when the object carries no
	// such base (most commonly because it has no .got/.got.plt).
	TextBase *Address
	DataBase *Address
}

// NewSection wraps eh_frame bytes mapped at base, read-only, for CIE/FDE
// parsing. textBase/dataBase may be nil.
func NewSection(base Address, ehFrame []byte, textBase, dataBase *Address) *Section {
	return &Section{Data: base, data: ehFrame, TextBase: textBase, DataBase: dataBase}
}

func (s *Section) cursorAt(addr Address) (*cursor, error) {
	off := addr.Sub(s.Data)
	if off < 0 || off > int64(len(s.data)) {
		return nil, fmt.Errorf("address %s outside section [%s, %s): %w",
			addr, s.Data, s.Data.Add(int64(len(s.data))), ErrNotFound)
	}
	return newCursor(s.data[off:], addr), nil
}

func (s *Section) ptrContext() pointerContext {
	return pointerContext{textBase: s.TextBase, dataBase: s.DataBase}
}
