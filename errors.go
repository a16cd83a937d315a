package uwuwind

import "errors"

// Sentinel errors at the package boundary, per the three error families
// this package distinguishes: a lookup miss (ErrNotFound) is a normal,
// non-fatal outcome a caller can use to try a fallback unwind strategy;
// the rest indicate the input DWARF is corrupt, uses an unsupported form,
// or drove the rule-state stack below zero.
//
// Callers should use errors.Is against these, since every parse function
// wraps one of them with positional context via fmt.Errorf's %w verb.
var (
	// ErrNotFound means the target address isn't covered by any located
	// object's unwind tables, or by any FDE within one. Not fatal.
	ErrNotFound = errors.New("uwuwind: address not covered by any known unwind table")

	// ErrEOF means a read ran past the end of the buffer it was scoped to.
	ErrEOF = errors.New("uwuwind: read past end of buffer")

	// ErrUnsupported means the input uses a form this package deliberately
	// doesn't implement: DWARF64 length fields, .debug_frame, a DWARF
	// version other than the one CIEs are parsed against, and so on.
	ErrUnsupported = errors.New("uwuwind: unsupported DWARF form")

	// ErrMalformedEncoding means an exception-header encoding byte, or a
	// value read under it, didn't make sense (omitted sentinel where a
	// value was required, a format this package can't decode).
	ErrMalformedEncoding = errors.New("uwuwind: malformed encoded pointer")

	// ErrMalformedInstruction means a CIE/FDE byte stream (augmentation
	// data, the CFI opcode stream) didn't parse: an unknown opcode, a
	// length mismatch, a precondition violation (def_cfa_register before
	// any def_cfa), or a stack depth bound exceeded.
	ErrMalformedInstruction = errors.New("uwuwind: malformed CFI instruction stream")

	// ErrRuleStackUnderflow means DW_CFA_restore_state was executed with no
	// matching prior DW_CFA_remember_state in the same interpretation.
	ErrRuleStackUnderflow = errors.New("uwuwind: restore_state with no matching remember_state")

	// ErrEncodingContext means an encoded pointer's application half
	// (text-relative, data-relative, function-relative) needed a base
	// address the caller didn't supply.
	ErrEncodingContext = errors.New("uwuwind: encoded pointer requires a base address that was not supplied")
)
