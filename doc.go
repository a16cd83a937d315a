// Package uwuwind implements the DWARF Call Frame Information layer of a
// stack unwinder for x86-64 ELF binaries on Linux.
//
// Given an instruction pointer, the package locates the owning loaded
// object's .eh_frame_hdr, binary-searches it for the covering Frame
// Description Entry, parses that FDE and its Common Information Entry, and
// interprets the CFI instruction streams to produce the Canonical Frame
// Address and per-register unwinding rules in effect at that instruction.
//
// It does not raise exceptions, dispatch a personality routine, or capture
// register contexts; those live above this package, in the exception
// runtime that calls it.
package uwuwind
