package uwuwind

import "fmt"

// interpState is the table-builder's working state while walking a
// CIE+FDE instruction stream.
type interpState struct {
	location Address
	cfa      CfaRule
	rules    *ruleSet
	stack    *ruleStateStack

	caf uint64
	daf int64

	// initialRules is nil while executing CIE initial_instructions (there
	// is nothing to restore to yet) and set to the post-initial-
	// instructions snapshot before FDE instructions run.
	initialRules *ruleSet
}

// unwindRowForFDE executes the CIE's initial_instructions to seed state,
// then the FDE's instructions up to (but not including) the first
// row-creating instruction that would advance location past target,
// returning the row in effect at target. target must already be known
// to fall within fde's [pc_begin, pc_begin+pc_range); callers (unwind.go)
// check that via Fde.Contains before calling this.
func unwindRowForFDE(cie *Cie, fde *Fde, target Address, maxStackDepth int) (*UnwindRow, error) {
	st := &interpState{
		location: fde.PcBegin,
		cfa:      CfaRule{Kind: CfaRuleUndefined},
		rules:    &ruleSet{},
		stack:    newRuleStateStack(maxStackDepth),
		caf:      cie.CodeAlignmentFactor,
		daf:      cie.DataAlignmentFactor,
	}

	rEnc := cie.fdePointerEncoding()

	initDec := newInstructionDecoder(newCursor(cie.InitialInstructions, cie.instrAddr), rEnc, pointerContext{})
	if err := st.run(initDec, target); err != nil {
		return nil, fmt.Errorf("executing CIE initial instructions: %w", err)
	}

	// initial_rules is the snapshot taken right here, after
	// initial_instructions finish and before any FDE instruction runs.
	st.initialRules = st.rules.clone()

	fdeDec := newInstructionDecoder(newCursor(fde.Instructions, fde.instrAddr), rEnc, pointerContext{})
	if err := st.run(fdeDec, target); err != nil {
		return nil, fmt.Errorf("executing FDE instructions: %w", err)
	}

	return &UnwindRow{Location: st.location, CfaRule: st.cfa, rules: st.rules}, nil
}

// run executes dec's instructions against st, stopping before any
// row-creating instruction (advance_loc*, set_loc) that would advance
// location past target. When dec holds the CIE's own
// initial_instructions, target is never actually reached by real-world
// CIEs (they only ever advance location via the FDE), but the same
// stopping rule is applied uniformly rather than special-cased.
func (st *interpState) run(dec *instructionDecoder, target Address) error {
	for !dec.done() {
		instr, err := dec.next()
		if err != nil {
			return err
		}

		switch instr.op {
		case opAdvanceLoc:
			newLoc := st.location.Add(int64(instr.rawDelta) * int64(st.caf))
			if newLoc.Sub(target) > 0 {
				return nil
			}
			st.location = newLoc
			continue

		case opSetLoc:
			if instr.addr <= st.location {
				return fmt.Errorf("set_loc to %s does not strictly increase current location %s: %w", instr.addr, st.location, ErrMalformedInstruction)
			}
			if instr.addr.Sub(target) > 0 {
				return nil
			}
			st.location = instr.addr
			continue
		}

		if err := st.apply(instr); err != nil {
			return err
		}
	}
	return nil
}

// apply executes one non-location instruction against st.
func (st *interpState) apply(instr cfiInstruction) error {
	switch instr.op {
	case opNop, opVendor:
		return nil

	case opDefCfa:
		st.cfa = CfaRule{Kind: CfaRuleRegisterOffset, Reg: instr.reg, Offset: instr.offset}
		return nil

	case opDefCfaSf:
		st.cfa = CfaRule{Kind: CfaRuleRegisterOffset, Reg: instr.reg, Offset: instr.offset * st.daf}
		return nil

	case opDefCfaRegister:
		if st.cfa.Kind != CfaRuleRegisterOffset {
			return fmt.Errorf("def_cfa_register with no prior register+offset CFA rule: %w", ErrMalformedInstruction)
		}
		st.cfa.Reg = instr.reg
		return nil

	case opDefCfaOffset:
		if st.cfa.Kind != CfaRuleRegisterOffset {
			return fmt.Errorf("def_cfa_offset with no prior register+offset CFA rule: %w", ErrMalformedInstruction)
		}
		st.cfa.Offset = instr.offset
		return nil

	case opDefCfaOffsetSf:
		if st.cfa.Kind != CfaRuleRegisterOffset {
			return fmt.Errorf("def_cfa_offset_sf with no prior register+offset CFA rule: %w", ErrMalformedInstruction)
		}
		st.cfa.Offset = instr.offset * st.daf
		return nil

	case opDefCfaExpression:
		st.cfa = CfaRule{Kind: CfaRuleExpression, Expr: instr.bytes}
		return nil

	case opUndefined:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleUndefined})
		return nil

	case opSameValue:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleSameValue})
		return nil

	case opOffset:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleOffset, Offset: instr.offset * st.daf})
		return nil

	case opOffsetExtendedSf:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleOffset, Offset: instr.offset * st.daf})
		return nil

	case opValOffset:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleValOffset, Offset: instr.offset * st.daf})
		return nil

	case opValOffsetSf:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleValOffset, Offset: instr.offset * st.daf})
		return nil

	case opRegister:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleRegister, Reg: instr.reg2})
		return nil

	case opExpression:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleExpression, Expr: instr.bytes})
		return nil

	case opValExpression:
		st.rules.set(instr.reg, RegisterRule{Kind: RuleValExpression, Expr: instr.bytes})
		return nil

	case opRestore:
		if st.initialRules == nil {
			// restore inside the CIE's own initial_instructions has no
			// prior snapshot to fall back to; treat as undefined.
			st.rules.set(instr.reg, RegisterRule{Kind: RuleUndefined})
			return nil
		}
		if r, ok := st.initialRules.get(instr.reg); ok {
			st.rules.set(instr.reg, r)
		} else {
			st.rules.set(instr.reg, RegisterRule{Kind: RuleUndefined})
		}
		return nil

	case opRememberState:
		return st.stack.push(st.rules.clone())

	case opRestoreState:
		popped, err := st.stack.pop()
		if err != nil {
			return err
		}
		st.rules = popped
		return nil

	default:
		return fmt.Errorf("unhandled instruction op %d: %w", instr.op, ErrMalformedInstruction)
	}
}
