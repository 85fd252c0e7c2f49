package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/witness"
)

// Key-accumulation gates: the per-branch nibble absorption with its
// alternating high/low weighting, the parity-flag chain across levels, and
// the snapshot used to resume past placeholders.

// absorbNibbleFold applies one nibble to a key accumulation state.
func absorbNibbleFold(v *View, acc, mult *fr.Element, sel *bool, n byte) {
	if *sel {
		addTerm(acc, uint64(n)*16, *mult)
	} else {
		addTerm(acc, uint64(n), *mult)
		r := v.Folder().R()
		mult.Mul(mult, &r)
	}
	*sel = !*sel
}

func (e *Engine) registerKeyGates() {
	// The stored parity flag must continue the chain from the level
	// above: the first branch of a trie consumes the high half of the
	// first key byte, and an extension segment flips the parity once per
	// nibble before the branch consumes its own.
	e.register("key/parity-chain", onKind(witness.KindInitBranch), func(v *View) error {
		row := v.Row(0)
		extN := blockExtNibbles(v, 0)
		selAt := row.IsBranchC16()
		selBefore := selAt != (extN%2 == 1)

		var wantBefore bool
		switch {
		case v.Boundary(0) || !v.InBounds(-1):
			wantBefore = true
		case v.Row(-1).Kind() == witness.KindAccountDrifted:
			// storage trie top: the slot key starts fresh
			wantBefore = true
		case v.Row(-1).Kind() == witness.KindExtensionC:
			prevInit := v.Row(-BranchRows)
			wantBefore = !prevInit.IsBranchC16()
		default:
			return fmt.Errorf("branch follows %s", v.Row(-1).Kind())
		}
		if selBefore != wantBefore {
			return fmt.Errorf("key parity flag breaks the chain: derived pre-branch half %v, want %v", selBefore, wantBefore)
		}
		return nil
	})

	// Recompute the running key RLC over the block: snapshot, extension
	// segment nibbles, then the branch's own nibble.
	e.register("key/branch-absorb", onKind(witness.KindInitBranch), func(v *View) error {
		if !v.InBounds(ExtCInd) {
			return fmt.Errorf("branch block truncated")
		}
		row := v.Row(0)
		c := v.Cells(0)

		// the stored snapshot must equal the state after the level above
		var prevAcc, prevMult fr.Element
		prevMult.SetOne()
		prevNibbles := 0
		if !v.Boundary(0) && v.InBounds(-1) && v.Row(-1).Kind() == witness.KindExtensionC {
			last := v.Cells(-1 - ExtCInd + LastChildInd)
			prevAcc, prevMult = last.KeyRLC, last.KeyMult
			prevNibbles = last.NibblesNum
		}
		if err := expectEq("key snapshot", c.KeyRLCPrev, prevAcc); err != nil {
			return err
		}
		if err := expectEq("key snapshot multiplier", c.KeyMultPrev, prevMult); err != nil {
			return err
		}

		extN := blockExtNibbles(v, 0)
		sel := row.IsBranchC16() != (extN%2 == 1)
		acc, mult := prevAcc, prevMult
		if row.IsExtension() {
			for _, n := range extNibbles(v.Row(ExtSInd)) {
				absorbNibbleFold(v, &acc, &mult, &sel, n)
			}
			// extension-segment snapshot carried on the extension rows
			ec := v.Cells(ExtSInd)
			if err := expectEq("extension key segment", ec.KeyRLC, acc); err != nil {
				return err
			}
			if err := expectEq("extension key segment multiplier", ec.KeyMult, mult); err != nil {
				return err
			}
		}
		absorbNibbleFold(v, &acc, &mult, &sel, row.ModifiedNode())

		if err := expectEq("key accumulation", c.KeyRLC, acc); err != nil {
			return err
		}
		if err := expectEq("key accumulation multiplier", c.KeyMult, mult); err != nil {
			return err
		}
		if c.NibblesNum != prevNibbles+extN+1 {
			return fmt.Errorf("nibble count: got %d, want %d", c.NibblesNum, prevNibbles+extN+1)
		}
		return nil
	})

	// The key state is block-level: every row of the block carries the
	// same accumulation result.
	e.register("key/block-constant", onKind(witness.KindBranchChild), func(v *View) error {
		c := v.Cells(0)
		p := v.Cells(-1)
		if p == nil {
			return fmt.Errorf("branch child without a preceding row")
		}
		if err := expectEq("key accumulation", c.KeyRLC, p.KeyRLC); err != nil {
			return err
		}
		if err := expectEq("key accumulation multiplier", c.KeyMult, p.KeyMult); err != nil {
			return err
		}
		if c.NibblesNum != p.NibblesNum {
			return fmt.Errorf("nibble count changes inside a branch block")
		}
		return nil
	})
}
