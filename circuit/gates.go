package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/rlc"
	"github.com/consensys/zkmpt/witness"
)

// Shared gate plumbing: kind selectors and the cross-row resolution
// helpers the per-component gate files build on.

func onKind(k witness.Kind) func(*View) bool {
	return func(v *View) bool { return v.Row(0).Kind() == k }
}

func onKinds(ks ...witness.Kind) func(*View) bool {
	return func(v *View) bool {
		k := v.Row(0).Kind()
		for _, want := range ks {
			if k == want {
				return true
			}
		}
		return false
	}
}

// branchFullFold returns the complete node fold of the branch block whose
// init row sits at the given rotation: the last child accumulator plus the
// trailing empty value item every branch encoding carries.
func branchFullFold(v *View, initRot int, s bool) fr.Element {
	c := v.Cells(initRot + LastChildInd)
	acc, mult := c.AccS, c.AccMultS
	if !s {
		acc, mult = c.AccC, c.AccMultC
	}
	addTerm(&acc, uint64(witness.NilChildMarker), mult)
	return acc
}

// sidePlaceholder reads the placeholder flag of a branch init row for the
// given side.
func sidePlaceholder(init *witness.Row, s bool) bool {
	if s {
		return init.IsBranchSPlaceholder()
	}
	return init.IsBranchCPlaceholder()
}

// blockExtNibbles counts the extension-segment nibbles of the branch block
// whose init row sits at the given rotation.
func blockExtNibbles(v *View, initRot int) int {
	if !v.Row(initRot).IsExtension() {
		return 0
	}
	return len(extNibbles(v.Row(initRot + ExtSInd)))
}

// parentDigest resolves the digest fold the node whose block starts at
// rotation startRot must hash to on side s: the proof root at the trie
// top, the account's storage root at the account/storage transition, or
// the parent branch's modified-child digest. Placeholder branches are
// transparent: a node under one hashes into the placeholder's own parent.
func parentDigest(v *View, startRot int, s bool) (fr.Element, bool) {
	if v.Boundary(startRot) || !v.InBounds(startRot-1) {
		c := v.Cells(startRot)
		if s {
			return c.RootS, true
		}
		return c.RootC, true
	}
	above := v.Row(startRot - 1)
	switch above.Kind() {
	case witness.KindAccountDrifted:
		// first storage level: the enclosing account's storage root
		rot := startRot - 1 - AccountDriftedInd + AccountStorageSInd
		if !s {
			rot = startRot - 1 - AccountDriftedInd + AccountStorageCInd
		}
		return v.Cells(rot).SModRLC, true
	case witness.KindExtensionC:
		init := startRot - 1 - ExtCInd
		if sidePlaceholder(v.Row(init), s) {
			return parentDigest(v, init, s)
		}
		c := v.Cells(startRot - 1)
		if s {
			return c.SModRLC, true
		}
		return c.CModRLC, true
	}
	return fr.Element{}, false
}

// placeholderAbove reports whether the branch block directly above the
// leaf block starting at startRot carries a placeholder on side s.
func placeholderAbove(v *View, startRot int, s bool) bool {
	if v.Boundary(startRot) || !v.InBounds(startRot-1) ||
		v.Row(startRot-1).Kind() != witness.KindExtensionC {
		return false
	}
	return sidePlaceholder(v.Row(startRot-1-ExtCInd), s)
}

// leafKeyState resolves the key accumulation state the leaf block starting
// at startRot resumes from on side s, along with the nibble count consumed
// so far: the running state after the branch above, the pre-branch
// snapshot when that branch is a placeholder on this side, or the fresh
// state at the trie top.
func leafKeyState(v *View, startRot int, s bool) (acc, mult fr.Element, sel bool, nibbles int) {
	if v.Boundary(startRot) || !v.InBounds(startRot-1) ||
		v.Row(startRot-1).Kind() != witness.KindExtensionC {
		var one fr.Element
		one.SetOne()
		return fr.Element{}, one, true, 0
	}

	init := startRot - 1 - ExtCInd
	initRow := v.Row(init)
	if sidePlaceholder(initRow, s) {
		ic := v.Cells(init)
		extN := blockExtNibbles(v, init)
		selBefore := initRow.IsBranchC16() != (extN%2 == 1)
		return ic.KeyRLCPrev, ic.KeyMultPrev, selBefore, ic.NibblesNum - extN - 1
	}

	last := v.Cells(startRot - 1 - ExtCInd + LastChildInd)
	return last.KeyRLC, last.KeyMult, !initRow.IsBranchC16(), last.NibblesNum
}

// keyRLCExtend folds a leaf's residual key bytes into a key accumulation
// state. keyBytes starts at the hex-prefix byte: 32 for an even residual,
// 48+nibble for an odd one.
func keyRLCExtend(f *rlc.Folder, acc, mult fr.Element, sel bool, keyBytes []byte) fr.Element {
	if len(keyBytes) == 0 {
		return acc
	}
	if !sel {
		addTerm(&acc, uint64(keyBytes[0]-48), mult)
		r := f.R()
		mult.Mul(&mult, &r)
	}
	acc, _ = f.Fold(acc, mult, keyBytes[1:])
	return acc
}

// expectLeafPrefix checks a hex-prefix byte against the key half the path
// state demands.
func expectLeafPrefix(sel bool, prefix byte) error {
	if sel {
		if prefix != 32 {
			return fmt.Errorf("even key residual must open with prefix 32, got %d", prefix)
		}
		return nil
	}
	if prefix < 48 || prefix > 63 {
		return fmt.Errorf("odd key residual must open with prefix 48+nibble, got %d", prefix)
	}
	return nil
}

// driftedKeyRLC recomputes the key RLC of a leaf displaced into the branch
// whose init row sits at initRot: the key state above the branch extended
// by its extension segment, the drifted-position nibble, then the leaf's
// residual bytes.
func driftedKeyRLC(v *View, initRot int, keyBytes []byte) fr.Element {
	initRow := v.Row(initRot)
	var acc, mult fr.Element
	if initRow.IsExtension() {
		ec := v.Cells(initRot + ExtSInd)
		acc, mult = ec.KeyRLC, ec.KeyMult
	} else {
		ic := v.Cells(initRot)
		acc, mult = ic.KeyRLCPrev, ic.KeyMultPrev
	}
	sel := initRow.IsBranchC16()
	pos := uint64(initRow.DriftedPos())
	if sel {
		addTerm(&acc, pos*16, mult)
	} else {
		addTerm(&acc, pos, mult)
		r := v.Folder().R()
		mult.Mul(&mult, &r)
	}
	return keyRLCExtend(v.Folder(), acc, mult, !sel, keyBytes)
}

// zeroRow reports a structurally absent optional row (drifted rows,
// placeholder leaf rows).
func zeroRow(row *witness.Row) bool {
	return row.SRLP1() == 0 && row.SRLP2() == 0
}
