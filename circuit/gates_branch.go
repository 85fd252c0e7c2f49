package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/rlc"
	"github.com/consensys/zkmpt/table"
	"github.com/consensys/zkmpt/witness"
)

// Branch gates, anchored at the init row of each 19-row branch block: flag
// shape, header fold, the child byte-stream fold with its RLP payload
// countdown, the recorded modified-child digest, and the node's hash link
// into its parent.

// childFold folds one branch child item on one side and returns the
// updated accumulator pair, the remaining-payload delta and the nil flag.
func childFold(f *rlc.Folder, acc, mult fr.Element, rlp2, b0 byte, bytes []byte) (fr.Element, fr.Element, int, bool, error) {
	switch childShapeOf(rlp2, b0) {
	case childHashed:
		acc, mult = f.Fold(acc, mult, []byte{160})
		acc, mult = f.Fold(acc, mult, bytes)
		return acc, mult, 33, false, nil
	case childNil:
		acc, mult = f.Fold(acc, mult, []byte{witness.NilChildMarker})
		return acc, mult, 1, true, nil
	default:
		return acc, mult, 0, false, fmt.Errorf("child is neither a hashed reference nor nil (rlp2=%d, byte0=%d)", rlp2, b0)
	}
}

func (e *Engine) registerBranchGates() {
	e.register("branch/init-flags", onKind(witness.KindInitBranch), func(v *View) error {
		row := v.Row(0)
		for _, pos := range []int{0, 1, 2, 3,
			witness.SPlaceholderPos, witness.CPlaceholderPos,
			witness.IsExtensionPos, witness.BranchC16Pos, witness.BranchC1Pos} {
			if err := expectBool(fmt.Sprintf("init flag at %d", pos), byteElem(row.Byte(pos))); err != nil {
				return err
			}
		}
		c16 := byteElem(row.Byte(witness.BranchC16Pos))
		c1 := byteElem(row.Byte(witness.BranchC1Pos))
		var sum fr.Element
		sum.Add(&c16, &c1)
		if err := expectEq("exactly one key-half flag", sum, elem(1)); err != nil {
			return err
		}
		if !e.fixed.Contains(table.TagRange16, byteElem(row.ModifiedNode()), fr.Element{}) {
			return fmt.Errorf("modified-node position %d out of nibble range", row.ModifiedNode())
		}
		if !e.fixed.Contains(table.TagRange16, byteElem(row.DriftedPos()), fr.Element{}) {
			return fmt.Errorf("drifted position %d out of nibble range", row.DriftedPos())
		}
		return nil
	})

	e.register("branch/init-header", onKind(witness.KindInitBranch), func(v *View) error {
		row := v.Row(0)
		c := v.Cells(0)
		var one fr.Element
		one.SetOne()
		for _, side := range []bool{true, false} {
			meta, payload := branchHeader(row, side)
			acc, mult := v.Folder().Fold(fr.Element{}, one, meta)
			gotAcc, gotMult, gotRem := c.AccS, c.AccMultS, c.RLPLenRemS
			name := "S"
			if !side {
				gotAcc, gotMult, gotRem = c.AccC, c.AccMultC, c.RLPLenRemC
				name = "C"
			}
			if err := expectEq("header fold "+name, gotAcc, acc); err != nil {
				return err
			}
			if err := expectEq("header fold multiplier "+name, gotMult, mult); err != nil {
				return err
			}
			if gotRem != payload {
				return fmt.Errorf("payload countdown %s: got %d, want %d", name, gotRem, payload)
			}
		}
		return nil
	})

	e.register("branch/child-stream", onKind(witness.KindInitBranch), func(v *View) error {
		if !v.InBounds(ExtCInd) {
			return fmt.Errorf("branch block truncated")
		}
		row := v.Row(0)
		init := v.Cells(0)
		mod := int(row.ModifiedNode())
		anyPlaceholder := row.IsBranchSPlaceholder() || row.IsBranchCPlaceholder()

		accS, multS, remS := init.AccS, init.AccMultS, init.RLPLenRemS
		accC, multC, remC := init.AccC, init.AccMultC, init.RLPLenRemC
		for n := 0; n < 16; n++ {
			child := v.Row(FirstChildInd + n)
			if child.Kind() != witness.KindBranchChild {
				return fmt.Errorf("row %d of block is %s, want a branch child", FirstChildInd+n, child.Kind())
			}

			var dS, dC int
			var err error
			accS, multS, dS, _, err = childFold(v.Folder(), accS, multS, child.SRLP2(), child.SByte(0), child.SBytes())
			if err != nil {
				return fmt.Errorf("child %d side S: %w", n, err)
			}
			accC, multC, dC, _, err = childFold(v.Folder(), accC, multC, child.CRLP2(), child.CByte(0), child.CBytes())
			if err != nil {
				return fmt.Errorf("child %d side C: %w", n, err)
			}
			remS -= dS
			remC -= dC

			cc := v.Cells(FirstChildInd + n)
			if err := expectEq(fmt.Sprintf("child %d fold S", n), cc.AccS, accS); err != nil {
				return err
			}
			if err := expectEq(fmt.Sprintf("child %d fold C", n), cc.AccC, accC); err != nil {
				return err
			}
			if cc.RLPLenRemS != remS || cc.RLPLenRemC != remC {
				return fmt.Errorf("child %d payload countdown: got (%d,%d), want (%d,%d)",
					n, cc.RLPLenRemS, cc.RLPLenRemC, remS, remC)
			}

			// both tries hold the same node everywhere but at the
			// modification point
			if n != mod && !anyPlaceholder {
				if child.SRLP2() != child.CRLP2() {
					return fmt.Errorf("child %d differs between tries outside the modified position", n)
				}
				for j := 0; j < witness.HashWidth; j++ {
					if child.SByte(j) != child.CByte(j) {
						return fmt.Errorf("child %d differs between tries outside the modified position", n)
					}
				}
			}
		}

		// only the empty value item may remain
		if remS != 1 || remC != 1 {
			return fmt.Errorf("children do not exhaust the list payload: remainders (%d,%d)", remS, remC)
		}
		return nil
	})

	e.register("branch/modified-child", onKind(witness.KindInitBranch), func(v *View) error {
		if !v.InBounds(ExtCInd) {
			return fmt.Errorf("branch block truncated")
		}
		row := v.Row(0)
		c := v.Cells(0)
		child := v.Row(FirstChildInd + int(row.ModifiedNode()))

		if err := expectEq("recorded S modified-child fold", c.SModRLC, v.Folder().Of(child.SBytes())); err != nil {
			return err
		}
		if err := expectEq("recorded C modified-child fold", c.CModRLC, v.Folder().Of(child.CBytes())); err != nil {
			return err
		}

		sNil := childShapeOf(child.SRLP2(), child.SByte(0)) == childNil
		cNil := childShapeOf(child.CRLP2(), child.CByte(0)) == childNil
		want := fr.Element{}
		if sNil {
			want = elem(1)
		}
		if err := expectEq("nil-child flag S", c.Sel1, want); err != nil {
			return err
		}
		want = fr.Element{}
		if cNil {
			want = elem(1)
		}
		return expectEq("nil-child flag C", c.Sel2, want)
	})

	e.register("branch/hash-in-parent", onKind(witness.KindInitBranch), func(v *View) error {
		row := v.Row(0)
		if row.IsExtension() {
			// the branch hashes into its extension node instead
			return nil
		}
		for _, side := range []bool{true, false} {
			if sidePlaceholder(row, side) {
				continue
			}
			digest, ok := parentDigest(v, 0, side)
			if !ok {
				return fmt.Errorf("branch has no resolvable parent")
			}
			full := branchFullFold(v, 0, side)
			if !v.Keccak().Contains(full, digest) {
				return fmt.Errorf("branch encoding does not hash into its parent (side S=%v)", side)
			}
		}
		return nil
	})
}
