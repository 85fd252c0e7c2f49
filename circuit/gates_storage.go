package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/table"
	"github.com/consensys/zkmpt/witness"
)

// Storage leaf gates over the 5-row leaf block. A storage leaf comes in
// four RLP shapes (long, short, last-level, one-nibble); placeholder
// leaves stand in when the slot is absent on one side.

// storageBlockStart returns the rotation from the current row back to the
// first row of its storage leaf block.
func storageBlockStart(v *View) int {
	switch v.Row(0).Kind() {
	case witness.KindStorageLeafKeyS:
		return -StorageKeySInd
	case witness.KindStorageLeafValueS:
		return -StorageValueSInd
	case witness.KindStorageLeafKeyC:
		return -StorageKeyCInd
	case witness.KindStorageLeafValueC:
		return -StorageValueCInd
	default:
		return -StorageDriftedInd
	}
}

// shapeFlagPair maps a storage leaf shape onto the two flag cells carried
// by its key row.
func shapeFlagPair(shape storageLeafShape) (fr.Element, fr.Element) {
	var f1, f2 fr.Element
	if shape == leafLong || shape == leafLastLevel {
		f1.SetOne()
	}
	if shape == leafShort || shape == leafLastLevel {
		f2.SetOne()
	}
	return f1, f2
}

func (e *Engine) registerStorageLeafGates() {
	e.register("storage/key",
		onKinds(witness.KindStorageLeafKeyS, witness.KindStorageLeafKeyC),
		func(v *View) error {
			row := v.Row(0)
			if zeroRow(row) {
				return nil
			}
			c := v.Cells(0)
			side := row.Kind() == witness.KindStorageLeafKeyS

			shape := storageLeafShapeOf(row)
			f1, f2 := shapeFlagPair(shape)
			if err := expectEq("leaf shape flag 1", c.SModRLC, f1); err != nil {
				return err
			}
			if err := expectEq("leaf shape flag 2", c.CModRLC, f2); err != nil {
				return err
			}

			keyLen := storageLeafKeyLen(row)
			var one fr.Element
			one.SetOne()
			acc, mult := v.Folder().Fold(fr.Element{}, one, row.Content()[:keyLen])
			if err := expectEq("key row fold", c.AccS, acc); err != nil {
				return err
			}
			if err := expectEq("key row fold multiplier", c.AccMultS, mult); err != nil {
				return err
			}
			if !e.fixed.Contains(table.TagRMult, elem(uint64(keyLen)), c.MultDiff) {
				return fmt.Errorf("key row multiplier jump is not r^%d", keyLen)
			}

			start := storageBlockStart(v)
			base, baseMult, sel, nibbles := leafKeyState(v, start, side)
			keyBytes := storageLeafKeyBytes(row)
			if shape != leafOneNibble {
				if err := expectLeafPrefix(sel, keyBytes[0]); err != nil {
					return err
				}
			} else if sel {
				return fmt.Errorf("one-nibble leaf on an even key residual")
			}
			if err := expectEq("storage key accumulation",
				c.KeyRLC, keyRLCExtend(v.Folder(), base, baseMult, sel, keyBytes)); err != nil {
				return err
			}
			if nibbles+leafResidualNibbles(keyBytes) != KeyNibbles {
				return fmt.Errorf("path consumes %d nibbles, want %d",
					nibbles+leafResidualNibbles(keyBytes), KeyNibbles)
			}

			// both sides describe the same slot, except when one side is
			// a displaced neighbour over a placeholder branch
			if !side && !zeroRow(v.Row(-2)) &&
				!placeholderAbove(v, start, true) && !placeholderAbove(v, start, false) {
				if err := expectEq("slot key equal across tries", c.KeyRLC, v.Cells(-2).KeyRLC); err != nil {
					return err
				}
			}
			return nil
		})

	e.register("storage/value",
		onKinds(witness.KindStorageLeafValueS, witness.KindStorageLeafValueC),
		func(v *View) error {
			row := v.Row(0)
			key := v.Row(-1)
			if zeroRow(key) {
				return nil
			}
			c := v.Cells(0)

			vLen := valueLen(row.SRLP1())
			shape := storageLeafShapeOf(key)
			switch shape {
			case leafLong:
				if int(key.SRLP2()) != (int(key.SByte(0))-128)+1+vLen {
					return fmt.Errorf("long leaf list length %d does not cover key and value", key.SRLP2())
				}
			case leafShort:
				if int(key.SRLP1())-192 != (int(key.SRLP2())-128)+1+vLen {
					return fmt.Errorf("short leaf list length %d does not cover key and value", key.SRLP1())
				}
			default:
				if int(key.SRLP1())-192 != 1+vLen {
					return fmt.Errorf("leaf list length %d does not cover key byte and value", key.SRLP1())
				}
			}

			kc := v.Cells(-1)
			acc, mult := v.Folder().Fold(kc.AccS, kc.AccMultS, row.Content()[:vLen])
			if err := expectEq("leaf fold", c.AccS, acc); err != nil {
				return err
			}
			if err := expectEq("leaf fold multiplier", c.AccMultS, mult); err != nil {
				return err
			}

			valRLC := v.Folder().Of(row.Content()[:1])
			if row.SRLP1() >= 128 {
				valRLC = v.Folder().Of(row.Content()[1:vLen])
			}
			if err := expectEq("value fold", c.SModRLC, valRLC); err != nil {
				return err
			}
			if err := expectBool("placeholder-leaf flag S", c.Sel1); err != nil {
				return err
			}
			return expectBool("placeholder-leaf flag C", c.Sel2)
		})

	e.register("storage/leaf-hash",
		onKinds(witness.KindStorageLeafValueS, witness.KindStorageLeafValueC),
		func(v *View) error {
			row := v.Row(0)
			side := row.Kind() == witness.KindStorageLeafValueS
			start := storageBlockStart(v)
			if zeroRow(v.Row(-1)) {
				return nil
			}

			placeholder := v.Cells(0).Sel1.IsOne()
			if !side {
				placeholder = v.Cells(0).Sel2.IsOne()
			}
			if placeholder {
				if branchNilAbove(v, start, side) {
					// the branch already proves the slot absent
					return nil
				}
				// no branch above: the account's storage trie must be empty
				// on this side
				digest, ok := parentDigest(v, start, side)
				if !ok {
					return fmt.Errorf("storage leaf has no resolvable parent")
				}
				if err := expectEq("empty storage trie root", digest, v.Folder().Of(emptyTrieHash[:])); err != nil {
					return err
				}
				return nil
			}

			digest, ok := parentDigest(v, start, side)
			if !ok {
				return fmt.Errorf("storage leaf has no resolvable parent")
			}
			if !v.Keccak().Contains(v.Cells(0).AccS, digest) {
				return fmt.Errorf("storage leaf does not hash into its parent")
			}
			return nil
		})

	e.register("storage/drifted", onKind(witness.KindStorageDrifted), func(v *View) error {
		row := v.Row(0)
		if zeroRow(row) {
			return nil
		}
		c := v.Cells(0)
		start := -StorageDriftedInd
		initRot := start - BranchRows
		if !v.InBounds(initRot) || v.Row(initRot).Kind() != witness.KindInitBranch {
			return fmt.Errorf("drifted storage leaf without a branch above")
		}
		init := v.Row(initRot)
		sPlaceholder := init.IsBranchSPlaceholder()
		if !sPlaceholder && !init.IsBranchCPlaceholder() {
			return fmt.Errorf("drifted storage leaf without a placeholder branch")
		}

		keyLen := storageLeafKeyLen(row)
		var one fr.Element
		one.SetOne()
		acc, mult := v.Folder().Fold(fr.Element{}, one, row.Content()[:keyLen])

		valRot, origKeyRot := start+StorageValueSInd, start+StorageKeySInd
		if !sPlaceholder {
			valRot, origKeyRot = start+StorageValueCInd, start+StorageKeyCInd
		}
		val := v.Row(valRot)
		acc, _ = v.Folder().Fold(acc, mult, val.Content()[:valueLen(val.SRLP1())])
		if err := expectEq("drifted leaf fold", c.AccS, acc); err != nil {
			return err
		}

		keyBytes := storageLeafKeyBytes(row)
		if err := expectEq("drifted key accumulation", c.KeyRLC, driftedKeyRLC(v, initRot, keyBytes)); err != nil {
			return err
		}
		if err := expectEq("drifted key equals the displaced leaf key", c.KeyRLC, v.Cells(origKeyRot).KeyRLC); err != nil {
			return err
		}

		child := v.Row(initRot + FirstChildInd + int(init.DriftedPos()))
		ref := child.SBytes()
		if sPlaceholder {
			ref = child.CBytes()
		}
		if !v.Keccak().Contains(c.AccS, v.Folder().Of(ref)) {
			return fmt.Errorf("drifted leaf does not hash into the surviving branch")
		}
		return nil
	})
}
