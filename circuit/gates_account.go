package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/table"
	"github.com/consensys/zkmpt/witness"
)

// Account leaf gates, spread over the 8-row leaf block: key row fold and
// address linkage, the interleaved nonce/balance stream, the storage root
// and codehash pair, the hash link into the parent, and the drifted
// neighbour produced by a branch insertion or deletion.

// accountBlockStart returns the rotation from the current row back to the
// first row of its account leaf block.
func accountBlockStart(v *View) int {
	switch v.Row(0).Kind() {
	case witness.KindAccountLeafKeyS:
		return -AccountKeySInd
	case witness.KindAccountLeafKeyC:
		return -AccountKeyCInd
	case witness.KindAccountNonExisting:
		return -AccountNonExistingInd
	case witness.KindAccountNonceBalanceS:
		return -AccountNonceBalanceSInd
	case witness.KindAccountNonceBalanceC:
		return -AccountNonceBalanceCInd
	case witness.KindAccountStorageCodehashS:
		return -AccountStorageSInd
	case witness.KindAccountStorageCodehashC:
		return -AccountStorageCInd
	default:
		return -AccountDriftedInd
	}
}

// branchNilAbove reports whether the branch above the block starting at
// startRot holds nil at the modified position on the given side. A leaf
// recorded under such a branch is a placeholder: the side has nothing to
// hash.
func branchNilAbove(v *View, startRot int, s bool) bool {
	if v.Boundary(startRot) || !v.InBounds(startRot-1) ||
		v.Row(startRot-1).Kind() != witness.KindExtensionC {
		return false
	}
	c := v.Cells(startRot - 1)
	if s {
		return c.Sel1.IsOne()
	}
	return c.Sel2.IsOne()
}

func (e *Engine) registerAccountLeafGates() {
	e.register("account/key",
		onKinds(witness.KindAccountLeafKeyS, witness.KindAccountLeafKeyC),
		func(v *View) error {
			row := v.Row(0)
			if zeroRow(row) {
				return nil
			}
			c := v.Cells(0)
			side := row.Kind() == witness.KindAccountLeafKeyS

			if row.SRLP1() != 248 {
				return fmt.Errorf("account leaf must open with a long list header, got %d", row.SRLP1())
			}
			keyLen := int(row.SByte(0)) - 128
			if keyLen < 0 || keyLen > witness.HashWidth+1 {
				return fmt.Errorf("account key length %d out of range", keyLen)
			}

			var one fr.Element
			one.SetOne()
			acc, mult := v.Folder().Fold(fr.Element{}, one, row.Content()[:3+keyLen])
			if err := expectEq("key row fold", c.AccS, acc); err != nil {
				return err
			}
			if err := expectEq("key row fold multiplier", c.AccMultS, mult); err != nil {
				return err
			}

			start := accountBlockStart(v)
			base, baseMult, sel, nibbles := leafKeyState(v, start, side)
			keyBytes := row.Content()[3 : 3+keyLen]
			if err := expectLeafPrefix(sel, keyBytes[0]); err != nil {
				return err
			}
			if err := expectEq("account key accumulation",
				c.KeyRLC, keyRLCExtend(v.Folder(), base, baseMult, sel, keyBytes)); err != nil {
				return err
			}
			// a leaf over a placeholder branch is the displaced
			// neighbour, not the modified account; its key is pinned by
			// the drifted-leaf gate instead
			displaced := placeholderAbove(v, start, side)
			if !row.Mod(witness.ModNonExisting) && !displaced {
				if err := expectEq("account key against the enquired address", c.KeyRLC, c.AddressRLC); err != nil {
					return err
				}
			}
			if nibbles+leafResidualNibbles(keyBytes) != KeyNibbles {
				return fmt.Errorf("path consumes %d nibbles, want %d",
					nibbles+leafResidualNibbles(keyBytes), KeyNibbles)
			}

			// long-value flags mirrored from the nonce/balance row
			nb := v.Row(3)
			if nb == nil {
				return fmt.Errorf("account leaf block truncated")
			}
			want := fr.Element{}
			if nb.SByte(0) > 128 {
				want = elem(1)
			}
			if err := expectEq("long-nonce flag", c.Sel1, want); err != nil {
				return err
			}
			want = fr.Element{}
			if nb.CByte(0) > 128 {
				want = elem(1)
			}
			return expectEq("long-balance flag", c.Sel2, want)
		})

	e.register("account/nonce-balance",
		onKinds(witness.KindAccountNonceBalanceS, witness.KindAccountNonceBalanceC),
		func(v *View) error {
			row := v.Row(0)
			key := v.Row(-3)
			if zeroRow(key) {
				return nil
			}
			c := v.Cells(0)
			side := row.Kind() == witness.KindAccountNonceBalanceS

			if row.SRLP1() != 184 || row.CRLP1() != 248 {
				return fmt.Errorf("nonce/balance stream headers (%d,%d), want (184,248)", row.SRLP1(), row.CRLP1())
			}
			if int(row.SRLP2()) != int(row.CRLP2())+2 {
				return fmt.Errorf("outer string length %d does not wrap the inner list %d", row.SRLP2(), row.CRLP2())
			}
			nonceLen, balanceLen := nonceBalanceLens(row)
			if int(row.CRLP2()) != nonceLen+balanceLen+66 {
				return fmt.Errorf("inner list length %d does not cover nonce, balance and the two hashes", row.CRLP2())
			}
			keyLen := int(key.SByte(0)) - 128
			if int(key.SRLP2()) != keyLen+1+int(row.SRLP2())+2 {
				return fmt.Errorf("account list length %d does not cover key and value", key.SRLP2())
			}

			// bytes past the declared lengths must be zero
			for j := nonceLen; j < witness.HashWidth; j++ {
				if row.SByte(j) != 0 {
					return fmt.Errorf("stray byte after the nonce at %d", j)
				}
			}
			for j := balanceLen; j < witness.HashWidth; j++ {
				if row.CByte(j) != 0 {
					return fmt.Errorf("stray byte after the balance at %d", j)
				}
			}

			kc := v.Cells(-3)
			acc, mult := v.Folder().Fold(kc.AccS, kc.AccMultS,
				[]byte{row.SRLP1(), row.SRLP2(), row.CRLP1(), row.CRLP2()})
			acc, mult = v.Folder().Fold(acc, mult, row.SBytes()[:nonceLen])
			if err := expectEq("multiplier between nonce and balance", c.AccMultC, mult); err != nil {
				return err
			}
			acc, mult = v.Folder().Fold(acc, mult, row.CBytes()[:balanceLen])
			if err := expectEq("nonce/balance fold", c.AccS, acc); err != nil {
				return err
			}
			if err := expectEq("nonce/balance fold multiplier", c.AccMultS, mult); err != nil {
				return err
			}

			nonceRLC := v.Folder().Of(row.SBytes()[:1])
			if nonceLen > 1 {
				nonceRLC = v.Folder().Of(row.SBytes()[1:nonceLen])
			}
			balanceRLC := v.Folder().Of(row.CBytes()[:1])
			if balanceLen > 1 {
				balanceRLC = v.Folder().Of(row.CBytes()[1:balanceLen])
			}
			if err := expectEq("nonce value fold", c.SModRLC, nonceRLC); err != nil {
				return err
			}
			if err := expectEq("balance value fold", c.CModRLC, balanceRLC); err != nil {
				return err
			}
			if !e.fixed.Contains(table.TagRMult, elem(uint64(4+nonceLen)), c.MultDiffNonce) {
				return fmt.Errorf("nonce multiplier jump is not r^%d", 4+nonceLen)
			}
			if !e.fixed.Contains(table.TagRMult, elem(uint64(balanceLen)), c.MultDiffBalance) {
				return fmt.Errorf("balance multiplier jump is not r^%d", balanceLen)
			}

			if side {
				return nil
			}
			// the C row repeats the S values so an unmodified field can be
			// pinned across the modification
			s := v.Cells(-1)
			if err := expectEq("carried S nonce", c.Sel1, s.SModRLC); err != nil {
				return err
			}
			if err := expectEq("carried S balance", c.Sel2, s.CModRLC); err != nil {
				return err
			}
			// under a creation or deletion one side is a neighbour
			// leaf, so cross-side field comparisons do not apply
			start := accountBlockStart(v)
			for _, side := range []bool{true, false} {
				if placeholderAbove(v, start, side) || branchNilAbove(v, start, side) {
					return nil
				}
			}
			if row.Mod(witness.ModNonce) {
				if err := expectEq("balance unchanged under a nonce modification", c.CModRLC, c.Sel2); err != nil {
					return err
				}
			}
			if row.Mod(witness.ModBalance) {
				if err := expectEq("nonce unchanged under a balance modification", c.SModRLC, c.Sel1); err != nil {
					return err
				}
			}
			if row.Mod(witness.ModStorage) || row.Mod(witness.ModCodeHash) {
				if err := expectEq("nonce unchanged", c.SModRLC, c.Sel1); err != nil {
					return err
				}
				if err := expectEq("balance unchanged", c.CModRLC, c.Sel2); err != nil {
					return err
				}
			}
			return nil
		})

	e.register("account/storage-codehash",
		onKinds(witness.KindAccountStorageCodehashS, witness.KindAccountStorageCodehashC),
		func(v *View) error {
			row := v.Row(0)
			start := accountBlockStart(v)
			if zeroRow(v.Row(start)) {
				return nil
			}
			c := v.Cells(0)
			side := row.Kind() == witness.KindAccountStorageCodehashS

			if row.SRLP2() != 160 || row.CRLP2() != 160 {
				return fmt.Errorf("storage root and codehash must be 32-byte strings")
			}

			nb := v.Cells(-2)
			stream := make([]byte, 0, 2+2*witness.HashWidth)
			stream = append(stream, row.SRLP2())
			stream = append(stream, row.SBytes()...)
			stream = append(stream, row.CRLP2())
			stream = append(stream, row.CBytes()...)
			acc, mult := v.Folder().Fold(nb.AccS, nb.AccMultS, stream)
			if err := expectEq("storage/codehash fold", c.AccS, acc); err != nil {
				return err
			}
			if err := expectEq("storage/codehash fold multiplier", c.AccMultS, mult); err != nil {
				return err
			}
			if err := expectEq("storage root fold", c.SModRLC, v.Folder().Of(row.SBytes())); err != nil {
				return err
			}
			if err := expectEq("codehash fold", c.CModRLC, v.Folder().Of(row.CBytes())); err != nil {
				return err
			}

			if side {
				return nil
			}
			// pin the unmodified halves across the S/C pair
			sc := v.Cells(-1)
			placeholder := false
			if !v.Boundary(start) && v.InBounds(start-1) && v.Row(start-1).Kind() == witness.KindExtensionC {
				init := v.Row(start - 1 - ExtCInd)
				placeholder = init.IsBranchSPlaceholder() || init.IsBranchCPlaceholder()
			}
			if placeholder || branchNilAbove(v, start, true) || branchNilAbove(v, start, false) {
				// creation or deletion: the S and C leaves are different
				// objects
				return nil
			}
			if !row.Mod(witness.ModStorage) {
				if err := expectEq("storage root unchanged", c.SModRLC, sc.SModRLC); err != nil {
					return err
				}
			}
			if !row.Mod(witness.ModCodeHash) {
				if err := expectEq("codehash unchanged", c.CModRLC, sc.CModRLC); err != nil {
					return err
				}
			}
			return nil
		})

	e.register("account/leaf-hash",
		onKinds(witness.KindAccountStorageCodehashS, witness.KindAccountStorageCodehashC),
		func(v *View) error {
			row := v.Row(0)
			side := row.Kind() == witness.KindAccountStorageCodehashS
			start := accountBlockStart(v)
			if zeroRow(v.Row(start)) {
				return nil
			}
			if branchNilAbove(v, start, side) {
				// the side has no leaf at this position
				return nil
			}
			digest, ok := parentDigest(v, start, side)
			if !ok {
				return fmt.Errorf("account leaf has no resolvable parent")
			}
			if !v.Keccak().Contains(v.Cells(0).AccS, digest) {
				return fmt.Errorf("account leaf does not hash into its parent")
			}
			return nil
		})

	e.register("account/drifted", onKind(witness.KindAccountDrifted), func(v *View) error {
		row := v.Row(0)
		if zeroRow(row) {
			return nil
		}
		c := v.Cells(0)
		start := -AccountDriftedInd
		initRot := start - BranchRows
		if !v.InBounds(initRot) || v.Row(initRot).Kind() != witness.KindInitBranch {
			return fmt.Errorf("drifted account leaf without a branch above")
		}
		init := v.Row(initRot)
		sPlaceholder := init.IsBranchSPlaceholder()
		if !sPlaceholder && !init.IsBranchCPlaceholder() {
			return fmt.Errorf("drifted account leaf without a placeholder branch")
		}

		keyLen := int(row.SByte(0)) - 128
		if keyLen < 0 || keyLen > witness.HashWidth+1 {
			return fmt.Errorf("drifted account key length %d out of range", keyLen)
		}
		var one fr.Element
		one.SetOne()
		acc, mult := v.Folder().Fold(fr.Element{}, one, row.Content()[:3+keyLen])

		nbRot, scRot, origKeyRot := start+AccountNonceBalanceSInd, start+AccountStorageSInd, start+AccountKeySInd
		if !sPlaceholder {
			nbRot, scRot, origKeyRot = start+AccountNonceBalanceCInd, start+AccountStorageCInd, start+AccountKeyCInd
		}
		nb := v.Row(nbRot)
		nonceLen, balanceLen := nonceBalanceLens(nb)
		acc, mult = v.Folder().Fold(acc, mult,
			[]byte{nb.SRLP1(), nb.SRLP2(), nb.CRLP1(), nb.CRLP2()})
		acc, mult = v.Folder().Fold(acc, mult, nb.SBytes()[:nonceLen])
		acc, mult = v.Folder().Fold(acc, mult, nb.CBytes()[:balanceLen])
		sc := v.Row(scRot)
		stream := make([]byte, 0, 2+2*witness.HashWidth)
		stream = append(stream, sc.SRLP2())
		stream = append(stream, sc.SBytes()...)
		stream = append(stream, sc.CRLP2())
		stream = append(stream, sc.CBytes()...)
		acc, _ = v.Folder().Fold(acc, mult, stream)
		if err := expectEq("drifted leaf fold", c.AccS, acc); err != nil {
			return err
		}

		// the displaced leaf keeps its key: drifting one level down only
		// re-routes the same nibble path
		keyBytes := row.Content()[3 : 3+keyLen]
		if err := expectEq("drifted key accumulation", c.KeyRLC, driftedKeyRLC(v, initRot, keyBytes)); err != nil {
			return err
		}
		if err := expectEq("drifted key equals the displaced leaf key", c.KeyRLC, v.Cells(origKeyRot).KeyRLC); err != nil {
			return err
		}

		// the real branch holds the drifted leaf at the drifted position
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
