package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/witness"
)

// Non-existence gates. An account non-existence proof ends either at a
// wrong leaf (a leaf whose key diverges from the enquired address, proving
// the address is not in the trie) or at a branch holding nil at the
// modified position. The dedicated row carries the enquired address
// nibbles and, in the wrong-leaf case, an inverse witnessing that the two
// key suffixes differ.

func (e *Engine) registerNonExistingGates() {
	e.register("nonexist/account", onKind(witness.KindAccountNonExisting), func(v *View) error {
		row := v.Row(0)
		if !row.Mod(witness.ModNonExisting) {
			// outside a non-existence proof the row is unused
			for _, b := range row.Content() {
				if b != 0 {
					return fmt.Errorf("non-existence row carries bytes outside a non-existence proof")
				}
			}
			return nil
		}
		c := v.Cells(0)
		wrong := row.SRLP1() == 1
		if err := expectBool("wrong-leaf selector", byteElem(row.SRLP1())); err != nil {
			return err
		}

		if !wrong {
			// nil-object form: the branch above must hold nil at the
			// modified position on both sides
			start := -AccountNonExistingInd
			if v.Boundary(start) || !v.InBounds(start-1) ||
				v.Row(start-1).Kind() != witness.KindExtensionC {
				return fmt.Errorf("nil-object non-existence proof without a branch above")
			}
			bc := v.Cells(start - 1)
			if !bc.Sel1.IsOne() || !bc.Sel2.IsOne() {
				return fmt.Errorf("nil-object non-existence proof over a non-nil branch child")
			}
			return nil
		}

		prev := v.Row(-1)
		keyLen := int(prev.SByte(0)) - 128
		if keyLen <= 0 || keyLen > witness.HashWidth+1 {
			return fmt.Errorf("wrong-leaf key length %d out of range", keyLen)
		}
		// equal lengths: the enquired address and the wrong leaf agree on
		// every nibble consumed above
		if row.SByte(0) != prev.SByte(0) {
			return fmt.Errorf("enquired key length differs from the wrong leaf")
		}

		r := v.Folder().R()
		mult := r
		var sum, sumPrev fr.Element
		for j := 0; j < keyLen; j++ {
			addTerm(&sum, uint64(row.Byte(3+j)), mult)
			addTerm(&sumPrev, uint64(prev.Byte(3+j)), mult)
			mult.Mul(&mult, &r)
		}
		if err := expectEq("enquired key-suffix sum", c.Sum, sum); err != nil {
			return err
		}
		if err := expectEq("wrong-leaf key-suffix sum", c.SumPrev, sumPrev); err != nil {
			return err
		}

		// (sum - sumPrev) * diffInv == 1 proves the suffixes differ
		var diff fr.Element
		diff.Sub(&sum, &sumPrev)
		diff.Mul(&diff, &c.DiffInv)
		if err := expectEq("key-suffix difference inverse", diff, elem(1)); err != nil {
			return err
		}

		// the enquired address really folds to the public address
		start := -AccountNonExistingInd
		base, baseMult, sel, _ := leafKeyState(v, start, false)
		keyBytes := row.Content()[3 : 3+keyLen]
		if err := expectEq("enquired address accumulation",
			c.KeyRLC, keyRLCExtend(v.Folder(), base, baseMult, sel, keyBytes)); err != nil {
			return err
		}
		return expectEq("enquired address against the public address", c.KeyRLC, c.AddressRLC)
	})
}
