package circuit

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/table"
	"github.com/consensys/zkmpt/witness"
)

// Extension-node gates. The S row carries the key segment both tries
// share plus the S-side embedded branch reference; the C row repeats the
// key segment with the C-side reference. Blocks without an extension keep
// the two rows zeroed.

// extShapeMatches reports whether the shape class an init row's flags
// encode agrees with the key segment bytes, parity aside.
func extShapeMatches(shape witness.ExtShape, row *witness.Row) bool {
	if row.SRLP2() <= 32 {
		return shape.Short()
	}
	// first key byte: 0 for an even segment, 16+nibble for an odd one
	first := row.SByte(0)
	if row.SRLP1() >= 248 {
		first = row.SByte(1)
	}
	if first == 0 {
		return !shape.Short() && shape.Even()
	}
	return !shape.Short() && !shape.Even()
}

func (e *Engine) registerExtensionGates() {
	e.register("ext/flags", onKind(witness.KindInitBranch), func(v *View) error {
		row := v.Row(0)
		var sum fr.Element
		for _, pos := range []int{
			witness.ExtShortC16Pos, witness.ExtShortC1Pos,
			witness.ExtLongEvenC16Pos, witness.ExtLongEvenC1Pos,
			witness.ExtLongOddC16Pos, witness.ExtLongOddC1Pos,
			witness.ExtLongerThan55SPos, witness.ExtLongerThan55CPos,
			witness.ExtNonHashedSPos, witness.ExtNonHashedCPos,
		} {
			b := byteElem(row.Byte(pos))
			if err := expectBool(fmt.Sprintf("extension flag at %d", pos), b); err != nil {
				return err
			}
		}
		for _, pos := range []int{
			witness.ExtShortC16Pos, witness.ExtShortC1Pos,
			witness.ExtLongEvenC16Pos, witness.ExtLongEvenC1Pos,
			witness.ExtLongOddC16Pos, witness.ExtLongOddC1Pos,
		} {
			b := byteElem(row.Byte(pos))
			sum.Add(&sum, &b)
		}
		want := fr.Element{}
		if row.IsExtension() {
			want = elem(1)
		}
		if err := expectEq("extension shape flag sum", sum, want); err != nil {
			return err
		}

		if !row.IsExtension() {
			return nil
		}
		shape := row.ExtShape()
		if !extShapeMatches(shape, v.Row(ExtSInd)) {
			return fmt.Errorf("extension shape flag %s contradicts the key segment bytes", shape)
		}
		if shape.C16() != row.IsBranchC16() {
			return fmt.Errorf("extension shape parity disagrees with the branch key-half flag")
		}
		return nil
	})

	e.register("ext/zero-when-absent",
		onKinds(witness.KindExtensionS, witness.KindExtensionC),
		func(v *View) error {
			initRot := -ExtSInd
			if v.Row(0).Kind() == witness.KindExtensionC {
				initRot = -ExtCInd
			}
			if v.Row(initRot).IsExtension() {
				return nil
			}
			for _, b := range v.Row(0).Content() {
				if b != 0 {
					return fmt.Errorf("extension row carries bytes but the branch has no extension")
				}
			}
			return nil
		})

	e.register("ext/rlp-length", onKind(witness.KindExtensionS), func(v *View) error {
		row := v.Row(0)
		init := v.Row(-ExtSInd)
		if !init.IsExtension() {
			return nil
		}

		// length of the embedded branch reference: a 33-byte hashed item,
		// or the raw encoding when the branch fits inline
		branchLen := 33
		if row.CRLP2() != 160 {
			branchLen = int(row.CByte(0)) - 192 + 1
			if branchLen <= 0 {
				return fmt.Errorf("inline branch reference without a list header")
			}
		}

		switch {
		case row.SRLP2() <= 32:
			// one nibble, encoded directly as 16+nibble
			if row.SRLP2() < 16 {
				return fmt.Errorf("one-nibble segment byte %d below the odd hex prefix", row.SRLP2())
			}
			if int(row.SRLP1())-192 != 1+branchLen {
				return fmt.Errorf("list length %d does not cover one key byte plus the branch reference", row.SRLP1())
			}
		case row.SRLP1() < 248:
			keyEnc := 1 + int(row.SRLP2()) - 128
			if int(row.SRLP1())-192 != keyEnc+branchLen {
				return fmt.Errorf("list length %d does not cover the key segment plus the branch reference", row.SRLP1())
			}
			if init.Byte(witness.ExtLongerThan55SPos) != 0 {
				return fmt.Errorf("over-55 flag set on a short-form extension")
			}
		default:
			// payload above 55 bytes: two-byte list header
			if int(row.SRLP2()) != (int(row.SByte(0))-128)+1+branchLen {
				return fmt.Errorf("long list length %d does not cover the key segment plus the branch reference", row.SRLP2())
			}
			if init.Byte(witness.ExtLongerThan55SPos) != 1 {
				return fmt.Errorf("over-55 extension without its flag")
			}
		}
		return nil
	})

	e.register("ext/key-fold",
		onKinds(witness.KindExtensionS, witness.KindExtensionC),
		func(v *View) error {
			initRot := -ExtSInd
			if v.Row(0).Kind() == witness.KindExtensionC {
				initRot = -ExtCInd
			}
			if !v.Row(initRot).IsExtension() {
				return nil
			}
			row := v.Row(0)
			c := v.Cells(0)

			keyLen := extKeyLen(row)
			var one fr.Element
			one.SetOne()
			acc, mult := v.Folder().Fold(fr.Element{}, one, row.Content()[:keyLen])
			if err := expectEq("key segment fold", c.AccS, acc); err != nil {
				return err
			}
			if err := expectEq("key segment fold multiplier", c.AccMultS, mult); err != nil {
				return err
			}
			if !e.fixed.Contains(table.TagRMult, elem(uint64(keyLen)), c.MultDiff) {
				return fmt.Errorf("key segment multiplier jump is not r^%d", keyLen)
			}

			// the C row repeats the segment the S row fixed
			if v.Row(0).Kind() == witness.KindExtensionC {
				s := v.Row(-1)
				if !bytes.Equal(s.Content()[:keyLen], row.Content()[:keyLen]) {
					return fmt.Errorf("extension key segment differs between tries")
				}
			}

			// full node fold: the key segment plus the branch reference
			full, fullMult := acc, mult
			if row.CRLP2() == 160 {
				full, fullMult = v.Folder().Fold(full, fullMult, []byte{160})
				full, fullMult = v.Folder().Fold(full, fullMult, row.CBytes())
			} else {
				full, fullMult = v.Folder().Fold(full, fullMult, row.CBytes())
			}
			_ = fullMult
			return expectEq("extension node fold", c.AccC, full)
		})

	e.register("ext/branch-embed",
		onKinds(witness.KindExtensionS, witness.KindExtensionC),
		func(v *View) error {
			side := v.Row(0).Kind() == witness.KindExtensionS
			initRot := -ExtSInd
			if !side {
				initRot = -ExtCInd
			}
			init := v.Row(initRot)
			if !init.IsExtension() || sidePlaceholder(init, side) {
				return nil
			}
			row := v.Row(0)
			full := branchFullFold(v, initRot, side)

			if row.CRLP2() == 160 {
				if !v.Keccak().Contains(full, v.Folder().Of(row.CBytes())) {
					return fmt.Errorf("branch does not hash into its extension node")
				}
				return nil
			}
			// inline branch: the reference bytes are the encoding itself
			n, err := nodeBlobLen(row.CBytes())
			if err != nil {
				return fmt.Errorf("inline branch reference: %w", err)
			}
			return expectEq("inline branch encoding", v.Folder().Of(row.CBytes()[:n]), full)
		})

	e.register("ext/hash-in-parent",
		onKinds(witness.KindExtensionS, witness.KindExtensionC),
		func(v *View) error {
			side := v.Row(0).Kind() == witness.KindExtensionS
			initRot := -ExtSInd
			nonHashedPos := witness.ExtNonHashedSPos
			if !side {
				initRot = -ExtCInd
				nonHashedPos = witness.ExtNonHashedCPos
			}
			init := v.Row(initRot)
			if !init.IsExtension() || sidePlaceholder(init, side) {
				return nil
			}
			if init.Byte(nonHashedPos) == 1 {
				// embedded directly in the parent, no digest to check
				return nil
			}
			digest, ok := parentDigest(v, initRot, side)
			if !ok {
				return fmt.Errorf("extension node has no resolvable parent")
			}
			if !v.Keccak().Contains(v.Cells(0).AccC, digest) {
				return fmt.Errorf("extension node does not hash into its parent")
			}
			return nil
		})
}
