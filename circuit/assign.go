package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/table"
	"github.com/consensys/zkmpt/witness"
)

// proofValues is the accumulator state threaded through the sequential
// assignment fold. It is re-created at every detected first-level boundary
// and reset partially at the account/storage trie transition.
type proofValues struct {
	modifiedNode byte
	nodeIndex    byte
	driftedPos   byte

	accS     fr.Element
	accMultS fr.Element
	accC     fr.Element
	accMultC fr.Element

	keyRLC      fr.Element
	keyMult     fr.Element
	keyRLCPrev  fr.Element
	keyMultPrev fr.Element
	// keySel true: the next key nibble fills the high half of the
	// current key byte (weight 16); false: the low half (weight 1,
	// after which the byte multiplier advances).
	keySel bool
	// keySelPrev is keySel above the current branch block; keySelBranch
	// is keySel at the moment the block's branch consumed its nibble.
	keySelPrev   bool
	keySelBranch bool

	nibblesNumPrev int

	// extensionRLC/extensionMult snapshot the key state after the
	// extension segment of the current branch block, before the branch
	// consumes its own nibble.
	extensionRLC  fr.Element
	extensionMult fr.Element

	sModNode fr.Element
	cModNode fr.Element
	sNil     bool
	cNil     bool

	isBranchSPlaceholder bool
	isBranchCPlaceholder bool
	isExtension          bool

	rlpLenRemS int
	rlpLenRemC int
	nibblesNum int

	// account leaf payload accumulators carried between account rows
	nonceS   fr.Element
	balanceS fr.Element
}

func newProofValues() *proofValues {
	pv := &proofValues{keySel: true}
	pv.keyMult.SetOne()
	pv.keyMultPrev.SetOne()
	pv.extensionMult.SetOne()
	return pv
}

// resetKey clears the key accumulation state at the account/storage trie
// transition: the address is fully consumed, the storage key starts fresh.
func (pv *proofValues) resetKey() {
	pv.keyRLC.SetZero()
	pv.keyMult.SetOne()
	pv.keyRLCPrev.SetZero()
	pv.keyMultPrev.SetOne()
	pv.keySel = true
	pv.keySelPrev = true
	pv.nibblesNum = 0
	pv.nibblesNumPrev = 0
}

// absorbNibble folds one key nibble into the running key RLC, alternating
// the high/low weighting.
func (a *assigner) absorbNibble(pv *proofValues, n byte) {
	if pv.keySel {
		addTerm(&pv.keyRLC, uint64(n)*16, pv.keyMult)
	} else {
		addTerm(&pv.keyRLC, uint64(n), pv.keyMult)
		r := a.e.folder.R()
		pv.keyMult.Mul(&pv.keyMult, &r)
	}
	pv.keySel = !pv.keySel
	pv.nibblesNum++
}

type assigner struct {
	e  *Engine
	a  *Assignment
	pv *proofValues
}

// Assign runs the sequential witness-assignment fold over a trace,
// deriving every cell the registered gates check. It is the only stateful
// pass; gates never mutate anything.
//
// Assignment may fail only on structurally malformed input (a child row
// that is neither hashed nor nil, an inverse witness that cannot exist);
// such a trace has no satisfying assignment at all.
func (e *Engine) Assign(tr *witness.Trace) (*Assignment, error) {
	main := tr.Main()
	if len(main) == 0 {
		return nil, fmt.Errorf("circuit: trace has no main rows")
	}

	a := &Assignment{
		rows:       main,
		cells:      make([]Cells, len(main)),
		boundaries: witness.Boundaries(main),
		folder:     e.folder,
		keccak:     table.NewKeccak(e.folder),
	}
	for _, blob := range tr.HashOnly() {
		n, err := nodeBlobLen(blob)
		if err != nil {
			return nil, fmt.Errorf("circuit: hash blob: %w", err)
		}
		if n > len(blob) {
			return nil, fmt.Errorf("circuit: hash blob shorter than its header claims")
		}
		a.keccak.Add(blob[:n])
	}

	as := &assigner{e: e, a: a, pv: newProofValues()}

	for i := range main {
		if a.boundaries[i] {
			as.pv = newProofValues()
		}
		row := &main[i]
		c := &a.cells[i]

		// per-row folds of the trailing metadata
		c.RootS = e.folder.Of(row.SRoot())
		c.RootC = e.folder.Of(row.CRoot())
		c.AddressRLC = e.folder.Of(row.Address())

		var err error
		switch row.Kind() {
		case witness.KindInitBranch:
			err = as.assignBranchInit(i)
		case witness.KindBranchChild:
			err = as.assignBranchChild(i)
		case witness.KindExtensionS:
			err = as.assignExtension(i, true)
		case witness.KindExtensionC:
			err = as.assignExtension(i, false)
		case witness.KindAccountLeafKeyS:
			err = as.assignAccountLeafKey(i, true)
		case witness.KindAccountLeafKeyC:
			err = as.assignAccountLeafKey(i, false)
		case witness.KindAccountNonExisting:
			err = as.assignAccountNonExisting(i)
		case witness.KindAccountNonceBalanceS:
			err = as.assignAccountNonceBalance(i, true)
		case witness.KindAccountNonceBalanceC:
			err = as.assignAccountNonceBalance(i, false)
		case witness.KindAccountStorageCodehashS:
			err = as.assignAccountStorageCodehash(i, true)
		case witness.KindAccountStorageCodehashC:
			err = as.assignAccountStorageCodehash(i, false)
		case witness.KindAccountDrifted:
			err = as.assignAccountDrifted(i)
			// address consumed; the storage key starts fresh
			as.pv.resetKey()
		case witness.KindStorageLeafKeyS:
			err = as.assignStorageLeafKey(i, true)
		case witness.KindStorageLeafKeyC:
			err = as.assignStorageLeafKey(i, false)
		case witness.KindStorageLeafValueS:
			err = as.assignStorageLeafValue(i, true)
		case witness.KindStorageLeafValueC:
			err = as.assignStorageLeafValue(i, false)
		case witness.KindStorageDrifted:
			err = as.assignStorageDrifted(i)
		default:
			err = fmt.Errorf("unexpected row kind %s", row.Kind())
		}
		if err != nil {
			return nil, fmt.Errorf("circuit: row %d (%s): %w", i, row.Kind(), err)
		}
	}

	a.keccak.LogStats()
	return a, nil
}

func (as *assigner) assignBranchInit(i int) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	pv.isBranchSPlaceholder = row.IsBranchSPlaceholder()
	pv.isBranchCPlaceholder = row.IsBranchCPlaceholder()
	pv.modifiedNode = row.ModifiedNode()
	pv.driftedPos = row.DriftedPos()
	pv.isExtension = row.IsExtension()
	pv.nodeIndex = 0
	pv.sNil, pv.cNil = false, false

	// snapshot the key state above this level, used to resume past a
	// placeholder
	pv.keyRLCPrev = pv.keyRLC
	pv.keyMultPrev = pv.keyMult
	pv.keySelPrev = pv.keySel
	pv.nibblesNumPrev = pv.nibblesNum

	metaS, lenS := branchHeader(row, true)
	metaC, lenC := branchHeader(row, false)

	var one fr.Element
	one.SetOne()
	pv.accS, pv.accMultS = as.e.folder.Fold(fr.Element{}, one, metaS)
	pv.accC, pv.accMultC = as.e.folder.Fold(fr.Element{}, one, metaC)
	pv.rlpLenRemS = lenS
	pv.rlpLenRemC = lenC

	// key accumulation: the extension segment nibbles (if any) precede
	// the branch's own nibble
	if pv.isExtension {
		extS := as.a.Row(i + ExtSInd)
		for _, n := range extNibbles(extS) {
			as.absorbNibble(pv, n)
		}
	}
	pv.extensionRLC = pv.keyRLC
	pv.extensionMult = pv.keyMult
	pv.keySelBranch = pv.keySel
	as.absorbNibble(pv, pv.modifiedNode)

	c.AccS, c.AccMultS = pv.accS, pv.accMultS
	c.AccC, c.AccMultC = pv.accC, pv.accMultC
	c.RLPLenRemS, c.RLPLenRemC = pv.rlpLenRemS, pv.rlpLenRemC
	c.NibblesNum = pv.nibblesNum
	c.KeyRLC, c.KeyMult = pv.keyRLC, pv.keyMult
	c.KeyRLCPrev, c.KeyMultPrev = pv.keyRLCPrev, pv.keyMultPrev
	return nil
}

func (as *assigner) assignBranchChild(i int) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	foldChild := func(rlp2, b0 byte, bytes []byte, acc, mult *fr.Element, rem *int) (bool, error) {
		switch childShapeOf(rlp2, b0) {
		case childHashed:
			*acc, *mult = as.e.folder.Fold(*acc, *mult, append([]byte{160}, bytes...))
			*rem -= 33
			return false, nil
		case childNil:
			*acc, *mult = as.e.folder.Fold(*acc, *mult, []byte{witness.NilChildMarker})
			*rem -= 1
			return true, nil
		default:
			return false, fmt.Errorf("branch child %d is neither hashed nor nil", pv.nodeIndex)
		}
	}

	sNil, err := foldChild(row.SRLP2(), row.SByte(0), row.SBytes(), &pv.accS, &pv.accMultS, &pv.rlpLenRemS)
	if err != nil {
		return err
	}
	cNil, err := foldChild(row.CRLP2(), row.CByte(0), row.CBytes(), &pv.accC, &pv.accMultC, &pv.rlpLenRemC)
	if err != nil {
		return err
	}

	if pv.nodeIndex == pv.modifiedNode {
		pv.sModNode = as.e.folder.Of(row.SBytes())
		pv.cModNode = as.e.folder.Of(row.CBytes())
		pv.sNil = sNil
		pv.cNil = cNil
	}

	c.AccS, c.AccMultS = pv.accS, pv.accMultS
	c.AccC, c.AccMultC = pv.accC, pv.accMultC
	c.RLPLenRemS, c.RLPLenRemC = pv.rlpLenRemS, pv.rlpLenRemC
	c.NibblesNum = pv.nibblesNum
	c.KeyRLC, c.KeyMult = pv.keyRLC, pv.keyMult
	c.KeyRLCPrev, c.KeyMultPrev = pv.keyRLCPrev, pv.keyMultPrev

	pv.nodeIndex++
	return nil
}

// assignExtension assigns one extension row. The S row carries the key
// segment shared by both sides; each row's C payload carries that side's
// embedded branch reference.
func (as *assigner) assignExtension(i int, s bool) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	if pv.isExtension {
		keyLen := extKeyLen(row)
		var one fr.Element
		one.SetOne()
		keyFold, keyMult := as.e.folder.Fold(fr.Element{}, one, row.Content()[:keyLen])

		full, fullMult := keyFold, keyMult
		if row.CRLP2() == 160 {
			// hashed embedded branch: fold 160 plus the digest
			full, fullMult = as.e.folder.Fold(full, fullMult, row.Content()[witness.CRLPStart+1:witness.CRLPStart+2+witness.HashWidth])
		} else {
			full, fullMult = as.e.folder.Fold(full, fullMult, row.CBytes())
		}
		_ = fullMult

		c.AccS, c.AccMultS = keyFold, keyMult
		c.AccC = full
		c.MultDiff = as.e.folder.Power(keyLen)
		c.KeyRLC, c.KeyMult = pv.extensionRLC, pv.extensionMult
	}

	c.SModRLC = pv.sModNode
	c.CModRLC = pv.cModNode
	c.NibblesNum = pv.nibblesNum
	c.KeyRLCPrev, c.KeyMultPrev = pv.keyRLCPrev, pv.keyMultPrev

	if !s {
		// end of the branch block: backfill the cells that are only
		// known once the modified child has been seen
		init := i - ExtCInd
		for j := init; j < i; j++ {
			bc := as.a.CellsAt(j)
			bc.SModRLC = pv.sModNode
			bc.CModRLC = pv.cModNode
			if pv.sNil {
				bc.Sel1.SetOne()
			}
			if pv.cNil {
				bc.Sel2.SetOne()
			}
		}
		if pv.sNil {
			c.Sel1.SetOne()
		}
		if pv.cNil {
			c.Sel2.SetOne()
		}
	}
	return nil
}
