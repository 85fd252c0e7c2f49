package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/witness"
)

// Leaf-row assignment. Account and storage leaves share the same overall
// structure: a key row opening the node fold and fixing the key RLC, body
// rows continuing the fold, and an optional drifted row describing the
// neighbour leaf a branch insertion or deletion displaced.

// branchAbove reports whether the block starting at row index start hangs
// under a branch, i.e. the previous row closes a branch block of the same
// proof.
func (as *assigner) branchAbove(start int) bool {
	if start <= 0 || as.a.boundaries[start] {
		return false
	}
	return as.a.Row(start-1).Kind() == witness.KindExtensionC
}

// leafKeyBase picks the key accumulation state a leaf on the given side
// resumes from: the running state, or the state above the branch when that
// branch is a placeholder on this side (the leaf then actually sits one
// level up).
func (as *assigner) leafKeyBase(start int, s bool) (fr.Element, fr.Element, bool, int) {
	pv := as.pv
	if as.branchAbove(start) {
		if (s && pv.isBranchSPlaceholder) || (!s && pv.isBranchCPlaceholder) {
			return pv.keyRLCPrev, pv.keyMultPrev, pv.keySelPrev, pv.nibblesNumPrev
		}
	}
	return pv.keyRLC, pv.keyMult, pv.keySel, pv.nibblesNum
}

func (as *assigner) leafKeyRLC(acc, mult fr.Element, sel bool, keyBytes []byte) fr.Element {
	return keyRLCExtend(as.e.folder, acc, mult, sel, keyBytes)
}

func (as *assigner) assignAccountLeafKey(i int, s bool) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	if row.SRLP1() == 0 && row.SRLP2() == 0 {
		// nil-object non-existence proof: no leaf to fold
		return nil
	}

	keyLen := int(row.SByte(0)) - 128
	if keyLen < 0 || keyLen > witness.HashWidth+1 {
		return fmt.Errorf("account leaf key length %d out of range", keyLen)
	}
	var one fr.Element
	one.SetOne()
	c.AccS, c.AccMultS = as.e.folder.Fold(fr.Element{}, one, row.Content()[:3+keyLen])
	if s {
		pv.accS, pv.accMultS = c.AccS, c.AccMultS
	} else {
		pv.accC, pv.accMultC = c.AccS, c.AccMultS
	}

	start := i - AccountKeySInd
	if !s {
		start = i - AccountKeyCInd
	}
	baseRLC, baseMult, sel, nibbles := as.leafKeyBase(start, s)
	keyBytes := row.Content()[3 : 3+keyLen]
	c.KeyRLC = as.leafKeyRLC(baseRLC, baseMult, sel, keyBytes)
	c.KeyRLCPrev, c.KeyMultPrev = pv.keyRLCPrev, pv.keyMultPrev
	c.NibblesNum = nibbles

	// long-value flags for the nonce/balance row of this side
	if i+3 >= as.a.Len() {
		return fmt.Errorf("account leaf block truncated")
	}
	nb := as.a.Row(i + 3)
	if nb.SByte(0) > 128 {
		c.Sel1.SetOne()
	}
	if nb.CByte(0) > 128 {
		c.Sel2.SetOne()
	}
	return nil
}

// assignAccountNonExisting assigns the non-existence row: key-suffix sums
// of the enquired address and of the wrong leaf the path ends at, plus the
// inverse witnessing that the two differ.
func (as *assigner) assignAccountNonExisting(i int) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)
	prev := as.a.Row(i - 1)

	keyLen := int(prev.SByte(0)) - 128
	if keyLen < 0 {
		// nil-object form: the branch already proves the absence
		return nil
	}

	r := as.e.folder.R()
	mult := r
	var sum, sumPrev fr.Element
	for j := 0; j < keyLen; j++ {
		addTerm(&sum, uint64(row.Byte(3+j)), mult)
		addTerm(&sumPrev, uint64(prev.Byte(3+j)), mult)
		mult.Mul(&mult, &r)
	}
	c.Sum, c.SumPrev = sum, sumPrev

	if row.SRLP1() == 1 {
		var diff fr.Element
		diff.Sub(&sum, &sumPrev)
		if diff.IsZero() {
			return fmt.Errorf("wrong-leaf non-existence row repeats the leaf key")
		}
		c.DiffInv.Inverse(&diff)
	}

	// the enquired address folded from the same state the leaf resumed at
	c.KeyRLC = as.leafKeyRLC(pv.keyRLC, pv.keyMult, pv.keySel, row.Content()[3:3+keyLen])
	return nil
}

// nonceBalanceLens decodes the encoded lengths of the nonce and balance
// fields of a nonce/balance row.
func nonceBalanceLens(row *witness.Row) (nonceLen, balanceLen int) {
	nonceLen, balanceLen = 1, 1
	if row.SByte(0) > 128 {
		nonceLen += int(row.SByte(0)) - 128
	}
	if row.CByte(0) > 128 {
		balanceLen += int(row.CByte(0)) - 128
	}
	return nonceLen, balanceLen
}

func (as *assigner) assignAccountNonceBalance(i int, s bool) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)
	key := as.a.CellsAt(i - 3)

	if zeroRow(as.a.Row(i - 3)) {
		return nil
	}

	nonceLen, balanceLen := nonceBalanceLens(row)
	if nonceLen > 1+witness.HashWidth || balanceLen > 1+witness.HashWidth {
		return fmt.Errorf("nonce/balance length out of range")
	}

	// the wire stream interleaves four RLP bytes with the two values
	acc, mult := as.e.folder.Fold(key.AccS, key.AccMultS,
		[]byte{row.SRLP1(), row.SRLP2(), row.CRLP1(), row.CRLP2()})
	acc, mult = as.e.folder.Fold(acc, mult, row.SBytes()[:nonceLen])
	c.AccMultC = mult // multiplier state between nonce and balance
	acc, mult = as.e.folder.Fold(acc, mult, row.CBytes()[:balanceLen])
	c.AccS, c.AccMultS = acc, mult
	if s {
		pv.accS, pv.accMultS = acc, mult
	} else {
		pv.accC, pv.accMultC = acc, mult
	}

	if nonceLen > 1 {
		c.SModRLC = as.e.folder.Of(row.SBytes()[1:nonceLen])
	} else {
		c.SModRLC = as.e.folder.Of(row.SBytes()[:1])
	}
	if balanceLen > 1 {
		c.CModRLC = as.e.folder.Of(row.CBytes()[1:balanceLen])
	} else {
		c.CModRLC = as.e.folder.Of(row.CBytes()[:1])
	}
	c.MultDiffNonce = as.e.folder.Power(4 + nonceLen)
	c.MultDiffBalance = as.e.folder.Power(balanceLen)

	if s {
		pv.nonceS, pv.balanceS = c.SModRLC, c.CModRLC
	} else {
		// the C row repeats the S-side values so a nonce modification
		// can assert the balance unchanged and vice versa
		c.Sel1 = pv.nonceS
		c.Sel2 = pv.balanceS
	}
	return nil
}

func (as *assigner) assignAccountStorageCodehash(i int, s bool) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)
	prev := as.a.CellsAt(i - 2)

	if zeroRow(as.a.Row(i - 5)) {
		return nil
	}

	stream := make([]byte, 0, 2+2*witness.HashWidth)
	stream = append(stream, row.SRLP2())
	stream = append(stream, row.SBytes()...)
	stream = append(stream, row.CRLP2())
	stream = append(stream, row.CBytes()...)
	c.AccS, c.AccMultS = as.e.folder.Fold(prev.AccS, prev.AccMultS, stream)
	if s {
		pv.accS, pv.accMultS = c.AccS, c.AccMultS
	} else {
		pv.accC, pv.accMultC = c.AccS, c.AccMultS
	}

	c.SModRLC = as.e.folder.Of(row.SBytes())
	c.CModRLC = as.e.folder.Of(row.CBytes())
	return nil
}

// driftedKeyRLC computes the key RLC of a displaced leaf: the state above
// the placeholder branch, the nibble the real branch consumes at the
// drifted position, then the leaf's residual key bytes.
func (as *assigner) driftedKeyRLC(keyBytes []byte) fr.Element {
	pv := as.pv
	acc, mult, sel := pv.extensionRLC, pv.extensionMult, pv.keySelBranch
	if sel {
		addTerm(&acc, uint64(pv.driftedPos)*16, mult)
	} else {
		addTerm(&acc, uint64(pv.driftedPos), mult)
		r := as.e.folder.R()
		mult.Mul(&mult, &r)
	}
	return as.leafKeyRLC(acc, mult, !sel, keyBytes)
}

func (as *assigner) assignAccountDrifted(i int) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	if row.SRLP1() == 0 && row.SRLP2() == 0 {
		// no drift accompanies this modification
		return nil
	}
	keyLen := int(row.SByte(0)) - 128
	if keyLen < 0 || keyLen > witness.HashWidth+1 {
		return fmt.Errorf("drifted account key length %d out of range", keyLen)
	}

	var one fr.Element
	one.SetOne()
	acc, mult := as.e.folder.Fold(fr.Element{}, one, row.Content()[:3+keyLen])

	// the drifted leaf keeps the payload recorded on the placeholder side
	start := i - AccountDriftedInd
	nbInd, schInd := AccountNonceBalanceSInd, AccountStorageSInd
	if pv.isBranchCPlaceholder {
		nbInd, schInd = AccountNonceBalanceCInd, AccountStorageCInd
	}
	nb := as.a.Row(start + nbInd)
	nonceLen, balanceLen := nonceBalanceLens(nb)
	acc, mult = as.e.folder.Fold(acc, mult,
		[]byte{nb.SRLP1(), nb.SRLP2(), nb.CRLP1(), nb.CRLP2()})
	acc, mult = as.e.folder.Fold(acc, mult, nb.SBytes()[:nonceLen])
	acc, mult = as.e.folder.Fold(acc, mult, nb.CBytes()[:balanceLen])

	sch := as.a.Row(start + schInd)
	stream := make([]byte, 0, 2+2*witness.HashWidth)
	stream = append(stream, sch.SRLP2())
	stream = append(stream, sch.SBytes()...)
	stream = append(stream, sch.CRLP2())
	stream = append(stream, sch.CBytes()...)
	acc, mult = as.e.folder.Fold(acc, mult, stream)

	c.AccS, c.AccMultS = acc, mult
	c.KeyRLC = as.driftedKeyRLC(row.Content()[3 : 3+keyLen])
	return nil
}

// storageLeafKeyBytes returns the residual key bytes of a storage leaf key
// row, starting at the hex-prefix byte.
func storageLeafKeyBytes(row *witness.Row) []byte {
	switch storageLeafShapeOf(row) {
	case leafLong:
		return row.Content()[3 : 3+int(row.SByte(0))-128]
	case leafShort:
		return row.Content()[2 : 2+int(row.SRLP2())-128]
	default:
		// last level or one nibble: a single byte after rlp1
		return row.Content()[1:2]
	}
}

func (as *assigner) assignStorageLeafKey(i int, s bool) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	if zeroRow(row) {
		return nil
	}

	shape := storageLeafShapeOf(row)
	// shape flag pair: long (1,0), short (0,1), last level (1,1),
	// one nibble (0,0)
	if shape == leafLong || shape == leafLastLevel {
		c.SModRLC.SetOne()
	}
	if shape == leafShort || shape == leafLastLevel {
		c.CModRLC.SetOne()
	}

	keyLen := storageLeafKeyLen(row)
	if keyLen > witness.ContentWidth {
		return fmt.Errorf("storage leaf key length %d out of range", keyLen)
	}
	var one fr.Element
	one.SetOne()
	c.AccS, c.AccMultS = as.e.folder.Fold(fr.Element{}, one, row.Content()[:keyLen])
	if s {
		pv.accS, pv.accMultS = c.AccS, c.AccMultS
	} else {
		pv.accC, pv.accMultC = c.AccS, c.AccMultS
	}
	c.MultDiff = as.e.folder.Power(keyLen)

	start := i - StorageKeySInd
	if !s {
		start = i - StorageKeyCInd
	}
	baseRLC, baseMult, sel, nibbles := as.leafKeyBase(start, s)
	keyBytes := storageLeafKeyBytes(row)
	c.KeyRLC = as.leafKeyRLC(baseRLC, baseMult, sel, keyBytes)
	c.KeyRLCPrev, c.KeyMultPrev = pv.keyRLCPrev, pv.keyMultPrev
	c.NibblesNum = nibbles
	return nil
}

// placeholderStorageLeaf reports whether the leaf block starting at start
// stands in for an absent value on the given side: the branch above holds
// nil at the modified position, or no branch precedes the block and the key
// row is empty (the account's storage trie misses the slot entirely).
func (as *assigner) placeholderStorageLeaf(start int, s bool) bool {
	pv := as.pv
	if as.branchAbove(start) {
		if s {
			return pv.sNil
		}
		return pv.cNil
	}
	keyInd := StorageKeySInd
	if !s {
		keyInd = StorageKeyCInd
	}
	key := as.a.Row(start + keyInd)
	return key.SRLP1() == 0 && key.SRLP2() == 0
}

func (as *assigner) assignStorageLeafValue(i int, s bool) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)
	key := as.a.CellsAt(i - 1)

	if zeroRow(as.a.Row(i - 1)) {
		return nil
	}

	vLen := valueLen(row.SRLP1())
	if vLen > witness.ContentWidth {
		return fmt.Errorf("storage value length %d out of range", vLen)
	}
	c.AccS, c.AccMultS = as.e.folder.Fold(key.AccS, key.AccMultS, row.Content()[:vLen])
	if s {
		pv.accS, pv.accMultS = c.AccS, c.AccMultS
	} else {
		pv.accC, pv.accMultC = c.AccS, c.AccMultS
	}

	if row.SRLP1() < 128 {
		c.SModRLC = as.e.folder.Of(row.Content()[:1])
	} else {
		c.SModRLC = as.e.folder.Of(row.Content()[1:vLen])
	}

	start := i - StorageValueSInd
	if !s {
		start = i - StorageValueCInd
	}
	if as.placeholderStorageLeaf(start, s) {
		if s {
			c.Sel1.SetOne()
		} else {
			c.Sel2.SetOne()
		}
	}
	return nil
}

func (as *assigner) assignStorageDrifted(i int) error {
	row := as.a.Row(i)
	pv := as.pv
	c := as.a.CellsAt(i)

	if row.SRLP1() == 0 && row.SRLP2() == 0 {
		return nil
	}
	keyLen := storageLeafKeyLen(row)
	if keyLen > witness.ContentWidth {
		return fmt.Errorf("drifted storage key length %d out of range", keyLen)
	}

	var one fr.Element
	one.SetOne()
	acc, mult := as.e.folder.Fold(fr.Element{}, one, row.Content()[:keyLen])

	// the drifted leaf keeps the value recorded on the placeholder side
	start := i - StorageDriftedInd
	valInd := StorageValueSInd
	if pv.isBranchCPlaceholder {
		valInd = StorageValueCInd
	}
	val := as.a.Row(start + valInd)
	acc, mult = as.e.folder.Fold(acc, mult, val.Content()[:valueLen(val.SRLP1())])

	c.AccS, c.AccMultS = acc, mult
	c.KeyRLC = as.driftedKeyRLC(storageLeafKeyBytes(row))
	return nil
}
