package witgen

import (
	"bytes"
	"fmt"

	"github.com/consensys/zkmpt/witness"
)

// Proof describes one state modification to emit a row-block pair for.
// Before and After hold the account trie on each side; for a storage
// modification the storage trie pair is walked after the account blocks,
// and its roots must match the storage roots the two account leaves carry.
type Proof struct {
	Before, After *Trie
	Address       [32]byte
	Mod           witness.ModFlag

	StorageBefore, StorageAfter *Trie
	StorageKey                  [32]byte
}

// Generate emits a chained witness trace for a sequence of proofs,
// together with the node encodings the hash lookups need.
func Generate(proofs ...Proof) (*witness.Trace, error) {
	g := &gen{}
	for i, p := range proofs {
		if err := g.proof(uint32(i), p); err != nil {
			return nil, fmt.Errorf("witgen: proof %d: %w", i, err)
		}
	}
	return witness.FromParts(g.rows, g.blobs), nil
}

type gen struct {
	rows  []witness.Row
	blobs [][]byte

	// metadata stamped on every row of the current proof
	sRoot, cRoot, addr [32]byte
	counter            uint32
	mod                witness.ModFlag

	// node blocks emitted so far for the current proof
	level int
}

func (g *gen) proof(i uint32, p Proof) error {
	if p.Before == nil || p.After == nil {
		return fmt.Errorf("both trie sides are required")
	}
	g.counter, g.mod, g.addr = i, p.Mod, p.Address
	g.sRoot, g.cRoot = p.Before.Hash(), p.After.Hash()
	g.level = 0

	if err := g.walk(p.Before.root, p.After.root, Nibbles(p.Address), true, &p); err != nil {
		return err
	}
	if p.Mod == witness.ModStorage {
		if p.StorageBefore == nil || p.StorageAfter == nil {
			return fmt.Errorf("storage modification without storage tries")
		}
		return g.walk(p.StorageBefore.root, p.StorageAfter.root, Nibbles(p.StorageKey), false, &p)
	}
	return nil
}

// row starts a row of the given kind with the proof metadata stamped.
func (g *gen) row(k witness.Kind) witness.Row {
	var r witness.Row
	r.SetKind(k)
	r.SetSRoot(g.sRoot[:])
	r.SetCRoot(g.cRoot[:])
	r.SetAddress(g.addr[:])
	r.SetCounter(g.counter)
	r.SetMod(g.mod)
	r.SetNotFirstLevel(g.level > 0)
	return r
}

func (g *gen) push(rows ...witness.Row) { g.rows = append(g.rows, rows...) }
func (g *gen) blob(enc []byte)          { g.blobs = append(g.blobs, enc) }

// walk descends both tries along the modified path, emitting one block
// per level. The two sides stay structurally aligned except at the
// modification point, where an insertion or deletion may have reshaped a
// leaf into a branch; the shorter side then gets a placeholder.
func (g *gen) walk(s, c node, path []byte, acct bool, p *Proof) error {
	switch sn := s.(type) {
	case *branchNode:
		switch cn := c.(type) {
		case *branchNode:
			if err := g.emitBranch(sn, cn, nil, 64-len(path), path[0], 0, false, false); err != nil {
				return err
			}
			return g.walk(sn.kids[path[0]], cn.kids[path[0]], path[1:], acct, p)
		case *leafNode:
			// a deletion collapsed the branch on the C side
			return g.emitDrift(sn, nil, cn, path, acct, true, p)
		}
	case *extNode:
		switch cn := c.(type) {
		case *extNode:
			if !bytes.Equal(sn.key, cn.key) {
				return fmt.Errorf("extension segments diverge between tries")
			}
			n := len(sn.key)
			if len(path) < n+1 || !bytes.Equal(sn.key, path[:n]) {
				return fmt.Errorf("extension segment off the modified path")
			}
			if err := g.emitBranch(sn.child, cn.child, sn, 64-len(path), path[n], 0, false, false); err != nil {
				return err
			}
			return g.walk(sn.child.kids[path[n]], cn.child.kids[path[n]], path[n+1:], acct, p)
		case *leafNode:
			return g.emitDrift(sn.child, sn, cn, path, acct, true, p)
		}
	case *leafNode:
		switch cn := c.(type) {
		case *leafNode:
			return g.emitLeaf(sn, cn, path, acct, drift{}, p)
		case *branchNode:
			// an insertion reshaped the leaf into a branch on the C side
			return g.emitDrift(cn, nil, sn, path, acct, false, p)
		case *extNode:
			return g.emitDrift(cn.child, cn, sn, path, acct, false, p)
		case nil:
			return g.emitLeaf(sn, nil, path, acct, drift{}, p)
		}
	case nil:
		switch cn := c.(type) {
		case *leafNode:
			return g.emitLeaf(nil, cn, path, acct, drift{}, p)
		case nil:
			if acct && g.mod == witness.ModNonExisting {
				return g.emitNilNonExisting()
			}
		}
	}
	return fmt.Errorf("unsupported node pairing on the modified path")
}

// setBranchHeader records a branch list header in an init row: the
// two-or-three-byte indicator plus the header bytes themselves.
func setBranchHeader(r *witness.Row, enc []byte, s bool) error {
	indTwo, indThree, metaOff := 0, 1, witness.BranchSStart
	if !s {
		indTwo, indThree, metaOff = 2, 3, witness.BranchCStart
	}
	switch enc[0] {
	case 248:
		r[indTwo] = 1
		copy(r[metaOff:metaOff+2], enc[:2])
	case 249:
		r[indThree] = 1
		copy(r[metaOff:metaOff+3], enc[:3])
	default:
		return fmt.Errorf("branch list header %d outside the supported forms", enc[0])
	}
	return nil
}

// setChild records one side of a branch child row: a hashed reference or
// the nil marker.
func setChild(r *witness.Row, n node, s bool) {
	rlpOff, payOff := 1, witness.SStart
	if !s {
		rlpOff, payOff = witness.CRLPStart+1, witness.CStart
	}
	if n == nil {
		r[payOff] = witness.NilChildMarker
		return
	}
	r[rlpOff] = 160
	copy(r[payOff:payOff+witness.HashWidth], ref(n))
}

// extEncoding assembles the encoding of an extension segment pointing at
// the given branch.
func extEncoding(key []byte, b *branchNode) []byte {
	return encodeList(encodeItem(compactKey(key, false)), encodeItem(ref(b)))
}

// emitBranch emits one 19-row branch block: the init row, sixteen child
// rows and the two extension rows (zeroed when no extension precedes the
// branch). depth is the number of path nibbles consumed above the block.
func (g *gen) emitBranch(sb, cb *branchNode, ext *extNode, depth int, mod, drifted byte, phS, phC bool) error {
	sEnc, cEnc := encodeNode(sb), encodeNode(cb)

	init := g.row(witness.KindInitBranch)
	if err := setBranchHeader(&init, sEnc, true); err != nil {
		return err
	}
	if err := setBranchHeader(&init, cEnc, false); err != nil {
		return err
	}
	init[witness.KeyPos] = mod
	init[witness.DriftedPosPos] = drifted
	if phS {
		init[witness.SPlaceholderPos] = 1
	}
	if phC {
		init[witness.CPlaceholderPos] = 1
	}

	extN := 0
	if ext != nil {
		extN = len(ext.key)
	}
	c16 := (depth+extN)%2 == 0
	if c16 {
		init[witness.BranchC16Pos] = 1
	} else {
		init[witness.BranchC1Pos] = 1
	}

	var sExtEnc, cExtEnc []byte
	if extN > 0 {
		init[witness.IsExtensionPos] = 1
		switch {
		case extN == 1 && c16:
			init[witness.ExtShortC16Pos] = 1
		case extN == 1:
			init[witness.ExtShortC1Pos] = 1
		case extN%2 == 0 && c16:
			init[witness.ExtLongEvenC16Pos] = 1
		case extN%2 == 0:
			init[witness.ExtLongEvenC1Pos] = 1
		case c16:
			init[witness.ExtLongOddC16Pos] = 1
		default:
			init[witness.ExtLongOddC1Pos] = 1
		}
		sExtEnc = extEncoding(ext.key, sb)
		cExtEnc = extEncoding(ext.key, cb)
		if sExtEnc[0] == 248 {
			init[witness.ExtLongerThan55SPos] = 1
		}
		if cExtEnc[0] == 248 {
			init[witness.ExtLongerThan55CPos] = 1
		}
	}
	g.push(init)

	for i := 0; i < 16; i++ {
		r := g.row(witness.KindBranchChild)
		setChild(&r, sb.kids[i], true)
		setChild(&r, cb.kids[i], false)
		g.push(r)
	}

	extS := g.row(witness.KindExtensionS)
	extC := g.row(witness.KindExtensionC)
	if extN > 0 {
		keyPart := sExtEnc[:len(sExtEnc)-1-witness.HashWidth]
		if len(keyPart) > witness.CRLPStart {
			return fmt.Errorf("extension key segment of %d bytes does not fit a row", len(keyPart))
		}
		copy(extS[:], keyPart)
		extS[witness.CRLPStart+1] = 160
		copy(extS[witness.CStart:witness.CStart+witness.HashWidth], ref(sb))
		copy(extC[:], keyPart)
		extC[witness.CRLPStart+1] = 160
		copy(extC[witness.CStart:witness.CStart+witness.HashWidth], ref(cb))
	}
	g.push(extS, extC)

	if !phS {
		g.blob(sEnc)
		if extN > 0 {
			g.blob(sExtEnc)
		}
	}
	if !phC {
		g.blob(cEnc)
		if extN > 0 {
			g.blob(cExtEnc)
		}
	}
	g.level++
	return nil
}

// drift carries the displaced-neighbour context into a leaf block when an
// insertion or deletion reshaped the level above it.
type drift struct {
	leaf *leafNode // neighbour leaf at its deeper position, nil without reshaping
	phS  bool      // the placeholder branch sits on the S side
}

// emitDrift handles a level where one side holds a branch (optionally
// behind an extension) and the other still holds a leaf: an insertion
// when the branch is on the C side (sReal false), a deletion when it is
// on the S side. The leaf side gets a placeholder branch mirroring the
// real one, with the displaced leaf's reference at the modified position.
func (g *gen) emitDrift(br *branchNode, ext *extNode, upper *leafNode, path []byte, acct bool, sReal bool, p *Proof) error {
	extN := 0
	if ext != nil {
		extN = len(ext.key)
		if len(path) < extN+1 || !bytes.Equal(ext.key, path[:extN]) {
			return fmt.Errorf("extension segment off the modified path")
		}
		if len(upper.key) < extN+1 || !bytes.Equal(upper.key[:extN], ext.key) {
			return fmt.Errorf("displaced leaf does not share the extension segment")
		}
	}
	mod, driftedPos := path[extN], upper.key[extN]
	if mod == driftedPos {
		return fmt.Errorf("displaced leaf does not branch off the modified path")
	}
	modLeaf, ok := br.kids[mod].(*leafNode)
	if !ok {
		return fmt.Errorf("modified child of the reshaped branch is not a leaf")
	}
	driftedLeaf, ok := br.kids[driftedPos].(*leafNode)
	if !ok {
		return fmt.Errorf("displaced child of the reshaped branch is not a leaf")
	}
	if !bytes.Equal(modLeaf.key, path[extN+1:]) {
		return fmt.Errorf("modified leaf key disagrees with the path")
	}
	if !bytes.Equal(driftedLeaf.key, upper.key[extN+1:]) {
		return fmt.Errorf("displaced leaf key disagrees with its branch position")
	}

	ph := &branchNode{kids: br.kids}
	ph.kids[mod] = upper

	depth := 64 - len(path)
	var err error
	if sReal {
		err = g.emitBranch(br, ph, ext, depth, mod, driftedPos, false, true)
	} else {
		err = g.emitBranch(ph, br, ext, depth, mod, driftedPos, true, false)
	}
	if err != nil {
		return err
	}

	sLeaf, cLeaf := modLeaf, upper
	if !sReal {
		sLeaf, cLeaf = upper, modLeaf
	}
	return g.emitLeaf(sLeaf, cLeaf, path[extN+1:], acct, drift{leaf: driftedLeaf, phS: !sReal}, p)
}

func (g *gen) emitLeaf(s, c *leafNode, path []byte, acct bool, d drift, p *Proof) error {
	if acct {
		return g.emitAccountBlock(s, c, path, d, p)
	}
	return g.emitStorageBlock(s, c, path, d)
}

// itemLen returns the encoded length of a short RLP string item from its
// first byte.
func itemLen(prefix byte) (int, error) {
	if prefix <= 128 {
		return 1, nil
	}
	if prefix <= 183 {
		return 1 + int(prefix) - 128, nil
	}
	return 0, fmt.Errorf("long string item where a short one is expected")
}

// acctLayout splits an account leaf encoding into the pieces the three
// row pairs of an account block carry.
type acctLayout struct {
	keyPart    []byte // list header, key item prefix and residual key bytes
	nbRLP      [4]byte
	nonce      []byte // encoded nonce item
	balance    []byte // encoded balance item
	root, code []byte
	enc        []byte
}

func accountLayout(l *leafNode) (*acctLayout, error) {
	compact := compactKey(l.key, true)
	keyItem := encodeItem(compact)
	valItem := encodeItem(l.val)
	enc := encodeList(keyItem, valItem)
	if enc[0] != 248 || keyItem[0] <= 128 || valItem[0] != 184 {
		return nil, fmt.Errorf("account leaf of %d key bytes has an unsupported shape", len(compact))
	}

	v := l.val
	if len(v) < 4 || v[0] != 248 {
		return nil, fmt.Errorf("account payload is not a long RLP list")
	}
	i := 2
	nonceLen, err := itemLen(v[i])
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	nonce := v[i : i+nonceLen]
	i += nonceLen
	balanceLen, err := itemLen(v[i])
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	balance := v[i : i+balanceLen]
	i += balanceLen
	if len(v) != i+66 || v[i] != 160 || v[i+33] != 160 {
		return nil, fmt.Errorf("account payload does not end with two hashed fields")
	}

	return &acctLayout{
		keyPart: enc[:3+len(compact)],
		nbRLP:   [4]byte{valItem[0], valItem[1], v[0], v[1]},
		nonce:   nonce,
		balance: balance,
		root:    v[i+1 : i+33],
		code:    v[i+34 : i+66],
		enc:     enc,
	}, nil
}

func (g *gen) emitAccountBlock(s, c *leafNode, path []byte, d drift, p *Proof) error {
	// a missing side over a branch copies the other side's rows; a
	// missing side at the trie top stays zeroed
	zeroS, zeroC := false, false
	sSrc, cSrc := s, c
	if s == nil {
		if len(path) == 64 {
			zeroS = true
		} else {
			sSrc = c
		}
	}
	if c == nil {
		if len(path) == 64 {
			zeroC = true
		} else {
			cSrc = s
		}
	}

	wrong := false
	if d.leaf == nil && s != nil && c != nil {
		sOff, cOff := !bytes.Equal(s.key, path), !bytes.Equal(c.key, path)
		if sOff || cOff {
			if g.mod != witness.ModNonExisting || !bytes.Equal(s.key, c.key) {
				return fmt.Errorf("account leaf key disagrees with the address path")
			}
			wrong = true
		}
	}

	var sL, cL *acctLayout
	var err error
	if !zeroS {
		if sL, err = accountLayout(sSrc); err != nil {
			return fmt.Errorf("S account leaf: %w", err)
		}
	}
	if !zeroC {
		if cL, err = accountLayout(cSrc); err != nil {
			return fmt.Errorf("C account leaf: %w", err)
		}
	}
	if p != nil && g.mod == witness.ModStorage {
		if sL != nil && p.StorageBefore != nil {
			if h := p.StorageBefore.Hash(); !bytes.Equal(sL.root, h[:]) {
				return fmt.Errorf("account storage root disagrees with the before storage trie")
			}
		}
		if cL != nil && p.StorageAfter != nil {
			if h := p.StorageAfter.Hash(); !bytes.Equal(cL.root, h[:]) {
				return fmt.Errorf("account storage root disagrees with the after storage trie")
			}
		}
	}

	keyS := g.row(witness.KindAccountLeafKeyS)
	keyC := g.row(witness.KindAccountLeafKeyC)
	if sL != nil {
		copy(keyS[:], sL.keyPart)
	}
	if cL != nil {
		copy(keyC[:], cL.keyPart)
	}

	ne := g.row(witness.KindAccountNonExisting)
	if wrong {
		enquired := compactKey(path, true)
		if len(enquired) != len(sL.keyPart)-3 {
			return fmt.Errorf("enquired key and wrong-leaf key encode to different lengths")
		}
		ne[0] = 1
		ne[2] = 128 + byte(len(enquired))
		copy(ne[3:], enquired)
	}

	nbS := g.row(witness.KindAccountNonceBalanceS)
	nbC := g.row(witness.KindAccountNonceBalanceC)
	scS := g.row(witness.KindAccountStorageCodehashS)
	scC := g.row(witness.KindAccountStorageCodehashC)
	if sL != nil {
		fillNonceBalance(&nbS, sL)
		fillStorageCodehash(&scS, sL)
	}
	if cL != nil {
		fillNonceBalance(&nbC, cL)
		fillStorageCodehash(&scC, cL)
	}

	drifted := g.row(witness.KindAccountDrifted)
	if d.leaf != nil {
		dl, err := accountLayout(d.leaf)
		if err != nil {
			return fmt.Errorf("drifted account leaf: %w", err)
		}
		copy(drifted[:], dl.keyPart)
		g.blob(dl.enc)
	}

	g.push(keyS, keyC, ne, nbS, nbC, scS, scC, drifted)
	if s != nil && sL != nil {
		g.blob(sL.enc)
	}
	if c != nil && cL != nil {
		g.blob(cL.enc)
	}
	g.level++
	return nil
}

func fillNonceBalance(r *witness.Row, l *acctLayout) {
	r[0], r[1] = l.nbRLP[0], l.nbRLP[1]
	r[witness.CRLPStart], r[witness.CRLPStart+1] = l.nbRLP[2], l.nbRLP[3]
	copy(r[witness.SStart:], l.nonce)
	copy(r[witness.CStart:], l.balance)
}

func fillStorageCodehash(r *witness.Row, l *acctLayout) {
	r[1] = 160
	copy(r[witness.SStart:witness.SStart+witness.HashWidth], l.root)
	r[witness.CRLPStart+1] = 160
	copy(r[witness.CStart:witness.CStart+witness.HashWidth], l.code)
}

// emitNilNonExisting emits a fully zeroed account block: the branch above
// already proves the address slot empty on both sides.
func (g *gen) emitNilNonExisting() error {
	g.push(
		g.row(witness.KindAccountLeafKeyS),
		g.row(witness.KindAccountLeafKeyC),
		g.row(witness.KindAccountNonExisting),
		g.row(witness.KindAccountNonceBalanceS),
		g.row(witness.KindAccountNonceBalanceC),
		g.row(witness.KindAccountStorageCodehashS),
		g.row(witness.KindAccountStorageCodehashC),
		g.row(witness.KindAccountDrifted),
	)
	g.level++
	return nil
}

// storLayout splits a storage leaf encoding into its key part and value
// item.
type storLayout struct {
	keyPart, valItem, enc []byte
}

func storageLayout(l *leafNode) (*storLayout, error) {
	keyItem := encodeItem(compactKey(l.key, true))
	valItem := encodeItem(l.val)
	enc := encodeList(keyItem, valItem)
	if len(enc)-len(valItem) > witness.ContentWidth || len(valItem) > witness.ContentWidth {
		return nil, fmt.Errorf("storage leaf encoding does not fit the row format")
	}
	return &storLayout{keyPart: enc[:len(enc)-len(valItem)], valItem: valItem, enc: enc}, nil
}

func (g *gen) emitStorageBlock(s, c *leafNode, path []byte, d drift) error {
	zeroS, zeroC := false, false
	sSrc, cSrc := s, c
	if s == nil {
		if len(path) == 64 {
			zeroS = true
		} else {
			sSrc = c
		}
	}
	if c == nil {
		if len(path) == 64 {
			zeroC = true
		} else {
			cSrc = s
		}
	}
	if d.leaf == nil {
		if s != nil && !bytes.Equal(s.key, path) {
			return fmt.Errorf("S storage leaf key disagrees with the slot path")
		}
		if c != nil && !bytes.Equal(c.key, path) {
			return fmt.Errorf("C storage leaf key disagrees with the slot path")
		}
	}

	var sL, cL *storLayout
	var err error
	if !zeroS {
		if sL, err = storageLayout(sSrc); err != nil {
			return fmt.Errorf("S storage leaf: %w", err)
		}
	}
	if !zeroC {
		if cL, err = storageLayout(cSrc); err != nil {
			return fmt.Errorf("C storage leaf: %w", err)
		}
	}

	keyS := g.row(witness.KindStorageLeafKeyS)
	valS := g.row(witness.KindStorageLeafValueS)
	keyC := g.row(witness.KindStorageLeafKeyC)
	valC := g.row(witness.KindStorageLeafValueC)
	if sL != nil {
		copy(keyS[:], sL.keyPart)
		copy(valS[:], sL.valItem)
	}
	if cL != nil {
		copy(keyC[:], cL.keyPart)
		copy(valC[:], cL.valItem)
	}

	drifted := g.row(witness.KindStorageDrifted)
	if d.leaf != nil {
		dl, err := storageLayout(d.leaf)
		if err != nil {
			return fmt.Errorf("drifted storage leaf: %w", err)
		}
		copy(drifted[:], dl.keyPart)
		g.blob(dl.enc)
	}

	g.push(keyS, valS, keyC, valC, drifted)
	if s != nil && sL != nil {
		g.blob(sL.enc)
	}
	if c != nil && cL != nil {
		g.blob(cL.enc)
	}
	g.level++
	return nil
}
