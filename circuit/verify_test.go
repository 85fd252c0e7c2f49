package circuit

import (
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/zkmpt/internal/witgen"
	"github.com/consensys/zkmpt/witness"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// tkey builds a 32-byte hashed key with the given leading bytes over a
// fixed filler, so scenarios control exactly where paths diverge.
func tkey(lead ...byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = byte(0x40 + i%16)
	}
	copy(out[:], lead)
	return out
}

func tacct(nonce uint64, balance int64) witgen.Account {
	return witgen.Account{
		Nonce:       nonce,
		Balance:     big.NewInt(balance),
		StorageRoot: witgen.EmptyRoot,
		CodeHash:    tkey(0xc0, 0xde),
	}
}

// verify generates a trace for the proofs, assigns it and runs every gate
// with the public roots taken from the outer tries.
func verify(t *testing.T, proofs ...witgen.Proof) error {
	t.Helper()
	tr, err := witgen.Generate(proofs...)
	require.NoError(t, err)
	e := New()
	a, err := e.Assign(tr)
	require.NoError(t, err)
	first := proofs[0].Before.Hash()
	last := proofs[len(proofs)-1].After.Hash()
	return e.Verify(a, e.Folder().Of(first[:]), e.Folder().Of(last[:]))
}

func TestNonceModification(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	}))
}

func TestBalanceModification(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(1, 25000).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModBalance,
	}))
}

func TestCodeHashModification(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	a := tacct(1, 100)
	before.Insert(addr, a.Encode())
	a.CodeHash = tkey(0xde, 0xad)
	after.Insert(addr, a.Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModCodeHash,
	}))
}

func TestLeafAtTrieRoot(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr := tkey(0x2a)
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(1, 200).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModBalance,
	}))
}

func TestDeepBranchPath(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	// 0x2a and 0x2b share one nibble, so the path crosses two branches
	addr, sibling, other := tkey(0x2a), tkey(0x2b), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
		tr.Insert(sibling, tacct(3, 300).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	}))
}

func TestExtensionNodeOddSegment(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	// three shared nibbles ahead of the divergence produce an extension
	addr, sibling := tkey(0x21, 0x1a), tkey(0x21, 0x1b)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(sibling, tacct(3, 300).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	}))
}

func TestExtensionNodeEvenSegment(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	// two shared nibbles ahead of the divergence
	addr, sibling := tkey(0x21, 0xa0), tkey(0x21, 0xb0)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(sibling, tacct(3, 300).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	}))
}

func TestAccountCreation(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, neighbour, other := tkey(0x2b), tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
		tr.Insert(neighbour, tacct(3, 300).Encode())
	}
	// the new leaf displaces its neighbour into a fresh branch
	after.Insert(addr, tacct(1, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	}))
}

func TestAccountCreationBehindExtension(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, neighbour, other := tkey(0x21, 0x1b), tkey(0x21, 0x1a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
		tr.Insert(neighbour, tacct(3, 300).Encode())
	}
	after.Insert(addr, tacct(1, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	}))
}

func TestAccountDeletion(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, neighbour, other := tkey(0x2b), tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
		tr.Insert(neighbour, tacct(3, 300).Encode())
	}
	// present before, gone after: the neighbour collapses one level up
	before.Insert(addr, tacct(1, 100).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModAccountDelete,
	}))
}

func TestNonExistenceWrongLeaf(t *testing.T) {
	tr := witgen.NewTrie()
	tr.Insert(tkey(0x11), tacct(9, 500).Encode())
	tr.Insert(tkey(0x2a), tacct(3, 300).Encode())

	// the path to 0x2b ends at the 0x2a leaf
	require.NoError(t, verify(t, witgen.Proof{
		Before: tr, After: tr, Address: tkey(0x2b), Mod: witness.ModNonExisting,
	}))
}

func TestNonExistenceNilObject(t *testing.T) {
	tr := witgen.NewTrie()
	tr.Insert(tkey(0x11), tacct(9, 500).Encode())
	tr.Insert(tkey(0x2a), tacct(3, 300).Encode())

	// the root branch holds nothing at nibble 9
	require.NoError(t, verify(t, witgen.Proof{
		Before: tr, After: tr, Address: tkey(0x9c), Mod: witness.ModNonExisting,
	}))
}

func storageAccount(nonce uint64, storage *witgen.Trie) witgen.Account {
	a := tacct(nonce, 700)
	a.StorageRoot = storage.Hash()
	return a
}

func TestStorageModification(t *testing.T) {
	storBefore, storAfter := witgen.NewTrie(), witgen.NewTrie()
	slot, otherSlot := tkey(0x79), tkey(0x35)
	for _, tr := range []*witgen.Trie{storBefore, storAfter} {
		tr.Insert(otherSlot, witgen.EncodeValue([]byte{1}))
	}
	storBefore.Insert(slot, witgen.EncodeValue([]byte{5}))
	storAfter.Insert(slot, witgen.EncodeValue([]byte{6}))

	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, storageAccount(1, storBefore).Encode())
	after.Insert(addr, storageAccount(1, storAfter).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModStorage,
		StorageBefore: storBefore, StorageAfter: storAfter, StorageKey: slot,
	}))
}

func TestStorageSlotCreationInNilPosition(t *testing.T) {
	storBefore, storAfter := witgen.NewTrie(), witgen.NewTrie()
	slot := tkey(0xb2)
	for _, tr := range []*witgen.Trie{storBefore, storAfter} {
		tr.Insert(tkey(0x35), witgen.EncodeValue([]byte{1}))
		tr.Insert(tkey(0x79), witgen.EncodeValue([]byte{2}))
	}
	storAfter.Insert(slot, witgen.EncodeValue([]byte{7}))

	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, storageAccount(1, storBefore).Encode())
	after.Insert(addr, storageAccount(1, storAfter).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModStorage,
		StorageBefore: storBefore, StorageAfter: storAfter, StorageKey: slot,
	}))
}

func TestStorageSlotCreationWithDrift(t *testing.T) {
	storBefore, storAfter := witgen.NewTrie(), witgen.NewTrie()
	slot, neighbourSlot := tkey(0x3b), tkey(0x3a)
	for _, tr := range []*witgen.Trie{storBefore, storAfter} {
		tr.Insert(neighbourSlot, witgen.EncodeValue([]byte{1}))
		tr.Insert(tkey(0x79), witgen.EncodeValue([]byte{2}))
	}
	storAfter.Insert(slot, witgen.EncodeValue([]byte{7}))

	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, storageAccount(1, storBefore).Encode())
	after.Insert(addr, storageAccount(1, storAfter).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModStorage,
		StorageBefore: storBefore, StorageAfter: storAfter, StorageKey: slot,
	}))
}

func TestChainedProofs(t *testing.T) {
	t0, t1, t2 := witgen.NewTrie(), witgen.NewTrie(), witgen.NewTrie()
	a, b := tkey(0x11), tkey(0x2a)
	for _, tr := range []*witgen.Trie{t0, t1, t2} {
		tr.Insert(a, tacct(9, 500).Encode())
	}
	t0.Insert(b, tacct(1, 100).Encode())
	t1.Insert(b, tacct(2, 100).Encode())
	t2.Insert(b, tacct(2, 150).Encode())

	require.NoError(t, verify(t,
		witgen.Proof{Before: t0, After: t1, Address: b, Mod: witness.ModNonce},
		witgen.Proof{Before: t1, After: t2, Address: b, Mod: witness.ModBalance},
	))
}

func TestChainedProofsAtFirstLevel(t *testing.T) {
	// single-account tries keep every row at the first level, so the
	// proof boundary is visible only through the counter
	t0, t1, t2 := witgen.NewTrie(), witgen.NewTrie(), witgen.NewTrie()
	addr := tkey(0x2a)
	t0.Insert(addr, tacct(1, 100).Encode())
	t1.Insert(addr, tacct(2, 100).Encode())
	t2.Insert(addr, tacct(2, 150).Encode())

	require.NoError(t, verify(t,
		witgen.Proof{Before: t0, After: t1, Address: addr, Mod: witness.ModNonce},
		witgen.Proof{Before: t1, After: t2, Address: addr, Mod: witness.ModBalance},
	))
}

func TestStorageSlotDeletionWithDrift(t *testing.T) {
	storBefore, storAfter := witgen.NewTrie(), witgen.NewTrie()
	slot, neighbourSlot := tkey(0x3b), tkey(0x3a)
	for _, tr := range []*witgen.Trie{storBefore, storAfter} {
		tr.Insert(neighbourSlot, witgen.EncodeValue([]byte{1}))
		tr.Insert(tkey(0x79), witgen.EncodeValue([]byte{2}))
	}
	// present before, gone after: its neighbour collapses one level up
	storBefore.Insert(slot, witgen.EncodeValue([]byte{7}))

	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, storageAccount(1, storBefore).Encode())
	after.Insert(addr, storageAccount(1, storAfter).Encode())

	require.NoError(t, verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModStorage,
		StorageBefore: storBefore, StorageAfter: storAfter, StorageKey: slot,
	}))
}

func TestRejectsUnflaggedBalanceChange(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	// both nonce and balance change, but the proof only claims a nonce
	// modification
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 999).Encode())

	err := verify(t, witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	})
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, "account/nonce-balance", v.Gate)
}

func TestRejectsTamperedRow(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	tr, err := witgen.Generate(witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	})
	require.NoError(t, err)

	// flip a balance byte inside the nonce/balance S row: the leaf no
	// longer hashes into its parent
	nb := tr.Row(19 + AccountNonceBalanceSInd)
	nb[witness.CStart]++

	e := New()
	a, err := e.Assign(tr)
	require.NoError(t, err)
	first, last := before.Hash(), after.Hash()
	err = e.Verify(a, e.Folder().Of(first[:]), e.Folder().Of(last[:]))
	require.Error(t, err)
	var v *Violation
	require.True(t, errors.As(err, &v))
}

func TestRejectsNonExistenceOfExistingAccount(t *testing.T) {
	tr := witgen.NewTrie()
	tr.Insert(tkey(0x11), tacct(9, 500).Encode())
	tr.Insert(tkey(0x2a), tacct(3, 300).Encode())

	trace, err := witgen.Generate(witgen.Proof{
		Before: tr, After: tr, Address: tkey(0x2b), Mod: witness.ModNonExisting,
	})
	require.NoError(t, err)

	// make the enquired suffix byte-identical to the wrong leaf's key: no
	// difference inverse exists and assignment must refuse the witness
	ne := trace.Row(19 + AccountNonExistingInd)
	keyC := trace.Row(19 + AccountKeyCInd)
	copy(ne[3:36], keyC[3:36])

	e := New()
	_, err = e.Assign(trace)
	require.Error(t, err)
}

func TestRejectsTamperedModifiedPosition(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	tr, err := witgen.Generate(witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	})
	require.NoError(t, err)

	// point the root branch at the wrong child: the accumulated key no
	// longer matches the address
	init := tr.Row(0)
	init[witness.KeyPos] = 1

	e := New()
	a, err := e.Assign(tr)
	require.NoError(t, err)
	first, last := before.Hash(), after.Hash()
	err = e.Verify(a, e.Folder().Of(first[:]), e.Folder().Of(last[:]))
	require.Error(t, err)
	var v *Violation
	require.True(t, errors.As(err, &v))
}

func TestConcurrentVerify(t *testing.T) {
	// one engine, two traces with different public roots, verified at the
	// same time: the roots must stay with their own call
	build := func(lead byte) (*witness.Trace, [32]byte, [32]byte) {
		before, after := witgen.NewTrie(), witgen.NewTrie()
		addr := tkey(lead)
		before.Insert(addr, tacct(1, 100).Encode())
		after.Insert(addr, tacct(2, 100).Encode())
		tr, err := witgen.Generate(witgen.Proof{
			Before: before, After: after, Address: addr, Mod: witness.ModNonce,
		})
		require.NoError(t, err)
		return tr, before.Hash(), after.Hash()
	}

	e := New()
	tr1, s1, e1 := build(0x2a)
	tr2, s2, e2 := build(0x7c)
	a1, err := e.Assign(tr1)
	require.NoError(t, err)
	a2, err := e.Assign(tr2)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return e.Verify(a1, e.Folder().Of(s1[:]), e.Folder().Of(e1[:]))
		})
		g.Go(func() error {
			return e.Verify(a2, e.Folder().Of(s2[:]), e.Folder().Of(e2[:]))
		})
	}
	require.NoError(t, g.Wait())
}

func TestRejectsWrongPublicRoot(t *testing.T) {
	before, after := witgen.NewTrie(), witgen.NewTrie()
	addr, other := tkey(0x2a), tkey(0x11)
	for _, tr := range []*witgen.Trie{before, after} {
		tr.Insert(other, tacct(9, 500).Encode())
	}
	before.Insert(addr, tacct(1, 100).Encode())
	after.Insert(addr, tacct(2, 100).Encode())

	tr, err := witgen.Generate(witgen.Proof{
		Before: before, After: after, Address: addr, Mod: witness.ModNonce,
	})
	require.NoError(t, err)

	e := New()
	a, err := e.Assign(tr)
	require.NoError(t, err)
	first := before.Hash()
	// claiming the trace ends where it started must fail
	err = e.Verify(a, e.Folder().Of(first[:]), e.Folder().Of(first[:]))
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	require.Equal(t, "root/public", v.Gate)
}
