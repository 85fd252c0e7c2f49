package witgen

import (
	"testing"

	"github.com/consensys/zkmpt/witness"
	"github.com/stretchr/testify/require"
)

func testAccount(nonce uint64) Account {
	return Account{Nonce: nonce, StorageRoot: EmptyRoot, CodeHash: k(0xcc)}
}

func TestGenerateRowLayout(t *testing.T) {
	assert := require.New(t)

	before, after := NewTrie(), NewTrie()
	addr, other := k(0x2a), k(0x11)
	for _, tr := range []*Trie{before, after} {
		tr.Insert(other, testAccount(9).Encode())
	}
	before.Insert(addr, testAccount(1).Encode())
	after.Insert(addr, testAccount(2).Encode())

	trace, err := Generate(Proof{Before: before, After: after, Address: addr, Mod: witness.ModNonce})
	assert.NoError(err)

	rows := trace.Main()
	assert.Len(rows, 19+8)
	assert.Equal(witness.KindInitBranch, rows[0].Kind())
	for i := 1; i <= 16; i++ {
		assert.Equal(witness.KindBranchChild, rows[i].Kind())
	}
	assert.Equal(witness.KindExtensionS, rows[17].Kind())
	assert.Equal(witness.KindExtensionC, rows[18].Kind())
	assert.Equal(witness.KindAccountLeafKeyS, rows[19].Kind())
	assert.Equal(witness.KindAccountDrifted, rows[26].Kind())

	sr, cr := before.Hash(), after.Hash()
	for i := range rows {
		assert.Equal(sr[:], rows[i].SRoot())
		assert.Equal(cr[:], rows[i].CRoot())
		assert.Equal(addr[:], rows[i].Address())
		assert.True(rows[i].Mod(witness.ModNonce))
	}
	assert.False(rows[0].NotFirstLevel())
	assert.True(rows[19].NotFirstLevel())

	bounds := witness.Boundaries(rows)
	assert.True(bounds[0])
	for i := 1; i < len(bounds); i++ {
		assert.False(bounds[i], "row %d", i)
	}

	assert.NotEmpty(trace.HashOnly())
}

func TestGenerateChainsCounters(t *testing.T) {
	assert := require.New(t)

	t0, t1, t2 := NewTrie(), NewTrie(), NewTrie()
	a, b := k(0x11), k(0x22)
	for _, tr := range []*Trie{t0, t1, t2} {
		tr.Insert(a, testAccount(1).Encode())
	}
	t0.Insert(b, testAccount(5).Encode())
	t1.Insert(b, testAccount(6).Encode())
	t2.Insert(b, testAccount(7).Encode())

	trace, err := Generate(
		Proof{Before: t0, After: t1, Address: b, Mod: witness.ModNonce},
		Proof{Before: t1, After: t2, Address: b, Mod: witness.ModNonce},
	)
	assert.NoError(err)

	rows := trace.Main()
	assert.Len(rows, 2*(19+8))
	assert.EqualValues(0, rows[0].Counter())
	assert.EqualValues(1, rows[27].Counter())

	h1 := t1.Hash()
	assert.Equal(h1[:], rows[0].CRoot())
	assert.Equal(h1[:], rows[27].SRoot())

	bounds := witness.Boundaries(rows)
	assert.True(bounds[27])
}

func TestGenerateRejectsStorageRootMismatch(t *testing.T) {
	assert := require.New(t)

	storage := NewTrie()
	storage.Insert(k(0x11), EncodeValue([]byte{1}))

	before, after := NewTrie(), NewTrie()
	// account claims an empty storage root while the storage trie is not empty
	before.Insert(k(0x11), testAccount(1).Encode())
	before.Insert(k(0x22), testAccount(2).Encode())
	after.Insert(k(0x11), testAccount(1).Encode())
	after.Insert(k(0x22), testAccount(2).Encode())

	_, err := Generate(Proof{
		Before: before, After: after, Address: k(0x22),
		Mod:           witness.ModStorage,
		StorageBefore: storage, StorageAfter: storage, StorageKey: k(0x11),
	})
	assert.Error(err)
}

func TestGenerateRejectsDivergentStructure(t *testing.T) {
	assert := require.New(t)

	before, after := NewTrie(), NewTrie()
	before.Insert(k(0x11), testAccount(1).Encode())
	after.Insert(k(0x91), testAccount(1).Encode())

	_, err := Generate(Proof{Before: before, After: after, Address: k(0x11), Mod: witness.ModNonce})
	assert.Error(err)
}
