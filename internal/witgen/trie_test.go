package witgen

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// k builds a 32-byte trie key with the given leading bytes over a fixed
// filler pattern.
func k(lead ...byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = byte(0x40 + i%16)
	}
	copy(out[:], lead)
	return out
}

func TestEmptyTrieHash(t *testing.T) {
	assert := require.New(t)
	assert.Equal(EmptyRoot, NewTrie().Hash())
}

func TestNibbles(t *testing.T) {
	assert := require.New(t)

	n := Nibbles(k(0xab, 0x01))
	assert.Len(n, 64)
	assert.EqualValues(10, n[0])
	assert.EqualValues(11, n[1])
	assert.EqualValues(0, n[2])
	assert.EqualValues(1, n[3])
}

func TestInsertAndLookup(t *testing.T) {
	assert := require.New(t)
	tr := NewTrie()

	tr.Insert(k(0x11), []byte{1})
	tr.Insert(k(0x22), []byte{2})
	tr.Insert(k(0x23), []byte{3})

	assert.Equal([]byte{1}, tr.Lookup(k(0x11)))
	assert.Equal([]byte{2}, tr.Lookup(k(0x22)))
	assert.Equal([]byte{3}, tr.Lookup(k(0x23)))
	assert.Nil(tr.Lookup(k(0x44)))

	// overwrite
	tr.Insert(k(0x22), []byte{9})
	assert.Equal([]byte{9}, tr.Lookup(k(0x22)))
}

func TestHashIsOrderIndependent(t *testing.T) {
	assert := require.New(t)

	a, b := NewTrie(), NewTrie()
	a.Insert(k(0x11), []byte{1})
	a.Insert(k(0x22), []byte{2})
	b.Insert(k(0x22), []byte{2})
	b.Insert(k(0x11), []byte{1})

	assert.Equal(a.Hash(), b.Hash())

	b.Insert(k(0x33), []byte{3})
	assert.NotEqual(a.Hash(), b.Hash())
}

func TestCompactKey(t *testing.T) {
	assert := require.New(t)

	// even leaf residual
	assert.Equal([]byte{32, 0x12}, compactKey([]byte{1, 2}, true))
	// odd leaf residual
	assert.Equal([]byte{48 + 1, 0x23}, compactKey([]byte{1, 2, 3}, true))
	// even extension segment
	assert.Equal([]byte{0, 0x12}, compactKey([]byte{1, 2}, false))
	// odd extension segment
	assert.Equal([]byte{16 + 7}, compactKey([]byte{7}, false))
}

func TestEncodeItemForms(t *testing.T) {
	assert := require.New(t)

	assert.Equal([]byte{0x7f}, encodeItem([]byte{0x7f}))
	assert.Equal([]byte{128 + 2, 0x80, 0x01}, encodeItem([]byte{0x80, 0x01}))
	long := bytes.Repeat([]byte{5}, 60)
	enc := encodeItem(long)
	assert.Equal(byte(184), enc[0])
	assert.Equal(byte(60), enc[1])
}

func TestAccountEncodeShape(t *testing.T) {
	assert := require.New(t)

	a := Account{Nonce: 7, StorageRoot: EmptyRoot, CodeHash: k(0xcc)}
	leaf := &leafNode{key: Nibbles(k(0x12))[2:], val: a.Encode()}
	l, err := accountLayout(leaf)
	assert.NoError(err)

	assert.EqualValues(248, l.keyPart[0])
	assert.EqualValues(184, l.nbRLP[0])
	assert.EqualValues(248, l.nbRLP[2])
	assert.Equal([]byte{7}, l.nonce)
	assert.Equal([]byte{128}, l.balance) // zero balance encodes empty
	assert.Equal(EmptyRoot[:], l.root)
	cc := k(0xcc)
	assert.Equal(cc[:], l.code)
}

func TestStorageLayoutShapes(t *testing.T) {
	assert := require.New(t)

	short := &leafNode{key: Nibbles(k(0x11))[60:], val: EncodeValue([]byte{9})}
	sl, err := storageLayout(short)
	assert.NoError(err)
	assert.True(sl.keyPart[0] >= 192 && sl.keyPart[0] < 248)

	long := &leafNode{key: Nibbles(k(0x11))[2:], val: EncodeValue(bytes.Repeat([]byte{7}, 30))}
	ll, err := storageLayout(long)
	assert.NoError(err)
	assert.EqualValues(248, ll.keyPart[0])
}
