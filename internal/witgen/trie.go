// Package witgen builds witness traces from small in-memory
// Merkle-Patricia tries. It exists for tests: scenarios construct a
// before and an after trie, and the generator walks both along the
// modified key, emitting the row blocks and node blobs the verification
// engine consumes.
package witgen

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// node is one of *leafNode, *extNode, *branchNode or nil.
type node interface{}

type leafNode struct {
	key []byte // remaining path nibbles
	val []byte // value item payload
}

type extNode struct {
	key   []byte // shared path nibbles, at least one
	child *branchNode
}

type branchNode struct {
	kids [16]node
}

// Trie is a minimal hexary Merkle-Patricia trie over pre-hashed 32-byte
// keys. It supports insertion only; scenarios build the before and after
// states independently.
type Trie struct {
	root node
}

func NewTrie() *Trie { return &Trie{} }

// Nibbles expands a 32-byte key into its 64 path nibbles.
func Nibbles(key [32]byte) []byte {
	n := make([]byte, 0, 64)
	for _, b := range key {
		n = append(n, b>>4, b&15)
	}
	return n
}

// Insert stores a value item payload under a key, splitting leaves and
// extensions as needed.
func (t *Trie) Insert(key [32]byte, val []byte) {
	t.root = insert(t.root, Nibbles(key), val)
}

func commonPrefix(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func insert(n node, path []byte, val []byte) node {
	switch n := n.(type) {
	case nil:
		return &leafNode{key: path, val: val}
	case *leafNode:
		if bytes.Equal(n.key, path) {
			return &leafNode{key: path, val: val}
		}
		p := commonPrefix(n.key, path)
		b := &branchNode{}
		b.kids[n.key[p]] = &leafNode{key: n.key[p+1:], val: n.val}
		b.kids[path[p]] = &leafNode{key: path[p+1:], val: val}
		if p == 0 {
			return b
		}
		return &extNode{key: path[:p], child: b}
	case *extNode:
		p := commonPrefix(n.key, path)
		if p == len(n.key) {
			n.child = insert(n.child, path[p:], val).(*branchNode)
			return n
		}
		b := &branchNode{}
		rem := n.key[p+1:]
		if len(rem) > 0 {
			b.kids[n.key[p]] = &extNode{key: rem, child: n.child}
		} else {
			b.kids[n.key[p]] = n.child
		}
		b.kids[path[p]] = &leafNode{key: path[p+1:], val: val}
		if p == 0 {
			return b
		}
		return &extNode{key: path[:p], child: b}
	case *branchNode:
		n.kids[path[0]] = insert(n.kids[path[0]], path[1:], val)
		return n
	}
	panic("witgen: unknown node type")
}

// Lookup returns the value payload stored under key, or nil.
func (t *Trie) Lookup(key [32]byte) []byte {
	n, path := t.root, Nibbles(key)
	for {
		switch cur := n.(type) {
		case nil:
			return nil
		case *leafNode:
			if bytes.Equal(cur.key, path) {
				return cur.val
			}
			return nil
		case *extNode:
			if len(path) < len(cur.key) || !bytes.Equal(path[:len(cur.key)], cur.key) {
				return nil
			}
			n, path = cur.child, path[len(cur.key):]
		case *branchNode:
			n, path = cur.kids[path[0]], path[1:]
		}
	}
}

// RLP assembly. Node references are always hashed: scenarios keep every
// node encoding above 31 bytes.

// encodeItem wraps a payload as an RLP string.
func encodeItem(payload []byte) []byte {
	if len(payload) == 1 && payload[0] < 128 {
		return payload
	}
	if len(payload) <= 55 {
		return append([]byte{128 + byte(len(payload))}, payload...)
	}
	if len(payload) <= 255 {
		return append([]byte{183 + 1, byte(len(payload))}, payload...)
	}
	panic("witgen: string payload too long")
}

// encodeList wraps concatenated item encodings as an RLP list.
func encodeList(items ...[]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	switch {
	case len(payload) <= 55:
		return append([]byte{192 + byte(len(payload))}, payload...)
	case len(payload) <= 255:
		return append([]byte{247 + 1, byte(len(payload))}, payload...)
	default:
		return append([]byte{247 + 2, byte(len(payload) >> 8), byte(len(payload))}, payload...)
	}
}

// compactKey hex-prefix encodes path nibbles: terminator flag for leaves,
// parity in the first byte.
func compactKey(nibs []byte, leaf bool) []byte {
	var first byte
	if leaf {
		first = 32
	}
	if len(nibs)%2 == 1 {
		first += 16 + nibs[0]
		nibs = nibs[1:]
	}
	out := []byte{first}
	for i := 0; i < len(nibs); i += 2 {
		out = append(out, nibs[i]<<4|nibs[i+1])
	}
	return out
}

func encodeNode(n node) []byte {
	switch n := n.(type) {
	case *leafNode:
		return encodeList(encodeItem(compactKey(n.key, true)), encodeItem(n.val))
	case *extNode:
		return encodeList(encodeItem(compactKey(n.key, false)), encodeItem(ref(n.child)))
	case *branchNode:
		items := make([][]byte, 0, 17)
		for _, kid := range n.kids {
			if kid == nil {
				items = append(items, []byte{128})
				continue
			}
			items = append(items, encodeItem(ref(kid)))
		}
		items = append(items, []byte{128})
		return encodeList(items...)
	}
	panic("witgen: encoding a nil node")
}

func keccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

// ref returns the 32-byte hashed reference of a node. Inline (sub-32-byte)
// nodes are rejected: the row format under test has no embedded-node form
// for branch children.
func ref(n node) []byte {
	enc := encodeNode(n)
	if len(enc) < 32 {
		panic(fmt.Sprintf("witgen: node encoding is %d bytes, too short to be hashed", len(enc)))
	}
	return keccak(enc)
}

// EmptyRoot is the hash of an empty trie, keccak256(rlp("")).
var EmptyRoot = [32]byte{
	86, 232, 31, 23, 27, 204, 85, 166, 255, 131, 69, 230, 146, 192, 248, 110,
	91, 72, 224, 27, 153, 108, 173, 192, 1, 98, 47, 181, 227, 99, 180, 33,
}

// Hash returns the root commitment of the trie.
func (t *Trie) Hash() [32]byte {
	if t.root == nil {
		return EmptyRoot
	}
	var out [32]byte
	copy(out[:], keccak(encodeNode(t.root)))
	return out
}
