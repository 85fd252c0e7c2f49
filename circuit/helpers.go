package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/witness"
)

// Byte-shape helpers shared by the assignment driver and the gates. They
// decode RLP prefix forms; the gates additionally re-assert the algebraic
// length equations so a tampered prefix cannot slip through decoding.

// branchHeader decodes the branch RLP meta bytes recorded in an init row
// for the given side: the folded header bytes and the payload length.
func branchHeader(row *witness.Row, s bool) (meta []byte, payloadLen int) {
	start := witness.BranchSStart
	if !s {
		start = witness.BranchCStart
	}
	if row.HasThreeRLPBytes(s) {
		return []byte{row.Byte(start), row.Byte(start + 1), row.Byte(start + 2)},
			int(row.Byte(start+1))*256 + int(row.Byte(start+2))
	}
	return []byte{row.Byte(start), row.Byte(start + 1)}, int(row.Byte(start + 1))
}

// childShape classifies one side of a branch child row.
type childShape uint8

const (
	childHashed childShape = iota
	childNil
	childMalformed
)

func childShapeOf(rlp2, byte0 byte) childShape {
	if rlp2 == 160 {
		return childHashed
	}
	if rlp2 == 0 && byte0 == witness.NilChildMarker {
		return childNil
	}
	return childMalformed
}

// extKeyLen returns the length of the key portion of an extension row,
// prefix bytes included, counted from the row start: 2 for a single
// nibble, the short form otherwise, or the long (>55 byte) form.
func extKeyLen(row *witness.Row) int {
	switch {
	case row.SRLP2() <= 32:
		return 2
	case row.SRLP1() < 248:
		return int(row.SRLP2()) - 128 + 2
	default:
		return int(row.SByte(0)) - 128 + 3
	}
}

// extNibbles decodes the key-segment nibbles of an extension row.
func extNibbles(row *witness.Row) []byte {
	if row.SRLP2() <= 32 {
		// one nibble with odd hex prefix
		return []byte{row.SRLP2() - 16}
	}

	keyStart, keyLen := 0, 0
	if row.SRLP1() < 248 {
		keyStart, keyLen = 0, int(row.SRLP2())-128
	} else {
		keyStart, keyLen = 1, int(row.SByte(0))-128
	}

	var nibs []byte
	first := row.SByte(keyStart)
	rest := keyStart + 1
	if first != 0 {
		// odd hex prefix carries the first nibble
		nibs = append(nibs, first-16)
	}
	for i := rest; i < keyStart+keyLen; i++ {
		b := row.SByte(i)
		nibs = append(nibs, b>>4, b&15)
	}
	return nibs
}

// storageLeafShape is the RLP shape of a storage leaf key row.
type storageLeafShape uint8

const (
	leafShort storageLeafShape = iota
	leafLong
	leafLastLevel
	leafOneNibble
)

func storageLeafShapeOf(row *witness.Row) storageLeafShape {
	switch {
	case row.SRLP1() == 248:
		return leafLong
	case row.SRLP2() == 32:
		return leafLastLevel
	case row.SRLP2() < 128:
		return leafOneNibble
	default:
		return leafShort
	}
}

// storageLeafKeyLen returns the byte length of the key portion of a
// storage leaf key row, prefix bytes included.
func storageLeafKeyLen(row *witness.Row) int {
	switch storageLeafShapeOf(row) {
	case leafLong:
		return int(row.SByte(0)) - 128 + 3
	case leafShort:
		return int(row.SRLP2()) - 128 + 2
	default: // last level or one nibble: the single key byte follows rlp1
		return 2
	}
}

// leafResidualNibbles counts the key nibbles a leaf key byte sequence
// carries. keyBytes starts at the hex-prefix byte.
func leafResidualNibbles(keyBytes []byte) int {
	if len(keyBytes) == 0 {
		return 0
	}
	n := 2 * (len(keyBytes) - 1)
	if keyBytes[0] != 32 {
		// odd prefix: 48+nibble (or 16+nibble inside extension segments)
		n++
	}
	return n
}

// valueLen returns the encoded length of a value row: a single literal
// byte, or a length-prefixed string.
func valueLen(prefix byte) int {
	if prefix < 128 {
		return 1
	}
	return 1 + int(prefix) - 128
}

// nodeBlobLen returns the full encoded length of a node blob from its RLP
// list header.
func nodeBlobLen(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty node blob")
	}
	switch {
	case b[0] == 249:
		if len(b) < 3 {
			return 0, fmt.Errorf("truncated list header")
		}
		return 3 + int(b[1])*256 + int(b[2]), nil
	case b[0] == 248:
		if len(b) < 2 {
			return 0, fmt.Errorf("truncated list header")
		}
		return 2 + int(b[1]), nil
	case b[0] >= 192:
		return 1 + int(b[0]) - 192, nil
	}
	return 0, fmt.Errorf("node blob does not start with a list header: %d", b[0])
}

// hashedNode reports whether a node's encoding is referenced by digest in
// its parent (encoded length above 31 bytes).
func hashedNode(encLen int) bool { return encLen > 31 }

// addTerm adds value * mult to acc in place.
func addTerm(acc *fr.Element, value uint64, mult fr.Element) {
	var t fr.Element
	t.SetUint64(value)
	t.Mul(&t, &mult)
	acc.Add(acc, &t)
}
