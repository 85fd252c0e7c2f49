// Package witness defines the fixed-width byte rows a trie-proof trace is
// made of, classifies them by kind, and detects proof-level boundaries.
//
// A row carries two parallel node views: S (the state before the
// modification) and C (the state after), each as 2 RLP prefix bytes plus up
// to 32 payload bytes. Trailing metadata ties the row to its proof: the two
// root commitments, the hashed address, a proof counter, the modification
// type flags, the first-level flag and the row-kind discriminant.
package witness

import (
	"encoding/binary"
	"fmt"
)

const (
	// HashWidth is the payload width of one node view, enough for a
	// 32-byte digest.
	HashWidth = 32
	// RLPNum is the number of RLP prefix bytes per node view.
	RLPNum = 2

	// SStart, CRLPStart and CStart are offsets of the S payload, the C
	// RLP prefix and the C payload inside the row content.
	SStart    = RLPNum
	CRLPStart = RLPNum + HashWidth
	CStart    = CRLPStart + RLPNum

	// ContentWidth is the width of the node content portion of a row.
	ContentWidth = 2 * (RLPNum + HashWidth)

	sRootOff   = ContentWidth
	cRootOff   = sRootOff + HashWidth
	addressOff = cRootOff + HashWidth
	counterOff = addressOff + HashWidth
	flagsOff   = counterOff + 4

	notFirstLevelOff = flagsOff + 6
	kindOff          = notFirstLevelOff + 1

	// Width is the total width of a row in bytes.
	Width = kindOff + 1
)

// Positions inside a branch-init row content.
const (
	// BranchSStart and BranchCStart locate the RLP meta bytes of the S
	// and C branches.
	BranchSStart = 4
	BranchCStart = 7

	// KeyPos holds the nibble consumed by this branch (0..15).
	KeyPos = 10

	// SPlaceholderPos / CPlaceholderPos flag a side whose branch exists
	// only to keep row alignment.
	SPlaceholderPos = 11
	CPlaceholderPos = 12

	// DriftedPosPos holds the position of the neighbour leaf after an
	// insertion pushed it one level deeper.
	DriftedPosPos = 13

	// IsExtensionPos flags a branch reached through an extension node.
	IsExtensionPos = 14

	// BranchC16Pos / BranchC1Pos carry the key-parity selector of this
	// level (nibble weighted by 16 or by 1).
	BranchC16Pos = 19
	BranchC1Pos  = 20

	// Extension segment shape flags, mutually exclusive.
	ExtShortC16Pos    = 21
	ExtShortC1Pos     = 22
	ExtLongEvenC16Pos = 23
	ExtLongEvenC1Pos  = 24
	ExtLongOddC16Pos  = 25
	ExtLongOddC1Pos   = 26

	// ExtLongerThan55SPos / ExtLongerThan55CPos flag an extension whose
	// RLP encoding exceeds 55 bytes.
	ExtLongerThan55SPos = 27
	ExtLongerThan55CPos = 28

	// ExtNonHashedSPos / ExtNonHashedCPos flag an extension embedded
	// raw in its parent (encoded length below 32).
	ExtNonHashedSPos = 30
	ExtNonHashedCPos = 31
)

// NilChildMarker is the RLP byte a branch stores at a position holding no
// child.
const NilChildMarker = 128

// ModFlag indexes the modification-type flag bytes of a row.
type ModFlag int

const (
	ModStorage ModFlag = iota
	ModNonce
	ModBalance
	ModCodeHash
	ModAccountDelete
	ModNonExisting
)

// Row is one fixed-width record of a witness trace.
type Row [Width]byte

// NewRow builds a Row from a raw byte record, checking its width.
func NewRow(raw []byte) (Row, error) {
	var r Row
	if len(raw) != Width {
		return r, fmt.Errorf("witness: row is %d bytes, want %d", len(raw), Width)
	}
	copy(r[:], raw)
	return r, nil
}

// Byte returns content byte i (0 <= i < ContentWidth).
func (r *Row) Byte(i int) byte { return r[i] }

// Content returns the node content portion of the row.
func (r *Row) Content() []byte { return r[:ContentWidth] }

func (r *Row) SRLP1() byte { return r[0] }
func (r *Row) SRLP2() byte { return r[1] }
func (r *Row) CRLP1() byte { return r[CRLPStart] }
func (r *Row) CRLP2() byte { return r[CRLPStart+1] }

// SByte and CByte index the 32 payload bytes of each side.
func (r *Row) SByte(i int) byte { return r[SStart+i] }
func (r *Row) CByte(i int) byte { return r[CStart+i] }

// SBytes and CBytes return the payload slices of each side.
func (r *Row) SBytes() []byte { return r[SStart : SStart+HashWidth] }
func (r *Row) CBytes() []byte { return r[CStart : CStart+HashWidth] }

// SRoot and CRoot return the before and after root commitments recorded for
// the proof this row belongs to.
func (r *Row) SRoot() []byte { return r[sRootOff : sRootOff+HashWidth] }
func (r *Row) CRoot() []byte { return r[cRootOff : cRootOff+HashWidth] }

// Address returns the hashed account address (or storage key) of the proof.
func (r *Row) Address() []byte { return r[addressOff : addressOff+HashWidth] }

// Counter returns the index of the proof within a chained trace.
func (r *Row) Counter() uint32 {
	return binary.BigEndian.Uint32(r[counterOff : counterOff+4])
}

// Mod reports whether the given modification-type flag is set.
func (r *Row) Mod(f ModFlag) bool { return r[flagsOff+int(f)] == 1 }

// NotFirstLevel reports whether the row sits below the trie root level.
func (r *Row) NotFirstLevel() bool { return r[notFirstLevelOff] == 1 }

// Kind returns the row-kind discriminant.
func (r *Row) Kind() Kind { return Kind(r[kindOff]) }

// Branch-init accessors. Meaningful only on KindInitBranch rows.

func (r *Row) ModifiedNode() byte { return r[KeyPos] }
func (r *Row) DriftedPos() byte   { return r[DriftedPosPos] }

func (r *Row) IsBranchSPlaceholder() bool { return r[SPlaceholderPos] == 1 }
func (r *Row) IsBranchCPlaceholder() bool { return r[CPlaceholderPos] == 1 }

func (r *Row) IsExtension() bool { return r[IsExtensionPos] == 1 }
func (r *Row) IsBranchC16() bool { return r[BranchC16Pos] == 1 }
func (r *Row) IsBranchC1() bool  { return r[BranchC1Pos] == 1 }

// HasThreeRLPBytes reports whether the given side's branch carries 3 RLP
// meta bytes instead of 2 (list payload above 255 bytes).
func (r *Row) HasThreeRLPBytes(s bool) bool {
	if s {
		return r[1] == 1
	}
	return r[3] == 1
}

// ExtShape decodes the six mutually exclusive extension shape flags of a
// branch-init row. Returns ExtShapeNone when the branch has no extension.
func (r *Row) ExtShape() ExtShape {
	switch {
	case r[ExtShortC16Pos] == 1:
		return ExtShortC16
	case r[ExtShortC1Pos] == 1:
		return ExtShortC1
	case r[ExtLongEvenC16Pos] == 1:
		return ExtLongEvenC16
	case r[ExtLongEvenC1Pos] == 1:
		return ExtLongEvenC1
	case r[ExtLongOddC16Pos] == 1:
		return ExtLongOddC16
	case r[ExtLongOddC1Pos] == 1:
		return ExtLongOddC1
	}
	return ExtShapeNone
}

// ExtShape is the tagged form of the six extension shape flags: segment
// length class crossed with the key-parity selector the following branch
// uses.
type ExtShape uint8

const (
	ExtShapeNone ExtShape = iota
	ExtShortC16           // one nibble, branch weighs its nibble by 16
	ExtShortC1            // one nibble, branch weighs its nibble by 1
	ExtLongEvenC16
	ExtLongEvenC1
	ExtLongOddC16
	ExtLongOddC1
)

// Even reports whether the shape carries an even number of nibbles.
func (s ExtShape) Even() bool { return s == ExtLongEvenC16 || s == ExtLongEvenC1 }

// Short reports whether the segment is a single nibble.
func (s ExtShape) Short() bool { return s == ExtShortC16 || s == ExtShortC1 }

// C16 reports whether the branch under the extension weighs its nibble
// by 16.
func (s ExtShape) C16() bool {
	return s == ExtShortC16 || s == ExtLongEvenC16 || s == ExtLongOddC16
}

func (s ExtShape) String() string {
	switch s {
	case ExtShortC16:
		return "short_c16"
	case ExtShortC1:
		return "short_c1"
	case ExtLongEvenC16:
		return "long_even_c16"
	case ExtLongEvenC1:
		return "long_even_c1"
	case ExtLongOddC16:
		return "long_odd_c16"
	case ExtLongOddC1:
		return "long_odd_c1"
	}
	return "none"
}

// Setters used by trace producers. Content bytes are writable by direct
// indexing; the trailing metadata sits behind unexported offsets.

// SetSRoot records the before-state root commitment.
func (r *Row) SetSRoot(h []byte) { copy(r[sRootOff:sRootOff+HashWidth], h) }

// SetCRoot records the after-state root commitment.
func (r *Row) SetCRoot(h []byte) { copy(r[cRootOff:cRootOff+HashWidth], h) }

// SetAddress records the hashed account address of the proof.
func (r *Row) SetAddress(h []byte) { copy(r[addressOff:addressOff+HashWidth], h) }

// SetCounter records the proof index within a chained trace.
func (r *Row) SetCounter(c uint32) {
	binary.BigEndian.PutUint32(r[counterOff:counterOff+4], c)
}

// SetMod sets one modification-type flag.
func (r *Row) SetMod(f ModFlag) { r[flagsOff+int(f)] = 1 }

// SetNotFirstLevel marks the row as sitting below the trie root level.
func (r *Row) SetNotFirstLevel(v bool) {
	if v {
		r[notFirstLevelOff] = 1
	} else {
		r[notFirstLevelOff] = 0
	}
}

// SetKind records the row-kind discriminant.
func (r *Row) SetKind(k Kind) { r[kindOff] = byte(k) }
