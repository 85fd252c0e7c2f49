// Package table provides the membership oracles the assertion engine
// consumes: a static fixed table (byte ranges, nibble ranges, powers of the
// folding randomness) and a per-run hash-relation table mapping the fold of
// a node blob to the fold of its keccak digest.
//
// Both are read-only once populated; assertions only ever ask "is this pair
// present".
package table

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Tag selects a sub-table of the fixed table.
type Tag uint8

const (
	// TagRMult rows are (i, r^i) for i in [0, RMultLen).
	TagRMult Tag = iota
	// TagRange16 rows are (x, 0) for x in [0, 16).
	TagRange16
	// TagRange256 rows are (x, 0) for x in [0, 256).
	TagRange256
	// TagRangeKeyLen256 rows are (x, 0) for x in [0, 33*255], the domain
	// of (length - position) * byte products in zero-after-length checks.
	TagRangeKeyLen256
)

// RMultLen bounds the multiplier-power sub-table: enough for the longest
// node field plus the RLP overhead folded alongside it.
const RMultLen = 66

// Oracle answers membership queries over (tag, x, y) triples.
type Oracle interface {
	Contains(tag Tag, x, y fr.Element) bool
}
