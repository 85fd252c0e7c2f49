// Package circuit encodes the verification of a Merkle-Patricia-Trie
// single-modification proof as a flat table of witness rows plus local
// algebraic assertions (gates) over those rows.
//
// Gates are registered once, per row kind, when the engine is built;
// assignment is a strictly sequential fold deriving the accumulator cells
// gate checks refer to. Verification evaluates every registered gate over
// the assigned trace directly in the scalar field, standing in for an
// external proving backend.
package circuit

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Row block geometry. A branch block is the init row, 16 child rows and the
// two extension rows; the extension rows are all-zero when the branch has
// no extension above it.
const (
	BranchRows    = 19
	BranchInitInd = 0
	FirstChildInd = 1
	LastChildInd  = 16
	ExtSInd       = 17
	ExtCInd       = 18
)

// Account leaf block geometry.
const (
	AccountLeafRows         = 8
	AccountKeySInd          = 0
	AccountKeyCInd          = 1
	AccountNonExistingInd   = 2
	AccountNonceBalanceSInd = 3
	AccountNonceBalanceCInd = 4
	AccountStorageSInd      = 5
	AccountStorageCInd      = 6
	AccountDriftedInd       = 7
)

// Storage leaf block geometry.
const (
	StorageLeafRows   = 5
	StorageKeySInd    = 0
	StorageValueSInd  = 1
	StorageKeyCInd    = 2
	StorageValueCInd  = 3
	StorageDriftedInd = 4
)

// KeyNibbles is the depth of a fully consumed 32-byte trie key.
const KeyNibbles = 64

// emptyTrieHash is keccak256(rlp("")), the root of an empty trie.
var emptyTrieHash = [32]byte{
	86, 232, 31, 23, 27, 204, 85, 166, 255, 131, 69, 230, 146, 192, 248, 110,
	91, 72, 224, 27, 153, 108, 173, 192, 1, 98, 47, 181, 227, 99, 180, 33,
}

// Params carries the engine configuration.
type Params struct {
	// Randomness is the RLC folding randomness r, shared by every
	// accumulator and both membership tables.
	Randomness fr.Element
	// Parallelism bounds the number of goroutines Verify uses. Zero
	// means one per available CPU.
	Parallelism int
}

// Option configures an Engine.
type Option func(*Params)

// WithRandomness overrides the folding randomness.
func WithRandomness(r fr.Element) Option {
	return func(p *Params) { p.Randomness = r }
}

// WithParallelism bounds the goroutines used during verification.
func WithParallelism(n int) Option {
	return func(p *Params) { p.Parallelism = n }
}

// DefaultParams returns the parameters used when no option overrides them.
func DefaultParams() Params {
	var p Params
	p.Randomness.SetUint64(2)
	return p
}
