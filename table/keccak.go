package table

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/logger"
	"github.com/consensys/zkmpt/rlc"
	"golang.org/x/crypto/sha3"
)

// Keccak is the per-run hash-relation table: for every node blob referenced
// by a witness it records the pair (fold of the blob bytes, fold of the
// keccak256 digest bytes). Populate it fully before assignment begins.
type Keccak struct {
	folder *rlc.Folder
	rel    map[fr.Element]fr.Element
}

// NewKeccak returns an empty relation table folding with f.
func NewKeccak(f *rlc.Folder) *Keccak {
	return &Keccak{
		folder: f,
		rel:    make(map[fr.Element]fr.Element),
	}
}

// Add hashes blob and records the (folded input, folded digest) pair.
func (k *Keccak) Add(blob []byte) {
	h := sha3.NewLegacyKeccak256()
	h.Write(blob)
	digest := h.Sum(nil)

	input := k.folder.Of(blob)
	k.rel[input] = k.folder.Of(digest)
}

// Contains reports whether (input, digest) is a recorded relation.
func (k *Keccak) Contains(input, digest fr.Element) bool {
	d, ok := k.rel[input]
	return ok && d.Equal(&digest)
}

// Digest returns the recorded digest fold for a given input fold.
func (k *Keccak) Digest(input fr.Element) (fr.Element, bool) {
	d, ok := k.rel[input]
	return d, ok
}

// Len returns the number of recorded relations.
func (k *Keccak) Len() int { return len(k.rel) }

// LogStats emits a debug line with the table size.
func (k *Keccak) LogStats() {
	log := logger.For("table")
	log.Debug().Str("table", "keccak").Int("relations", len(k.rel)).Msg("hash-relation table populated")
}
