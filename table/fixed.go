package table

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/rlc"
)

// Fixed is the precomputed static table. The zero value is unusable; build
// it with NewFixed. Querying an unpopulated Fixed is a programming error
// and panics.
type Fixed struct {
	ranges map[Tag]*bitset.BitSet
	rmult  []fr.Element
}

// NewFixed populates all fixed sub-tables from the folder's randomness.
func NewFixed(f *rlc.Folder) *Fixed {
	t := &Fixed{
		ranges: make(map[Tag]*bitset.BitSet, 3),
		rmult:  make([]fr.Element, RMultLen),
	}

	r16 := bitset.New(16)
	for i := uint(0); i < 16; i++ {
		r16.Set(i)
	}
	t.ranges[TagRange16] = r16

	r256 := bitset.New(256)
	for i := uint(0); i < 256; i++ {
		r256.Set(i)
	}
	t.ranges[TagRange256] = r256

	rKeyLen := bitset.New(33*255 + 1)
	for i := uint(0); i <= 33*255; i++ {
		rKeyLen.Set(i)
	}
	t.ranges[TagRangeKeyLen256] = rKeyLen

	for i := 0; i < RMultLen; i++ {
		t.rmult[i] = f.Power(i)
	}

	return t
}

// Contains implements Oracle.
func (t *Fixed) Contains(tag Tag, x, y fr.Element) bool {
	if t.ranges == nil {
		panic("table: fixed table not populated")
	}

	if tag == TagRMult {
		if !x.IsUint64() {
			return false
		}
		i := x.Uint64()
		if i >= RMultLen {
			return false
		}
		return y.Equal(&t.rmult[i])
	}

	set, ok := t.ranges[tag]
	if !ok {
		panic("table: unknown fixed table tag")
	}
	if !y.IsZero() {
		return false
	}
	if !x.IsUint64() {
		return false
	}
	v := x.Uint64()
	if v > uint64(^uint(0)) {
		return false
	}
	return set.Test(uint(v))
}
