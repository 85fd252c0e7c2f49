package table

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/rlc"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func testFolder() *rlc.Folder {
	var r fr.Element
	r.SetUint64(2)
	return rlc.NewFolder(r, RMultLen)
}

func elem(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func TestFixedRanges(t *testing.T) {
	assert := require.New(t)
	tbl := NewFixed(testFolder())

	var zero fr.Element
	assert.True(tbl.Contains(TagRange16, elem(0), zero))
	assert.True(tbl.Contains(TagRange16, elem(15), zero))
	assert.False(tbl.Contains(TagRange16, elem(16), zero))

	assert.True(tbl.Contains(TagRange256, elem(255), zero))
	assert.False(tbl.Contains(TagRange256, elem(256), zero))
	assert.False(tbl.Contains(TagRange256, elem(1), elem(1)))

	assert.True(tbl.Contains(TagRangeKeyLen256, elem(33*255), zero))
	assert.False(tbl.Contains(TagRangeKeyLen256, elem(33*255+1), zero))

	// field elements that are not small integers are out of range
	var big fr.Element
	big.SetString("21888242871839275222246405745257275088548364400416034343698204186575808495616")
	assert.False(tbl.Contains(TagRange256, big, zero))
}

func TestFixedRMult(t *testing.T) {
	assert := require.New(t)
	f := testFolder()
	tbl := NewFixed(f)

	for i := 0; i < RMultLen; i++ {
		assert.True(tbl.Contains(TagRMult, elem(uint64(i)), f.Power(i)))
	}
	assert.False(tbl.Contains(TagRMult, elem(RMultLen), f.Power(RMultLen)))
	assert.False(tbl.Contains(TagRMult, elem(3), f.Power(4)))
}

func TestFixedUnpopulatedPanics(t *testing.T) {
	var tbl Fixed
	require.Panics(t, func() {
		tbl.Contains(TagRange256, elem(1), elem(0))
	})
}

func TestKeccakRelation(t *testing.T) {
	assert := require.New(t)
	f := testFolder()
	k := NewKeccak(f)

	blob := []byte{226, 160, 1, 2, 3}
	k.Add(blob)
	assert.Equal(1, k.Len())

	h := sha3.NewLegacyKeccak256()
	h.Write(blob)
	digest := h.Sum(nil)

	input := f.Of(blob)
	assert.True(k.Contains(input, f.Of(digest)))

	// wrong digest fold is rejected
	assert.False(k.Contains(input, elem(1)))

	// unknown input is rejected
	assert.False(k.Contains(elem(99), f.Of(digest)))

	d, ok := k.Digest(input)
	want := f.Of(digest)
	assert.True(ok)
	assert.True(d.Equal(&want))
}
