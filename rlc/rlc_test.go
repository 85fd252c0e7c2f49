package rlc

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func testFolder() *Folder {
	var r fr.Element
	r.SetUint64(2)
	return NewFolder(r, 66)
}

func TestOfMatchesExplicitSum(t *testing.T) {
	assert := require.New(t)
	f := testFolder()

	bytes := []byte{3, 0, 255, 17, 128}
	var want, term fr.Element
	for i, b := range bytes {
		term.SetUint64(uint64(b))
		p := f.Power(i)
		term.Mul(&term, &p)
		want.Add(&want, &term)
	}

	got := f.Of(bytes)
	assert.True(want.Equal(&got))
}

func TestFoldDoesNotMutateInputs(t *testing.T) {
	assert := require.New(t)
	f := testFolder()

	var acc, mult fr.Element
	acc.SetUint64(42)
	mult.SetUint64(7)
	accCopy, multCopy := acc, mult

	f.Fold(acc, mult, []byte{1, 2, 3})
	assert.True(acc.Equal(&accCopy))
	assert.True(mult.Equal(&multCopy))
}

func TestPowerTable(t *testing.T) {
	assert := require.New(t)
	f := testFolder()

	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			pi, pj, pij := f.Power(i), f.Power(j), f.Power(i+j)
			var prod fr.Element
			prod.Mul(&pi, &pj)
			assert.True(prod.Equal(&pij), "r^%d * r^%d != r^%d", i, j, i+j)
		}
	}
}

func TestFoldConcatenation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	f := testFolder()

	properties.Property("fold(fold(s1), s2) == fold(s1 || s2)", prop.ForAll(
		func(s1, s2 []byte) bool {
			var acc, mult fr.Element
			mult.SetOne()

			a1, m1 := f.Fold(acc, mult, s1)
			a2, m2 := f.Fold(a1, m1, s2)

			a3, m3 := f.Fold(acc, mult, append(append([]byte{}, s1...), s2...))
			return a2.Equal(&a3) && m2.Equal(&m3)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}

func TestFoldOrderSensitive(t *testing.T) {
	assert := require.New(t)
	f := testFolder()

	a := f.Of([]byte{1, 2})
	b := f.Of([]byte{2, 1})
	assert.False(a.Equal(&b))
}
