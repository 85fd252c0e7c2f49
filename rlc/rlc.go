// Package rlc implements the random-linear-combination fold used to collapse
// variable-length byte streams into single field elements.
//
// Every byte stream appearing in a witness trace (node encodings, keys,
// digests) is folded with the same process-wide randomness r:
//
//	acc' = acc + Σ b_i · mult · r^i
//	mult' = mult · r^len
//
// The fold is order-sensitive and pure; two streams compare equal iff their
// folds compare equal (up to collisions in the scalar field, which is the
// whole point of choosing r after the streams are committed).
package rlc

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Folder holds the folding randomness and a precomputed table of its powers.
type Folder struct {
	r      fr.Element
	powers []fr.Element
}

// NewFolder returns a Folder for randomness r with n precomputed powers
// r^0..r^(n-1). n must cover the longest window folded in one call; Power
// extends the table on demand so n is a sizing hint, not a hard cap.
func NewFolder(r fr.Element, n int) *Folder {
	f := &Folder{r: r}
	f.grow(n)
	return f
}

func (f *Folder) grow(n int) {
	if len(f.powers) >= n {
		return
	}
	if len(f.powers) == 0 {
		f.powers = make([]fr.Element, 1, n)
		f.powers[0].SetOne()
	}
	for len(f.powers) < n {
		var p fr.Element
		p.Mul(&f.powers[len(f.powers)-1], &f.r)
		f.powers = append(f.powers, p)
	}
}

// R returns the folding randomness.
func (f *Folder) R() fr.Element {
	return f.r
}

// Power returns r^i.
func (f *Folder) Power(i int) fr.Element {
	f.grow(i + 1)
	return f.powers[i]
}

// Fold absorbs bytes into the accumulator, returning the updated
// (acc, mult) pair. It never mutates its inputs.
func (f *Folder) Fold(acc, mult fr.Element, bytes []byte) (fr.Element, fr.Element) {
	var term fr.Element
	for _, b := range bytes {
		term.SetUint64(uint64(b))
		term.Mul(&term, &mult)
		acc.Add(&acc, &term)
		mult.Mul(&mult, &f.r)
	}
	return acc, mult
}

// Of folds bytes starting from a zero accumulator and unit multiplier.
func (f *Folder) Of(bytes []byte) fr.Element {
	var acc, mult fr.Element
	mult.SetOne()
	acc, _ = f.Fold(acc, mult, bytes)
	return acc
}
