package circuit

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/zkmpt/rlc"
	"github.com/consensys/zkmpt/table"
	"github.com/consensys/zkmpt/witness"
)

// Cells holds the derived (assigned) values of one trace row. Several cells
// are multiplexed by row kind, the same way the reference trace reuses
// advice columns:
//
//   - SModRLC/CModRLC carry the modified child hash fold on branch rows,
//     the leaf shape flag pair on leaf key rows, the nonce/balance folds on
//     account nonce-balance rows and the value fold on storage value rows.
//   - Sel1/Sel2 flag a nil modified child on branch rows, carry the S-side
//     nonce/balance folds on the account nonce-balance C row, and flag a
//     placeholder leaf on storage leaf rows.
type Cells struct {
	AccS     fr.Element
	AccMultS fr.Element
	AccC     fr.Element
	AccMultC fr.Element

	KeyRLC      fr.Element
	KeyMult     fr.Element
	KeyRLCPrev  fr.Element
	KeyMultPrev fr.Element

	SModRLC fr.Element
	CModRLC fr.Element

	MultDiff        fr.Element
	MultDiffNonce   fr.Element
	MultDiffBalance fr.Element

	Sel1 fr.Element
	Sel2 fr.Element

	// Non-existence cells: key-suffix folds of the enquired address and
	// of the wrong leaf, and the inverse witnessing their difference.
	Sum     fr.Element
	SumPrev fr.Element
	DiffInv fr.Element

	AddressRLC fr.Element
	RootS      fr.Element
	RootC      fr.Element

	// NibblesNum counts the key nibbles consumed on the path up to and
	// including this row's level.
	NibblesNum int

	// Branch RLP payload countdown per side, after this row's child.
	RLPLenRemS int
	RLPLenRemC int
}

// Assignment is a fully assigned trace: the main rows, their derived cells,
// the proof-boundary marks and the hash-relation table populated during
// assignment.
type Assignment struct {
	rows       []witness.Row
	cells      []Cells
	boundaries []bool

	folder *rlc.Folder
	keccak *table.Keccak
}

// Len returns the number of main rows.
func (a *Assignment) Len() int { return len(a.rows) }

// Row returns main row i.
func (a *Assignment) Row(i int) *witness.Row { return &a.rows[i] }

// CellsAt returns the derived cells of main row i.
func (a *Assignment) CellsAt(i int) *Cells { return &a.cells[i] }

// Keccak exposes the hash-relation table populated for this trace.
func (a *Assignment) Keccak() *table.Keccak { return a.keccak }

// View is a window over an assignment centred on one row, with relative
// (rotation) access to neighbouring rows, mirroring how gates address the
// trace. It also carries the public root folds of the Verify call it
// belongs to, so concurrent calls on one engine never share state.
type View struct {
	a *Assignment
	i int

	startRoot fr.Element
	endRoot   fr.Element
}

// Index returns the absolute index of the centre row.
func (v *View) Index() int { return v.i }

// InBounds reports whether rotation rot lands inside the trace.
func (v *View) InBounds(rot int) bool {
	j := v.i + rot
	return j >= 0 && j < len(v.a.rows)
}

// Row returns the row at the given rotation, nil when out of bounds.
func (v *View) Row(rot int) *witness.Row {
	if !v.InBounds(rot) {
		return nil
	}
	return &v.a.rows[v.i+rot]
}

// Cells returns the derived cells at the given rotation, nil when out of
// bounds.
func (v *View) Cells(rot int) *Cells {
	if !v.InBounds(rot) {
		return nil
	}
	return &v.a.cells[v.i+rot]
}

// Boundary reports whether the row at the given rotation starts a new
// proof level.
func (v *View) Boundary(rot int) bool {
	if !v.InBounds(rot) {
		return false
	}
	return v.a.boundaries[v.i+rot]
}

// Folder returns the process folder shared by assignment and gates.
func (v *View) Folder() *rlc.Folder { return v.a.folder }

// Keccak returns the hash-relation table of the assignment.
func (v *View) Keccak() *table.Keccak { return v.a.keccak }
