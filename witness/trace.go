package witness

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Trace is an ordered sequence of witness rows, possibly covering several
// chained proofs, together with the raw node blobs that exist only to be
// hashed into the relation table.
//
// In the raw record form, a trailing kind byte of KindHashOnly marks a
// variable-length node blob; every other record must be exactly Width bytes.
type Trace struct {
	rows  []Row
	blobs [][]byte
}

// NewTrace validates raw records and assembles them into a Trace.
func NewTrace(raw [][]byte) (*Trace, error) {
	t := &Trace{}
	for i, rr := range raw {
		if len(rr) == 0 {
			return nil, fmt.Errorf("row %d: empty record", i)
		}
		if Kind(rr[len(rr)-1]) == KindHashOnly {
			blob := make([]byte, len(rr)-1)
			copy(blob, rr[:len(rr)-1])
			t.blobs = append(t.blobs, blob)
			continue
		}
		r, err := NewRow(rr)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		t.rows = append(t.rows, r)
	}
	return t, nil
}

// FromParts assembles a Trace from already-built rows and hash blobs.
func FromParts(rows []Row, blobs [][]byte) *Trace {
	return &Trace{rows: rows, blobs: blobs}
}

// Len returns the number of main rows.
func (t *Trace) Len() int { return len(t.rows) }

// Row returns main row i.
func (t *Trace) Row(i int) *Row { return &t.rows[i] }

// Main returns the rows that belong to the assertion trace.
func (t *Trace) Main() []Row { return t.rows }

// HashOnly returns the node blobs that only contribute to the
// hash-relation table.
func (t *Trace) HashOnly() [][]byte { return t.blobs }

// Boundaries marks, over the main rows, the positions where a new proof
// starts: row 0, every transition of the not-first-level flag from set back
// to clear, and every change of the proof counter. The counter condition
// catches chained proofs that never leave the first level (a leaf at the
// trie root), where the flag transition alone is invisible. Accumulator
// state is re-created at each marked row.
func Boundaries(main []Row) []bool {
	b := make([]bool, len(main))
	for i := range main {
		if i == 0 {
			b[i] = true
			continue
		}
		b[i] = (main[i-1].NotFirstLevel() && !main[i].NotFirstLevel()) ||
			main[i].Counter() != main[i-1].Counter()
	}
	return b
}

type traceWire struct {
	Rows  [][]byte `cbor:"1,keyasint"`
	Blobs [][]byte `cbor:"2,keyasint"`
}

// WriteTo serializes the trace with deterministic CBOR.
func (t *Trace) WriteTo(w io.Writer) (int64, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return 0, err
	}
	wire := traceWire{
		Rows:  make([][]byte, len(t.rows)),
		Blobs: t.blobs,
	}
	for i := range t.rows {
		wire.Rows[i] = t.rows[i][:]
	}
	data, err := enc.Marshal(wire)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadFrom deserializes a trace written by WriteTo.
func (t *Trace) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	dm, err := cbor.DecOptions{MaxArrayElements: 2147483647}.DecMode()
	if err != nil {
		return int64(len(data)), err
	}
	var wire traceWire
	if err := dm.Unmarshal(data, &wire); err != nil {
		return int64(len(data)), err
	}
	rows := make([]Row, len(wire.Rows))
	for i, rr := range wire.Rows {
		if rows[i], err = NewRow(rr); err != nil {
			return int64(len(data)), fmt.Errorf("row %d: %w", i, err)
		}
	}
	t.rows = rows
	t.blobs = wire.Blobs
	return int64(len(data)), nil
}
