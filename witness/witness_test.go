package witness

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func rowOfKind(k Kind, notFirstLevel bool) Row {
	var r Row
	r[kindOff] = byte(k)
	if notFirstLevel {
		r[notFirstLevelOff] = 1
	}
	return r
}

func TestNewRowWidth(t *testing.T) {
	assert := require.New(t)

	_, err := NewRow(make([]byte, Width-1))
	assert.Error(err)

	_, err = NewRow(make([]byte, Width))
	assert.NoError(err)
}

func TestRowAccessors(t *testing.T) {
	assert := require.New(t)

	var r Row
	r[0], r[1] = 226, 160                      // s rlp
	r[CRLPStart], r[CRLPStart+1] = 248, 81     // c rlp
	r[SStart] = 7
	r[CStart+31] = 9
	r[flagsOff+int(ModNonce)] = 1
	r[notFirstLevelOff] = 1
	r[kindOff] = byte(KindInitBranch)
	r[KeyPos] = 11
	r[DriftedPosPos] = 3
	r[BranchC16Pos] = 1

	assert.EqualValues(226, r.SRLP1())
	assert.EqualValues(160, r.SRLP2())
	assert.EqualValues(248, r.CRLP1())
	assert.EqualValues(81, r.CRLP2())
	assert.EqualValues(7, r.SByte(0))
	assert.EqualValues(9, r.CByte(31))
	assert.True(r.Mod(ModNonce))
	assert.False(r.Mod(ModStorage))
	assert.True(r.NotFirstLevel())
	assert.Equal(KindInitBranch, r.Kind())
	assert.EqualValues(11, r.ModifiedNode())
	assert.EqualValues(3, r.DriftedPos())
	assert.True(r.IsBranchC16())
	assert.False(r.IsBranchC1())
}

func TestExtShape(t *testing.T) {
	assert := require.New(t)

	cases := []struct {
		pos  int
		want ExtShape
	}{
		{ExtShortC16Pos, ExtShortC16},
		{ExtShortC1Pos, ExtShortC1},
		{ExtLongEvenC16Pos, ExtLongEvenC16},
		{ExtLongEvenC1Pos, ExtLongEvenC1},
		{ExtLongOddC16Pos, ExtLongOddC16},
		{ExtLongOddC1Pos, ExtLongOddC1},
	}
	for _, tc := range cases {
		var r Row
		r[tc.pos] = 1
		assert.Equal(tc.want, r.ExtShape(), tc.want.String())
	}

	var r Row
	assert.Equal(ExtShapeNone, r.ExtShape())

	assert.True(ExtLongEvenC1.Even())
	assert.False(ExtLongOddC16.Even())
	assert.True(ExtShortC16.Short())
	assert.True(ExtLongOddC16.C16())
	assert.False(ExtLongOddC1.C16())
}

func TestNewTraceSplitsHashOnly(t *testing.T) {
	assert := require.New(t)

	r1 := rowOfKind(KindInitBranch, false)
	r2 := rowOfKind(KindBranchChild, true)
	blob := []byte{226, 160, 7, 8, 9, byte(KindHashOnly)}

	tr, err := NewTrace([][]byte{r1[:], blob, r2[:]})
	assert.NoError(err)

	main := tr.Main()
	assert.Len(main, 2)
	assert.Equal(KindInitBranch, main[0].Kind())
	assert.Equal(KindBranchChild, main[1].Kind())

	blobs := tr.HashOnly()
	assert.Len(blobs, 1)
	assert.Equal([]byte{226, 160, 7, 8, 9}, blobs[0])
}

func TestBoundaries(t *testing.T) {
	assert := require.New(t)

	main := []Row{
		rowOfKind(KindInitBranch, false),  // proof 1 starts
		rowOfKind(KindBranchChild, true),
		rowOfKind(KindBranchChild, true),
		rowOfKind(KindInitBranch, false),  // proof 2 starts
		rowOfKind(KindBranchChild, true),
	}

	b := Boundaries(main)
	assert.Equal([]bool{true, false, false, true, false}, b)
}

func TestBoundariesOnCounterChange(t *testing.T) {
	assert := require.New(t)

	// two chained proofs that never leave the first level: the
	// not-first-level flag is clear everywhere, only the counter moves
	main := []Row{
		rowOfKind(KindAccountLeafKeyS, false),
		rowOfKind(KindAccountLeafKeyC, false),
		rowOfKind(KindAccountLeafKeyS, false),
		rowOfKind(KindAccountLeafKeyC, false),
	}
	main[2].SetCounter(1)
	main[3].SetCounter(1)

	b := Boundaries(main)
	assert.Equal([]bool{true, false, true, false}, b)
}

func TestTraceCBORRoundTrip(t *testing.T) {
	assert := require.New(t)

	r1 := rowOfKind(KindInitBranch, false)
	r1[KeyPos] = 5
	r2 := rowOfKind(KindBranchChild, true)
	r2[SStart+3] = 77

	tr := FromParts([]Row{r1, r2}, [][]byte{{248, 81, 1, 2, 3}})

	var buf bytes.Buffer
	_, err := tr.WriteTo(&buf)
	assert.NoError(err)

	var back Trace
	_, err = back.ReadFrom(&buf)
	assert.NoError(err)

	assert.Equal(tr.Len(), back.Len())
	for i := 0; i < tr.Len(); i++ {
		assert.Equal(*tr.Row(i), *back.Row(i))
	}
	assert.Equal(tr.HashOnly(), back.HashOnly())
}
