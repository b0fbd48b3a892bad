package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testMatrix() *Matrix {
	// 3x4 with a duplicate at (1, 2).
	return FromCOO(3, 4,
		[]int32{0, 1, 1, 2, 1},
		[]int32{0, 2, 3, 1, 2},
		[]float32{1, 2, 3, 4, 5})
}

func TestCoalesce(t *testing.T) {
	m := testMatrix()
	add := m.Coalesce(ReduceAdd)
	assert.Equal(t, 4, add.NNZ())
	assert.Equal(t, float32(7), add.At(1, 2)) // 2 + 5
	assert.Equal(t, float32(3), add.At(1, 3))

	max := m.Coalesce(ReduceMax)
	assert.Equal(t, float32(5), max.At(1, 2))

	// Idempotency: coalescing a coalesced matrix returns an identical matrix.
	again := add.Coalesce(ReduceAdd)
	r1, c1, v1 := add.COO()
	r2, c2, v2 := again.COO()
	assert.Equal(t, r1, r2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, v1, v2)

	// Determinism: the same entries in a different order coalesce identically.
	shuffled := FromCOO(3, 4,
		[]int32{1, 2, 1, 1, 0},
		[]int32{2, 1, 3, 2, 0},
		[]float32{5, 4, 3, 2, 1}).Coalesce(ReduceAdd)
	r3, c3, v3 := shuffled.COO()
	assert.Equal(t, r1, r3)
	assert.Equal(t, c1, c3)
	assert.Equal(t, v1, v3)
}

func TestAssign(t *testing.T) {
	m := testMatrix().Coalesce(ReduceAdd)
	for _, test := range []struct {
		i, j  int
		value float32
	}{
		{1, 2, 10},  // Overwrite an existing entry.
		{0, 3, -2},  // Create a fresh entry.
		{2, 1, 0},   // Reset to zero.
		{1, 2, 0.5}, // Fractional value.
	} {
		got := m.Assign(test.i, test.j, test.value)
		assert.Equal(t, test.value, got.At(test.i, test.j))
		// All other coordinates are unchanged.
		for i := 0; i < m.Rows(); i++ {
			for j := 0; j < m.Cols(); j++ {
				if i == test.i && j == test.j {
					continue
				}
				assert.Equal(t, m.At(i, j), got.At(i, j), "coordinate (%d, %d)", i, j)
			}
		}
	}

	require.Panics(t, func() { m.Assign(3, 0, 1) })
	require.Panics(t, func() { m.Assign(0, 4, 1) })
	require.Panics(t, func() { m.Assign(-1, 0, 1) })
}

func TestFillOnMask(t *testing.T) {
	m := testMatrix()

	rows := m.FillOnMask([]bool{false, true, false}, 9, 0)
	assert.Equal(t, float32(9), rows.At(1, 2))
	assert.Equal(t, float32(9), rows.At(1, 3))
	assert.Equal(t, float32(1), rows.At(0, 0))
	assert.Equal(t, float32(4), rows.At(2, 1))
	// Entries never materialized are not created.
	assert.Equal(t, float32(0), rows.At(1, 0))
	assert.Equal(t, 4, rows.Coalesce(ReduceAdd).NNZ())

	cols := m.FillOnMask([]bool{false, true, true, false}, -1, 1)
	assert.Equal(t, float32(-1), cols.At(1, 2))
	assert.Equal(t, float32(-1), cols.At(2, 1))
	assert.Equal(t, float32(3), cols.At(1, 3))

	require.Panics(t, func() { m.FillOnMask([]bool{true}, 1, 0) })
	require.Panics(t, func() { m.FillOnMask([]bool{true, true, true}, 1, 2) })
}

func TestConcatRows(t *testing.T) {
	a := FromCOO(2, 3, []int32{0, 1}, []int32{0, 2}, []float32{1, 2})
	b := FromCOO(2, 3, []int32{0, 1}, []int32{1, 0}, []float32{3, 4})
	out := ConcatRows(a, b)
	require.Equal(t, 4, out.Rows())
	require.Equal(t, 3, out.Cols())
	for i := 0; i < a.Rows(); i++ {
		for j := 0; j < a.Cols(); j++ {
			assert.Equal(t, a.At(i, j), out.At(i, j))
			assert.Equal(t, b.At(i, j), out.At(i+a.Rows(), j))
		}
	}

	require.Panics(t, func() {
		ConcatRows(a, New(1, 4))
	})
}

func TestBatchedOp(t *testing.T) {
	a := FromCOO(5, 2, []int32{0, 2, 4}, []int32{0, 1, 0}, []float32{1, 2, 3})
	b := FromCOO(5, 2, []int32{0, 3, 4}, []int32{0, 0, 0}, []float32{10, 20, 30})
	addOp := func(x, y *mat.Dense) *mat.Dense {
		var out mat.Dense
		out.Add(x, y)
		return &out
	}
	// Block size 2 forces 3 blocks, including a final short block.
	got := BatchedOp(2, addOp, a, b)
	require.Equal(t, 5, got.Rows())
	want := map[[2]int]float32{
		{0, 0}: 11, {2, 1}: 2, {3, 0}: 20, {4, 0}: 33,
	}
	for coord, v := range want {
		assert.Equal(t, v, got.At(coord[0], coord[1]))
	}
	assert.Equal(t, float32(0), got.At(1, 0))

	require.Panics(t, func() { BatchedOp(0, addOp, a, b) })
	require.Panics(t, func() { BatchedOp(2, addOp, a, New(5, 3)) })
}

func TestNonZeroAndSums(t *testing.T) {
	m := testMatrix().Assign(2, 1, 0) // Zero-out one entry.
	row, col, val := m.NonZero()
	require.Len(t, val, 3)
	for i := range val {
		assert.NotEqual(t, float32(0), val[i])
		assert.NotEqual(t, [2]int32{2, 1}, [2]int32{row[i], col[i]})
	}

	sums := testMatrix().RowSums()
	assert.Equal(t, []float32{1, 10, 4}, sums)
	colSums := testMatrix().ColSums()
	assert.Equal(t, []float32{1, 4, 7, 3}, colSums)
}

func TestSliceRowsAndDense(t *testing.T) {
	m := testMatrix()
	s := m.SliceRows(1, 3)
	require.Equal(t, 2, s.Rows())
	assert.Equal(t, float32(7), s.At(0, 2))
	assert.Equal(t, float32(4), s.At(1, 1))

	d := s.Dense()
	r, c := d.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 4, c)
	assert.Equal(t, 7.0, d.At(0, 2))

	round := FromDense(d)
	assert.Equal(t, float32(7), round.At(0, 2))
	assert.Equal(t, 3, round.NNZ())
}

func TestCompressedViews(t *testing.T) {
	m := testMatrix()

	byRow := m.CompressRows()
	indices, values := byRow.Span(1)
	assert.Equal(t, []int32{2, 3}, indices)
	assert.Equal(t, []float32{7, 3}, values)
	indices, _ = byRow.Span(0)
	assert.Equal(t, []int32{0}, indices)

	byCol := m.CompressCols()
	indices, values = byCol.Span(2)
	assert.Equal(t, []int32{1}, indices)
	assert.Equal(t, []float32{7}, values)
	indices, _ = byCol.Span(3)
	assert.Equal(t, []int32{1}, indices)

	// A column with no entries has an empty span.
	gap := FromCOO(2, 3, []int32{0, 1}, []int32{0, 2}, []float32{1, 1}).CompressCols()
	indices, _ = gap.Span(1)
	assert.Empty(t, indices)
}
