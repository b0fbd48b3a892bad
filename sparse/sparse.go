// Package sparse implements a coordinate-list (COO) sparse matrix of float32 values.
//
// It provides the small set of operations needed by degree-normalized link
// propagation over user/item interaction matrices: coalescing duplicates with an
// "add" or "max" reduction, element assignment, masked fill, row concatenation,
// batched dense operations and compressed (CSR/CSC-like) views for fast products.
//
// A Matrix never grows implicitly: its size is declared at construction and rows
// are only added through ConcatRows. All operations return fresh matrices -- the
// receiver is never modified in place -- so a Matrix shared across goroutines is
// safe for concurrent reads.
package sparse

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Reduction defines how Coalesce combines values of duplicate coordinates.
type Reduction int

const (
	// ReduceAdd sums duplicate entries.
	ReduceAdd Reduction = iota

	// ReduceMax keeps the largest of the duplicate entries.
	ReduceMax
)

// Matrix is a sparse matrix in coordinate-list form: parallel slices of row
// indices, column indices and values.
//
// Duplicate coordinates may exist until Coalesce is called. Accessors that need
// unique coordinates (At, NonZero, Dense, the compressed views, the sums) coalesce
// with ReduceAdd on demand, which is the natural reading of duplicates in an
// additive format.
type Matrix struct {
	numRows, numCols int

	row, col []int32
	val      []float32

	coalesced bool
}

// New returns an empty Matrix with the given fixed size.
func New(numRows, numCols int) *Matrix {
	if numRows < 0 || numCols < 0 {
		exceptions.Panicf("sparse.New: invalid size %dx%d", numRows, numCols)
	}
	return &Matrix{numRows: numRows, numCols: numCols, coalesced: true}
}

// FromCOO creates a Matrix of the given size from parallel coordinate slices.
// The slices are copied. It panics if the slices disagree in length or any
// coordinate falls outside the declared size.
func FromCOO(numRows, numCols int, row, col []int32, val []float32) *Matrix {
	if len(row) != len(col) || len(row) != len(val) {
		exceptions.Panicf("sparse.FromCOO: coordinate slices disagree in length: %d rows, %d cols, %d values",
			len(row), len(col), len(val))
	}
	m := &Matrix{
		numRows: numRows,
		numCols: numCols,
		row:     append([]int32(nil), row...),
		col:     append([]int32(nil), col...),
		val:     append([]float32(nil), val...),
	}
	for i := range m.row {
		if m.row[i] < 0 || int(m.row[i]) >= numRows || m.col[i] < 0 || int(m.col[i]) >= numCols {
			exceptions.Panicf("sparse.FromCOO: entry %d at (%d, %d) is outside the declared %dx%d size",
				i, m.row[i], m.col[i], numRows, numCols)
		}
	}
	return m
}

// FromDense sparsifies a dense matrix, keeping only its non-zero entries.
func FromDense(d *mat.Dense) *Matrix {
	numRows, numCols := d.Dims()
	m := New(numRows, numCols)
	for i := 0; i < numRows; i++ {
		for j := 0; j < numCols; j++ {
			if v := d.At(i, j); v != 0 {
				m.row = append(m.row, int32(i))
				m.col = append(m.col, int32(j))
				m.val = append(m.val, float32(v))
			}
		}
	}
	return m
}

// Rows returns the declared number of rows.
func (m *Matrix) Rows() int { return m.numRows }

// Cols returns the declared number of columns.
func (m *Matrix) Cols() int { return m.numCols }

// NNZ returns the number of stored entries, including duplicates and explicit zeros.
func (m *Matrix) NNZ() int { return len(m.val) }

// COO returns the raw coordinate slices. Don't modify the returned slices, they
// are in use by the Matrix -- make copies if you need to change them.
func (m *Matrix) COO() (row, col []int32, val []float32) {
	return m.row, m.col, m.val
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{
		numRows:   m.numRows,
		numCols:   m.numCols,
		row:       append([]int32(nil), m.row...),
		col:       append([]int32(nil), m.col...),
		val:       append([]float32(nil), m.val...),
		coalesced: m.coalesced,
	}
}

// String returns a short description of the matrix.
func (m *Matrix) String() string {
	return fmt.Sprintf("sparse.Matrix[%s x %s, %s entries]",
		humanize.Comma(int64(m.numRows)), humanize.Comma(int64(m.numCols)),
		humanize.Comma(int64(len(m.val))))
}

// Coalesce combines duplicate coordinates with the given reduction, returning a
// matrix with unique coordinates sorted by (row, col). It is deterministic
// regardless of the input entry ordering, and idempotent: coalescing an already
// coalesced matrix returns an equal matrix.
func (m *Matrix) Coalesce(reduce Reduction) *Matrix {
	order := make([]int, len(m.val))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if m.row[ia] != m.row[ib] {
			return m.row[ia] < m.row[ib]
		}
		return m.col[ia] < m.col[ib]
	})

	out := &Matrix{numRows: m.numRows, numCols: m.numCols, coalesced: true}
	for _, idx := range order {
		r, c, v := m.row[idx], m.col[idx], m.val[idx]
		last := len(out.val) - 1
		if last >= 0 && out.row[last] == r && out.col[last] == c {
			switch reduce {
			case ReduceAdd:
				out.val[last] += v
			case ReduceMax:
				if v > out.val[last] {
					out.val[last] = v
				}
			default:
				exceptions.Panicf("sparse.Coalesce: unknown reduction %d", reduce)
			}
			continue
		}
		out.row = append(out.row, r)
		out.col = append(out.col, c)
		out.val = append(out.val, v)
	}
	return out
}

// IsCoalesced reports whether the matrix is known to have unique coordinates.
func (m *Matrix) IsCoalesced() bool { return m.coalesced }

func (m *Matrix) checkBounds(op string, i, j int) {
	if i < 0 || i >= m.numRows || j < 0 || j >= m.numCols {
		exceptions.Panicf("sparse.%s: coordinate (%d, %d) is out of bounds for a %dx%d matrix",
			op, i, j, m.numRows, m.numCols)
	}
}

// At returns the materialized value at (i, j), reading duplicates additively.
// Missing entries read as 0. It panics if the coordinate is out of bounds.
func (m *Matrix) At(i, j int) float32 {
	m.checkBounds("At", i, j)
	var v float32
	for idx := range m.val {
		if int(m.row[idx]) == i && int(m.col[idx]) == j {
			v += m.val[idx]
		}
	}
	return v
}

// Assign returns a matrix where the entry at (i, j) reads exactly value, leaving
// every other coordinate unchanged. It panics if (i, j) is out of bounds.
//
// Setting an exact value is not native to an additive sparse format, so it is
// implemented by appending the delta (value minus the previous reading) and
// coalescing with ReduceAdd.
func (m *Matrix) Assign(i, j int, value float32) *Matrix {
	m.checkBounds("Assign", i, j)
	prev := m.At(i, j)
	out := m.Clone()
	out.row = append(out.row, int32(i))
	out.col = append(out.col, int32(j))
	out.val = append(out.val, value-prev)
	return out.Coalesce(ReduceAdd)
}

// FillOnMask returns a matrix where every stored entry whose row (dim=0) or
// column (dim=1) index is selected by mask reads exactly value. Coordinates with
// no explicitly stored entry are not created -- a sparse zero stays a sparse
// zero. The mask length must match the size of the chosen dimension.
func (m *Matrix) FillOnMask(mask []bool, value float32, dim int) *Matrix {
	if dim != 0 && dim != 1 {
		exceptions.Panicf("sparse.FillOnMask: dim must be 0 (rows) or 1 (columns), got %d", dim)
	}
	want := m.numRows
	if dim == 1 {
		want = m.numCols
	}
	if len(mask) != want {
		exceptions.Panicf("sparse.FillOnMask: mask has %d entries, dimension %d has %d", len(mask), dim, want)
	}

	out := m.Coalesce(ReduceAdd)
	n := len(out.val)
	for idx := 0; idx < n; idx++ {
		at := out.row[idx]
		if dim == 1 {
			at = out.col[idx]
		}
		if !mask[at] {
			continue
		}
		out.row = append(out.row, out.row[idx])
		out.col = append(out.col, out.col[idx])
		out.val = append(out.val, value-out.val[idx])
	}
	return out.Coalesce(ReduceAdd)
}

// ConcatRows stacks b below a. Both must have the same number of columns,
// otherwise it panics. The result has size (a.Rows()+b.Rows()) x a.Cols() with
// b's row indices offset by a.Rows().
func ConcatRows(a, b *Matrix) *Matrix {
	if a.numCols != b.numCols {
		exceptions.Panicf("sparse.ConcatRows: column counts disagree: %d vs %d", a.numCols, b.numCols)
	}
	out := &Matrix{
		numRows: a.numRows + b.numRows,
		numCols: a.numCols,
		row:     make([]int32, 0, len(a.val)+len(b.val)),
		col:     make([]int32, 0, len(a.val)+len(b.val)),
		val:     make([]float32, 0, len(a.val)+len(b.val)),
	}
	out.row = append(out.row, a.row...)
	out.col = append(out.col, a.col...)
	out.val = append(out.val, a.val...)
	for i := range b.val {
		out.row = append(out.row, b.row[i]+int32(a.numRows))
	}
	out.col = append(out.col, b.col...)
	out.val = append(out.val, b.val...)
	return out.Coalesce(ReduceAdd)
}

// BatchedOp applies a dense binary operation to a and b row-block by row-block
// (blocks of batchSize rows), re-sparsifying each block's result and
// concatenating the blocks in row order. It exists to bound peak memory for
// operations that require densifying. Both matrices must have the same size.
func BatchedOp(batchSize int, op func(a, b *mat.Dense) *mat.Dense, a, b *Matrix) *Matrix {
	if a.numRows != b.numRows || a.numCols != b.numCols {
		exceptions.Panicf("sparse.BatchedOp: sizes disagree: %dx%d vs %dx%d",
			a.numRows, a.numCols, b.numRows, b.numCols)
	}
	if batchSize <= 0 {
		exceptions.Panicf("sparse.BatchedOp: batchSize must be > 0, got %d", batchSize)
	}
	result := New(0, a.numCols)
	for start := 0; start < a.numRows; start += batchSize {
		end := min(start+batchSize, a.numRows)
		block := FromDense(op(a.SliceRows(start, end).Dense(), b.SliceRows(start, end).Dense()))
		result = ConcatRows(result, block)
	}
	return result
}

// SliceRows returns the sub-matrix of rows [start, end), with row indices
// shifted so the slice starts at row 0.
func (m *Matrix) SliceRows(start, end int) *Matrix {
	if start < 0 || end > m.numRows || start > end {
		exceptions.Panicf("sparse.SliceRows: invalid range [%d, %d) for %d rows", start, end, m.numRows)
	}
	out := &Matrix{numRows: end - start, numCols: m.numCols, coalesced: m.coalesced}
	for i := range m.val {
		if int(m.row[i]) < start || int(m.row[i]) >= end {
			continue
		}
		out.row = append(out.row, m.row[i]-int32(start))
		out.col = append(out.col, m.col[i])
		out.val = append(out.val, m.val[i])
	}
	return out
}

// NonZero coalesces the matrix and returns the coordinates and values of the
// entries that read different from 0.
func (m *Matrix) NonZero() (row, col []int32, val []float32) {
	c := m.Coalesce(ReduceAdd)
	for i := range c.val {
		if c.val[i] == 0 {
			continue
		}
		row = append(row, c.row[i])
		col = append(col, c.col[i])
		val = append(val, c.val[i])
	}
	return
}

// RowSums returns the per-row sum of values -- the user degree vector when the
// matrix holds 0/1 interactions.
func (m *Matrix) RowSums() []float32 {
	sums := make([]float32, m.numRows)
	for i := range m.val {
		sums[m.row[i]] += m.val[i]
	}
	return sums
}

// ColSums returns the per-column sum of values.
func (m *Matrix) ColSums() []float32 {
	sums := make([]float32, m.numCols)
	for i := range m.val {
		sums[m.col[i]] += m.val[i]
	}
	return sums
}

// Dense materializes the matrix as a gonum dense matrix, reading duplicates
// additively.
func (m *Matrix) Dense() *mat.Dense {
	c := m.Coalesce(ReduceAdd)
	d := mat.NewDense(m.numRows, m.numCols, nil)
	for i := range c.val {
		d.Set(int(c.row[i]), int(c.col[i]), float64(c.val[i]))
	}
	return d
}
