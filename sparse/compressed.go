package sparse

import "sort"

// Compressed is a read-only compressed view over one dimension of a Matrix,
// in the style of an adjacency list: for index i of the compressed dimension,
// the entries are Indices/Values[Starts[i-1]:Starts[i]], except for i == 0 whose
// span begins at 0. It is what makes the propagation products in linkprop run in
// time proportional to the number of stored entries.
type Compressed struct {
	// Starts has one entry per index of the compressed dimension (shifted by 1):
	// it points past the end of that index's span. Indices with no entries have
	// an empty span.
	Starts []int32

	// Indices holds, per span, the coordinate in the other (non-compressed)
	// dimension.
	Indices []int32

	// Values holds the entry values, parallel to Indices.
	Values []float32
}

// Span returns the indices and values stored for index i of the compressed
// dimension. Don't modify the returned slices.
func (c *Compressed) Span(i int32) (indices []int32, values []float32) {
	var start int32
	if i > 0 {
		start = c.Starts[i-1]
	}
	end := c.Starts[i]
	return c.Indices[start:end], c.Values[start:end]
}

// CompressRows coalesces the matrix (ReduceAdd) and returns a row-compressed
// view: Span(r) yields the column indices and values of row r.
func (m *Matrix) CompressRows() *Compressed {
	c := m.Coalesce(ReduceAdd)
	out := &Compressed{
		Starts:  make([]int32, m.numRows),
		Indices: c.col,
		Values:  c.val,
	}
	fillStarts(out.Starts, c.row, len(c.val))
	return out
}

// CompressCols coalesces the matrix (ReduceAdd) and returns a column-compressed
// view: Span(c) yields the row indices and values of column c.
func (m *Matrix) CompressCols() *Compressed {
	c := m.Coalesce(ReduceAdd)
	// Re-sort by (col, row): Coalesce leaves entries sorted by (row, col).
	order := make([]int, len(c.val))
	for i := range order {
		order[i] = i
	}
	sortByColumnThenRow(order, c.col, c.row)
	out := &Compressed{
		Starts:  make([]int32, m.numCols),
		Indices: make([]int32, len(c.val)),
		Values:  make([]float32, len(c.val)),
	}
	cols := make([]int32, len(c.val))
	for i, idx := range order {
		cols[i] = c.col[idx]
		out.Indices[i] = c.row[idx]
		out.Values[i] = c.val[idx]
	}
	fillStarts(out.Starts, cols, len(c.val))
	return out
}

// fillStarts builds the shifted-by-one span ends from the sorted major indices.
func fillStarts(starts []int32, major []int32, numEntries int) {
	current := int32(0)
	for i, at := range major {
		for current < at {
			starts[current] = int32(i)
			current++
		}
	}
	for int(current) < len(starts) {
		starts[current] = int32(numEntries)
		current++
	}
}

func sortByColumnThenRow(order []int, col, row []int32) {
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if col[ia] != col[ib] {
			return col[ia] < col[ib]
		}
		return row[ia] < row[ib]
	})
}
