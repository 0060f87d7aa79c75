// Package matrix implements a small compressed-column sparse matrix
// suitable for the dependency graph, stoichiometry, event-selector, and
// shift matrices consumed by the engine. There is no dense fallback:
// every one of these matrices is expected to be overwhelmingly sparse in
// realistic models, and the engine's hot path only ever needs a single
// column at a time.
package matrix

import "fmt"

// Sparse is a compressed-column sparse matrix. Column j occupies
// Rowind[Colptr[j]:Colptr[j+1]] / Values[Colptr[j]:Colptr[j+1]].
type Sparse struct {
	Rows, Cols int
	Colptr     []int
	Rowind     []int
	Values     []float64

	// RowNames optionally labels each row, e.g. compartment names for S
	// and E. Either empty or exactly len==Rows.
	RowNames []string
}

// Option customises construction.
type Option func(*Sparse)

// WithRowNames attaches row labels; len(names) must equal rows.
func WithRowNames(names []string) Option {
	return func(s *Sparse) {
		s.RowNames = append([]string(nil), names...)
	}
}

// New validates and constructs a Sparse matrix directly from CSC arrays.
func New(rows, cols int, colptr, rowind []int, values []float64, opts ...Option) (*Sparse, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("matrix: negative dimension (rows=%d, cols=%d)", rows, cols)
	}
	if len(colptr) != cols+1 {
		return nil, fmt.Errorf("matrix: colptr length %d, want %d", len(colptr), cols+1)
	}
	if colptr[0] != 0 {
		return nil, fmt.Errorf("matrix: colptr[0] = %d, want 0", colptr[0])
	}
	for j := 1; j < len(colptr); j++ {
		if colptr[j] < colptr[j-1] {
			return nil, fmt.Errorf("matrix: colptr not monotonic at index %d", j)
		}
	}
	nnz := colptr[len(colptr)-1]
	if len(rowind) != nnz {
		return nil, fmt.Errorf("matrix: rowind length %d, want %d", len(rowind), nnz)
	}
	if len(values) != nnz {
		return nil, fmt.Errorf("matrix: values length %d, want %d", len(values), nnz)
	}
	for _, r := range rowind {
		if r < 0 || r >= rows {
			return nil, fmt.Errorf("matrix: row index %d out of range [0,%d)", r, rows)
		}
	}

	s := &Sparse{
		Rows:   rows,
		Cols:   cols,
		Colptr: append([]int(nil), colptr...),
		Rowind: append([]int(nil), rowind...),
		Values: append([]float64(nil), values...),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.RowNames != nil && len(s.RowNames) != rows {
		return nil, fmt.Errorf("matrix: %d row names, want %d", len(s.RowNames), rows)
	}
	return s, nil
}

// Triplet is one (row, col, value) entry used to build a Sparse matrix
// from an unordered list of nonzeros.
type Triplet struct {
	Row, Col int
	Value    float64
}

// NewFromTriplets builds a Sparse matrix from an unordered triplet list,
// summing duplicate (row, col) entries the way typical sparse-matrix
// assembly does.
func NewFromTriplets(rows, cols int, triplets []Triplet, opts ...Option) (*Sparse, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("matrix: negative dimension (rows=%d, cols=%d)", rows, cols)
	}

	byCol := make([][]Triplet, cols)
	for _, t := range triplets {
		if t.Row < 0 || t.Row >= rows {
			return nil, fmt.Errorf("matrix: triplet row %d out of range [0,%d)", t.Row, rows)
		}
		if t.Col < 0 || t.Col >= cols {
			return nil, fmt.Errorf("matrix: triplet col %d out of range [0,%d)", t.Col, cols)
		}
		byCol[t.Col] = append(byCol[t.Col], t)
	}

	colptr := make([]int, cols+1)
	var rowind []int
	var values []float64

	for j := 0; j < cols; j++ {
		colptr[j] = len(rowind)
		merged := make(map[int]float64, len(byCol[j]))
		order := make([]int, 0, len(byCol[j]))
		for _, t := range byCol[j] {
			if _, seen := merged[t.Row]; !seen {
				order = append(order, t.Row)
			}
			merged[t.Row] += t.Value
		}
		sortInts(order)
		for _, r := range order {
			rowind = append(rowind, r)
			values = append(values, merged[r])
		}
	}
	colptr[cols] = len(rowind)

	return New(rows, cols, colptr, rowind, values, opts...)
}

// sortInts is a tiny insertion sort: dependency columns are small, so
// pulling in sort.Ints for a handful of elements isn't worth the call
// overhead difference, but correctness matters, so keep it obviously
// simple.
func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// Column returns the row indices and values of column j without
// copying; callers must not mutate the returned slices.
func (s *Sparse) Column(j int) (rowind []int, values []float64) {
	lo, hi := s.Colptr[j], s.Colptr[j+1]
	return s.Rowind[lo:hi], s.Values[lo:hi]
}

// ColumnNNZ returns the number of nonzeros in column j.
func (s *Sparse) ColumnNNZ(j int) int {
	return s.Colptr[j+1] - s.Colptr[j]
}

// At returns the value at (row, col), or 0 if absent. It scans the
// column linearly; callers on a hot path should use Column instead.
func (s *Sparse) At(row, col int) float64 {
	rowind, values := s.Column(col)
	for k, r := range rowind {
		if r == row {
			return values[k]
		}
	}
	return 0
}

// SameRowNames reports whether two matrices carry identical, non-empty
// row name vectors, used to validate that S and E address the same
// compartments in the same order.
func (s *Sparse) SameRowNames(other *Sparse) bool {
	if s == nil || other == nil {
		return false
	}
	if len(s.RowNames) == 0 || len(s.RowNames) != len(other.RowNames) {
		return false
	}
	for i, n := range s.RowNames {
		if other.RowNames[i] != n {
			return false
		}
	}
	return true
}
