package screengrid

import (
	"math"
	"sync/atomic"
)

// CellAt returns the cell under p. Empty cells are returned too; ok is false
// only when p lies outside the grid or g is nil.
func CellAt[R any](g *Grid[R], p Point) (CellInfo[R], bool) {
	if g == nil {
		return CellInfo[R]{}, false
	}
	idx, ok := g.locate(p.X, p.Y)
	if !ok {
		return CellInfo[R]{}, false
	}
	return g.cellInfo(idx), true
}

// CellsInBounds returns, in row-major order, every cell with a positive value
// whose column and row fall in the span covered by b. The span is clamped to
// the grid, so a rectangle partly outside still matches the cells it overlaps.
func CellsInBounds[R any](g *Grid[R], b Bounds) []CellInfo[R] {
	if g == nil || g.Columns == 0 || g.Rows == 0 {
		return nil
	}
	minCol, maxCol, okX := g.span(b.MinX, b.MaxX, g.Columns)
	minRow, maxRow, okY := g.span(b.MinY, b.MaxY, g.Rows)
	if !okX || !okY {
		return nil
	}

	var cells []CellInfo[R]
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			idx := row*g.Columns + col
			if g.Values[idx] > 0 {
				cells = append(cells, g.cellInfo(idx))
			}
		}
	}
	return cells
}

// span maps the pixel interval between a and b to an inclusive cell range
// clamped to [0, n). ok is false when the interval misses the grid.
func (g *Grid[R]) span(a, b float64, n int) (lo, hi int, ok bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, 0, false
	}
	fa := math.Floor(a / g.CellSize)
	fb := math.Floor(b / g.CellSize)
	if fa > fb {
		fa, fb = fb, fa
	}
	if fb < 0 || fa >= float64(n) {
		return 0, 0, false
	}
	fa = math.Max(fa, 0)
	fb = math.Min(fb, float64(n-1))
	return int(fa), int(fb), true
}

// CellsAboveThreshold returns every cell whose value is >= threshold, in
// row-major order.
func CellsAboveThreshold[R any](g *Grid[R], threshold float64) []CellInfo[R] {
	if g == nil {
		return nil
	}
	var cells []CellInfo[R]
	for i, v := range g.Values {
		if v >= threshold {
			cells = append(cells, g.cellInfo(i))
		}
	}
	return cells
}

// QueryEngine answers cell queries against the most recently bound Grid.
//
// Bind swaps the grid atomically; a query in flight keeps reading the grid it
// started with. CellInfo values obtained before a Bind are not invalidated and
// describe the old grid. The zero value is ready to use and has no grid.
type QueryEngine[R any] struct {
	grid atomic.Pointer[Grid[R]]
}

// NewQueryEngine returns an engine bound to g, which may be nil.
func NewQueryEngine[R any](g *Grid[R]) *QueryEngine[R] {
	e := &QueryEngine[R]{}
	e.Bind(g)
	return e
}

// Bind replaces the current grid.
func (e *QueryEngine[R]) Bind(g *Grid[R]) {
	e.grid.Store(g)
}

// Grid returns the current grid, or nil before the first Bind.
func (e *QueryEngine[R]) Grid() *Grid[R] {
	return e.grid.Load()
}

// CellAt looks up the cell under p in the current grid.
func (e *QueryEngine[R]) CellAt(p Point) (CellInfo[R], bool) {
	return CellAt(e.Grid(), p)
}

// CellsInBounds returns cells with data inside b in the current grid.
func (e *QueryEngine[R]) CellsInBounds(b Bounds) []CellInfo[R] {
	return CellsInBounds(e.Grid(), b)
}

// CellsAboveThreshold returns cells of the current grid with value >= threshold.
func (e *QueryEngine[R]) CellsAboveThreshold(threshold float64) []CellInfo[R] {
	return CellsAboveThreshold(e.Grid(), threshold)
}

// Statistics returns statistics of the current grid.
func (e *QueryEngine[R]) Statistics() Statistics {
	return GetStatistics(e.Grid())
}
