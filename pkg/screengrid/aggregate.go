package screengrid

import (
	"math"
	"time"
)

// Summary describes one aggregation pass. It is delivered to the observer
// registered with WithObserver.
type Summary struct {
	Points   int
	Placed   int
	Dropped  int
	Columns  int
	Rows     int
	Duration time.Duration
}

// DefaultCellSize is the cell edge, in logical pixels, used by a Pipeline
// unless WithCellSize overrides it.
const DefaultCellSize = 50

// MaxCells bounds Columns*Rows of a single grid.
const MaxCells = 1 << 22

type settings struct {
	cellSize float64
	observer func(Summary)
}

// Option configures Aggregate and Pipeline.
type Option func(*settings)

// WithObserver registers fn to be called with a Summary after every pass.
func WithObserver(fn func(Summary)) Option {
	return func(s *settings) {
		s.observer = fn
	}
}

// WithCellSize sets the cell edge used by a Pipeline. Aggregate takes the
// cell size as an explicit argument and ignores this option.
func WithCellSize(px float64) Option {
	return func(s *settings) {
		s.cellSize = px
	}
}

func newSettings(opts []Option) settings {
	s := settings{cellSize: DefaultCellSize}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Aggregate bins points into a width x height surface of square cells.
//
// points[i] must be the projection of records[i]. A point whose cell falls
// outside the grid, including any NaN or infinite coordinate, is dropped.
// Precondition violations, and surfaces needing more than MaxCells cells,
// return an error and no grid.
func Aggregate[R any](points []ProjectedPoint, records []R, width, height, cellSize float64, opts ...Option) (*Grid[R], error) {
	if len(points) != len(records) {
		return nil, ErrLengthMismatch
	}
	if !(cellSize > 0) || math.IsInf(cellSize, 1) {
		return nil, ErrInvalidCellSize
	}
	if !(width >= 0) || !(height >= 0) || math.IsInf(width, 1) || math.IsInf(height, 1) {
		return nil, ErrInvalidSurface
	}

	fc := math.Ceil(width / cellSize)
	fr := math.Ceil(height / cellSize)
	if fc*fr > MaxCells || fc > MaxCells || fr > MaxCells {
		return nil, ErrGridTooLarge
	}

	s := newSettings(opts)
	start := time.Now()

	columns := int(fc)
	rows := int(fr)
	g := &Grid[R]{
		Values:   make([]float64, columns*rows),
		Members:  make([][]Member[R], columns*rows),
		Columns:  columns,
		Rows:     rows,
		Width:    width,
		Height:   height,
		CellSize: cellSize,
	}

	placed := 0
	for i, p := range points {
		idx, ok := g.locate(p.X, p.Y)
		if !ok {
			continue
		}
		g.Values[idx] += p.Weight
		g.Members[idx] = append(g.Members[idx], Member[R]{
			Record: records[i],
			Weight: p.Weight,
			X:      p.X,
			Y:      p.Y,
		})
		placed++
	}

	if s.observer != nil {
		s.observer(Summary{
			Points:   len(points),
			Placed:   placed,
			Dropped:  len(points) - placed,
			Columns:  columns,
			Rows:     rows,
			Duration: time.Since(start),
		})
	}
	return g, nil
}

// locate returns the linear index of the cell containing (x, y).
// Floor division puts a coordinate on a cell edge into the higher cell.
// The comparison is done before converting to int so NaN and huge values
// are rejected instead of wrapping.
func (g *Grid[R]) locate(x, y float64) (int, bool) {
	column := math.Floor(x / g.CellSize)
	row := math.Floor(y / g.CellSize)
	if !(column >= 0 && column < float64(g.Columns)) || !(row >= 0 && row < float64(g.Rows)) {
		return -1, false
	}
	return int(row)*g.Columns + int(column), true
}
