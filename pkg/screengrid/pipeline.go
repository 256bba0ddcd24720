package screengrid

// Pipeline binds record accessors and a cell size so a caller can re-run
// projection and aggregation on every viewport change with one call.
type Pipeline[R any] struct {
	position PositionFunc[R]
	weight   WeightFunc[R]
	settings settings
	opts     []Option
}

// NewPipeline builds a pipeline. Both accessors are required.
func NewPipeline[R any](position PositionFunc[R], weight WeightFunc[R], opts ...Option) (*Pipeline[R], error) {
	if position == nil || weight == nil {
		return nil, ErrNilAccessor
	}
	s := newSettings(opts)
	if !(s.cellSize > 0) {
		return nil, ErrInvalidCellSize
	}
	return &Pipeline[R]{
		position: position,
		weight:   weight,
		settings: s,
		opts:     opts,
	}, nil
}

// CellSize returns the configured cell edge in logical pixels.
func (p *Pipeline[R]) CellSize() float64 {
	return p.settings.cellSize
}

// Run projects records through viewport and aggregates them on a
// width x height surface.
func (p *Pipeline[R]) Run(records []R, viewport ViewportProjector, width, height float64) (*Grid[R], error) {
	return p.RunWithCellSize(records, viewport, width, height, p.settings.cellSize)
}

// RunWithCellSize is Run with a per-call cell size.
func (p *Pipeline[R]) RunWithCellSize(records []R, viewport ViewportProjector, width, height, cellSize float64) (*Grid[R], error) {
	points := Project(records, p.position, p.weight, viewport)
	return Aggregate(points, records, width, height, cellSize, p.opts...)
}
