package screengrid

import "errors"

var (
	// ErrLengthMismatch is returned when projected points and source records
	// are not index-aligned.
	ErrLengthMismatch = errors.New("screengrid: projected points and records differ in length")
	// ErrInvalidCellSize is returned for a non-positive or non-finite cell size.
	ErrInvalidCellSize = errors.New("screengrid: cell size must be a positive finite number")
	// ErrInvalidSurface is returned for a negative or non-finite surface size.
	ErrInvalidSurface = errors.New("screengrid: surface width and height must be finite and non-negative")
	// ErrGridTooLarge is returned when the surface would need more than MaxCells cells.
	ErrGridTooLarge = errors.New("screengrid: surface holds too many cells")
	// ErrNilAccessor is returned when a pipeline is built without accessors.
	ErrNilAccessor = errors.New("screengrid: position and weight accessors are required")
)

// PositionFunc extracts the geographic position of a record.
type PositionFunc[R any] func(record R) (lon, lat float64)

// WeightFunc extracts the weight of a record. Zero and negative weights are valid.
type WeightFunc[R any] func(record R) float64

// ViewportProjector maps a geographic position to logical screen pixels.
type ViewportProjector func(lon, lat float64) (x, y float64)

// Point is a position in logical screen pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is a rectangle in logical screen pixels.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// ProjectedPoint is a record position after projection, with its weight.
type ProjectedPoint struct {
	X      float64
	Y      float64
	Weight float64
}

// Member is a source record that landed in a cell.
type Member[R any] struct {
	Record R       `json:"record"`
	Weight float64 `json:"weight"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Grid is the result of one aggregation pass.
//
// Values and Members are flat, row-major and of length Columns*Rows; cell
// (column, row) lives at row*Columns+column. Values[i] is always the sum of
// the weights in Members[i]. Consumers must treat a Grid as read-only.
type Grid[R any] struct {
	Values   []float64
	Members  [][]Member[R]
	Columns  int
	Rows     int
	Width    float64
	Height   float64
	CellSize float64
}

// Len returns the number of cells.
func (g *Grid[R]) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Values)
}

// Index returns the linear index of (column, row), or -1 if it lies outside the grid.
func (g *Grid[R]) Index(column, row int) int {
	if g == nil || column < 0 || column >= g.Columns || row < 0 || row >= g.Rows {
		return -1
	}
	return row*g.Columns + column
}

// Origin returns the top-left pixel of the cell at index i. An index outside
// the grid yields 0, 0.
func (g *Grid[R]) Origin(i int) (x, y float64) {
	if i < 0 || i >= g.Len() {
		return 0, 0
	}
	column := i % g.Columns
	row := i / g.Columns
	return float64(column) * g.CellSize, float64(row) * g.CellSize
}

// CellInfo is a snapshot of one cell. It refers to the Grid's member storage
// and is only meaningful while that Grid is current.
type CellInfo[R any] struct {
	Column   int         `json:"column"`
	Row      int         `json:"row"`
	Value    float64     `json:"value"`
	Members  []Member[R] `json:"members"`
	OriginX  float64     `json:"origin_x"`
	OriginY  float64     `json:"origin_y"`
	CellSize float64     `json:"cell_size"`
	Index    int         `json:"index"`
}

func (g *Grid[R]) cellInfo(i int) CellInfo[R] {
	x, y := g.Origin(i)
	return CellInfo[R]{
		Column:   i % g.Columns,
		Row:      i / g.Columns,
		Value:    g.Values[i],
		Members:  g.Members[i],
		OriginX:  x,
		OriginY:  y,
		CellSize: g.CellSize,
		Index:    i,
	}
}
