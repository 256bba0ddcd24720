// Package service orchestrates aggregation and queries for each dataset.
package service

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/paulmach/orb"

	"github.com/screengrid/server/internal/cache"
	"github.com/screengrid/server/internal/data/geojson"
	"github.com/screengrid/server/internal/render"
	"github.com/screengrid/server/internal/viewport"
	"github.com/screengrid/server/pkg/screengrid"
)

var (
	// ErrNoGrid is returned when an operation needs a grid but no viewport has been set.
	ErrNoGrid = errors.New("no viewport has been set")
	// ErrInvalidViewport wraps viewport and cell size validation failures.
	ErrInvalidViewport = errors.New("invalid viewport")
)

// Grid is the aggregation result for a dataset.
type Grid = screengrid.Grid[geojson.Record]

// Cell is a cell snapshot over dataset records.
type Cell = screengrid.CellInfo[geojson.Record]

// GridServiceConfig contains grid service configuration.
type GridServiceConfig struct {
	DatasetID   string
	Dataset     *geojson.Dataset
	LoadOptions geojson.Options
	Cache       *cache.Manager
	Renderer    *render.GridRenderer
	CellSize    float64
	MinCellSize float64
	MaxCellSize float64
}

type gridState struct {
	viewport   viewport.Viewport
	cellSize   float64
	key        string
	generation uint64
	grid       *Grid
}

// GridService re-aggregates one dataset whenever its viewport changes and
// answers cell queries against the latest grid.
//
// SetViewport and Reload are serialized; queries never block on them and
// always see a complete grid, possibly the previous one.
type GridService struct {
	datasetID   string
	loadOptions geojson.Options
	cache       *cache.Manager
	renderer    *render.GridRenderer
	pipeline    *screengrid.Pipeline[geojson.Record]
	grids       *cache.GridCache[*Grid]
	cellSize    float64
	minCellSize float64
	maxCellSize float64

	// mu guards generation and serializes grid publication.
	mu         sync.Mutex
	generation uint64
	dataset    atomic.Pointer[geojson.Dataset]
	state      atomic.Pointer[gridState]
	engine     screengrid.QueryEngine[geojson.Record]
}

// NewGridService creates a new grid service.
func NewGridService(cfg GridServiceConfig) (*GridService, error) {
	if cfg.Dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	cellSize := cfg.CellSize
	if cellSize <= 0 {
		cellSize = screengrid.DefaultCellSize
	}
	minCell, maxCell := cfg.MinCellSize, cfg.MaxCellSize
	if minCell <= 0 {
		minCell = 1
	}
	if maxCell < minCell {
		maxCell = cellSize * 16
	}

	s := &GridService{
		datasetID:   datasetID,
		loadOptions: cfg.LoadOptions,
		cache:       cfg.Cache,
		renderer:    cfg.Renderer,
		cellSize:    cellSize,
		minCellSize: minCell,
		maxCellSize: maxCell,
	}

	pipeline, err := screengrid.NewPipeline(geojson.Record.Position, geojson.Record.WeightValue,
		screengrid.WithCellSize(cellSize),
		screengrid.WithObserver(s.observe),
	)
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline

	gridCacheSize := 16
	if cfg.Cache != nil {
		gridCacheSize = cfg.Cache.GridCacheSize()
	}
	grids, err := cache.NewGridCache[*Grid](gridCacheSize)
	if err != nil {
		return nil, err
	}
	s.grids = grids
	s.dataset.Store(cfg.Dataset)
	return s, nil
}

func (s *GridService) observe(sum screengrid.Summary) {
	aggregationsTotal.WithLabelValues(s.datasetID).Inc()
	pointsDroppedTotal.WithLabelValues(s.datasetID).Add(float64(sum.Dropped))
	aggregationDuration.WithLabelValues(s.datasetID).Observe(sum.Duration.Seconds())

	log.WithFields(log.Fields{
		"dataset":  s.datasetID,
		"points":   sum.Points,
		"placed":   sum.Placed,
		"dropped":  sum.Dropped,
		"columns":  sum.Columns,
		"rows":     sum.Rows,
		"duration": sum.Duration,
	}).Debug("aggregated grid")
}

// DatasetID returns the dataset identifier.
func (s *GridService) DatasetID() string {
	return s.datasetID
}

// Dataset returns the currently loaded dataset.
func (s *GridService) Dataset() *geojson.Dataset {
	return s.dataset.Load()
}

// DefaultCellSize returns the cell size used when a request does not set one.
func (s *GridService) DefaultCellSize() float64 {
	return s.cellSize
}

func (s *GridService) checkCellSize(cellSize float64) (float64, error) {
	if cellSize == 0 {
		return s.cellSize, nil
	}
	if !(cellSize >= s.minCellSize && cellSize <= s.maxCellSize) {
		return 0, fmt.Errorf("%w: cell size %v outside [%v, %v]", ErrInvalidViewport, cellSize, s.minCellSize, s.maxCellSize)
	}
	return cellSize, nil
}

// SetViewport aggregates the dataset for vp and makes the result the grid
// that queries run against. A cellSize of 0 selects the default.
func (s *GridService) SetViewport(vp viewport.Viewport, cellSize float64) (screengrid.Statistics, error) {
	if err := vp.Validate(); err != nil {
		return screengrid.Statistics{}, fmt.Errorf("%w: %v", ErrInvalidViewport, err)
	}
	cellSize, err := s.checkCellSize(cellSize)
	if err != nil {
		return screengrid.Statistics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cache.GridKey(vp.Key(), cellSize)
	if cur := s.state.Load(); cur != nil && cur.key == key {
		return cur.grid.Statistics(), nil
	}

	grid, ok := s.grids.Get(key)
	if ok {
		gridCacheLookups.WithLabelValues(s.datasetID, "hit").Inc()
	} else {
		gridCacheLookups.WithLabelValues(s.datasetID, "miss").Inc()
		grid, err = s.pipeline.RunWithCellSize(s.Dataset().Records(), vp.Projector(), float64(vp.Width), float64(vp.Height), cellSize)
		if errors.Is(err, screengrid.ErrGridTooLarge) {
			return screengrid.Statistics{}, fmt.Errorf("%w: %w", ErrInvalidViewport, err)
		}
		if err != nil {
			return screengrid.Statistics{}, fmt.Errorf("failed to aggregate: %w", err)
		}
		s.grids.Add(key, grid)
	}

	s.publish(&gridState{viewport: vp, cellSize: cellSize, key: key, generation: s.generation, grid: grid})
	return grid.Statistics(), nil
}

func (s *GridService) publish(st *gridState) {
	s.engine.Bind(st.grid)
	s.state.Store(st)
}

// Reload re-reads the dataset from disk, drops cached grids and
// re-aggregates the current viewport, if any.
func (s *GridService) Reload() error {
	path := s.Dataset().Path()
	if path == "" {
		return fmt.Errorf("dataset %s was not loaded from a file", s.datasetID)
	}
	ds, err := geojson.Load(path, s.loadOptions)
	if err != nil {
		return fmt.Errorf("failed to reload dataset %s: %w", s.datasetID, err)
	}
	return s.ReplaceDataset(ds)
}

// ReplaceDataset swaps in ds and re-aggregates the current viewport.
func (s *GridService) ReplaceDataset(ds *geojson.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataset.Store(ds)
	s.grids.Purge()
	s.generation++

	log.WithFields(log.Fields{
		"dataset": s.datasetID,
		"records": ds.Len(),
	}).Info("dataset replaced")

	cur := s.state.Load()
	if cur == nil {
		return nil
	}
	grid, err := s.pipeline.RunWithCellSize(ds.Records(), cur.viewport.Projector(), float64(cur.viewport.Width), float64(cur.viewport.Height), cur.cellSize)
	if err != nil {
		return fmt.Errorf("failed to aggregate: %w", err)
	}
	s.grids.Add(cur.key, grid)
	s.publish(&gridState{viewport: cur.viewport, cellSize: cur.cellSize, key: cur.key, generation: s.generation, grid: grid})
	return nil
}

// Viewport returns the current viewport and cell size.
func (s *GridService) Viewport() (viewport.Viewport, float64, bool) {
	cur := s.state.Load()
	if cur == nil {
		return viewport.Viewport{}, 0, false
	}
	return cur.viewport, cur.cellSize, true
}

// Grid returns the current grid, or nil before the first viewport.
func (s *GridService) Grid() *Grid {
	return s.engine.Grid()
}

// Statistics returns statistics of the current grid.
func (s *GridService) Statistics() screengrid.Statistics {
	return s.engine.Statistics()
}

// CellAt returns the cell under p in the current grid.
func (s *GridService) CellAt(p screengrid.Point) (Cell, bool) {
	return s.engine.CellAt(p)
}

// CellsInBounds returns cells with data inside b in the current grid.
func (s *GridService) CellsInBounds(b screengrid.Bounds) []Cell {
	return s.engine.CellsInBounds(b)
}

// CellsAboveThreshold returns cells of the current grid with value >= threshold.
func (s *GridService) CellsAboveThreshold(threshold float64) []Cell {
	return s.engine.CellsAboveThreshold(threshold)
}

// CellBound returns the geographic extent of c under the current viewport.
func (s *GridService) CellBound(c Cell) (orb.Bound, bool) {
	cur := s.state.Load()
	if cur == nil {
		return orb.Bound{}, false
	}
	return cur.viewport.Bound(screengrid.Bounds{
		MinX: c.OriginX,
		MinY: c.OriginY,
		MaxX: c.OriginX + c.CellSize,
		MaxY: c.OriginY + c.CellSize,
	}), true
}

// Overlay returns the current grid rendered as a PNG.
func (s *GridService) Overlay(opts render.Options) ([]byte, error) {
	cur := s.state.Load()
	if cur == nil {
		return nil, ErrNoGrid
	}
	if s.renderer == nil {
		return nil, fmt.Errorf("no renderer configured")
	}

	var cacheKey string
	if s.cache != nil {
		cacheKey = cache.OverlayKey(s.datasetID, cur.generation, cur.key, opts.Colormap+"/"+string(opts.Style), opts.Opacity)
		if data, ok := s.cache.GetOverlay(cacheKey); ok {
			return data, nil
		}
	}

	data, err := render.RenderGrid(s.renderer, cur.grid, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to render overlay: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetOverlay(cacheKey, data); err != nil {
			log.WithError(err).WithField("dataset", s.datasetID).Warn("overlay not cached")
		}
	}
	return data, nil
}
