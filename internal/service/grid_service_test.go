package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screengrid/server/internal/cache"
	"github.com/screengrid/server/internal/data/geojson"
	"github.com/screengrid/server/internal/render"
	"github.com/screengrid/server/internal/viewport"
	"github.com/screengrid/server/pkg/screengrid"
)

const testCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {"w": 3}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [0.0001, 0.0001]}, "properties": {"w": 2}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [40, 40]}, "properties": {"w": 100}}
  ]
}`

var testViewport = viewport.Viewport{CenterLon: 0, CenterLat: 0, Zoom: 10, Width: 200, Height: 100}

func newTestService(t *testing.T, collection string) *GridService {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "points.geojson")
	require.NoError(t, os.WriteFile(path, []byte(collection), 0644))

	opts := geojson.Options{WeightProperty: "w", DefaultWeight: 1}
	ds, err := geojson.Load(path, opts)
	require.NoError(t, err)

	cacheManager, err := cache.NewManager(cache.Config{
		OverlayCacheSizeMB: 16,
		OverlayTTL:         time.Minute,
		GridCacheSize:      4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cacheManager.Close() })

	svc, err := NewGridService(GridServiceConfig{
		DatasetID:   "test",
		Dataset:     ds,
		LoadOptions: opts,
		Cache:       cacheManager,
		Renderer:    render.NewGridRenderer(render.Config{DefaultColormap: "viridis"}),
		CellSize:    20,
		MinCellSize: 5,
		MaxCellSize: 100,
	})
	require.NoError(t, err)
	return svc
}

func TestGridService_NoViewportYet(t *testing.T) {
	svc := newTestService(t, testCollection)

	assert.Nil(t, svc.Grid())
	_, ok := svc.CellAt(screengrid.Point{X: 1, Y: 1})
	assert.False(t, ok)
	assert.Empty(t, svc.CellsInBounds(screengrid.Bounds{MaxX: 100, MaxY: 100}))
	assert.Empty(t, svc.CellsAboveThreshold(0))
	assert.Equal(t, screengrid.Statistics{}, svc.Statistics())

	_, _, ok = svc.Viewport()
	assert.False(t, ok)
	_, err := svc.Overlay(render.Options{})
	assert.ErrorIs(t, err, ErrNoGrid)
}

func TestGridService_SetViewport(t *testing.T) {
	svc := newTestService(t, testCollection)

	st, err := svc.SetViewport(testViewport, 0)
	require.NoError(t, err)
	assert.Equal(t, 10*5, st.TotalCells)
	assert.Equal(t, 1, st.CellsWithData)
	assert.Equal(t, 5.0, st.TotalValue, "the far point is off screen")

	cell, ok := svc.CellAt(screengrid.Point{X: 100, Y: 50})
	require.True(t, ok)
	assert.Equal(t, 5.0, cell.Value)
	require.Len(t, cell.Members, 2)
	assert.Equal(t, 3.0, cell.Members[0].Record.Weight)

	bound, ok := svc.CellBound(cell)
	require.True(t, ok)
	assert.InDelta(t, 0.0, bound.Min.Lon(), 1e-9)
	assert.Greater(t, bound.Max.Lon(), 0.0001)

	cells := svc.CellsAboveThreshold(1)
	require.Len(t, cells, 1)
	assert.Equal(t, cell.Index, cells[0].Index)

	vp, cs, ok := svc.Viewport()
	require.True(t, ok)
	assert.Equal(t, testViewport, vp)
	assert.Equal(t, 20.0, cs)
}

func TestGridService_GridCacheAndDedup(t *testing.T) {
	svc := newTestService(t, testCollection)

	_, err := svc.SetViewport(testViewport, 0)
	require.NoError(t, err)
	first := svc.Grid()

	_, err = svc.SetViewport(testViewport, 0)
	require.NoError(t, err)
	assert.Same(t, first, svc.Grid(), "same viewport keeps the grid")

	other := testViewport
	other.Zoom = 5
	_, err = svc.SetViewport(other, 0)
	require.NoError(t, err)
	assert.NotSame(t, first, svc.Grid())

	_, err = svc.SetViewport(testViewport, 0)
	require.NoError(t, err)
	assert.Same(t, first, svc.Grid(), "returning to a viewport hits the grid cache")
}

func TestGridService_InvalidInput(t *testing.T) {
	svc := newTestService(t, testCollection)

	_, err := svc.SetViewport(viewport.Viewport{Zoom: 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidViewport)

	_, err = svc.SetViewport(testViewport, 1)
	assert.ErrorIs(t, err, ErrInvalidViewport)
	_, err = svc.SetViewport(testViewport, 1000)
	assert.ErrorIs(t, err, ErrInvalidViewport)

	_, err = NewGridService(GridServiceConfig{})
	assert.Error(t, err)
}

func TestGridService_OversizedViewport(t *testing.T) {
	svc := newTestService(t, testCollection)

	_, err := svc.SetViewport(viewport.Viewport{Zoom: 10, Width: 2e9, Height: 2e9}, 5)
	assert.ErrorIs(t, err, ErrInvalidViewport)
	assert.Nil(t, svc.Grid())

	fine, err := NewGridService(GridServiceConfig{
		DatasetID:   "fine",
		Dataset:     svc.Dataset(),
		CellSize:    20,
		MinCellSize: 1,
		MaxCellSize: 100,
	})
	require.NoError(t, err)

	full := viewport.Viewport{Zoom: 10, Width: viewport.MaxDimension, Height: viewport.MaxDimension}
	_, err = fine.SetViewport(full, 1)
	assert.ErrorIs(t, err, ErrInvalidViewport)
	assert.ErrorIs(t, err, screengrid.ErrGridTooLarge)
	assert.Nil(t, fine.Grid())

	_, err = fine.SetViewport(full, 8)
	require.NoError(t, err)
	assert.Equal(t, 512*512, fine.Grid().Len())
}

func TestGridService_Overlay(t *testing.T) {
	svc := newTestService(t, testCollection)
	_, err := svc.SetViewport(testViewport, 10)
	require.NoError(t, err)

	png1, err := svc.Overlay(render.Options{Colormap: "heat"})
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png1[:4]))

	png2, err := svc.Overlay(render.Options{Colormap: "heat"})
	require.NoError(t, err)
	assert.Equal(t, png1, png2)
}

func TestGridService_ReloadAndReplace(t *testing.T) {
	svc := newTestService(t, testCollection)
	_, err := svc.SetViewport(testViewport, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(svc.Dataset().Path(), []byte(`{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [0, 0]}, "properties": {"w": 7}}
  ]
}`), 0644))

	require.NoError(t, svc.Reload())
	assert.Equal(t, 1, svc.Dataset().Len())
	assert.Equal(t, 7.0, svc.Statistics().TotalValue)

	ds, err := geojson.Parse([]byte(`{"type": "FeatureCollection", "features": []}`), geojson.Options{})
	require.NoError(t, err)
	require.NoError(t, svc.ReplaceDataset(ds))
	assert.Equal(t, 0.0, svc.Statistics().TotalValue)

	assert.Error(t, svc.Reload(), "parsed datasets have no path")
}
