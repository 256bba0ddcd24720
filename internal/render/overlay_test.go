package render

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screengrid/server/pkg/screengrid"
)

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func alphaAt(img image.Image, x, y int) uint32 {
	_, _, _, a := img.At(x, y).RGBA()
	return a
}

func TestRender_Fill(t *testing.T) {
	r := NewGridRenderer(Config{DefaultColormap: "viridis", Opacity: 1})
	data, err := r.Render(Layout{Columns: 2, Rows: 2, CellSize: 10, Width: 20, Height: 20},
		[]float64{5, 0, -5, 10}, 10, Options{})
	require.NoError(t, err)

	img := decode(t, data)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
	assert.NotZero(t, alphaAt(img, 5, 5), "positive cell is painted")
	assert.Zero(t, alphaAt(img, 15, 5), "zero cell stays transparent")
	assert.Zero(t, alphaAt(img, 5, 15), "negative cell stays transparent")
	assert.NotZero(t, alphaAt(img, 15, 15))
}

func TestRender_Circle(t *testing.T) {
	r := NewGridRenderer(Config{DefaultColormap: "heat"})
	data, err := r.Render(Layout{Columns: 1, Rows: 1, CellSize: 20, Width: 20, Height: 20},
		[]float64{1}, 1, Options{Style: StyleCircle, Colormap: "plasma", Opacity: 0.5})
	require.NoError(t, err)

	img := decode(t, data)
	assert.NotZero(t, alphaAt(img, 10, 10))
	assert.Zero(t, alphaAt(img, 0, 0), "corner is outside the circle")
}

func TestRender_Errors(t *testing.T) {
	r := NewGridRenderer(Config{MaxPixels: 100})

	_, err := r.Render(Layout{Columns: 1, Rows: 1, CellSize: 10, Width: 0, Height: 10}, []float64{1}, 1, Options{})
	assert.Error(t, err)
	_, err = r.Render(Layout{Columns: 1, Rows: 1, CellSize: 10, Width: 20, Height: 20}, []float64{1}, 1, Options{})
	assert.Error(t, err, "exceeds MaxPixels")
	_, err = r.Render(Layout{Columns: 2, Rows: 1, CellSize: 5, Width: 10, Height: 5}, []float64{1}, 1, Options{})
	assert.Error(t, err, "layout mismatch")
}

func TestRenderGrid(t *testing.T) {
	r := NewGridRenderer(Config{DefaultColormap: "viridis"})
	records := []int{1, 2}
	points := []screengrid.ProjectedPoint{{X: 1, Y: 1, Weight: 3}, {X: 31, Y: 1, Weight: 1}}
	g, err := screengrid.Aggregate(points, records, 40, 10, 10)
	require.NoError(t, err)

	data, err := RenderGrid(r, g, Options{Colormap: "magma"})
	require.NoError(t, err)
	img := decode(t, data)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.NotZero(t, alphaAt(img, 5, 5))
	assert.Zero(t, alphaAt(img, 15, 5))

	empty, err := screengrid.Aggregate[int](nil, nil, 0, 10, 10)
	require.NoError(t, err)
	_, err = RenderGrid(r, empty, Options{})
	assert.Error(t, err, "zero-width surface has no image")

	_, err = RenderGrid[int](r, nil, Options{})
	assert.Error(t, err)
}

func TestEmptyOverlay(t *testing.T) {
	r := NewGridRenderer(Config{})
	data, err := r.EmptyOverlay(8, 4)
	require.NoError(t, err)
	img := decode(t, data)
	assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
	assert.Zero(t, alphaAt(img, 3, 3))
}
