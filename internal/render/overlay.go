// Package render draws aggregated grids as PNG overlays using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/screengrid/server/pkg/colormap"
	"github.com/screengrid/server/pkg/screengrid"
)

// Style selects how a cell is drawn.
type Style string

const (
	// StyleFill paints the whole cell square.
	StyleFill Style = "fill"
	// StyleCircle draws a centered circle whose area grows with the value.
	StyleCircle Style = "circle"
)

// Config contains renderer configuration.
type Config struct {
	DefaultColormap string
	Opacity         float64
	// MaxPixels bounds width*height of a single overlay.
	MaxPixels int
}

// Options are per-request rendering choices.
type Options struct {
	Colormap string
	Style    Style
	Opacity  float64
}

// Layout is the geometry of a grid in logical pixels.
type Layout struct {
	Columns  int
	Rows     int
	CellSize float64
	Width    int
	Height   int
}

// GridRenderer renders aggregated grids into transparent PNG overlays.
type GridRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewGridRenderer creates a new grid renderer.
func NewGridRenderer(cfg Config) *GridRenderer {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 4096 * 4096
	}
	if cfg.Opacity <= 0 || cfg.Opacity > 1 {
		cfg.Opacity = 1
	}
	return &GridRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

func (r *GridRenderer) resolve(opts Options) (colormap.Colormap, Style, float64) {
	cmap, ok := colormap.Lookup(opts.Colormap)
	if !ok {
		cmap, ok = colormap.Lookup(r.config.DefaultColormap)
		if !ok {
			cmap = colormap.Viridis
		}
	}
	style := opts.Style
	if style != StyleCircle {
		style = StyleFill
	}
	opacity := opts.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = r.config.Opacity
	}
	return cmap, style, opacity
}

// Render draws values laid out as l. Cells with a value <= 0 stay
// transparent; the rest are colored by value relative to maxValue.
func (r *GridRenderer) Render(l Layout, values []float64, maxValue float64, opts Options) ([]byte, error) {
	if l.Width <= 0 || l.Height <= 0 {
		return nil, fmt.Errorf("invalid overlay size: %dx%d", l.Width, l.Height)
	}
	if l.Width*l.Height > r.config.MaxPixels {
		return nil, fmt.Errorf("overlay too large: %dx%d", l.Width, l.Height)
	}
	if len(values) != l.Columns*l.Rows {
		return nil, fmt.Errorf("layout %dx%d does not match %d values", l.Columns, l.Rows, len(values))
	}

	cmap, style, opacity := r.resolve(opts)
	dc := gg.NewContext(l.Width, l.Height)

	for i, v := range values {
		if v <= 0 {
			continue
		}
		t := colormap.Scale(v, maxValue)
		dc.SetColor(colormap.WithAlpha(cmap.At(t), opacity))

		x := float64(i%l.Columns) * l.CellSize
		y := float64(i/l.Columns) * l.CellSize
		switch style {
		case StyleCircle:
			radius := l.CellSize / 2 * math.Sqrt(t)
			dc.DrawCircle(x+l.CellSize/2, y+l.CellSize/2, radius)
		default:
			dc.DrawRectangle(x, y, l.CellSize, l.CellSize)
		}
		dc.Fill()
	}

	return r.encode(dc.Image())
}

func (r *GridRenderer) encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// EmptyOverlay creates a fully transparent overlay.
func (r *GridRenderer) EmptyOverlay(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid overlay size: %dx%d", width, height)
	}
	return r.encode(image.NewNRGBA(image.Rect(0, 0, width, height)))
}

// RenderGrid renders g on a surface of its own size.
func RenderGrid[R any](r *GridRenderer, g *screengrid.Grid[R], opts Options) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("no grid to render")
	}
	width := int(math.Ceil(g.Width))
	height := int(math.Ceil(g.Height))
	if g.Len() == 0 {
		return r.EmptyOverlay(width, height)
	}
	st := g.Statistics()
	return r.Render(Layout{
		Columns:  g.Columns,
		Rows:     g.Rows,
		CellSize: g.CellSize,
		Width:    width,
		Height:   height,
	}, g.Values, st.MaxValue, opts)
}
