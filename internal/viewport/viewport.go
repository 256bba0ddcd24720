// Package viewport converts between geographic coordinates and the logical
// pixels of a slippy-map viewport.
package viewport

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/screengrid/server/pkg/screengrid"
)

const (
	// TileSize is the edge of a map tile in logical pixels at zoom 0.
	TileSize = 256
	// MaxLatitude is the Web Mercator latitude limit.
	MaxLatitude = 85.05112878
	// MaxZoom is the deepest zoom level accepted.
	MaxZoom = 24
	// MaxDimension bounds the viewport width and height in logical pixels.
	MaxDimension = 4096

	earthRadius = 6378137.0
	halfWorld   = math.Pi * earthRadius
)

// Viewport describes what the map currently shows.
type Viewport struct {
	CenterLon float64 `json:"center_lon"`
	CenterLat float64 `json:"center_lat"`
	Zoom      float64 `json:"zoom"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// Validate checks that the viewport can be projected.
func (v Viewport) Validate() error {
	if math.IsNaN(v.CenterLon) || math.IsNaN(v.CenterLat) {
		return fmt.Errorf("invalid center: %v,%v", v.CenterLon, v.CenterLat)
	}
	if v.CenterLat < -MaxLatitude || v.CenterLat > MaxLatitude {
		return fmt.Errorf("center latitude out of range: %v", v.CenterLat)
	}
	if v.CenterLon < -180 || v.CenterLon > 180 {
		return fmt.Errorf("center longitude out of range: %v", v.CenterLon)
	}
	if math.IsNaN(v.Zoom) || v.Zoom < 0 || v.Zoom > MaxZoom {
		return fmt.Errorf("invalid zoom level: %v", v.Zoom)
	}
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("invalid viewport size: %dx%d", v.Width, v.Height)
	}
	if v.Width > MaxDimension || v.Height > MaxDimension {
		return fmt.Errorf("viewport too large: %dx%d exceeds %d", v.Width, v.Height, MaxDimension)
	}
	return nil
}

// Key returns a stable string identifying the viewport, suitable for cache keys.
func (v Viewport) Key() string {
	return fmt.Sprintf("%.7f,%.7f@%.3f:%dx%d", v.CenterLon, v.CenterLat, v.Zoom, v.Width, v.Height)
}

func (v Viewport) worldSize() float64 {
	return TileSize * math.Exp2(v.Zoom)
}

// worldPixel maps a position to pixels on the whole-world plane at v.Zoom.
func (v Viewport) worldPixel(lon, lat float64) (float64, float64) {
	m := project.WGS84.ToMercator(orb.Point{lon, lat})
	size := v.worldSize()
	x := (m.X()/(2*halfWorld) + 0.5) * size
	y := (0.5 - m.Y()/(2*halfWorld)) * size
	return x, y
}

// Projector returns the transform from lon/lat to viewport pixels, with the
// origin at the top-left corner of the viewport.
func (v Viewport) Projector() screengrid.ViewportProjector {
	cx, cy := v.worldPixel(v.CenterLon, v.CenterLat)
	offX := cx - float64(v.Width)/2
	offY := cy - float64(v.Height)/2
	return func(lon, lat float64) (float64, float64) {
		x, y := v.worldPixel(lon, lat)
		return x - offX, y - offY
	}
}

// Unproject maps a viewport pixel back to lon/lat.
func (v Viewport) Unproject(x, y float64) orb.Point {
	cx, cy := v.worldPixel(v.CenterLon, v.CenterLat)
	size := v.worldSize()
	wx := x + cx - float64(v.Width)/2
	wy := y + cy - float64(v.Height)/2
	m := orb.Point{
		(wx/size - 0.5) * 2 * halfWorld,
		(0.5 - wy/size) * 2 * halfWorld,
	}
	return project.Mercator.ToWGS84(m)
}

// Bound returns the geographic extent of the pixel rectangle b.
func (v Viewport) Bound(b screengrid.Bounds) orb.Bound {
	return orb.Bound{Min: v.Unproject(b.MinX, b.MaxY), Max: v.Unproject(b.MaxX, b.MinY)}
}
