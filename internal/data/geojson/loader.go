// Package geojson loads weighted point datasets from GeoJSON files.
package geojson

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	gj "github.com/paulmach/go.geojson"
)

// Record is one weighted point of a dataset.
type Record struct {
	ID         string                 `json:"id,omitempty"`
	Lon        float64                `json:"lon"`
	Lat        float64                `json:"lat"`
	Weight     float64                `json:"weight"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Position returns the record's lon/lat.
func (r Record) Position() (float64, float64) {
	return r.Lon, r.Lat
}

// WeightValue returns the record's weight.
func (r Record) WeightValue() float64 {
	return r.Weight
}

// Options controls how features become records.
type Options struct {
	// WeightProperty names the numeric feature property used as weight.
	// Empty means every record gets DefaultWeight.
	WeightProperty string
	// DefaultWeight applies when the property is missing or not numeric.
	DefaultWeight float64
	// KeepProperties retains feature properties on each record.
	KeepProperties bool
}

// Dataset is an immutable set of records.
type Dataset struct {
	path    string
	records []Record
	bound   orb.Bound
	skipped int
}

// Path returns the file the dataset was loaded from.
func (d *Dataset) Path() string { return d.path }

// Records returns the records in file order.
func (d *Dataset) Records() []Record { return d.records }

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Bound returns the geographic extent of the records.
func (d *Dataset) Bound() orb.Bound { return d.bound }

// Skipped returns the number of features that were not points.
func (d *Dataset) Skipped() int { return d.skipped }

// Load reads a FeatureCollection from path. Files ending in .gz or .zst are
// decompressed transparently.
func Load(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r, closeFn, err := decompress(path, f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	ds, err := Parse(data, opts)
	if err != nil {
		return nil, err
	}
	ds.path = path

	if ds.skipped > 0 {
		log.WithFields(log.Fields{
			"path":    path,
			"skipped": ds.skipped,
		}).Warn("non-point features ignored")
	}
	return ds, nil
}

func decompress(path string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		return dec, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

// Parse builds a dataset from GeoJSON bytes. Point and MultiPoint features
// are kept; other geometries are counted as skipped.
func Parse(data []byte, opts Options) (*Dataset, error) {
	fc, err := gj.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature collection: %w", err)
	}

	ds := &Dataset{records: make([]Record, 0, len(fc.Features))}
	first := true
	add := func(rec Record) {
		p := orb.Point{rec.Lon, rec.Lat}
		if first {
			ds.bound = p.Bound()
			first = false
		} else {
			ds.bound = ds.bound.Extend(p)
		}
		ds.records = append(ds.records, rec)
	}

	for _, feat := range fc.Features {
		if feat == nil || feat.Geometry == nil {
			ds.skipped++
			continue
		}
		base := Record{
			ID:     featureID(feat),
			Weight: featureWeight(feat, opts),
		}
		if opts.KeepProperties {
			base.Properties = feat.Properties
		}

		switch {
		case feat.Geometry.IsPoint() && len(feat.Geometry.Point) >= 2:
			rec := base
			rec.Lon, rec.Lat = feat.Geometry.Point[0], feat.Geometry.Point[1]
			add(rec)
		case feat.Geometry.IsMultiPoint():
			for _, pt := range feat.Geometry.MultiPoint {
				if len(pt) < 2 {
					continue
				}
				rec := base
				rec.Lon, rec.Lat = pt[0], pt[1]
				add(rec)
			}
		default:
			ds.skipped++
		}
	}
	return ds, nil
}

func featureID(feat *gj.Feature) string {
	if feat.ID == nil {
		return ""
	}
	return fmt.Sprint(feat.ID)
}

func featureWeight(feat *gj.Feature, opts Options) float64 {
	if opts.WeightProperty == "" {
		return opts.DefaultWeight
	}
	v, err := feat.PropertyFloat64(opts.WeightProperty)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return opts.DefaultWeight
	}
	return v
}
