package geojson

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "a", "geometry": {"type": "Point", "coordinates": [2.35, 48.85]}, "properties": {"count": 4}},
    {"type": "Feature", "id": 7, "geometry": {"type": "Point", "coordinates": [2.40, 48.90]}, "properties": {"count": "n/a"}},
    {"type": "Feature", "geometry": {"type": "MultiPoint", "coordinates": [[2.30, 48.80], [2.45, 48.95]]}, "properties": {"count": -2}},
    {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]}, "properties": {}}
  ]
}`

func TestParse(t *testing.T) {
	ds, err := Parse([]byte(sampleCollection), Options{WeightProperty: "count", DefaultWeight: 1})
	require.NoError(t, err)

	require.Equal(t, 4, ds.Len())
	assert.Equal(t, 1, ds.Skipped())

	recs := ds.Records()
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, 4.0, recs[0].Weight)
	assert.Equal(t, "7", recs[1].ID)
	assert.Equal(t, 1.0, recs[1].Weight, "non-numeric property falls back to default")
	assert.Equal(t, -2.0, recs[2].Weight)
	assert.Equal(t, -2.0, recs[3].Weight)
	assert.Nil(t, recs[0].Properties)

	lon, lat := recs[2].Position()
	assert.Equal(t, 2.30, lon)
	assert.Equal(t, 48.80, lat)

	b := ds.Bound()
	assert.Equal(t, 2.30, b.Min.Lon())
	assert.Equal(t, 48.80, b.Min.Lat())
	assert.Equal(t, 2.45, b.Max.Lon())
	assert.Equal(t, 48.95, b.Max.Lat())
}

func TestParse_NoWeightProperty(t *testing.T) {
	ds, err := Parse([]byte(sampleCollection), Options{DefaultWeight: 2, KeepProperties: true})
	require.NoError(t, err)
	for _, rec := range ds.Records() {
		assert.Equal(t, 2.0, rec.WeightValue())
	}
	assert.Equal(t, 4.0, ds.Records()[0].Properties["count"])
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("{not json"), Options{})
	assert.Error(t, err)
}

func TestLoad_Compressed(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "points.geojson")
	require.NoError(t, os.WriteFile(plain, []byte(sampleCollection), 0644))

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write([]byte(sampleCollection))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	gzPath := filepath.Join(dir, "points.geojson.gz")
	require.NoError(t, os.WriteFile(gzPath, gzBuf.Bytes(), 0644))

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstPath := filepath.Join(dir, "points.geojson.zst")
	require.NoError(t, os.WriteFile(zstPath, enc.EncodeAll([]byte(sampleCollection), nil), 0644))
	require.NoError(t, enc.Close())

	for _, path := range []string{plain, gzPath, zstPath} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			ds, err := Load(path, Options{WeightProperty: "count", DefaultWeight: 1})
			require.NoError(t, err)
			assert.Equal(t, 4, ds.Len())
			assert.Equal(t, path, ds.Path())
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.geojson"), Options{})
	assert.Error(t, err)
}
