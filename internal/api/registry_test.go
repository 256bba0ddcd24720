package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screengrid/server/internal/data/geojson"
	"github.com/screengrid/server/internal/service"
)

func newRegistryService(t *testing.T, id string, n int) *service.GridService {
	t.Helper()
	records := `{"type": "FeatureCollection", "features": [`
	for i := 0; i < n; i++ {
		if i > 0 {
			records += ","
		}
		records += `{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {}}`
	}
	records += `]}`

	ds, err := geojson.Parse([]byte(records), geojson.Options{DefaultWeight: 1})
	require.NoError(t, err)
	svc, err := service.NewGridService(service.GridServiceConfig{DatasetID: id, Dataset: ds})
	require.NoError(t, err)
	return svc
}

func TestDatasetRegistry(t *testing.T) {
	registry := NewDatasetRegistry("b", []string{"a", "b", "missing"}, "Points")
	a := newRegistryService(t, "a", 1)
	b := newRegistryService(t, "b", 2)
	registry.Register("a", a)
	registry.Register("b", b)

	assert.Same(t, a, registry.Get("a"))
	assert.Same(t, b, registry.Get("default"))
	assert.Same(t, b, registry.Default())
	assert.Nil(t, registry.Get("missing"))
	assert.Equal(t, "b", registry.DefaultDatasetID())
	assert.Equal(t, "Points", registry.Title())

	assert.Equal(t, []DatasetInfo{
		{ID: "a", Name: "a", Records: 1},
		{ID: "b", Name: "b", Records: 2},
	}, registry.Datasets())
}

func TestDatasetRegistry_DefaultTitle(t *testing.T) {
	assert.Equal(t, "ScreenGrid", NewDatasetRegistry("", nil, "").Title())
}
