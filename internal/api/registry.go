package api

import (
	"github.com/screengrid/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Records int    `json:"records"`
}

// DatasetRegistry holds grid services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.GridService
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.GridService),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a grid service for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.GridService) {
	r.services[datasetID] = svc
}

// Get returns the grid service for a dataset, or nil if not found.
// The "default" alias resolves to the default dataset.
func (r *DatasetRegistry) Get(datasetID string) *service.GridService {
	if svc, ok := r.services[datasetID]; ok {
		return svc
	}
	if datasetID == "default" {
		return r.Default()
	}
	return nil
}

// Default returns the default dataset's grid service.
func (r *DatasetRegistry) Default() *service.GridService {
	return r.services[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "ScreenGrid"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		svc := r.services[id]
		if svc == nil {
			continue
		}
		infos = append(infos, DatasetInfo{
			ID:      id,
			Name:    id,
			Records: svc.Dataset().Len(),
		})
	}
	return infos
}
