// Package cache provides caching for rendered overlays and aggregated grids.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	OverlayCacheSizeMB int
	OverlayTTL         time.Duration
	GridCacheSize      int
}

// Manager holds the overlay cache shared by all datasets.
type Manager struct {
	overlayCache  *bigcache.BigCache
	gridCacheSize int
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.GridCacheSize <= 0 {
		return nil, fmt.Errorf("grid cache size must be positive, got %d", cfg.GridCacheSize)
	}

	overlayCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.OverlayTTL,
		CleanWindow:        cfg.OverlayTTL / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       512 * 1024, // full-viewport PNGs are larger than map tiles
		HardMaxCacheSize:   cfg.OverlayCacheSizeMB,
		Verbose:            false,
	}

	overlayCache, err := bigcache.New(context.Background(), overlayCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay cache: %w", err)
	}

	return &Manager{
		overlayCache:  overlayCache,
		gridCacheSize: cfg.GridCacheSize,
	}, nil
}

// GetOverlay retrieves a rendered overlay from cache.
func (m *Manager) GetOverlay(key string) ([]byte, bool) {
	data, err := m.overlayCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetOverlay stores a rendered overlay in cache.
func (m *Manager) SetOverlay(key string, data []byte) error {
	return m.overlayCache.Set(key, data)
}

// GridCacheSize returns the per-dataset grid cache capacity.
func (m *Manager) GridCacheSize() int {
	return m.gridCacheSize
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	st := m.overlayCache.Stats()
	return map[string]interface{}{
		"overlay_cache_len":    m.overlayCache.Len(),
		"overlay_cache_cap":    m.overlayCache.Capacity(),
		"overlay_cache_hits":   st.Hits,
		"overlay_cache_misses": st.Misses,
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.overlayCache.Close()
}

// GridCache keeps recently aggregated grids of one dataset so that returning
// to a previous viewport does not re-run aggregation.
type GridCache[V any] struct {
	lru *lru.Cache[string, V]
}

// NewGridCache creates a grid cache holding at most size entries.
func NewGridCache[V any](size int) (*GridCache[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create grid cache: %w", err)
	}
	return &GridCache[V]{lru: c}, nil
}

// Get returns the cached grid for key.
func (c *GridCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Add stores a grid under key.
func (c *GridCache[V]) Add(key string, v V) {
	c.lru.Add(key, v)
}

// Len returns the number of cached grids.
func (c *GridCache[V]) Len() int {
	return c.lru.Len()
}

// Purge drops every cached grid, e.g. after the dataset is reloaded.
func (c *GridCache[V]) Purge() {
	c.lru.Purge()
}

// GridKey generates a cache key for an aggregated grid.
func GridKey(viewportKey string, cellSize float64) string {
	return fmt.Sprintf("grid:%s:cs=%.3f", viewportKey, cellSize)
}

// OverlayKey generates a cache key for a rendered overlay.
func OverlayKey(datasetID string, generation uint64, gridKey, colormap string, opacity float64) string {
	return fmt.Sprintf("overlay:%s:%d:%s:%s:op=%.2f", datasetID, generation, gridKey, colormap, opacity)
}
