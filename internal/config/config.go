// Package config handles configuration loading for the screengrid server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Grid   GridConfig   `yaml:"grid"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Limits LimitsConfig `yaml:"limits"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Title       string   `yaml:"title"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
}

// DatasetConfig describes one point dataset.
type DatasetConfig struct {
	Path           string   `yaml:"path"`
	WeightProperty string   `yaml:"weight_property"`
	// DefaultWeight applies to features without a usable weight property.
	// Unset means 1; an explicit 0 is kept.
	DefaultWeight  *float64 `yaml:"default_weight"`
	KeepProperties bool     `yaml:"keep_properties"`
}

// Weight returns the effective default weight.
func (d DatasetConfig) Weight() float64 {
	if d.DefaultWeight == nil {
		return 1
	}
	return *d.DefaultWeight
}

// DataConfig holds the configured datasets in file order.
//
// Two layouts are accepted: a single dataset written inline
// (data: {path: ...}) which is registered as "default", or a mapping of
// dataset IDs to dataset settings.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// DatasetIDs returns dataset IDs in config order.
func (d DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected mapping, got %v", node.Tag)
	}

	// Inline single dataset: any known scalar key at the top level.
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i+1].Kind == yaml.ScalarNode {
			var ds DatasetConfig
			if err := node.Decode(&ds); err != nil {
				return err
			}
			d.set("default", ds)
			return nil
		}
	}

	for i := 0; i < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		d.set(id, ds)
	}
	return nil
}

func (d *DataConfig) set(id string, ds DatasetConfig) {
	if d.Datasets == nil {
		d.Datasets = make(map[string]DatasetConfig)
	}
	if _, ok := d.Datasets[id]; !ok {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// GridConfig contains aggregation settings.
type GridConfig struct {
	CellSize    float64 `yaml:"cell_size"`
	MinCellSize float64 `yaml:"min_cell_size"`
	MaxCellSize float64 `yaml:"max_cell_size"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	OverlaySizeMB     int `yaml:"overlay_size_mb"`
	OverlayTTLMinutes int `yaml:"overlay_ttl_minutes"`
	GridCacheSize     int `yaml:"grid_cache_size"`
}

// RenderConfig contains overlay rendering settings.
type RenderConfig struct {
	DefaultColormap string  `yaml:"default_colormap"`
	Opacity         float64 `yaml:"opacity"`
}

// LimitsConfig contains request throttling settings.
type LimitsConfig struct {
	ViewportRequestsPerSecond float64 `yaml:"viewport_requests_per_second"`
	ViewportBurst             int     `yaml:"viewport_burst"`

	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Grid.MinCellSize > c.Grid.MaxCellSize {
		return fmt.Errorf("grid: min_cell_size %v exceeds max_cell_size %v", c.Grid.MinCellSize, c.Grid.MaxCellSize)
	}
	if c.Grid.CellSize < c.Grid.MinCellSize || c.Grid.CellSize > c.Grid.MaxCellSize {
		return fmt.Errorf("grid: cell_size %v outside [%v, %v]", c.Grid.CellSize, c.Grid.MinCellSize, c.Grid.MaxCellSize)
	}
	if c.Render.Opacity < 0 || c.Render.Opacity > 1 {
		return fmt.Errorf("render: opacity %v outside [0, 1]", c.Render.Opacity)
	}
	for _, id := range c.Data.DatasetIDs() {
		if c.Data.Datasets[id].Path == "" {
			return fmt.Errorf("data.%s: path is required", id)
		}
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			Title:       "ScreenGrid",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			LogLevel:    "info",
		},
		Grid: GridConfig{
			CellSize:    50,
			MinCellSize: 2,
			MaxCellSize: 512,
		},
		Cache: CacheConfig{
			OverlaySizeMB:     256,
			OverlayTTLMinutes: 10,
			GridCacheSize:     64,
		},
		Render: RenderConfig{
			DefaultColormap: "viridis",
			Opacity:         0.8,
		},
		Limits: LimitsConfig{
			ViewportRequestsPerSecond: 20,
			ViewportBurst:             40,
		},
	}
	cfg.Data.set("default", DatasetConfig{Path: "./data/points.geojson"})
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Grid.CellSize == 0 {
		cfg.Grid.CellSize = defaults.Grid.CellSize
	}
	if cfg.Grid.MinCellSize == 0 {
		cfg.Grid.MinCellSize = defaults.Grid.MinCellSize
	}
	if cfg.Grid.MaxCellSize == 0 {
		cfg.Grid.MaxCellSize = defaults.Grid.MaxCellSize
	}
	if cfg.Cache.OverlaySizeMB == 0 {
		cfg.Cache.OverlaySizeMB = defaults.Cache.OverlaySizeMB
	}
	if cfg.Cache.OverlayTTLMinutes == 0 {
		cfg.Cache.OverlayTTLMinutes = defaults.Cache.OverlayTTLMinutes
	}
	if cfg.Cache.GridCacheSize == 0 {
		cfg.Cache.GridCacheSize = defaults.Cache.GridCacheSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Render.Opacity == 0 {
		cfg.Render.Opacity = defaults.Render.Opacity
	}
	if cfg.Limits.ViewportRequestsPerSecond == 0 {
		cfg.Limits.ViewportRequestsPerSecond = defaults.Limits.ViewportRequestsPerSecond
	}
	if cfg.Limits.ViewportBurst == 0 {
		cfg.Limits.ViewportBurst = defaults.Limits.ViewportBurst
	}
}
