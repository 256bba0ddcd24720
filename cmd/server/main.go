// Package main is the entry point for the screengrid server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"

	"github.com/screengrid/server/internal/api"
	"github.com/screengrid/server/internal/cache"
	"github.com/screengrid/server/internal/config"
	"github.com/screengrid/server/internal/data/geojson"
	"github.com/screengrid/server/internal/render"
	"github.com/screengrid/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	log.SetHandler(text.New(os.Stderr))

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if lvl, err := log.ParseLevel(cfg.Server.LogLevel); err != nil {
		log.WithError(err).Warn("invalid log level, using info")
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(lvl)
	}

	log.WithField("port", cfg.Server.Port).Info("starting screengrid server")

	ctx := context.Background()

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		OverlayCacheSizeMB: cfg.Cache.OverlaySizeMB,
		OverlayTTL:         time.Duration(cfg.Cache.OverlayTTLMinutes) * time.Minute,
		GridCacheSize:      cfg.Cache.GridCacheSize,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to initialize cache")
	}
	defer cacheManager.Close()

	// Initialize overlay renderer (shared across all datasets)
	renderer := render.NewGridRenderer(render.Config{
		DefaultColormap: cfg.Render.DefaultColormap,
		Opacity:         cfg.Render.Opacity,
	})

	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.WithFields(log.Fields{
		"datasets": len(datasetIDs),
		"default":  cfg.Data.DefaultDataset,
	}).Info("initializing datasets")

	for _, datasetID := range datasetIDs {
		dsCfg := cfg.Data.Datasets[datasetID]
		opts := geojson.Options{
			WeightProperty: dsCfg.WeightProperty,
			DefaultWeight:  dsCfg.Weight(),
			KeepProperties: dsCfg.KeepProperties,
		}

		ds, err := geojson.Load(dsCfg.Path, opts)
		if err != nil {
			log.WithError(err).WithField("dataset", datasetID).Fatal("failed to load dataset")
		}
		log.WithFields(log.Fields{
			"dataset": datasetID,
			"path":    dsCfg.Path,
			"records": ds.Len(),
			"skipped": ds.Skipped(),
		}).Info("dataset loaded")

		svc, err := service.NewGridService(service.GridServiceConfig{
			DatasetID:   datasetID,
			Dataset:     ds,
			LoadOptions: opts,
			Cache:       cacheManager,
			Renderer:    renderer,
			CellSize:    cfg.Grid.CellSize,
			MinCellSize: cfg.Grid.MinCellSize,
			MaxCellSize: cfg.Grid.MaxCellSize,
		})
		if err != nil {
			log.WithError(err).WithField("dataset", datasetID).Fatal("failed to initialize grid service")
		}
		registry.Register(datasetID, svc)
	}

	limiter, err := api.NewClientRateLimiter(api.RateLimitConfig{
		RequestsPerSecond: cfg.Limits.ViewportRequestsPerSecond,
		Burst:             cfg.Limits.ViewportBurst,
		TrustedProxies:    cfg.Limits.TrustedProxies,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to configure rate limiter")
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:        registry,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ViewportLimiter: limiter,
		Cache:           cacheManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// SIGHUP reloads every dataset from disk; SIGINT/SIGTERM stop the server.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			break
		}
		reloadAll(registry)
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

func reloadAll(registry *api.DatasetRegistry) {
	for _, id := range registry.DatasetIDs() {
		svc := registry.Get(id)
		if svc == nil {
			continue
		}
		if err := svc.Reload(); err != nil {
			log.WithError(err).WithField("dataset", id).Error("reload failed")
		}
	}
}
