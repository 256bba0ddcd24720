// Package api provides HTTP handlers for the screengrid server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/screengrid/server/internal/cache"
	"github.com/screengrid/server/internal/render"
	"github.com/screengrid/server/internal/service"
	"github.com/screengrid/server/internal/viewport"
	"github.com/screengrid/server/pkg/colormap"
	"github.com/screengrid/server/pkg/screengrid"
)

const (
	defaultMemberLimit = 100
	maxMemberLimit     = 10000
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	// ViewportLimiter throttles viewport updates; nil disables throttling.
	ViewportLimiter *ClientRateLimiter
	// Cache is reported by /api/cache when set.
	Cache *cache.Manager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Get("/api/colormaps", colormapsHandler)
	r.Get("/api/cache", cacheStatsHandler(cfg.Cache))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/overlay.png", overlayHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", metadataHandler)
			r.With(limit(cfg.ViewportLimiter)).Post("/viewport", setViewportHandler)
			r.Get("/viewport", getViewportHandler)
			r.Post("/reload", reloadHandler)
			r.Get("/stats", statsHandler)
			r.Get("/cell", cellAtHandler)
			r.Get("/cells/bounds", cellsInBoundsHandler)
			r.Get("/cells/threshold", cellsAboveThresholdHandler)
		})
	})

	return r
}

func limit(rl *ClientRateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the grid service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.GridService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.GridService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// cacheStatsHandler reports overlay cache usage.
func cacheStatsHandler(m *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "cache disabled", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, m.Stats())
	}
}

func colormapsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"colormaps": colormap.Names(),
	})
}

type boundResponse struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	ds := svc.Dataset()
	b := ds.Bound()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset":           svc.DatasetID(),
		"records":           ds.Len(),
		"skipped_features":  ds.Skipped(),
		"default_cell_size": svc.DefaultCellSize(),
		"bounds": boundResponse{
			MinLon: b.Min.Lon(), MinLat: b.Min.Lat(),
			MaxLon: b.Max.Lon(), MaxLat: b.Max.Lat(),
		},
	})
}

type viewportRequest struct {
	viewport.Viewport
	CellSize float64 `json:"cell_size"`
}

type viewportResponse struct {
	Viewport   viewport.Viewport     `json:"viewport"`
	CellSize   float64               `json:"cell_size"`
	Columns    int                   `json:"columns"`
	Rows       int                   `json:"rows"`
	Statistics screengrid.Statistics `json:"statistics"`
}

func setViewportHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)

	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid viewport body: "+err.Error(), http.StatusBadRequest)
		return
	}

	st, err := svc.SetViewport(req.Viewport, req.CellSize)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidViewport) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, currentViewport(svc, st))
}

func currentViewport(svc *service.GridService, st screengrid.Statistics) *viewportResponse {
	vp, cellSize, ok := svc.Viewport()
	if !ok {
		return nil
	}
	resp := &viewportResponse{Viewport: vp, CellSize: cellSize, Statistics: st}
	if g := svc.Grid(); g != nil {
		resp.Columns, resp.Rows = g.Columns, g.Rows
	}
	return resp
}

func getViewportHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	writeJSON(w, http.StatusOK, currentViewport(svc, svc.Statistics()))
}

func reloadHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if err := svc.Reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataset": svc.DatasetID(),
		"records": svc.Dataset().Len(),
	})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	writeJSON(w, http.StatusOK, svc.Statistics())
}

type memberResponse struct {
	ID     string  `json:"id,omitempty"`
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Weight float64 `json:"weight"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type cellResponse struct {
	Column      int              `json:"column"`
	Row         int              `json:"row"`
	Index       int              `json:"index"`
	Value       float64          `json:"value"`
	OriginX     float64          `json:"origin_x"`
	OriginY     float64          `json:"origin_y"`
	CellSize    float64          `json:"cell_size"`
	MemberCount int              `json:"member_count"`
	Members     []memberResponse `json:"members"`
	Bounds      *boundResponse   `json:"bounds,omitempty"`
}

func toCellResponse(svc *service.GridService, c service.Cell, memberLimit int) cellResponse {
	resp := cellResponse{
		Column:      c.Column,
		Row:         c.Row,
		Index:       c.Index,
		Value:       c.Value,
		OriginX:     c.OriginX,
		OriginY:     c.OriginY,
		CellSize:    c.CellSize,
		MemberCount: len(c.Members),
		Members:     make([]memberResponse, 0, min(len(c.Members), memberLimit)),
	}
	for i, m := range c.Members {
		if i >= memberLimit {
			break
		}
		resp.Members = append(resp.Members, memberResponse{
			ID:     m.Record.ID,
			Lon:    m.Record.Lon,
			Lat:    m.Record.Lat,
			Weight: m.Weight,
			X:      m.X,
			Y:      m.Y,
		})
	}
	if b, ok := svc.CellBound(c); ok {
		resp.Bounds = &boundResponse{
			MinLon: b.Min.Lon(), MinLat: b.Min.Lat(),
			MaxLon: b.Max.Lon(), MaxLat: b.Max.Lat(),
		}
	}
	return resp
}

func toCellsResponse(svc *service.GridService, cells []service.Cell, memberLimit int) map[string]interface{} {
	out := make([]cellResponse, 0, len(cells))
	for _, c := range cells {
		out = append(out, toCellResponse(svc, c, memberLimit))
	}
	return map[string]interface{}{
		"count": len(out),
		"cells": out,
	}
}

func cellAtHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	query := r.URL.Query()

	x, err := parseFloat(query, "x")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	y, err := parseFloat(query, "y")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	memberLimit, err := parseMemberLimit(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cell, ok := svc.CellAt(screengrid.Point{X: x, Y: y})
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"cell": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cell": toCellResponse(svc, cell, memberLimit)})
}

func cellsInBoundsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	query := r.URL.Query()

	var b screengrid.Bounds
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"min_x", &b.MinX}, {"min_y", &b.MinY}, {"max_x", &b.MaxX}, {"max_y", &b.MaxY},
	} {
		v, err := parseFloat(query, p.name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*p.dst = v
	}
	memberLimit, err := parseMemberLimit(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, toCellsResponse(svc, svc.CellsInBounds(b), memberLimit))
}

func cellsAboveThresholdHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	query := r.URL.Query()

	threshold, err := parseFloat(query, "value")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	memberLimit, err := parseMemberLimit(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, toCellsResponse(svc, svc.CellsAboveThreshold(threshold), memberLimit))
}

func overlayHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	query := r.URL.Query()

	opts := render.Options{
		Colormap: strings.TrimSpace(query.Get("colormap")),
		Style:    render.Style(strings.TrimSpace(query.Get("style"))),
	}
	if raw := query.Get("opacity"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			http.Error(w, "invalid opacity", http.StatusBadRequest)
			return
		}
		opts.Opacity = v
	}

	data, err := svc.Overlay(opts)
	if err != nil {
		if errors.Is(err, service.ErrNoGrid) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func parseFloat(query url.Values, name string) (float64, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return 0, errors.New("missing required query param: " + name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

func parseMemberLimit(query url.Values) (int, error) {
	raw := strings.TrimSpace(query.Get("limit"))
	if raw == "" {
		return defaultMemberLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid limit")
	}
	if n > maxMemberLimit {
		n = maxMemberLimit
	}
	return n, nil
}
