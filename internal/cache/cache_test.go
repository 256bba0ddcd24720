package cache

import (
	"testing"
	"time"
)

func TestGridKey(t *testing.T) {
	a := GridKey("0,0@1:10x10", 50)
	b := GridKey("0,0@1:10x10", 50)
	if a != b {
		t.Fatalf("expected stable key, got %q vs %q", a, b)
	}
	if a == GridKey("0,0@1:10x10", 25) {
		t.Fatalf("expected cell size to change the key")
	}
}

func TestOverlayKey(t *testing.T) {
	base := OverlayKey("ds", 1, "grid:k", "viridis", 0.8)
	want := "overlay:ds:1:grid:k:viridis:op=0.80"
	if base != want {
		t.Fatalf("expected %q, got %q", want, base)
	}
	if base == OverlayKey("ds", 2, "grid:k", "viridis", 0.8) {
		t.Fatalf("expected generation to change the key")
	}
}

func TestManager_Overlay(t *testing.T) {
	m, err := NewManager(Config{OverlayCacheSizeMB: 8, OverlayTTL: time.Minute, GridCacheSize: 4})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer m.Close()

	if _, ok := m.GetOverlay("missing"); ok {
		t.Fatal("expected miss")
	}
	if err := m.SetOverlay("k", []byte("png")); err != nil {
		t.Fatalf("SetOverlay: %v", err)
	}
	got, ok := m.GetOverlay("k")
	if !ok || string(got) != "png" {
		t.Fatalf("expected hit with %q, got %q (ok=%v)", "png", got, ok)
	}
	if m.GridCacheSize() != 4 {
		t.Fatalf("unexpected grid cache size %d", m.GridCacheSize())
	}
}

func TestNewManager_InvalidGridSize(t *testing.T) {
	if _, err := NewManager(Config{OverlayCacheSizeMB: 8, OverlayTTL: time.Minute}); err == nil {
		t.Fatal("expected error for zero grid cache size")
	}
}

func TestGridCache_Evicts(t *testing.T) {
	c, err := NewGridCache[int](2)
	if err != nil {
		t.Fatalf("NewGridCache: %v", err)
	}
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("expected c=3, got %v (ok=%v)", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, got %d", c.Len())
	}
}
