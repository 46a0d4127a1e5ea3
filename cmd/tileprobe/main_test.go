package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("TILEPROBE_PROVIDER", "http")
	t.Setenv("TILEPROBE_MAX_ZOOM", "5")
	t.Setenv("TILEPROBE_VIEW", "0,0,10,10")
	t.Setenv("TILEPROBE_LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Provider != "http" || cfg.MaxZoom != 5 || cfg.Workers != 4 || cfg.Budget != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.level().String() != "DEBUG" {
		t.Errorf("level = %v, want DEBUG", cfg.level())
	}
	if !strings.Contains(cfg.HTTP.URL, "{z}") {
		t.Errorf("HTTP URL default = %q", cfg.HTTP.URL)
	}
}

func TestLoadConfig_BadView(t *testing.T) {
	t.Setenv("TILEPROBE_VIEW", "10,0,0,10")
	if _, err := loadConfig(); err == nil {
		t.Error("inverted view accepted")
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	_, _, err := newProvider(context.Background(), &Config{Provider: "ftp"})
	if err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestSeedMemory(t *testing.T) {
	mem := seedMemory(&Config{MaxZoom: 2, TileSize: 4})
	if mem.Len() != 1+4+16 {
		t.Errorf("seeded %d tiles, want 21", mem.Len())
	}
	data, err := mem.Fetch(context.Background(), maptile.New(3, 3, 2))
	if err != nil || data == nil || data.Draw.Bounds().Dx() != 4 {
		t.Errorf("Fetch(2/3/3) = %v, %v", data, err)
	}
}

func TestProbe_Memory(t *testing.T) {
	cfg := &Config{
		Provider:        "memory",
		Workers:         2,
		MaxZoom:         2,
		Budget:          5 * time.Second,
		TileSize:        8,
		View:            []float64{-180, -85, 180, 85},
		PixelsPerDegree: 2,
	}
	prov, release, err := newProvider(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	rep, err := probe(context.Background(), cfg, prov)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	// The root is drawn 720px wide and splits once; children at 360px stay.
	if rep.selected != 4 || rep.ready != 4 || rep.maxGen != 1 {
		t.Errorf("report = %+v, want 4 selected and ready at generation 1", rep)
	}
	if rep.registered != 5 {
		t.Errorf("registered = %d, want 5", rep.registered)
	}
	if rep.hub.Len != 4 || rep.hub.Hits != 0 {
		t.Errorf("hub stats = %+v, want 4 stored results and no hits", rep.hub)
	}

	var out bytes.Buffer
	rep.print(&out)
	if !strings.Contains(out.String(), "synthetic") || !strings.Contains(out.String(), "4/256 results") {
		t.Errorf("report output missing provider:\n%s", out.String())
	}
}
