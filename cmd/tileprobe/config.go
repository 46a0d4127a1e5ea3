package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/gogpu/tilecache"
)

type (
	Config struct {
		Provider string `env:"PROVIDER" envDefault:"memory"`

		MBTiles MBTiles `envPrefix:"MBTILES_"`
		Redis   Redis   `envPrefix:"REDIS_"`
		HTTP    HTTP    `envPrefix:"HTTP_"`

		Workers   int           `env:"WORKERS" envDefault:"4"`
		MaxZoom   uint32        `env:"MAX_ZOOM" envDefault:"3"`
		Budget    time.Duration `env:"BUDGET" envDefault:"2s"`
		CacheSize int64         `env:"CACHE_SIZE" envDefault:"1024"`
		TileSize  int           `env:"TILE_SIZE" envDefault:"256"`

		// View is minLon,minLat,maxLon,maxLat.
		View []float64 `env:"VIEW" envSeparator:"," envDefault:"-180,-85,180,85"`
		// PixelsPerDegree is the screen scale the view is drawn at.
		PixelsPerDegree float64 `env:"PIXELS_PER_DEGREE" envDefault:"4"`

		LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
		MetricsAddr string `env:"METRICS_ADDR"`
	}

	MBTiles struct {
		Path string `env:"PATH"`
	}

	Redis struct {
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD"`
		DB       int    `env:"DB" envDefault:"0"`
		Prefix   string `env:"PREFIX" envDefault:"tile"`
	}

	HTTP struct {
		URL       string `env:"URL" envDefault:"https://tile.openstreetmap.org/{z}/{x}/{y}.png"`
		UserAgent string `env:"USER_AGENT" envDefault:"tileprobe/0.1"`
	}
)

// loadConfig reads TILEPROBE_* variables, after loading .env if present.
func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		tilecache.Logger().Debug("tileprobe: no .env file", "error", err)
	}

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "TILEPROBE_"})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(cfg.View) != 4 || cfg.View[0] >= cfg.View[2] || cfg.View[1] >= cfg.View[3] {
		return nil, fmt.Errorf("config: TILEPROBE_VIEW must be minLon,minLat,maxLon,maxLat, got %v", cfg.View)
	}
	if cfg.PixelsPerDegree <= 0 {
		return nil, fmt.Errorf("config: TILEPROBE_PIXELS_PER_DEGREE must be positive")
	}
	return &cfg, nil
}

func (c *Config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
