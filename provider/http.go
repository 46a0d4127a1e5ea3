package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
)

// ErrBadTemplate is returned for URL templates lacking a placeholder.
var ErrBadTemplate = errors.New("provider: url template needs {z}, {x} and {y}")

// DefaultMaxTileBytes caps the size of a downloaded tile.
const DefaultMaxTileBytes = 8 << 20

// HTTPConfig configures an HTTP source.
type HTTPConfig struct {
	// URLTemplate is a tile URL containing {z}, {x} and {y}, and
	// optionally {-y} for TMS rows.
	URLTemplate string
	// Name identifies the source; empty uses the template host.
	Name      string
	UserAgent string
	// Client defaults to a client with a 30 second timeout.
	Client   *http.Client
	MaxBytes int64
}

// HTTP downloads tiles from a slippy-map tile server.
type HTTP struct {
	name      string
	template  string
	userAgent string
	client    *http.Client
	maxBytes  int64
}

// NewHTTP validates cfg and returns the source.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	tpl := cfg.URLTemplate
	if !strings.Contains(tpl, "{z}") || !strings.Contains(tpl, "{x}") ||
		!(strings.Contains(tpl, "{y}") || strings.Contains(tpl, "{-y}")) {
		return nil, fmt.Errorf("%w: %q", ErrBadTemplate, tpl)
	}
	u, err := url.Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("provider: url template: %w", err)
	}

	h := &HTTP{
		name:      cfg.Name,
		template:  tpl,
		userAgent: cfg.UserAgent,
		client:    cfg.Client,
		maxBytes:  cfg.MaxBytes,
	}
	if h.name == "" {
		h.name = u.Host
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 30 * time.Second}
	}
	if h.maxBytes <= 0 {
		h.maxBytes = DefaultMaxTileBytes
	}
	return h, nil
}

// Name implements Source.
func (h *HTTP) Name() string { return "http:" + h.name }

// URL returns the address of t.
func (h *HTTP) URL(t maptile.Tile) string {
	tms := (uint32(1) << uint32(t.Z)) - 1 - t.Y
	return strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{-y}", strconv.FormatUint(uint64(tms), 10),
	).Replace(h.template)
}

// Get implements Source. 404 and 204 responses are ErrNotFound.
func (h *HTTP) Get(ctx context.Context, t maptile.Tile) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL(t), nil)
	if err != nil {
		return nil, err
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.maxBytes {
		return nil, fmt.Errorf("tile larger than %d bytes", h.maxBytes)
	}
	return data, nil
}
