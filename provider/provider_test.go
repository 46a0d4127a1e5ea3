package provider

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/tilecache/imagery"
)

func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// mapSource serves tiles from a map and counts lookups.
type mapSource struct {
	mu    sync.Mutex
	tiles map[maptile.Tile][]byte
	err   error
	gets  atomic.Int64
}

func (s *mapSource) Name() string { return "map" }

func (s *mapSource) Get(_ context.Context, t maptile.Tile) ([]byte, error) {
	s.gets.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.tiles[t]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// ===== Keys =====

func TestTileKey(t *testing.T) {
	valid := maptile.New(1, 2, 3)
	tests := []struct {
		name    string
		key     any
		want    maptile.Tile
		wantErr bool
	}{
		{"value", valid, valid, false},
		{"pointer", &valid, valid, false},
		{"nil pointer", (*maptile.Tile)(nil), maptile.Tile{}, true},
		{"out of range", maptile.New(9, 0, 1), maptile.Tile{}, true},
		{"string", "1/2/3", maptile.Tile{}, true},
		{"nil", nil, maptile.Tile{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TileKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TileKey() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedKey) {
				t.Errorf("err = %v, want ErrUnsupportedKey", err)
			}
			if got != tt.want {
				t.Errorf("TileKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ===== Decoding =====

func TestDecoding_Fetch(t *testing.T) {
	key := maptile.New(0, 0, 0)
	src := &mapSource{tiles: map[maptile.Tile][]byte{
		key: encodePNG(t, 8, 8, color.NRGBA{R: 255, A: 255}),
	}}
	p := FromSource(src, WithSize(4), WithPickIDs(func(t maptile.Tile) uint32 { return uint32(t.Z) + 7 }))

	if !strings.HasPrefix(p.Name(), "map@4+pick") {
		t.Errorf("Name() = %q, want map@4+pick prefix", p.Name())
	}
	data, err := p.Fetch(context.Background(), key)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if data == nil || data.Draw == nil {
		t.Fatal("Fetch returned no image")
	}
	if data.Format != "png" || data.Size != stdimage.Pt(4, 4) || data.PickID != 7 {
		t.Errorf("data = {format %q size %v pick %d}, want png 4x4 7", data.Format, data.Size, data.PickID)
	}
}

func TestDecoding_NameSeparatesOptions(t *testing.T) {
	src := &mapSource{}
	pick := func(maptile.Tile) uint32 { return 1 }
	tests := []struct {
		name string
		a, b *Decoding
		same bool
	}{
		{"no options", FromSource(src), FromSource(src), true},
		{"same size", FromSource(src, WithSize(64)), FromSource(src, WithSize(64)), true},
		{"size differs", FromSource(src, WithSize(16)), FromSource(src, WithSize(64)), false},
		{"resampled vs native", FromSource(src), FromSource(src, WithSize(64)), false},
		{"pick ids", FromSource(src, WithPickIDs(pick)), FromSource(src, WithPickIDs(pick)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Name() == tt.b.Name(); got != tt.same {
				t.Errorf("Name() %q vs %q: same = %v, want %v", tt.a.Name(), tt.b.Name(), got, tt.same)
			}
		})
	}
}

func TestDecoding_SizesDoNotShareImagery(t *testing.T) {
	key := maptile.New(0, 0, 0)
	src := &mapSource{tiles: map[maptile.Tile][]byte{
		key: encodePNG(t, 32, 32, color.NRGBA{G: 255, A: 255}),
	}}
	hub := imagery.NewHub(8)
	small := imagery.MustNewManager(key, FromSource(src, WithSize(16)), imagery.WithHub(hub))
	large := imagery.MustNewManager(key, FromSource(src, WithSize(64)), imagery.WithHub(hub))
	if small.Equal(large) {
		t.Fatal("managers over different sizes compare equal")
	}

	req := imagery.Request{Budget: imagery.NewTimeBudget(2 * time.Second)}
	small.RequestImageData(context.Background(), req)
	large.RequestImageData(context.Background(), req)

	for _, tc := range []struct {
		m    *imagery.Manager
		want int
	}{{small, 16}, {large, 64}} {
		img := tc.m.Image(imagery.ModeDraw)
		if img == nil || img.Width() != tc.want {
			t.Errorf("%s: image = %+v, want width %d", tc.m.Provider().Name(), img, tc.want)
		}
	}
	if n := src.gets.Load(); n != 2 {
		t.Errorf("source read %d times, want 2", n)
	}
}

func TestDecoding_Missing(t *testing.T) {
	p := FromSource(&mapSource{tiles: map[maptile.Tile][]byte{}})
	data, err := p.Fetch(context.Background(), maptile.New(0, 0, 0))
	if err != nil || data != nil {
		t.Errorf("Fetch(missing) = %v, %v; want nil, nil", data, err)
	}
}

func TestDecoding_Errors(t *testing.T) {
	key := maptile.New(0, 0, 0)
	boom := errors.New("boom")
	tests := []struct {
		name string
		src  *mapSource
		key  any
		want error
	}{
		{"source error", &mapSource{err: boom}, key, boom},
		{"bad key", &mapSource{}, "nope", ErrUnsupportedKey},
		{"garbage", &mapSource{tiles: map[maptile.Tile][]byte{key: []byte("garbage")}}, key, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSource(tt.src).Fetch(context.Background(), tt.key)
			if err == nil {
				t.Fatal("Fetch returned nil error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
