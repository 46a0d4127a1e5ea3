// Package provider adapts concrete tile stores to imagery.Provider.
//
// A Source returns encoded tile bytes for XYZ map tiles. FromSource wraps a
// Source into a provider that decodes those bytes into imagery.Data. The
// package ships sources backed by MBTiles files, Redis, and HTTP tile
// servers, and a Cached wrapper that keeps encoded bytes in memory. Memory
// is a provider holding decoded imagery directly and pushing updates to
// watchers.
package provider

import (
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"strconv"
	"sync/atomic"

	"github.com/paulmach/orb/maptile"

	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/internal/image"
)

var (
	// ErrNotFound is returned by a Source that has no tile for a key.
	// Providers report it as "no image" rather than an error.
	ErrNotFound = errors.New("provider: tile not found")

	// ErrUnsupportedKey is returned for image keys a provider cannot
	// interpret.
	ErrUnsupportedKey = errors.New("provider: unsupported key")
)

// Source returns the encoded bytes of XYZ tiles.
type Source interface {
	Name() string
	Get(ctx context.Context, t maptile.Tile) ([]byte, error)
}

// TileKey returns the map tile an image key refers to.
func TileKey(key any) (maptile.Tile, error) {
	switch k := key.(type) {
	case maptile.Tile:
		if !k.Valid() {
			return maptile.Tile{}, fmt.Errorf("%w: invalid tile %d/%d/%d", ErrUnsupportedKey, k.Z, k.X, k.Y)
		}
		return k, nil
	case *maptile.Tile:
		if k != nil {
			return TileKey(*k)
		}
	}
	return maptile.Tile{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
}

func tilePath(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Option configures a Decoding provider.
type Option func(*Decoding)

// WithSize resamples decoded tiles to size x size pixels.
func WithSize(size int) Option {
	return func(d *Decoding) { d.size = size }
}

// WithPickIDs adds a pick image to every tile, filled with the id fn
// returns for it. An id of zero adds none.
func WithPickIDs(fn func(maptile.Tile) uint32) Option {
	return func(d *Decoding) { d.pickID = fn }
}

// Decoding is an imagery.Provider that decodes the bytes of a Source.
// Supported encodings are PNG, JPEG, GIF, WebP, TIFF and BMP.
type Decoding struct {
	src    Source
	name   string
	size   int
	pickID func(maptile.Tile) uint32
}

// pickNames numbers the Decodings that add pick images.
var pickNames atomic.Uint64

// FromSource returns a provider decoding the tiles of src.
func FromSource(src Source, opts ...Option) *Decoding {
	d := &Decoding{src: src}
	for _, opt := range opts {
		opt(d)
	}
	d.name = src.Name()
	if d.size > 0 {
		d.name += "@" + strconv.Itoa(d.size)
	}
	if d.pickID != nil {
		// Pick functions cannot be compared, so each one names its own provider.
		d.name += "+pick" + strconv.FormatUint(pickNames.Add(1), 10)
	}
	return d
}

// Name implements imagery.Provider. It is the source name plus the
// resampling size and a pick marker, so Decodings producing different
// imagery never share fetches.
func (d *Decoding) Name() string { return d.name }

// Source returns the wrapped source.
func (d *Decoding) Source() Source { return d.src }

// Fetch implements imagery.Provider. Missing tiles yield nil data.
func (d *Decoding) Fetch(ctx context.Context, key any) (*imagery.Data, error) {
	t, err := TileKey(key)
	if err != nil {
		return nil, err
	}
	b, err := d.src.Get(ctx, t)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("provider: %s: get %s: %w", d.src.Name(), tilePath(t), err)
	}
	if len(b) == 0 {
		return nil, nil
	}

	img, format, err := image.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("provider: %s: tile %s: %w", d.src.Name(), tilePath(t), err)
	}
	data := &imagery.Data{Draw: img, Format: format}
	if d.size > 0 {
		data.Size = stdimage.Pt(d.size, d.size)
	}
	if d.pickID != nil {
		data.PickID = d.pickID(t)
	}
	return data, nil
}

var _ imagery.Provider = (*Decoding)(nil)
