package imagery

import (
	"errors"
	"fmt"
	stdimage "image"
	"sync/atomic"

	"github.com/gogpu/tilecache/internal/image"
	"github.com/gogpu/tilecache/internal/metrics"
	"github.com/gogpu/tilecache/region"
)

// RenderMode selects which image of a set is used.
type RenderMode uint8

const (
	// ModeDraw is the image drawn on screen.
	ModeDraw RenderMode = iota

	// ModePick maps each pixel to the id of the object drawn there.
	ModePick

	modeCount
)

// String returns the mode name.
func (m RenderMode) String() string {
	switch m {
	case ModeDraw:
		return "draw"
	case ModePick:
		return "pick"
	}
	return fmt.Sprintf("RenderMode(%d)", m)
}

// ErrNoPickSize is returned when pick imagery is requested without a size.
var ErrNoPickSize = errors.New("imagery: pick image needs a draw image or a size")

// Data is imagery produced by a Provider.
//
// Data is immutable once returned: the same value may be handed to several
// managers, each of which copies it into buffers of its own.
type Data struct {
	// Draw is the decoded image. Nil means no draw image.
	Draw stdimage.Image

	// PickID, when non-zero, adds a pick image filled with this id.
	PickID uint32

	// Size resamples the images to this size. Zero keeps Draw's size.
	Size stdimage.Point

	// Format names the encoding Draw was decoded from, if any.
	Format string

	// Dirty lists the changed parts of a pushed update. Empty means the
	// whole image changed.
	Dirty []region.Region
}

// live counts images that have been created and not yet disposed.
var live atomic.Int64

// Image is one decoded image held in a pooled pixel buffer.
// It is released by Dispose, exactly once.
type Image struct {
	mode   RenderMode
	buf    *image.ImageBuf
	pool   *image.Pool
	width  int
	height int

	disposed atomic.Bool
}

func newImage(mode RenderMode, buf *image.ImageBuf, pool *image.Pool) *Image {
	live.Add(1)
	return &Image{
		mode:   mode,
		buf:    buf,
		pool:   pool,
		width:  buf.Width(),
		height: buf.Height(),
	}
}

// NewImage copies src into a new draw image.
func NewImage(src stdimage.Image) (*Image, error) {
	pool := image.Default()
	buf, err := image.FromStdImage(pool, src, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("imagery: new image: %w", err)
	}
	return newImage(ModeDraw, buf, pool), nil
}

// Mode returns the render mode of the image.
func (i *Image) Mode() RenderMode { return i.mode }

// Width returns the width in pixels.
func (i *Image) Width() int { return i.width }

// Height returns the height in pixels.
func (i *Image) Height() int { return i.height }

// Disposed reports whether the image has been released.
func (i *Image) Disposed() bool { return i.disposed.Load() }

// Std returns a view of a draw image sharing its pixels.
// It returns nil for pick images and after disposal.
func (i *Image) Std() stdimage.Image {
	if i.disposed.Load() || i.mode != ModeDraw {
		return nil
	}
	return i.buf.ToStdImage()
}

// PickID returns the object id at (x, y) of a pick image.
func (i *Image) PickID(x, y int) (uint32, bool) {
	if i.disposed.Load() || i.mode != ModePick {
		return 0, false
	}
	id, err := i.buf.PickID(x, y)
	return id, err == nil
}

// Dispose returns the pixel buffer to its pool. Only the first call has an
// effect; a nil image is ignored.
func (i *Image) Dispose() {
	if i == nil || !i.disposed.CompareAndSwap(false, true) {
		return
	}
	if i.pool != nil {
		i.pool.Put(i.buf)
	}
	live.Add(-1)
	metrics.ImagesDisposed.Inc()
}

// ImageSet holds at most one image per render mode.
type ImageSet struct {
	images [modeCount]*Image
}

// NewImageSet decodes data into a set backed by the default buffer pool.
// It returns nil and no error when data carries no imagery.
func NewImageSet(data *Data) (*ImageSet, error) {
	return newImageSet(image.Default(), data)
}

func newImageSet(pool *image.Pool, data *Data) (*ImageSet, error) {
	if data == nil || (data.Draw == nil && data.PickID == 0) {
		return nil, nil
	}

	w, h := data.Size.X, data.Size.Y
	set := &ImageSet{}
	if data.Draw != nil {
		buf, err := image.FromStdImage(pool, data.Draw, w, h)
		if err != nil {
			return nil, fmt.Errorf("imagery: draw image: %w", err)
		}
		set.images[ModeDraw] = newImage(ModeDraw, buf, pool)
		w, h = buf.Width(), buf.Height()
	}
	if data.PickID != 0 {
		if w <= 0 || h <= 0 {
			set.Dispose()
			return nil, ErrNoPickSize
		}
		buf, err := image.NewPickBuffer(pool, w, h, data.PickID)
		if err != nil {
			set.Dispose()
			return nil, fmt.Errorf("imagery: pick image: %w", err)
		}
		set.images[ModePick] = newImage(ModePick, buf, pool)
	}
	return set, nil
}

// SingleImageSet wraps img in a set holding only img.
func SingleImageSet(img *Image) *ImageSet {
	if img == nil {
		return nil
	}
	set := &ImageSet{}
	set.images[img.mode] = img
	return set
}

// Image returns the image for mode, or nil.
func (s *ImageSet) Image(mode RenderMode) *Image {
	if s == nil || mode >= modeCount {
		return nil
	}
	return s.images[mode]
}

// Dispose releases every image of the set. Safe on a nil set.
func (s *ImageSet) Dispose() {
	if s == nil {
		return
	}
	for _, img := range s.images {
		img.Dispose()
	}
}

// Disposed reports whether every image of the set has been released.
func (s *ImageSet) Disposed() bool {
	if s == nil {
		return true
	}
	for _, img := range s.images {
		if img != nil && !img.Disposed() {
			return false
		}
	}
	return true
}
