package image

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder for GeoTIFF tiles
	_ "golang.org/x/image/webp" // register WebP decoder
)

// ErrEmptyData is returned when encoded image data is empty.
var ErrEmptyData = errors.New("image: empty data")

// Decode decodes encoded tile bytes, auto-detecting the format.
// Supported formats: PNG, JPEG, GIF, WebP, TIFF, BMP.
func Decode(data []byte) (stdimage.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyData
	}
	img, format, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("image: decode: %w", err)
	}
	return img, format, nil
}

// FromStdImage copies img into a pooled RGBA8 buffer of width x height.
//
// When the target size differs from the source size the image is resampled
// with bilinear interpolation. A non-positive width or height keeps the
// source dimensions. A nil pool allocates a fresh buffer.
func FromStdImage(pool *Pool, img stdimage.Image, width, height int) (*ImageBuf, error) {
	if img == nil {
		return nil, ErrEmptyData
	}
	src := img.Bounds()
	if width <= 0 || height <= 0 {
		width, height = src.Dx(), src.Dy()
	}

	buf, err := get(pool, width, height, FormatRGBA8)
	if err != nil {
		return nil, err
	}

	dst := buf.ToStdImage().(*stdimage.NRGBA)
	if src.Dx() == width && src.Dy() == height {
		xdraw.Copy(dst, stdimage.Point{}, img, src, xdraw.Src, nil)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Rect, img, src, xdraw.Src, nil)
	}
	return buf, nil
}

// NewPickBuffer returns a pooled pick buffer filled with id.
func NewPickBuffer(pool *Pool, width, height int, id uint32) (*ImageBuf, error) {
	buf, err := get(pool, width, height, FormatPickID32)
	if err != nil {
		return nil, err
	}
	for y := range height {
		for x := range width {
			_ = buf.SetPickID(x, y, id)
		}
	}
	return buf, nil
}

func get(pool *Pool, width, height int, format Format) (*ImageBuf, error) {
	if pool == nil {
		return NewImageBuf(width, height, format)
	}
	buf := pool.Get(width, height, format)
	if buf == nil {
		return nil, ErrInvalidDimensions
	}
	return buf, nil
}
