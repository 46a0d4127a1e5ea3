// Package image provides pooled pixel buffers for decoded tile imagery.
//
// Buffers are the resource owned by an image cache entry: they are taken
// from a Pool when imagery is decoded and handed back to the pool when the
// owning entry is disposed.
package image

import (
	"encoding/binary"
	"errors"
	stdimage "image"
)

// Common errors for image operations.
var (
	// ErrInvalidDimensions is returned when width or height is non-positive.
	ErrInvalidDimensions = errors.New("image: invalid dimensions")

	// ErrInvalidFormat is returned when the format is not recognized.
	ErrInvalidFormat = errors.New("image: invalid format")

	// ErrOutOfBounds is returned when pixel coordinates are outside image bounds.
	ErrOutOfBounds = errors.New("image: coordinates out of bounds")
)

// ImageBuf is a contiguous pixel buffer.
//
// Thread safety: ImageBuf is safe for concurrent read access. Write
// operations (Set*, Fill, Clear) require external synchronization.
type ImageBuf struct {
	data   []byte
	width  int
	height int
	stride int
	format Format
}

// NewImageBuf creates a new image buffer with the given dimensions and format.
// Returns an error if dimensions are invalid or format is unknown.
func NewImageBuf(width, height int, format Format) (*ImageBuf, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if !format.IsValid() {
		return nil, ErrInvalidFormat
	}

	stride := format.RowBytes(width)
	return &ImageBuf{
		data:   make([]byte, stride*height),
		width:  width,
		height: height,
		stride: stride,
		format: format,
	}, nil
}

// Width returns the image width in pixels.
func (b *ImageBuf) Width() int {
	return b.width
}

// Height returns the image height in pixels.
func (b *ImageBuf) Height() int {
	return b.height
}

// Stride returns the number of bytes per row.
func (b *ImageBuf) Stride() int {
	return b.stride
}

// Format returns the pixel format.
func (b *ImageBuf) Format() Format {
	return b.format
}

// Data returns the raw pixel data slice.
func (b *ImageBuf) Data() []byte {
	return b.data
}

// ByteSize returns the size of the pixel data in bytes.
func (b *ImageBuf) ByteSize() int {
	return len(b.data)
}

// RowBytes returns a slice of the pixel data for row y.
// Returns nil if y is out of bounds.
func (b *ImageBuf) RowBytes(y int) []byte {
	if y < 0 || y >= b.height {
		return nil
	}
	start := y * b.stride
	return b.data[start : start+b.format.RowBytes(b.width)]
}

// PixelOffset returns the byte offset of pixel (x, y) in the data slice.
// Returns -1 if coordinates are out of bounds.
func (b *ImageBuf) PixelOffset(x, y int) int {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return -1
	}
	return y*b.stride + x*b.format.BytesPerPixel()
}

// GetRGBA returns the color of pixel (x, y).
// Gray pixels are expanded to opaque RGB. Out of bounds pixels are zero.
func (b *ImageBuf) GetRGBA(x, y int) (r, g, bl, a uint8) {
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return 0, 0, 0, 0
	}
	switch b.format {
	case FormatGray8:
		v := b.data[offset]
		return v, v, v, 255
	case FormatRGBA8:
		return b.data[offset], b.data[offset+1], b.data[offset+2], b.data[offset+3]
	}
	return 0, 0, 0, 0
}

// SetRGBA sets pixel (x, y) of an RGBA8 or Gray8 buffer.
func (b *ImageBuf) SetRGBA(x, y int, r, g, bl, a uint8) error {
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return ErrOutOfBounds
	}
	switch b.format {
	case FormatGray8:
		// ITU-R BT.601 luma
		b.data[offset] = uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(bl)) / 1000)
	case FormatRGBA8:
		b.data[offset] = r
		b.data[offset+1] = g
		b.data[offset+2] = bl
		b.data[offset+3] = a
	default:
		return ErrInvalidFormat
	}
	return nil
}

// PickID returns the object id stored at (x, y) of a pick buffer.
func (b *ImageBuf) PickID(x, y int) (uint32, error) {
	if b.format != FormatPickID32 {
		return 0, ErrInvalidFormat
	}
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return 0, ErrOutOfBounds
	}
	return binary.LittleEndian.Uint32(b.data[offset:]), nil
}

// SetPickID stores an object id at (x, y) of a pick buffer.
func (b *ImageBuf) SetPickID(x, y int, id uint32) error {
	if b.format != FormatPickID32 {
		return ErrInvalidFormat
	}
	offset := b.PixelOffset(x, y)
	if offset < 0 {
		return ErrOutOfBounds
	}
	binary.LittleEndian.PutUint32(b.data[offset:], id)
	return nil
}

// Clear zeros all pixel data.
func (b *ImageBuf) Clear() {
	clear(b.data)
}

// Fill sets every pixel to the given color.
func (b *ImageBuf) Fill(r, g, bl, a uint8) {
	for y := range b.height {
		for x := range b.width {
			_ = b.SetRGBA(x, y, r, g, bl, a)
		}
	}
}

// ToStdImage returns a standard library view sharing the buffer's pixels.
// Pick buffers are not representable and yield nil.
func (b *ImageBuf) ToStdImage() stdimage.Image {
	rect := stdimage.Rect(0, 0, b.width, b.height)
	switch b.format {
	case FormatRGBA8:
		return &stdimage.NRGBA{Pix: b.data, Stride: b.stride, Rect: rect}
	case FormatGray8:
		return &stdimage.Gray{Pix: b.data, Stride: b.stride, Rect: rect}
	}
	return nil
}
