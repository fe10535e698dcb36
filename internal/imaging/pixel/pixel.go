// Package pixel defines the in-memory pixel grids the filters and feature
// extractors operate on. A Buffer holds unsigned 8-bit samples and a Signed
// holds the wider, signed samples produced by derivative filters. Both store
// three interleaved channels (R, G, B) in row-major order.
package pixel

import (
	"fmt"
	"image"
	"image/color"

	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// Channels is the number of samples per pixel. Every buffer in this module
// is three-channel.
const Channels = 3

// Buffer is an 8-bit, three-channel image.
type Buffer struct {
	Rows int
	Cols int
	Pix  []uint8
}

// Signed is a 16-bit signed, three-channel image.
type Signed struct {
	Rows int
	Cols int
	Pix  []int16
}

// New allocates a zeroed Buffer.
func New(rows, cols int) (Buffer, error) {
	if rows <= 0 || cols <= 0 {
		return Buffer{}, fmt.Errorf("%w: %dx%d", apperrors.ErrMalformedBuffer, rows, cols)
	}
	return Buffer{Rows: rows, Cols: cols, Pix: make([]uint8, rows*cols*Channels)}, nil
}

// NewSigned allocates a zeroed Signed buffer.
func NewSigned(rows, cols int) (Signed, error) {
	if rows <= 0 || cols <= 0 {
		return Signed{}, fmt.Errorf("%w: %dx%d", apperrors.ErrMalformedBuffer, rows, cols)
	}
	return Signed{Rows: rows, Cols: cols, Pix: make([]int16, rows*cols*Channels)}, nil
}

// Validate reports whether b has positive dimensions and a sample slice of
// the matching length.
func (b Buffer) Validate() error {
	if b.Rows <= 0 || b.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d", apperrors.ErrMalformedBuffer, b.Rows, b.Cols)
	}
	if len(b.Pix) != b.Rows*b.Cols*Channels {
		return fmt.Errorf("%w: %d samples for %dx%dx%d", apperrors.ErrMalformedBuffer, len(b.Pix), b.Rows, b.Cols, Channels)
	}
	return nil
}

// Validate is the Signed counterpart of Buffer.Validate.
func (s Signed) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d", apperrors.ErrMalformedBuffer, s.Rows, s.Cols)
	}
	if len(s.Pix) != s.Rows*s.Cols*Channels {
		return fmt.Errorf("%w: %d samples for %dx%dx%d", apperrors.ErrMalformedBuffer, len(s.Pix), s.Rows, s.Cols, Channels)
	}
	return nil
}

// Offset returns the index of channel ch of pixel (row, col) in Pix.
func (b Buffer) Offset(row, col, ch int) int {
	return (row*b.Cols+col)*Channels + ch
}

// At returns the three channels of pixel (row, col).
func (b Buffer) At(row, col int) (r, g, bl uint8) {
	i := (row*b.Cols + col) * Channels
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

// Set writes the three channels of pixel (row, col).
func (b Buffer) Set(row, col int, r, g, bl uint8) {
	i := (row*b.Cols + col) * Channels
	b.Pix[i], b.Pix[i+1], b.Pix[i+2] = r, g, bl
}

// Clone returns a deep copy of b.
func (b Buffer) Clone() Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return Buffer{Rows: b.Rows, Cols: b.Cols, Pix: pix}
}

// SameSize reports whether a and b have identical dimensions.
func SameSize(a, b Signed) bool {
	return a.Rows == b.Rows && a.Cols == b.Cols
}

// Crop copies the region starting at column x, row y with the given width
// and height into a new Buffer.
func (b Buffer) Crop(x, y, width, height int) (Buffer, error) {
	if width <= 0 || height <= 0 || x < 0 || y < 0 || x+width > b.Cols || y+height > b.Rows {
		return Buffer{}, fmt.Errorf("%w: region (%d,%d %dx%d) in %dx%d image",
			apperrors.ErrRegionOutOfBounds, x, y, width, height, b.Cols, b.Rows)
	}
	dst := Buffer{Rows: height, Cols: width, Pix: make([]uint8, width*height*Channels)}
	rowLen := width * Channels
	for row := 0; row < height; row++ {
		src := b.Offset(y+row, x, 0)
		copy(dst.Pix[row*rowLen:(row+1)*rowLen], b.Pix[src:src+rowLen])
	}
	return dst, nil
}

// FromImage converts a decoded image into a Buffer. Alpha is discarded
// after un-premultiplying.
func FromImage(img image.Image) (Buffer, error) {
	bounds := img.Bounds()
	dst, err := New(bounds.Dy(), bounds.Dx())
	if err != nil {
		return Buffer{}, err
	}
	switch src := img.(type) {
	case *image.NRGBA:
		for row := 0; row < dst.Rows; row++ {
			line := src.Pix[row*src.Stride:]
			for col := 0; col < dst.Cols; col++ {
				dst.Set(row, col, line[col*4], line[col*4+1], line[col*4+2])
			}
		}
	default:
		for row := 0; row < dst.Rows; row++ {
			for col := 0; col < dst.Cols; col++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+col, bounds.Min.Y+row)).(color.NRGBA)
				dst.Set(row, col, c.R, c.G, c.B)
			}
		}
	}
	return dst, nil
}

// ToImage converts b into an opaque *image.NRGBA, for encoding.
func (b Buffer) ToImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Cols, b.Rows))
	for row := 0; row < b.Rows; row++ {
		for col := 0; col < b.Cols; col++ {
			r, g, bl := b.At(row, col)
			i := img.PixOffset(col, row)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, bl, 0xff
		}
	}
	return img
}

// Abs returns |s| saturated to 255 per sample. It is only used to visualise
// derivative images.
func (s Signed) Abs() Buffer {
	dst := Buffer{Rows: s.Rows, Cols: s.Cols, Pix: make([]uint8, len(s.Pix))}
	for i, v := range s.Pix {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if a > 255 {
			a = 255
		}
		dst.Pix[i] = uint8(a)
	}
	return dst
}
