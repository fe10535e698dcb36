// Package filter implements the fixed-size convolution kernels used by the
// feature extractors: green-channel grayscale, a separable 5x5 blur,
// separable 3x3 Sobel derivatives, and per-channel gradient magnitude and
// orientation.
//
// Every function allocates its destination; sources are never written.
// Malformed sources are rejected with ErrMalformedBuffer.
// Separable passes only cover interior pixels. Samples a pass does not reach
// keep the value they had before that pass, which for the Sobel
// intermediates is zero.
package filter

import (
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

const ch = pixel.Channels

var (
	blurTaps  = [5]int{1, 2, 4, 2, 1}
	blurNorm  = 10
	smoothing = [3]int{1, 2, 1}
	smoothDiv = 4
	// Derivative taps, applied at offsets -1, 0, +1 along the pass axis.
	derivX = [3]int{-1, 0, 1}
	derivY = [3]int{1, 0, -1}
)

// Grayscale copies the green channel into all three channels.
func Grayscale(src pixel.Buffer) (pixel.Buffer, error) {
	if err := src.Validate(); err != nil {
		return pixel.Buffer{}, err
	}
	dst := pixel.Buffer{Rows: src.Rows, Cols: src.Cols, Pix: make([]uint8, len(src.Pix))}
	for i := 0; i+2 < len(src.Pix); i += ch {
		g := src.Pix[i+1]
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = g, g, g
	}
	return dst, nil
}

// Blur5x5 applies the [1 2 4 2 1]/10 kernel horizontally and then
// vertically, truncating after each pass. A two-pixel margin is left
// unfiltered by each pass.
func Blur5x5(src pixel.Buffer) (pixel.Buffer, error) {
	if err := src.Validate(); err != nil {
		return pixel.Buffer{}, err
	}
	rows, cols := src.Rows, src.Cols
	inter := src.Clone()
	for r := 0; r < rows; r++ {
		for c := 2; c < cols-2; c++ {
			for k := 0; k < ch; k++ {
				sum := 0
				for t, w := range blurTaps {
					sum += int(src.Pix[(r*cols+c+t-2)*ch+k]) * w
				}
				inter.Pix[(r*cols+c)*ch+k] = uint8(sum / blurNorm)
			}
		}
	}

	dst := inter.Clone()
	for r := 2; r < rows-2; r++ {
		for c := 0; c < cols; c++ {
			for k := 0; k < ch; k++ {
				sum := 0
				for t, w := range blurTaps {
					sum += int(inter.Pix[((r+t-2)*cols+c)*ch+k]) * w
				}
				dst.Pix[(r*cols+c)*ch+k] = uint8(sum / blurNorm)
			}
		}
	}
	return dst, nil
}

// SobelX3x3 computes the horizontal derivative: [-1 0 1] along each row,
// then [1 2 1]/4 down each column.
func SobelX3x3(src pixel.Buffer) (pixel.Signed, error) {
	if err := src.Validate(); err != nil {
		return pixel.Signed{}, err
	}
	inter := horizontal(src, derivX, 1)
	return vertical(inter, smoothing, smoothDiv), nil
}

// SobelY3x3 computes the vertical derivative: [1 2 1]/4 along each row,
// then [1 0 -1] down each column (the row above minus the row below).
func SobelY3x3(src pixel.Buffer) (pixel.Signed, error) {
	if err := src.Validate(); err != nil {
		return pixel.Signed{}, err
	}
	inter := horizontal(src, smoothing, smoothDiv)
	return vertical(inter, derivY, 1), nil
}

// Sobel3x3 returns both derivatives of src.
func Sobel3x3(src pixel.Buffer) (sx, sy pixel.Signed, err error) {
	if sx, err = SobelX3x3(src); err != nil {
		return sx, sy, err
	}
	sy, err = SobelY3x3(src)
	return sx, sy, err
}

// horizontal runs a 3-tap pass along rows over the one-pixel interior.
func horizontal(src pixel.Buffer, taps [3]int, div int) pixel.Signed {
	rows, cols := src.Rows, src.Cols
	dst := pixel.Signed{Rows: rows, Cols: cols, Pix: make([]int16, len(src.Pix))}
	for r := 1; r < rows-1; r++ {
		for c := 1; c < cols-1; c++ {
			base := (r*cols + c) * ch
			for k := 0; k < ch; k++ {
				sum := int(src.Pix[base-ch+k])*taps[0] +
					int(src.Pix[base+k])*taps[1] +
					int(src.Pix[base+ch+k])*taps[2]
				dst.Pix[base+k] = int16(sum / div)
			}
		}
	}
	return dst
}

// vertical runs a 3-tap pass down columns over the one-pixel interior.
func vertical(src pixel.Signed, taps [3]int, div int) pixel.Signed {
	rows, cols := src.Rows, src.Cols
	dst := pixel.Signed{Rows: rows, Cols: cols, Pix: make([]int16, len(src.Pix))}
	copy(dst.Pix, src.Pix)
	stride := cols * ch
	for r := 1; r < rows-1; r++ {
		for c := 1; c < cols-1; c++ {
			base := (r*cols + c) * ch
			for k := 0; k < ch; k++ {
				sum := int(src.Pix[base-stride+k])*taps[0] +
					int(src.Pix[base+k])*taps[1] +
					int(src.Pix[base+stride+k])*taps[2]
				dst.Pix[base+k] = int16(sum / div)
			}
		}
	}
	return dst
}

// Magnitude returns round(sqrt(sx² + sy²)) per sample, narrowed to 8 bits.
// Values above 255 wrap rather than saturate.
func Magnitude(sx, sy pixel.Signed) (pixel.Buffer, error) {
	if err := checkPair(sx, sy); err != nil {
		return pixel.Buffer{}, err
	}
	dst := pixel.Buffer{Rows: sx.Rows, Cols: sx.Cols, Pix: make([]uint8, len(sx.Pix))}
	for i := range sx.Pix {
		x, y := int64(sx.Pix[i]), int64(sy.Pix[i])
		m := int64(math.Round(math.Sqrt(float64(x*x + y*y))))
		dst.Pix[i] = uint8(m)
	}
	return dst, nil
}

// Orientation returns atan2(sy, sx) per sample, truncated to an integer
// number of radians and narrowed to 8 bits. Only the values 0..3 and
// 253..255 can occur.
func Orientation(sx, sy pixel.Signed) (pixel.Buffer, error) {
	if err := checkPair(sx, sy); err != nil {
		return pixel.Buffer{}, err
	}
	dst := pixel.Buffer{Rows: sx.Rows, Cols: sx.Cols, Pix: make([]uint8, len(sx.Pix))}
	for i := range sx.Pix {
		theta := int16(math.Atan2(float64(sy.Pix[i]), float64(sx.Pix[i])))
		dst.Pix[i] = uint8(theta)
	}
	return dst, nil
}

func checkPair(sx, sy pixel.Signed) error {
	if err := sx.Validate(); err != nil {
		return err
	}
	if err := sy.Validate(); err != nil {
		return err
	}
	if !pixel.SameSize(sx, sy) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", apperrors.ErrDimensionMismatch, sx.Rows, sx.Cols, sy.Rows, sy.Cols)
	}
	return nil
}
