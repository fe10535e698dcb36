// Package feature turns a pixel buffer into a fixed-length feature vector.
//
// The set of extractors is closed. Each Variant carries its output length,
// the smallest image it accepts and the matcher.Metric its vectors are
// compared under, so a stored set and a query always agree on layout and
// scoring.
package feature

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/filter"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/matcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// Vector is an extracted feature vector. Callers treat it as read-only.
type Vector []float64

// Region is the crop the mag/orient variants extract from.
var Region = struct{ X, Y, Width, Height int }{X: 200, Y: 200, Width: 200, Height: 100}

type Variant struct {
	Name        string
	Description string
	Length      int
	MinRows     int
	MinCols     int
	Metric      matcher.Metric

	extract func(img pixel.Buffer, dst Vector) error
}

func (v Variant) String() string { return v.Name }

func split(at int, wa, wb float64) matcher.Metric {
	return matcher.Metric{Kind: matcher.WeightedSplit, Split: at, WeightA: wa, WeightB: wb}
}

var (
	Patch9x9 = Variant{
		Name:        "patch9x9",
		Description: "raw 9x9 RGB patch around the image centre",
		Length:      PatchLen,
		MinRows:     patchSize,
		MinCols:     patchSize,
		Metric:      matcher.Metric{Kind: matcher.SSD},
		extract:     extractPatch,
	}
	RGBHistogram = Variant{
		Name:        "rgb-histogram",
		Description: "8x8x8 RGB histogram of the whole image",
		Length:      RGBHistogramLen,
		MinRows:     1,
		MinCols:     1,
		Metric:      matcher.Metric{Kind: matcher.Intersection},
		extract: func(img pixel.Buffer, dst Vector) error {
			rgbHistogram(dst, img, 0, img.Rows)
			return nil
		},
	}
	TopBottom = Variant{
		Name:        "top-bottom",
		Description: "RGB histograms of the top and bottom halves",
		Length:      2 * RGBHistogramLen,
		MinRows:     2,
		MinCols:     1,
		Metric:      split(RGBHistogramLen, 0.2, 0.8),
		extract:     extractTopBottom,
	}
	RGBMagnitude = Variant{
		Name:        "rgb-magnitude",
		Description: "RGB histogram plus RGB histogram of the Sobel gradient magnitude",
		Length:      2 * RGBHistogramLen,
		MinRows:     1,
		MinCols:     1,
		Metric:      split(RGBHistogramLen, 0.7, 0.3),
		extract:     extractRGBMagnitude,
	}
	RGBMagOrient = Variant{
		Name:        "rgb-magorient",
		Description: "RGB histogram plus magnitude/orientation histogram of a fixed crop",
		Length:      RGBHistogramLen + MagOrientLen,
		MinRows:     Region.Y + Region.Height,
		MinCols:     Region.X + Region.Width,
		Metric:      split(RGBHistogramLen, 0.8, 0.2),
		extract:     extractRGBMagOrient,
	}
	RGMagOrient = Variant{
		Name:        "rg-magorient",
		Description: "r/g chromaticity plus magnitude/orientation histogram of a fixed crop",
		Length:      ChromaticityLen + MagOrientLen,
		MinRows:     Region.Y + Region.Height,
		MinCols:     Region.X + Region.Width,
		Metric:      split(ChromaticityLen, 0.8, 0.2),
		extract:     extractRGMagOrient,
	}
	Chromaticity = Variant{
		Name:        "chromaticity",
		Description: "8x8 r/g chromaticity histogram of the whole image",
		Length:      ChromaticityLen,
		MinRows:     1,
		MinCols:     1,
		Metric:      matcher.Metric{Kind: matcher.Intersection},
		extract: func(img pixel.Buffer, dst Vector) error {
			chromaticityHistogram(dst, img)
			return nil
		},
	}
)

var registry = func() map[string]Variant {
	m := make(map[string]Variant)
	for _, v := range []Variant{Patch9x9, RGBHistogram, TopBottom, RGBMagnitude, RGBMagOrient, RGMagOrient, Chromaticity} {
		m[v.Name] = v
	}
	return m
}()

// Lookup returns the variant registered under name.
func Lookup(name string) (Variant, error) {
	v, ok := registry[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q (want one of %s)",
			apperrors.ErrUnknownVariant, name, strings.Join(Names(), ", "))
	}
	return v, nil
}

// All returns every variant sorted by name.
func All() []Variant {
	out := make([]Variant, 0, len(registry))
	for _, v := range registry {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered variant names in sorted order.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, v := range all {
		names[i] = v.Name
	}
	return names
}

// Extract computes v's feature vector for img.
func Extract(v Variant, img pixel.Buffer) (Vector, error) {
	if v.extract == nil {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownVariant, v.Name)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Rows < v.MinRows || img.Cols < v.MinCols {
		return nil, fmt.Errorf("%w: %s needs at least %dx%d, got %dx%d",
			apperrors.ErrRegionOutOfBounds, v.Name, v.MinCols, v.MinRows, img.Cols, img.Rows)
	}
	out := make(Vector, v.Length)
	if err := v.extract(img, out); err != nil {
		return nil, fmt.Errorf("extracting %s: %w", v.Name, err)
	}
	return out, nil
}

func extractPatch(img pixel.Buffer, dst Vector) error {
	top, left := img.Rows/2-patchSize/2, img.Cols/2-patchSize/2
	patch, err := img.Crop(left, top, patchSize, patchSize)
	if err != nil {
		return err
	}
	for i, s := range patch.Pix {
		dst[i] = float64(s)
	}
	return nil
}

func extractTopBottom(img pixel.Buffer, dst Vector) error {
	half := img.Rows / 2
	rgbHistogram(dst[:RGBHistogramLen], img, 0, half)
	rgbHistogram(dst[RGBHistogramLen:], img, half, 2*half)
	return nil
}

func extractRGBMagnitude(img pixel.Buffer, dst Vector) error {
	sx, sy, err := filter.Sobel3x3(img)
	if err != nil {
		return err
	}
	mag, err := filter.Magnitude(sx, sy)
	if err != nil {
		return err
	}
	rgbHistogram(dst[:RGBHistogramLen], img, 0, img.Rows)
	rgbHistogram(dst[RGBHistogramLen:], mag, 0, mag.Rows)
	return nil
}

func cropRegion(img pixel.Buffer) (pixel.Buffer, error) {
	return img.Crop(Region.X, Region.Y, Region.Width, Region.Height)
}

func extractRGBMagOrient(img pixel.Buffer, dst Vector) error {
	crop, err := cropRegion(img)
	if err != nil {
		return err
	}
	rgbHistogram(dst[:RGBHistogramLen], crop, 0, crop.Rows)
	return magOrientHistogram(dst[RGBHistogramLen:], crop)
}

func extractRGMagOrient(img pixel.Buffer, dst Vector) error {
	crop, err := cropRegion(img)
	if err != nil {
		return err
	}
	chromaticityHistogram(dst[:ChromaticityLen], crop)
	return magOrientHistogram(dst[ChromaticityLen:], crop)
}
