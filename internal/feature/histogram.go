package feature

import (
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/filter"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
)

const (
	// RGB histogram: 8 bins per channel.
	rgbBinsPerChannel = 8
	rgbBinWidth       = 256 / rgbBinsPerChannel
	RGBHistogramLen   = rgbBinsPerChannel * rgbBinsPerChannel * rgbBinsPerChannel

	// r/g chromaticity: 8 bins per axis over 8*c/(R+G+B+1).
	chromaBins      = 8
	ChromaticityLen = chromaBins * chromaBins

	// Gradient magnitude x orientation, channel 0 only.
	magBins         = 8
	magBinWidth     = 256 / magBins
	// Orientation uses width 16, not 32, to fill 128 bins. Its samples are
	// only 0..3 or 253..255, so either width splits them identically.
	orientBins      = 16
	orientBinWidth  = 256 / orientBins
	MagOrientLen    = magBins * orientBins
	magOrientSample = 0

	patchSize = 9
	PatchLen  = patchSize * patchSize * pixel.Channels
)

func rgbBin(r, g, b uint8) int {
	return int(r/rgbBinWidth)*rgbBinsPerChannel*rgbBinsPerChannel +
		int(g/rgbBinWidth)*rgbBinsPerChannel +
		int(b/rgbBinWidth)
}

func chromaBin(r, g, b uint8) int {
	sum := int(r) + int(g) + int(b) + 1
	rIdx := chromaBins * int(r) / sum
	gIdx := chromaBins * int(g) / sum
	return rIdx*chromaBins + gIdx
}

// rgbHistogram accumulates rows [from, to) of img into dst, which must hold
// RGBHistogramLen bins, and normalizes by the number of pixels visited.
func rgbHistogram(dst []float64, img pixel.Buffer, from, to int) {
	for r := from; r < to; r++ {
		for c := 0; c < img.Cols; c++ {
			dst[rgbBin(img.At(r, c))]++
		}
	}
	normalize(dst, (to-from)*img.Cols)
}

func chromaticityHistogram(dst []float64, img pixel.Buffer) {
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			dst[chromaBin(img.At(r, c))]++
		}
	}
	normalize(dst, img.Rows*img.Cols)
}

// magOrientHistogram runs grayscale, Sobel X/Y, magnitude and orientation
// over img and bins channel 0 of the last two into an 8x16 grid.
func magOrientHistogram(dst []float64, img pixel.Buffer) error {
	gray, err := filter.Grayscale(img)
	if err != nil {
		return err
	}
	sx, sy, err := filter.Sobel3x3(gray)
	if err != nil {
		return err
	}
	mag, err := filter.Magnitude(sx, sy)
	if err != nil {
		return err
	}
	orient, err := filter.Orientation(sx, sy)
	if err != nil {
		return err
	}
	for i := magOrientSample; i < len(mag.Pix); i += pixel.Channels {
		m := int(mag.Pix[i]) / magBinWidth
		o := int(orient.Pix[i]) / orientBinWidth
		dst[m*orientBins+o]++
	}
	normalize(dst, img.Rows*img.Cols)
	return nil
}

func normalize(bins []float64, pixels int) {
	if pixels <= 0 {
		return
	}
	total := float64(pixels)
	for i, v := range bins {
		if v > 0 {
			bins[i] = v / total
		}
	}
}
