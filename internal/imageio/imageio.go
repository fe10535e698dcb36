// Package imageio loads images from disk into pixel buffers and lists the
// image files of a directory. JPEG, PNG, TIFF and PPM are recognised.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/tiff"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// DefaultExtensions lists the file suffixes Scan accepts when none are given.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".ppm", ".tif", ".tiff"}

// DefaultMaxPixels bounds the width*height an image header may declare
// before any pixel memory is allocated.
const DefaultMaxPixels = 1 << 25

// checkPixels rejects dimensions whose product exceeds max or overflows.
func checkPixels(width, height, max int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: image dimensions %dx%d", apperrors.ErrInvalidInput, width, height)
	}
	if width > max/height {
		return fmt.Errorf("%w: image of %dx%d exceeds the %d pixel limit",
			apperrors.ErrInvalidInput, width, height, max)
	}
	return nil
}

// Decode reads one image from r and returns its pixels and format name.
// Images larger than DefaultMaxPixels are rejected.
func Decode(r io.Reader) (pixel.Buffer, string, error) {
	return DecodeLimit(r, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel limit; maxPixels <= 0 means
// DefaultMaxPixels. The header is checked before the image is decoded.
func DecodeLimit(r io.Reader, maxPixels int) (pixel.Buffer, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return pixel.Buffer{}, "", fmt.Errorf("%w: %v", apperrors.ErrUnsupportedFormat, err)
		}
		return pixel.Buffer{}, "", fmt.Errorf("%w: reading image header: %w", apperrors.ErrInvalidInput, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return pixel.Buffer{}, "", err
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return pixel.Buffer{}, "", fmt.Errorf("%w: %v", apperrors.ErrUnsupportedFormat, err)
		}
		return pixel.Buffer{}, "", fmt.Errorf("%w: decoding image: %w", apperrors.ErrInvalidInput, err)
	}
	buf, err := pixel.FromImage(img)
	if err != nil {
		return pixel.Buffer{}, "", err
	}
	return buf, format, nil
}

// Load decodes the image file at path.
func Load(path string) (pixel.Buffer, error) {
	return LoadLimit(path, DefaultMaxPixels)
}

// LoadLimit decodes the image file at path, rejecting images above
// maxPixels.
func LoadLimit(path string, maxPixels int) (pixel.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return pixel.Buffer{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf, _, err := DecodeLimit(f, maxPixels)
	if err != nil {
		return pixel.Buffer{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return buf, nil
}

// EncodePNG writes buf as an 8-bit RGBA PNG.
func EncodePNG(w io.Writer, buf pixel.Buffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	return png.Encode(w, buf.ToImage())
}

// Save writes buf to path, choosing PNG or PPM by extension.
func Save(path string, buf pixel.Buffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	var encode func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = func(w io.Writer) error { return png.Encode(w, buf.ToImage()) }
	case ".ppm":
		encode = func(w io.Writer) error { return EncodePPM(w, buf.ToImage()) }
	default:
		return fmt.Errorf("%w: cannot encode %s", apperrors.ErrUnsupportedFormat, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}

// Scan returns the names of the regular files in dir whose extension
// matches one of exts, case-insensitively, in lexical order.
func Scan(dir string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[e] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if want[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
