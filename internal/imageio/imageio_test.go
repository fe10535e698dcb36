package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) pixel.Buffer {
	t.Helper()
	b, err := pixel.New(3, 4)
	require.NoError(t, err)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			b.Set(r, c, uint8(r*60), uint8(c*50), 200)
		}
	}
	return b
}

func TestDecodePPMBinary(t *testing.T) {
	want := sample(t)
	var buf bytes.Buffer
	require.NoError(t, EncodePPM(&buf, want.ToImage()))

	got, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "ppm", format)
	assert.Equal(t, want.Pix, got.Pix)
}

func TestDecodePPMASCIIWithComments(t *testing.T) {
	src := "P3\n# a comment\n2 1\n# another\n255\n255 0 0   0 0 255\n"
	got, _, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Rows)
	assert.Equal(t, 2, got.Cols)
	assert.Equal(t, []uint8{255, 0, 0, 0, 0, 255}, got.Pix)
}

func TestDecodePPMRescalesMaxval(t *testing.T) {
	src := "P3 1 1 15 15 0 5\n"
	got, _, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 85}, got.Pix)
}

func TestDecodePPMSixteenBit(t *testing.T) {
	raw := append([]byte("P6\n1 1\n65535\n"), 0xff, 0xff, 0x00, 0x00, 0x80, 0x00)
	got, _, err := Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 127}, got.Pix)
}

func TestDecodePPMTruncated(t *testing.T) {
	raw := append([]byte("P6\n2 2\n255\n"), 1, 2, 3)
	_, _, err := Decode(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestDecodeTIFFAndJPEG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: 10, G: 120, B: 240, A: 255})
		}
	}

	var tb bytes.Buffer
	require.NoError(t, tiff.Encode(&tb, img, nil))
	got, format, err := Decode(&tb)
	require.NoError(t, err)
	assert.Equal(t, "tiff", format)
	r, g, b := got.At(4, 4)
	assert.Equal(t, []uint8{10, 120, 240}, []uint8{r, g, b})

	var jb bytes.Buffer
	require.NoError(t, jpeg.Encode(&jb, img, &jpeg.Options{Quality: 100}))
	got, format, err = Decode(&jb)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 8, got.Rows)
}

func TestDecodeUnknownFormat(t *testing.T) {
	_, _, err := Decode(strings.NewReader("not an image at all"))
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	want := sample(t)
	for _, name := range []string{"out.png", "out.PPM"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, want))
		got, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, want.Pix, got.Pix, name)
	}
	assert.ErrorIs(t, Save(filepath.Join(dir, "out.gif"), want), apperrors.ErrUnsupportedFormat)

	_, err := Load(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	want := sample(t)
	require.NoError(t, EncodePNG(&buf, want))
	got, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, want.Pix, got.Pix)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "c.ppm", "notes.txt", "d.tiff", "e.jpg.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "z.png"), 0o755))

	names, err := Scan(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.JPG", "c.ppm", "d.tiff"}, names)

	names, err = Scan(dir, []string{"PPM", ".png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "c.ppm"}, names)

	_, err = Scan(filepath.Join(dir, "nope"), nil)
	assert.Error(t, err)
}

func TestDecodeRejectsHugeDimensions(t *testing.T) {
	for _, header := range []string{
		"P6\n4000000000 4000000000\n255\n",
		"P6\n60000 60000\n255\n",
		"P3\n9223372036854775807 2\n255\n",
	} {
		_, _, err := Decode(strings.NewReader(header))
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, header)
	}
}

func TestDecodeLimit(t *testing.T) {
	img, err := pixel.New(20, 20)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, img))

	_, _, err = DecodeLimit(bytes.NewReader(buf.Bytes()), 100)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	got, format, err := DecodeLimit(bytes.NewReader(buf.Bytes()), 400)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 20, got.Rows)
	assert.Equal(t, 20, got.Cols)
}

func TestLoadLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.ppm")
	require.NoError(t, Save(path, sample(t)))

	_, err := LoadLimit(path, 11)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	got, err := LoadLimit(path, 12)
	require.NoError(t, err)
	assert.Equal(t, sample(t).Pix, got.Pix)
}
