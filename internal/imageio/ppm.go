package imageio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
)

// Netpbm colour formats: P3 is ASCII, P6 is binary. Samples wider than
// 8 bits are rescaled to 0-255.
func init() {
	image.RegisterFormat("ppm", "P6", decodePPM, decodePPMConfig)
	image.RegisterFormat("ppm", "P3", decodePPM, decodePPMConfig)
}

type ppmHeader struct {
	binary bool
	width  int
	height int
	maxVal int
}

func readPPMHeader(br *bufio.Reader) (ppmHeader, error) {
	var h ppmHeader
	magic, err := nextToken(br)
	if err != nil {
		return h, err
	}
	switch magic {
	case "P6":
		h.binary = true
	case "P3":
	default:
		return h, fmt.Errorf("ppm: bad magic %q", magic)
	}
	fields := []*int{&h.width, &h.height, &h.maxVal}
	for _, f := range fields {
		tok, err := nextToken(br)
		if err != nil {
			return h, err
		}
		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return h, fmt.Errorf("ppm: bad header field %q", tok)
		}
		*f = n
	}
	if h.maxVal > 65535 {
		return h, fmt.Errorf("ppm: maxval %d out of range", h.maxVal)
	}
	if err := checkPixels(h.width, h.height, DefaultMaxPixels); err != nil {
		return h, fmt.Errorf("ppm: %w", err)
	}
	return h, nil
}

// nextToken skips whitespace and '#' comments and returns the next token.
// For the last header field it also consumes the single whitespace byte
// that separates the header from P6 raster data.
func nextToken(br *bufio.Reader) (string, error) {
	var tok []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", fmt.Errorf("ppm: reading header: %w", err)
		}
		switch {
		case b == '#' && len(tok) == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", fmt.Errorf("ppm: reading comment: %w", err)
			}
		case isSpace(b):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func decodePPMConfig(r io.Reader) (image.Config, error) {
	h, err := readPPMHeader(bufio.NewReader(r))
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.NRGBAModel, Width: h.width, Height: h.height}, nil
}

func decodePPM(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	h, err := readPPMHeader(br)
	if err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, h.width, h.height))
	sample := asciiSample
	if h.binary {
		sample = binarySample(h.maxVal)
	}
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			i := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v, err := sample(br)
				if err != nil {
					return nil, fmt.Errorf("ppm: pixel (%d,%d): %w", x, y, err)
				}
				if v > h.maxVal {
					return nil, fmt.Errorf("ppm: sample %d exceeds maxval %d", v, h.maxVal)
				}
				img.Pix[i+c] = uint8(v * 255 / h.maxVal)
			}
			img.Pix[i+3] = 0xff
		}
	}
	return img, nil
}

func asciiSample(br *bufio.Reader) (int, error) {
	tok, err := nextToken(br)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(tok)
}

func binarySample(maxVal int) func(*bufio.Reader) (int, error) {
	if maxVal < 256 {
		return func(br *bufio.Reader) (int, error) {
			b, err := br.ReadByte()
			return int(b), err
		}
	}
	return func(br *bufio.Reader) (int, error) {
		var buf [2]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return 0, err
		}
		return int(buf[0])<<8 | int(buf[1]), nil
	}
}

// EncodePPM writes img as a binary (P6) PPM with maxval 255.
func EncodePPM(w io.Writer, img image.Image) error {
	b := img.Bounds()
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "P6\n%d %d\n255\n", b.Dx(), b.Dy()); err != nil {
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if _, err := bw.Write([]byte{c.R, c.G, c.B}); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
