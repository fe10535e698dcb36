package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imageio"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/filter"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

var filterKinds = map[string]func(pixel.Buffer) (pixel.Buffer, error){
	"grayscale": filter.Grayscale,
	"blur":      filter.Blur5x5,
	"sobel-x":   absolute(filter.SobelX3x3),
	"sobel-y":   absolute(filter.SobelY3x3),
	"magnitude": func(b pixel.Buffer) (pixel.Buffer, error) {
		sx, sy, err := filter.Sobel3x3(b)
		if err != nil {
			return pixel.Buffer{}, err
		}
		return filter.Magnitude(sx, sy)
	},
	"orientation": func(b pixel.Buffer) (pixel.Buffer, error) {
		sx, sy, err := filter.Sobel3x3(b)
		if err != nil {
			return pixel.Buffer{}, err
		}
		return filter.Orientation(sx, sy)
	},
}

func absolute(fn func(pixel.Buffer) (pixel.Signed, error)) func(pixel.Buffer) (pixel.Buffer, error) {
	return func(b pixel.Buffer) (pixel.Buffer, error) {
		s, err := fn(b)
		if err != nil {
			return pixel.Buffer{}, err
		}
		return s.Abs(), nil
	}
}

func filterNames() []string {
	return []string{"grayscale", "blur", "sobel-x", "sobel-y", "magnitude", "orientation"}
}

func (a *app) filterCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "filter <in> <out>",
		Short: "Apply one of the feature kernels to an image",
		Long: `filter writes the output of a single kernel, for inspecting what the
texture variants see. Sobel outputs are written as absolute values. The
output format follows the extension of <out> (.png or .ppm).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, ok := filterKinds[kind]
			if !ok {
				return fmt.Errorf("%w: filter kind %q (want one of %s)",
					apperrors.ErrInvalidInput, kind, strings.Join(filterNames(), ", "))
			}
			img, err := imageio.Load(args[0])
			if err != nil {
				return err
			}
			out, err := apply(img)
			if err != nil {
				return err
			}
			if err := imageio.Save(args[1], out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %dx%d)\n", args[1], kind, out.Cols, out.Rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "grayscale", strings.Join(filterNames(), "|"))
	return cmd
}
