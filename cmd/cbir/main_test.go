package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imageio"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/executor"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func writeImage(t *testing.T, path string, fn func(r, c int) (uint8, uint8, uint8)) {
	t.Helper()
	buf, err := pixel.New(24, 24)
	require.NoError(t, err)
	for r := 0; r < 24; r++ {
		for c := 0; c < 24; c++ {
			red, green, blue := fn(r, c)
			buf.Set(r, c, red, green, blue)
		}
	}
	require.NoError(t, imageio.Save(path, buf))
}

func imageSet(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "checker.png"), func(r, c int) (uint8, uint8, uint8) {
		if (r/4+c/4)%2 == 0 {
			return 240, 240, 240
		}
		return 20, 20, 20
	})
	writeImage(t, filepath.Join(dir, "sunset.ppm"), func(r, c int) (uint8, uint8, uint8) {
		return 250, uint8(100 + 4*r), 40
	})
	writeImage(t, filepath.Join(dir, "sea.png"), func(r, c int) (uint8, uint8, uint8) {
		return 10, uint8(60 + 2*c), 200
	})
	return dir
}

func TestBuildThenQuery(t *testing.T) {
	dir := imageSet(t)
	storeDir := t.TempDir()
	global := []string{"--store-backend", "segment", "--store-path", storeDir, "--log-level", "error"}

	out, err := run(t, append([]string{"build", dir, "--variant", "rgb-histogram", "--json"}, global...)...)
	require.NoError(t, err)
	var report indexer.BuildReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Stored)
	assert.Empty(t, report.Failures)

	out, err = run(t, append([]string{"query", filepath.Join(dir, "sea.png"), "--variant", "rgb-histogram", "--k", "2", "--json"}, global...)...)
	require.NoError(t, err)
	var result executor.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "sea.png", result.Target)
	assert.Equal(t, 3, result.Candidates)
	require.Len(t, result.Matches, 2)
	assert.Equal(t, "sea.png", result.Matches[0].ID)
	assert.InDelta(t, 0.0, result.Matches[0].Score, 1e-9)

	out, err = run(t, append([]string{"query", filepath.Join(dir, "checker.png"), "--variant", "rgb-histogram"}, global...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "  1  checker.png")
}

func TestQueryUnknownSet(t *testing.T) {
	dir := imageSet(t)
	_, err := run(t, "query", filepath.Join(dir, "sea.png"), "--variant", "chromaticity",
		"--store-backend", "csv", "--store-path", t.TempDir(), "--log-level", "error")
	assert.Error(t, err)
}

func TestUnknownVariant(t *testing.T) {
	_, err := run(t, "build", t.TempDir(), "--variant", "sift", "--store-path", t.TempDir())
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	_, err := run(t, "variants", "--store-backend", "mongo")
	assert.Error(t, err)
}

func TestVariants(t *testing.T) {
	out, err := run(t, "variants", "--store-path", t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"patch9x9", "rgb-histogram", "top-bottom", "rgb-magnitude", "rgb-magorient", "rg-magorient", "chromaticity"} {
		assert.Contains(t, out, name)
	}
}

func TestFilter(t *testing.T) {
	dir := imageSet(t)
	for _, kind := range filterNames() {
		t.Run(kind, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), kind+".png")
			out, err := run(t, "filter", filepath.Join(dir, "checker.png"), dst, "--kind", kind, "--store-path", t.TempDir())
			require.NoError(t, err)
			assert.Contains(t, out, "24x24")

			img, err := imageio.Load(dst)
			require.NoError(t, err)
			assert.Equal(t, 24, img.Rows)
		})
	}

	_, err := run(t, "filter", filepath.Join(dir, "checker.png"), filepath.Join(t.TempDir(), "x.png"), "--kind", "sharpen")
	assert.Error(t, err)
}
