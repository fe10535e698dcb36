package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imageio"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imaging/pixel"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
)

func solid(t *testing.T, rows, cols int, r, g, b uint8) pixel.Buffer {
	t.Helper()
	buf, err := pixel.New(rows, cols)
	require.NoError(t, err)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			buf.Set(y, x, r, g, b)
		}
	}
	return buf
}

// imageDir writes n solid-colour images plus a corrupt file and a non-image.
func imageDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := solid(t, 12, 12, uint8(40*i), 80, uint8(200-20*i))
		ext := ".png"
		if i%2 == 1 {
			ext = ".ppm"
		}
		require.NoError(t, imageio.Save(filepath.Join(dir, fmt.Sprintf("img%02d%s", i, ext)), img))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	return dir
}

func newCSV(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewCSV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func ids(recs []store.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestBuildStoresInDirectoryOrder(t *testing.T) {
	dir := imageDir(t, 4)
	st := newCSV(t)
	agg := analytics.NewAggregator()
	collector := analytics.NewCollector(analytics.Options{Aggregator: agg})
	b := NewBuilder(st, config.ExtractConfig{Workers: 1}, Hooks{Backend: "csv", Collector: collector})

	report, err := b.Build(context.Background(), dir, feature.RGBHistogram, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "rgb-histogram", report.Set)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 4, report.Stored)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken.png", report.Failures[0].Image)

	recs, err := st.Load(context.Background(), "rgb-histogram")
	require.NoError(t, err)
	assert.Equal(t, []string{"img00.png", "img01.ppm", "img02.png", "img03.ppm"}, ids(recs))
	for _, r := range recs {
		assert.Len(t, r.Vector, feature.RGBHistogram.Length)
	}

	stats := agg.Stats()
	assert.Equal(t, int64(4), stats.ImagesIndexed)
	assert.Equal(t, int64(1), stats.ImagesSkipped)
	assert.Equal(t, int64(1), stats.BuildsCompleted)
}

func TestBuildSkipsOversizedImages(t *testing.T) {
	dir := imageDir(t, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zz_bad.ppm"), []byte("P6\n4000000000 4000000000\n255\n"), 0644))
	require.NoError(t, imageio.Save(filepath.Join(dir, "zz_large.png"), solid(t, 40, 40, 1, 2, 3)))
	st := newCSV(t)
	b := NewBuilder(st, config.ExtractConfig{Workers: 2, MaxPixels: 1000}, Hooks{Backend: "csv"})

	report, err := b.Build(context.Background(), dir, feature.RGBHistogram, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 2, report.Stored)
	var failed []string
	for _, f := range report.Failures {
		failed = append(failed, f.Image)
	}
	assert.ElementsMatch(t, []string{"broken.png", "zz_bad.ppm", "zz_large.png"}, failed)

	recs, err := st.Load(context.Background(), "rgb-histogram")
	require.NoError(t, err)
	assert.Equal(t, []string{"img00.png", "img01.ppm"}, ids(recs))
}

func TestBuildParallelMatchesSequential(t *testing.T) {
	dir := imageDir(t, 9)
	seq, par := newCSV(t), newCSV(t)

	_, err := NewBuilder(seq, config.ExtractConfig{Workers: 1}, Hooks{}).
		Build(context.Background(), dir, feature.TopBottom, BuildOptions{Set: "tb"})
	require.NoError(t, err)
	_, err = NewBuilder(par, config.ExtractConfig{}, Hooks{}).
		Build(context.Background(), dir, feature.TopBottom, BuildOptions{Set: "tb", Workers: 4})
	require.NoError(t, err)

	a, err := seq.Load(context.Background(), "tb")
	require.NoError(t, err)
	b, err := par.Load(context.Background(), "tb")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildReplacesUnlessAppending(t *testing.T) {
	st := newCSV(t)
	b := NewBuilder(st, config.ExtractConfig{}, Hooks{})
	ctx := context.Background()

	_, err := b.Build(ctx, imageDir(t, 3), feature.Chromaticity, BuildOptions{Set: "s"})
	require.NoError(t, err)

	second := t.TempDir()
	require.NoError(t, imageio.Save(filepath.Join(second, "z.png"), solid(t, 4, 4, 1, 2, 3)))
	_, err = b.Build(ctx, second, feature.Chromaticity, BuildOptions{Set: "s"})
	require.NoError(t, err)
	recs, err := st.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"z.png"}, ids(recs))

	third := t.TempDir()
	require.NoError(t, imageio.Save(filepath.Join(third, "a.png"), solid(t, 4, 4, 9, 9, 9)))
	require.NoError(t, imageio.Save(filepath.Join(third, "z.png"), solid(t, 4, 4, 9, 9, 9)))
	report, err := b.Build(ctx, third, feature.Chromaticity, BuildOptions{Set: "s", Append: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stored)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "z.png", report.Failures[0].Image)

	recs, err = st.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"z.png", "a.png"}, ids(recs))
}

func TestBuildSkipsImagesTooSmallForCropVariants(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imageio.Save(filepath.Join(dir, "big.png"), solid(t, 300, 400, 200, 10, 10)))
	require.NoError(t, imageio.Save(filepath.Join(dir, "small.png"), solid(t, 100, 100, 200, 10, 10)))
	st := newCSV(t)

	report, err := NewBuilder(st, config.ExtractConfig{}, Hooks{}).
		Build(context.Background(), dir, feature.RGMagOrient, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stored)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "small.png", report.Failures[0].Image)
}

type failingStore struct {
	store.Store
	appends int
}

func (f *failingStore) Append(context.Context, string, store.Record, bool) error {
	f.appends++
	return errors.New("disk full")
}

func TestBuildAbortsOnStoreError(t *testing.T) {
	st := &failingStore{}
	report, err := NewBuilder(st, config.ExtractConfig{Workers: 3}, Hooks{}).
		Build(context.Background(), imageDir(t, 5), feature.RGBHistogram, BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "img00.png")
	assert.Equal(t, 1, st.appends)
	assert.Equal(t, 0, report.Stored)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(newCSV(t), config.ExtractConfig{}, Hooks{}).
		Build(ctx, imageDir(t, 2), feature.RGBHistogram, BuildOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildMissingDirectory(t *testing.T) {
	_, err := NewBuilder(newCSV(t), config.ExtractConfig{}, Hooks{}).
		Build(context.Background(), filepath.Join(t.TempDir(), "nope"), feature.RGBHistogram, BuildOptions{})
	assert.Error(t, err)
}
