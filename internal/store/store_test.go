package store

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) Store
}

func backends() []backend {
	return []backend{
		{BackendCSV, func(t *testing.T, dir string) Store {
			s, err := NewCSV(dir)
			require.NoError(t, err)
			return s
		}},
		{BackendSegment, func(t *testing.T, dir string) Store {
			s, err := NewSegment(dir)
			require.NoError(t, err)
			return s
		}},
		{BackendBolt, func(t *testing.T, dir string) Store {
			s, err := NewBolt(filepath.Join(dir, "features.db"))
			require.NoError(t, err)
			return s
		}},
		{BackendBadger, func(t *testing.T, dir string) Store {
			s, err := NewBadger(filepath.Join(dir, "badger"))
			require.NoError(t, err)
			return s
		}},
		{BackendSQLite, func(t *testing.T, dir string) Store {
			s, err := NewSQLite(context.Background(), filepath.Join(dir, "features.sqlite"))
			require.NoError(t, err)
			return s
		}},
	}
}

func rec(id string, v ...float64) Record {
	return Record{ID: id, Vector: feature.Vector(v)}
}

func ids(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, t.TempDir())
			defer s.Close()

			require.NoError(t, s.Append(ctx, "rgb-histogram", rec("pic.0003.jpg", 0.5, 0.25, 0.25), true))
			require.NoError(t, s.Append(ctx, "rgb-histogram", rec("pic.0001.jpg", 1, 0, 0), false))
			require.NoError(t, s.Append(ctx, "rgb-histogram", rec("pic.0002.jpg", 1.0/3, 1e-17, 0.1), false))
			require.NoError(t, s.Append(ctx, "patch9x9", rec("a.png", 255, 0), false))

			got, err := s.Load(ctx, "rgb-histogram")
			require.NoError(t, err)
			assert.Equal(t, []string{"pic.0003.jpg", "pic.0001.jpg", "pic.0002.jpg"}, ids(got))
			assert.Equal(t, feature.Vector{1.0 / 3, 1e-17, 0.1}, got[2].Vector)

			sets, err := s.Sets(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"patch9x9", "rgb-histogram"}, sets)
		})
	}
}

func TestStoreDuplicate(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, t.TempDir())
			defer s.Close()

			require.NoError(t, s.Append(ctx, "set", rec("x.jpg", 1), false))
			err := s.Append(ctx, "set", rec("x.jpg", 2), false)
			assert.ErrorIs(t, err, apperrors.ErrDuplicateRecord)

			// The same id is fine in another set.
			require.NoError(t, s.Append(ctx, "other", rec("x.jpg", 2), false))

			got, err := s.Load(ctx, "set")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, feature.Vector{1}, got[0].Vector)
		})
	}
}

func TestStoreTruncate(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, t.TempDir())
			defer s.Close()

			require.NoError(t, s.Append(ctx, "set", rec("a", 1), false))
			require.NoError(t, s.Append(ctx, "set", rec("b", 2), false))
			require.NoError(t, s.Append(ctx, "set", rec("c", 3), true))
			require.NoError(t, s.Append(ctx, "set", rec("a", 4), false))

			got, err := s.Load(ctx, "set")
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "a"}, ids(got))
			assert.Equal(t, feature.Vector{4}, got[1].Vector)
		})
	}
}

func TestStoreMissingSetAndBadNames(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, t.TempDir())
			defer s.Close()

			_, err := s.Load(ctx, "nothing")
			assert.ErrorIs(t, err, apperrors.ErrSetNotFound)

			assert.ErrorIs(t, s.Append(ctx, "../escape", rec("a", 1), false), apperrors.ErrInvalidInput)
			assert.ErrorIs(t, s.Append(ctx, "set", rec("", 1), false), apperrors.ErrInvalidInput)
			assert.ErrorIs(t, s.Append(ctx, "set", Record{ID: "a"}, false), apperrors.ErrInvalidInput)

			sets, err := s.Sets(ctx)
			require.NoError(t, err)
			assert.Empty(t, sets)
		})
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()
			s := b.open(t, dir)
			require.NoError(t, s.Append(ctx, "set", rec("one", 0.1, 0.2), true))
			require.NoError(t, s.Append(ctx, "set", rec("two", 0.3, 0.4), false))
			require.NoError(t, s.Close())

			s = b.open(t, dir)
			defer s.Close()
			got, err := s.Load(ctx, "set")
			require.NoError(t, err)
			assert.Equal(t, []string{"one", "two"}, ids(got))

			// The reopened store still knows about existing ids.
			assert.ErrorIs(t, s.Append(ctx, "set", rec("one", 1, 1), false), apperrors.ErrDuplicateRecord)
		})
	}
}

func TestStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := NewCSV(t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Append(ctx, "set", rec("a", 1), false), context.Canceled)
}

func TestCSVFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSV(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "set", rec("img 1.jpg", 0.5, 0, 1), true))

	data, err := os.ReadFile(filepath.Join(dir, "set.csv"))
	require.NoError(t, err)
	assert.Equal(t, "img 1.jpg,0.5,0,1\n", string(data))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("x.jpg,0.1,abc\n"), 0644))
	_, err = s.Load(ctx, "bad")
	assert.ErrorIs(t, err, apperrors.ErrMalformedBuffer)
}

func TestSegmentIgnoresTornTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewSegment(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "set", rec("a", 1, 2), true))
	require.NoError(t, s.Append(ctx, "set", rec("b", 3, 4), false))

	path := filepath.Join(dir, "set"+segmentExt)
	info, err := os.Stat(path)
	require.NoError(t, err)
	intact := info.Size()

	// Half a frame, as left by a crash mid-write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{40, 0, 0, 0, 1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fresh, err := NewSegment(dir)
	require.NoError(t, err)
	got, err := fresh.Load(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	// Appending through a fresh store cuts the torn bytes off first.
	require.NoError(t, fresh.Append(ctx, "set", rec("c", 5, 6), false))
	got, err = fresh.Load(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), intact)
}

func TestSegmentRejectsCorruptionMidFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewSegment(dir)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "set", rec("a", 1, 2), true))
	require.NoError(t, s.Append(ctx, "set", rec("b", 3, 4), false))

	path := filepath.Join(dir, "set"+segmentExt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the first record's payload.
	data[HeaderSize+frameHeader+3] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = s.Load(ctx, "set")
	assert.ErrorIs(t, err, apperrors.ErrMalformedBuffer)

	binary.LittleEndian.PutUint32(data[0:4], 0xdeadbeef)
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = s.Load(ctx, "set")
	assert.ErrorIs(t, err, apperrors.ErrMalformedBuffer)
}

func TestDecodeRecordMalformed(t *testing.T) {
	_, err := decodeRecord([]byte{5})
	assert.ErrorIs(t, err, apperrors.ErrMalformedBuffer)
	_, err = decodeRecord([]byte{9, 0, 'a'})
	assert.ErrorIs(t, err, apperrors.ErrMalformedBuffer)
	_, err = decodeRecord([]byte{1, 0, 'a', 1, 2, 3})
	assert.ErrorIs(t, err, apperrors.ErrMalformedBuffer)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Store: config.StoreConfig{Backend: BackendSegment, Path: t.TempDir()}}
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &SegmentStore{}, s)
	require.NoError(t, s.Close())

	cfg.Store.Backend = "tape"
	_, err = Open(ctx, cfg)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
