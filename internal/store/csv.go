package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

const csvExt = ".csv"

// CSVStore keeps one <set>.csv file per set, one "id,v1,...,vn" line per
// record.
type CSVStore struct {
	dir string
	mu  sync.Mutex
	ids map[string]map[string]struct{}
}

func NewCSV(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating csv store directory: %w", err)
	}
	return &CSVStore{dir: dir, ids: make(map[string]map[string]struct{})}, nil
}

func (s *CSVStore) path(set string) string {
	return filepath.Join(s.dir, set+csvExt)
}

func (s *CSVStore) Append(ctx context.Context, set string, rec Record, truncate bool) error {
	if err := checkRecord(set, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := csvLine(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if truncate {
		if err := writeFileAtomic(s.path(set), line); err != nil {
			return fmt.Errorf("rewriting %s: %w", s.path(set), err)
		}
		s.ids[set] = map[string]struct{}{rec.ID: {}}
		return nil
	}

	ids, err := s.knownIDs(set)
	if err != nil {
		return err
	}
	if _, ok := ids[rec.ID]; ok {
		return duplicate(set, rec.ID)
	}
	f, err := os.OpenFile(s.path(set), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path(set), err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", s.path(set), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.path(set), err)
	}
	ids[rec.ID] = struct{}{}
	return nil
}

// knownIDs returns the cached id set for set, reading the file on first use.
func (s *CSVStore) knownIDs(set string) (map[string]struct{}, error) {
	if ids, ok := s.ids[set]; ok {
		return ids, nil
	}
	ids := make(map[string]struct{})
	recs, err := s.read(set)
	if err != nil && !errors.Is(err, apperrors.ErrSetNotFound) {
		return nil, err
	}
	for _, r := range recs {
		ids[r.ID] = struct{}{}
	}
	s.ids[set] = ids
	return ids, nil
}

func (s *CSVStore) Load(ctx context.Context, set string) ([]Record, error) {
	if err := checkSet(set); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(set)
}

func (s *CSVStore) read(set string) ([]Record, error) {
	f, err := os.Open(s.path(set))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(set)
		}
		return nil, fmt.Errorf("opening %s: %w", s.path(set), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	var out []Record
	for line := 1; ; line++ {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", apperrors.ErrMalformedBuffer, s.path(set), line, err)
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: %s line %d has no vector", apperrors.ErrMalformedBuffer, s.path(set), line)
		}
		vec := make(feature.Vector, len(fields)-1)
		for i, field := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d column %d: %v", apperrors.ErrMalformedBuffer, s.path(set), line, i+2, err)
			}
			vec[i] = v
		}
		out = append(out, Record{ID: fields[0], Vector: vec})
	}
	return out, nil
}

func (s *CSVStore) Sets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}
	sets := make(map[string]struct{})
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), csvExt) {
			sets[strings.TrimSuffix(e.Name(), csvExt)] = struct{}{}
		}
	}
	return sortedKeys(sets), nil
}

func (s *CSVStore) Close() error { return nil }

func csvLine(rec Record) ([]byte, error) {
	fields := make([]string, 0, len(rec.Vector)+1)
	fields = append(fields, rec.ID)
	for _, v := range rec.Vector {
		fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// writeFileAtomic replaces path with data via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
