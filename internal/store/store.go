// Package store persists extracted feature vectors, grouped into named sets.
//
// A set holds the records of one database build: an image identifier and
// its vector. Identifiers are unique within a set and Load returns records
// in the order they were appended. Every backend writes a record in a
// single operation, so a failed append never leaves a partial vector
// behind.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/errors"
)

// Record pairs an image identifier with its feature vector.
type Record struct {
	ID     string
	Vector feature.Vector
}

// Store is implemented by every backend.
//
// Append adds rec to set. When truncate is true the set is emptied first,
// in the same write as the new record. Load returns ErrSetNotFound for a
// set that was never written.
type Store interface {
	Append(ctx context.Context, set string, rec Record, truncate bool) error
	Load(ctx context.Context, set string) ([]Record, error)
	Sets(ctx context.Context) ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendCSV      = "csv"
	BackendSegment  = "segment"
	BackendBolt     = "bolt"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open constructs the backend selected by cfg.Store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	path := cfg.Store.Path
	switch cfg.Store.Backend {
	case BackendCSV:
		return NewCSV(path)
	case BackendSegment:
		return NewSegment(path)
	case BackendBolt:
		return NewBolt(path)
	case BackendBadger:
		return NewBadger(path)
	case BackendSQLite:
		return NewSQLite(ctx, path)
	case BackendPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", apperrors.ErrInvalidInput, cfg.Store.Backend)
	}
}

var setName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// checkSet rejects set names that are unsafe to use as file names or keys.
func checkSet(set string) error {
	if !setName.MatchString(set) {
		return fmt.Errorf("%w: invalid set name %q", apperrors.ErrInvalidInput, set)
	}
	return nil
}

func checkRecord(set string, rec Record) error {
	if err := checkSet(set); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: empty record id", apperrors.ErrInvalidInput)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: record %q has an empty vector", apperrors.ErrInvalidInput, rec.ID)
	}
	return nil
}

func duplicate(set, id string) error {
	return fmt.Errorf("%w: %q already in set %q", apperrors.ErrDuplicateRecord, id, set)
}

func notFound(set string) error {
	return fmt.Errorf("%w: %q", apperrors.ErrSetNotFound, set)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
