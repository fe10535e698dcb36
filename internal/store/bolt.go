package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Each set gets two root buckets: records keyed by an 8-byte big-endian
// sequence so iteration follows insertion order, and an id index.
const (
	boltRecordsPrefix = "records/"
	boltIDsPrefix     = "ids/"
)

// BoltStore keeps every set in a single bbolt file.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store at %s: %w", path, err)
	}
	return &BoltStore{db: db, path: path}, nil
}

func (s *BoltStore) Append(ctx context.Context, set string, rec Record, truncate bool) error {
	if err := checkRecord(set, rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	recName, idName := []byte(boltRecordsPrefix+set), []byte(boltIDsPrefix+set)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if truncate {
			for _, name := range [][]byte{recName, idName} {
				if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
					return fmt.Errorf("clearing bucket %s: %w", name, err)
				}
			}
		}
		records, err := tx.CreateBucketIfNotExists(recName)
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", recName, err)
		}
		ids, err := tx.CreateBucketIfNotExists(idName)
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", idName, err)
		}
		if ids.Get([]byte(rec.ID)) != nil {
			return duplicate(set, rec.ID)
		}
		seq, err := records.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := records.Put(key, payload); err != nil {
			return fmt.Errorf("writing record %q: %w", rec.ID, err)
		}
		return ids.Put([]byte(rec.ID), key)
	})
}

func (s *BoltStore) Load(ctx context.Context, set string) ([]Record, error) {
	if err := checkSet(set); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(boltRecordsPrefix + set))
		if records == nil {
			return notFound(set)
		}
		return records.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("record %x: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Sets(ctx context.Context) ([]string, error) {
	sets := make(map[string]struct{})
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if n := string(name); strings.HasPrefix(n, boltRecordsPrefix) {
				sets[strings.TrimPrefix(n, boltRecordsPrefix)] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing bolt buckets: %w", err)
	}
	return sortedKeys(sets), nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
