package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	m/<set>                      generation u64 | next sequence u64
//	r/<set>/<gen u64>/<seq u64>  encoded record
//	i/<set>/<gen u64>/<id>       empty
//
// Truncating a set bumps its generation in the same transaction as the
// first new record, so readers never observe a half-cleared set. Keys of
// older generations are dropped afterwards.
const (
	badgerMetaPrefix   = "m/"
	badgerRecordPrefix = "r/"
	badgerIDPrefix     = "i/"
)

// BadgerStore keeps every set in one badger directory.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	mu     sync.Mutex
}

func NewBadger(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating badger directory: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %s: %w", dir, err)
	}
	return &BadgerStore{db: db, logger: slog.Default().With("component", "badger-store")}, nil
}

type badgerMeta struct {
	gen  uint64
	next uint64
}

func metaKey(set string) []byte { return []byte(badgerMetaPrefix + set) }

func genPrefix(prefix, set string, gen uint64) []byte {
	k := make([]byte, 0, len(prefix)+len(set)+10)
	k = append(k, prefix...)
	k = append(k, set...)
	k = append(k, '/')
	k = binary.BigEndian.AppendUint64(k, gen)
	return append(k, '/')
}

func readMeta(txn *badger.Txn, set string) (badgerMeta, bool, error) {
	item, err := txn.Get(metaKey(set))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return badgerMeta{}, false, nil
	}
	if err != nil {
		return badgerMeta{}, false, err
	}
	var m badgerMeta
	err = item.Value(func(val []byte) error {
		if len(val) != 16 {
			return fmt.Errorf("meta value of %d bytes", len(val))
		}
		m.gen = binary.BigEndian.Uint64(val[0:8])
		m.next = binary.BigEndian.Uint64(val[8:16])
		return nil
	})
	return m, true, err
}

func (s *BadgerStore) Append(ctx context.Context, set string, rec Record, truncate bool) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []uint64
	err = s.db.Update(func(txn *badger.Txn) error {
		meta, exists, err := readMeta(txn, set)
		if err != nil {
			return fmt.Errorf("reading meta for %q: %w", set, err)
		}
		if truncate && exists {
			stale = append(stale, meta.gen)
			meta = badgerMeta{gen: meta.gen + 1}
		}
		idKey := append(genPrefix(badgerIDPrefix, set, meta.gen), rec.ID...)
		if _, err := txn.Get(idKey); err == nil {
			return duplicate(set, rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		recKey := binary.BigEndian.AppendUint64(genPrefix(badgerRecordPrefix, set, meta.gen), meta.next)
		if err := txn.Set(recKey, payload); err != nil {
			return err
		}
		if err := txn.Set(idKey, nil); err != nil {
			return err
		}
		meta.next++
		val := make([]byte, 16)
		binary.BigEndian.PutUint64(val[0:8], meta.gen)
		binary.BigEndian.PutUint64(val[8:16], meta.next)
		return txn.Set(metaKey(set), val)
	})
	if err != nil {
		return fmt.Errorf("appending %q to %q: %w", rec.ID, set, err)
	}

	for _, gen := range stale {
		prefixes := [][]byte{genPrefix(badgerRecordPrefix, set, gen), genPrefix(badgerIDPrefix, set, gen)}
		if err := s.db.DropPrefix(prefixes...); err != nil {
			s.logger.Warn("dropping stale generation failed", "set", set, "generation", gen, "error", err)
		}
	}
	return nil
}

func (s *BadgerStore) Load(ctx context.Context, set string) ([]Record, error) {
	if err := checkSet(set); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		meta, exists, err := readMeta(txn, set)
		if err != nil {
			return err
		}
		if !exists {
			return notFound(set)
		}
		prefix := genPrefix(badgerRecordPrefix, set, meta.gen)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Sets(ctx context.Context) ([]string, error) {
	sets := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerMetaPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			sets[strings.TrimPrefix(string(it.Item().Key()), badgerMetaPrefix)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing badger sets: %w", err)
	}
	return sortedKeys(sets), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
