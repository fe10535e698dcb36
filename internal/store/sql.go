package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/postgres"
)

// SQLStore keeps records in a single "records" table. It backs both the
// sqlite and postgres backends; only the DDL and placeholder syntax differ.
type SQLStore struct {
	db      *sql.DB
	dialect string
	inTx    func(ctx context.Context, fn func(tx *sql.Tx) error) error
	closer  func() error
	mu      sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	set_name TEXT    NOT NULL,
	seq      INTEGER NOT NULL,
	image_id TEXT    NOT NULL,
	vector   BLOB    NOT NULL,
	PRIMARY KEY (set_name, seq),
	UNIQUE (set_name, image_id)
)`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	set_name TEXT   NOT NULL,
	seq      BIGINT NOT NULL,
	image_id TEXT   NOT NULL,
	vector   BYTEA  NOT NULL,
	PRIMARY KEY (set_name, seq),
	UNIQUE (set_name, image_id)
)`

// NewSQLite opens (creating if needed) a sqlite database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// One writer connection avoids SQLITE_BUSY between our own appends.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}
	s := &SQLStore{db: db, dialect: BackendSQLite, closer: db.Close}
	s.inTx = func(ctx context.Context, fn func(tx *sql.Tx) error) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	}
	return s, nil
}

// NewPostgres connects through pkg/postgres and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*SQLStore, error) {
	client, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := client.DB.ExecContext(ctx, postgresSchema); err != nil {
		client.Close()
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}
	return &SQLStore{db: client.DB, dialect: BackendPostgres, inTx: client.InTx, closer: client.Close}, nil
}

// q rewrites '?' placeholders into the dialect's syntax.
func (s *SQLStore) q(query string) string {
	if s.dialect != BackendPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, set string, rec Record, truncate bool) error {
	if err := checkRecord(set, rec); err != nil {
		return err
	}
	blob := encodeVector(rec.Vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if truncate {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM records WHERE set_name = ?`), set); err != nil {
				return fmt.Errorf("clearing set %q: %w", set, err)
			}
		}
		var exists int
		err := tx.QueryRowContext(ctx,
			s.q(`SELECT COUNT(*) FROM records WHERE set_name = ? AND image_id = ?`), set, rec.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking for %q: %w", rec.ID, err)
		}
		if exists > 0 {
			return duplicate(set, rec.ID)
		}
		var seq int64
		err = tx.QueryRowContext(ctx,
			s.q(`SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE set_name = ?`), set).Scan(&seq)
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			s.q(`INSERT INTO records (set_name, seq, image_id, vector) VALUES (?, ?, ?, ?)`),
			set, seq, rec.ID, blob)
		if err != nil {
			return fmt.Errorf("inserting %q: %w", rec.ID, err)
		}
		return nil
	})
}

func (s *SQLStore) Load(ctx context.Context, set string) ([]Record, error) {
	if err := checkSet(set); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT image_id, vector FROM records WHERE set_name = ? ORDER BY seq`), set)
	if err != nil {
		return nil, fmt.Errorf("loading set %q: %w", set, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", id, err)
		}
		out = append(out, Record{ID: id, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating set %q: %w", set, err)
	}
	if len(out) == 0 {
		return nil, notFound(set)
	}
	return out, nil
}

func (s *SQLStore) Sets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT set_name FROM records ORDER BY set_name`)
	if err != nil {
		return nil, fmt.Errorf("listing sets: %w", err)
	}
	defer rows.Close()
	var sets []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		sets = append(sets, name)
	}
	return sets, rows.Err()
}

// Ping checks the database connection for readiness probes.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.closer()
}
