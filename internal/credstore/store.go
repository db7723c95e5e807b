// Package credstore persists CLOB API credentials keyed by wallet address.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the credential lookup the clob session consumes. Get returns the
// raw stored record (a JSON document) and whether one exists.
type Store interface {
	Get(ctx context.Context, wallet string) (string, bool, error)
	Put(ctx context.Context, wallet, record string) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    wallet     TEXT PRIMARY KEY,
    record     TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// SQLiteStore keeps credentials in a local SQLite file (pure Go driver,
// no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("credstore: open %q: %w", path, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, wallet string) (string, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM credentials WHERE wallet = ?`, wallet).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credstore: get %s: %w", wallet, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, wallet, record string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (wallet, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(wallet) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		wallet, record, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("credstore: put %s: %w", wallet, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
