package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"git.wyat.me/zuul-gateway/store"
)

type SQLiteStore struct {
	db *sql.DB
}

func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA busy_timeout=5000`)
	if err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS objects (
			sha  TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, sha string, compressed []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO objects (sha, data) VALUES (?, ?)`,
		sha, compressed,
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, sha string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE sha = ?`, sha).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, sha)
	}
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return compressed, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, sha string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM objects WHERE sha = ?`, sha).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("exists query: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sha string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE sha = ?`, sha); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
