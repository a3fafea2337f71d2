package proxypool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the last good proxy snapshot.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open proxy db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS proxies (
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		kind TEXT NOT NULL,
		seen_at INTEGER NOT NULL,
		PRIMARY KEY (kind, host, port)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init proxy db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save replaces the stored snapshot with proxies.
func (s *SQLiteStore) Save(ctx context.Context, proxies []Proxy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM proxies`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO proxies (host, port, kind, seen_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := time.Now().Unix()
	for _, p := range proxies {
		if _, err := stmt.ExecContext(ctx, p.Host, p.Port, string(p.Kind), now); err != nil {
			return fmt.Errorf("save proxy %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Load returns the stored snapshot in a stable order.
func (s *SQLiteStore) Load(ctx context.Context) ([]Proxy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT host, port, kind FROM proxies ORDER BY kind, host, port`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Proxy
	for rows.Next() {
		var p Proxy
		var kind string
		if err := rows.Scan(&p.Host, &p.Port, &kind); err != nil {
			return nil, err
		}
		p.Kind = Kind(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
