// Package postgres stores caches in the cache_entries table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anonchat/edgeworker/internal/cache"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements cache.Storage on PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL cache store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const upsertEntry = `
	INSERT INTO cache_entries (cache_name, url, status, header, body, stored_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (cache_name, url) DO UPDATE
	SET status = EXCLUDED.status,
	    header = EXCLUDED.header,
	    body = EXCLUDED.body,
	    stored_at = EXCLUDED.stored_at
`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) Put(ctx context.Context, name string, entry *cache.Entry) error {
	return put(ctx, s.db, name, entry)
}

func (s *Store) PutAll(ctx context.Context, name string, entries []*cache.Entry) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, e := range entries {
			if err := put(ctx, tx, name, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store %d entries in %s: %w", len(entries), name, err)
	}
	return nil
}

func put(ctx context.Context, db execer, name string, entry *cache.Entry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := db.Exec(ctx, upsertEntry, name, entry.URL, entry.Status, header, entry.Body, entry.StoredAt); err != nil {
		return fmt.Errorf("put cache entry %s: %w", entry.URL, err)
	}
	return nil
}

func (s *Store) Match(ctx context.Context, name, url string) (*cache.Entry, error) {
	query := `
		SELECT status, header, body, stored_at
		FROM cache_entries
		WHERE cache_name = $1 AND url = $2
	`
	entry := &cache.Entry{URL: url}
	var header []byte
	err := s.db.QueryRow(ctx, query, name, url).Scan(&entry.Status, &header, &entry.Body, &entry.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match cache entry: %w", err)
	}

	entry.Header = http.Header{}
	if err := json.Unmarshal(header, &entry.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return entry, nil
}

func (s *Store) CacheNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT cache_name FROM cache_entries ORDER BY cache_name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan cache names: %w", err)
	}
	return names, nil
}

func (s *Store) DeleteCache(ctx context.Context, name string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cache_entries WHERE cache_name = $1`, name); err != nil {
		return fmt.Errorf("delete cache %s: %w", name, err)
	}
	return nil
}
