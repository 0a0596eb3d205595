// Package sqlite provides a file-backed outbox repository for single-node
// deployments, using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anonchat/edgeworker/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS queued_messages (
  id          TEXT PRIMARY KEY,
  session_id  TEXT NOT NULL DEFAULT '',
  payload     BLOB NOT NULL,
  enqueued_at INTEGER NOT NULL,
  retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queued_messages_enqueued_at
  ON queued_messages(enqueued_at, id);
`

// Repository implements outbox.Repository on a sqlite database file.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping checks the database is usable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save upserts the record.
func (r *Repository) Save(ctx context.Context, msg *domain.QueuedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}

	query := `
		INSERT INTO queued_messages (id, session_id, payload, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE
		SET payload = excluded.payload, retry_count = excluded.retry_count
	`
	if _, err := r.db.ExecContext(ctx, query, msg.ID, msg.SessionID, payload, msg.Timestamp, msg.RetryCount); err != nil {
		return fmt.Errorf("save queued message: %w", err)
	}
	return nil
}

// Delete removes the record with id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM queued_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queued message: %w", err)
	}
	return nil
}

// List returns all records, oldest first.
func (r *Repository) List(ctx context.Context) ([]*domain.QueuedMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload, retry_count FROM queued_messages ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list queued messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*domain.QueuedMessage
	for rows.Next() {
		var payload []byte
		var retryCount int
		if err := rows.Scan(&payload, &retryCount); err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}

		var msg domain.QueuedMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("decode queued message: %w", err)
		}
		msg.RetryCount = retryCount
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued messages: %w", err)
	}
	return messages, nil
}
