// Package postgres provides the PostgreSQL implementation of the outbox
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements outbox.Repository on the queued_messages table.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Save upserts the record; a replay failure rewrites retry_count.
func (r *Repository) Save(ctx context.Context, msg *domain.QueuedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}

	query := `
		INSERT INTO queued_messages (id, session_id, payload, enqueued_at, retry_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload,
		    retry_count = EXCLUDED.retry_count,
		    updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, msg.ID, msg.SessionID, payload, msg.Timestamp, msg.RetryCount); err != nil {
		return fmt.Errorf("save queued message: %w", err)
	}
	return nil
}

// Delete removes the record with id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM queued_messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete queued message: %w", err)
	}
	return nil
}

// List returns all records, oldest first.
func (r *Repository) List(ctx context.Context) ([]*domain.QueuedMessage, error) {
	query := `
		SELECT payload, retry_count
		FROM queued_messages
		ORDER BY enqueued_at, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list queued messages: %w", err)
	}
	defer rows.Close()

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
