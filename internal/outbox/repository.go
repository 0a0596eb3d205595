// Package outbox implements the offline message queue: durable storage of
// chat messages that could not be sent, an in-memory mirror of pending
// messages, and bounded replay when connectivity returns.
package outbox

import (
	"context"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/protocol"
)

// Repository is the durable record store, keyed by message id.
type Repository interface {
	// Save inserts or replaces the record with msg.ID.
	Save(ctx context.Context, msg *domain.QueuedMessage) error
	// Delete removes the record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns every record ordered by enqueue time, oldest first.
	List(ctx context.Context) ([]*domain.QueuedMessage, error)
}

// Transport resends a queued message to the message-send endpoint.
type Transport interface {
	Send(ctx context.Context, msg *domain.QueuedMessage) error
}

// Notifier delivers replay outcomes to every open page and returns how many
// pages received it.
type Notifier interface {
	Broadcast(msg protocol.Message) int
}
