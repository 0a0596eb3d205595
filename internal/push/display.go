package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anonchat/edgeworker/internal/protocol"
)

// Displayer shows a notification to the user.
type Displayer interface {
	Display(ctx context.Context, n Notification) error
}

// Broadcaster posts a message to every open page.
type Broadcaster interface {
	Broadcast(msg protocol.Message) int
}

// HubDisplayer asks the open pages to render the notification.
type HubDisplayer struct {
	pages Broadcaster
}

// NewHubDisplayer creates a displayer that broadcasts SHOW_NOTIFICATION.
func NewHubDisplayer(pages Broadcaster) *HubDisplayer {
	return &HubDisplayer{pages: pages}
}

func (d *HubDisplayer) Display(_ context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	delivered := d.pages.Broadcast(protocol.ShowNotification{Notification: body})
	slog.Debug("notification broadcast to pages", "tag", n.Tag, "pages", delivered)
	return nil
}
