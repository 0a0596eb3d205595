// Package domain holds the types shared between the queue, its stores and
// the HTTP layer.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueuedMessage is an outbound chat message accepted while the upstream
// was unreachable. Extra carries caller-supplied fields besides content and
// sessionId verbatim through to replay.
type QueuedMessage struct {
	ID         string
	Content    string
	SessionID  string
	Extra      map[string]json.RawMessage
	Timestamp  int64 // epoch milliseconds
	RetryCount int
}

// reserved keys are owned by the queue and never taken from Extra.
var reserved = map[string]bool{
	"id":         true,
	"content":    true,
	"sessionId":  true,
	"timestamp":  true,
	"retryCount": true,
}

// EnqueuedAt returns Timestamp as a time.Time.
func (m *QueuedMessage) EnqueuedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Payload is the body replayed to the message-send endpoint: the original
// fields plus id as correlation token.
func (m *QueuedMessage) Payload() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["content"] = m.Content
	out["sessionId"] = m.SessionID
	out["id"] = m.ID
	return json.Marshal(out)
}

// MarshalJSON flattens Extra into the top-level object, matching the
// durable record layout.
func (m QueuedMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["id"] = m.ID
	out["content"] = m.Content
	out["sessionId"] = m.SessionID
	out["timestamp"] = m.Timestamp
	out["retryCount"] = m.RetryCount
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *QueuedMessage) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var known struct {
		ID         string `json:"id"`
		Content    string `json:"content"`
		SessionID  string `json:"sessionId"`
		Timestamp  int64  `json:"timestamp"`
		RetryCount int    `json:"retryCount"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	m.ID = known.ID
	m.Content = known.Content
	m.SessionID = known.SessionID
	m.Timestamp = known.Timestamp
	m.RetryCount = known.RetryCount
	m.Extra = extraFields(fields)
	return nil
}

// ErrMissingContent is returned for a message-send body without content.
var ErrMissingContent = errors.New("message content is required")

// ParseOutbound decodes a message-send request body. content must be a
// non-empty string and sessionId a string when present; everything else
// lands in Extra.
func ParseOutbound(body []byte) (*QueuedMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode message payload: %w", ErrMissingContent)
	}

	msg := &QueuedMessage{Extra: extraFields(fields)}
	if raw, ok := fields["content"]; ok {
		if err := json.Unmarshal(raw, &msg.Content); err != nil {
			return nil, fmt.Errorf("decode content: %w", err)
		}
	}
	if msg.Content == "" {
		return nil, ErrMissingContent
	}
	if raw, ok := fields["sessionId"]; ok {
		if err := json.Unmarshal(raw, &msg.SessionID); err != nil {
			return nil, fmt.Errorf("decode sessionId: %w", err)
		}
	}
	return msg, nil
}

func extraFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for k, v := range fields {
		if reserved[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra
}
