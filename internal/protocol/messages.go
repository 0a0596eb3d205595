// Package protocol defines the messages exchanged between the edge worker
// and open application pages.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates protocol messages.
type MessageType string

const (
	// Page -> worker
	TypeOnlineStatusChanged MessageType = "ONLINE_STATUS_CHANGED"

	// Worker -> page
	TypeQueuedMessageSent MessageType = "QUEUED_MESSAGE_SENT"
	TypeNotificationClick MessageType = "NOTIFICATION_CLICK"
	TypeShowNotification  MessageType = "SHOW_NOTIFICATION"
	TypeControllerChanged MessageType = "CONTROLLER_CHANGED"
)

// Message is implemented by every outbound message.
type Message interface {
	MessageType() MessageType
}

// OnlineStatusChanged reports a connectivity transition seen by a page.
type OnlineStatusChanged struct {
	IsOnline bool `json:"isOnline"`
}

// QueuedMessageSent reports the terminal outcome of a queued message.
// MessageID is the correlation id returned in the 202 response.
type QueuedMessageSent struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// NotificationClick asks a focused page to navigate after a notification
// interaction.
type NotificationClick struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url"`
}

// ShowNotification carries a notification for the page to render.
type ShowNotification struct {
	Notification json.RawMessage `json:"notification"`
}

// ControllerChanged tells pages which worker version now controls them.
type ControllerChanged struct {
	Version string `json:"version"`
}

func (OnlineStatusChanged) MessageType() MessageType { return TypeOnlineStatusChanged }
func (QueuedMessageSent) MessageType() MessageType   { return TypeQueuedMessageSent }
func (NotificationClick) MessageType() MessageType   { return TypeNotificationClick }
func (ShowNotification) MessageType() MessageType    { return TypeShowNotification }
func (ControllerChanged) MessageType() MessageType   { return TypeControllerChanged }

// Encode renders msg as a flat object with a "type" discriminator, the
// shape pages receive through postMessage.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", msg.MessageType(), err)
	}
	typ, _ := json.Marshal(msg.MessageType())
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses an inbound page message. Unknown types return an error
// wrapping ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch head.Type {
	case TypeOnlineStatusChanged:
		var m OnlineStatusChanged
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}
