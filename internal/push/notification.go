// Package push renders push-delivered notifications and routes notification
// interactions back to the open application pages.
package push

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Action ids with dedicated click routing.
const (
	ActionReply = "reply"
	ActionView  = "view"
)

// Action is a notification button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification is what gets displayed.
type Notification struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	Vibrate            []int          `json:"vibrate,omitempty"`
	Actions            []Action       `json:"actions,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	RequireInteraction bool           `json:"requireInteraction"`
}

// SessionID returns the chat session the notification belongs to, if any.
func (n Notification) SessionID() string {
	if s, ok := n.Data["sessionId"].(string); ok {
		return s
	}
	return ""
}

// Defaults returns the notification shown when a push carries no usable
// payload.
func Defaults() Notification {
	return Notification{
		Title:   "New Message",
		Body:    "You have a new message",
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/icon-72x72.png",
		Tag:     "chat-message",
		Vibrate: []int{200, 100, 200},
		Actions: []Action{
			{Action: ActionReply, Title: "Reply"},
			{Action: ActionView, Title: "View"},
		},
		RequireInteraction: false,
	}
}

// payload mirrors Notification with optional fields so that absent keys
// keep their defaults.
type payload struct {
	Title              *string        `json:"title"`
	Body               *string        `json:"body"`
	Icon               *string        `json:"icon"`
	Badge              *string        `json:"badge"`
	Tag                *string        `json:"tag"`
	Vibrate            []int          `json:"vibrate"`
	Actions            []Action       `json:"actions"`
	Data               map[string]any `json:"data"`
	RequireInteraction *bool          `json:"requireInteraction"`
	SessionID          string         `json:"sessionId"`
}

var titleCaser = cases.Title(language.English)

// ParsePayload merges a push payload over base. An empty payload yields base
// unchanged. A malformed payload also yields base, together with the parse
// error for logging.
func ParsePayload(raw []byte, base Notification) (Notification, error) {
	n := base
	n.Vibrate = append([]int(nil), base.Vibrate...)
	n.Actions = append([]Action(nil), base.Actions...)
	n.Data = copyData(base.Data)

	if len(raw) == 0 {
		return n, nil
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return n, fmt.Errorf("decode push payload: %w", err)
	}

	setString(&n.Title, p.Title)
	setString(&n.Body, p.Body)
	setString(&n.Icon, p.Icon)
	setString(&n.Badge, p.Badge)
	setString(&n.Tag, p.Tag)
	if p.Vibrate != nil {
		n.Vibrate = p.Vibrate
	}
	if p.Actions != nil {
		n.Actions = make([]Action, 0, len(p.Actions))
		for _, a := range p.Actions {
			if a.Action == "" {
				continue
			}
			if a.Title == "" {
				a.Title = titleCaser.String(a.Action)
			}
			n.Actions = append(n.Actions, a)
		}
	}
	if p.RequireInteraction != nil {
		n.RequireInteraction = *p.RequireInteraction
	}
	for k, v := range p.Data {
		if n.Data == nil {
			n.Data = make(map[string]any, len(p.Data))
		}
		n.Data[k] = v
	}
	if p.SessionID != "" {
		if n.Data == nil {
			n.Data = make(map[string]any, 1)
		}
		n.Data["sessionId"] = p.SessionID
	}
	return n, nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func copyData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
