// ABOUTME: PushNotifier contract for out-of-band delivery of conversation events
// ABOUTME: Delivery is best effort; callers log failures and never roll back a write

package notify

import (
	"context"
	"errors"
)

// EventKind names what happened in a conversation.
type EventKind string

const (
	// EventMessage is a new message addressed to the user.
	EventMessage EventKind = "message"
	// EventConversationStarted is a new conversation opened with the user.
	EventConversationStarted EventKind = "conversation_started"
)

// ErrNoDevices is returned when the user has no registered push tokens.
var ErrNoDevices = errors.New("no registered devices")

// Event is the payload handed to a Notifier.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Preview        string    `json:"preview,omitempty"`
}

// Notifier delivers an event to every device of a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, Event) error { return nil }

// Title returns the notification title for an event.
func (e Event) Title() string {
	name := e.SenderName
	if name == "" {
		name = "Someone"
	}
	switch e.Kind {
	case EventConversationStarted:
		return name + " started a conversation"
	default:
		return "New message from " + name
	}
}
