// ABOUTME: In-memory fan-out of conversation change notifications (notify-then-pull)
// ABOUTME: Subscribers are keyed by room (conversation id) or inbox (user id) and re-fetch on receipt

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the channel buffer for each subscriber.
const DefaultSubscriberBuffer = 64

// UpdateType distinguishes room notifications from inbox notifications.
type UpdateType string

const (
	// UpdateConversation is sent to a conversation's room.
	UpdateConversation UpdateType = "updated"
	// UpdateInbox is sent to each participant's inbox.
	UpdateInbox UpdateType = "inbox_updated"
)

// Update carries only the conversation id. Receivers treat it as a cache
// invalidation and re-fetch; duplicates and reordering are harmless.
type Update struct {
	Type           UpdateType `json:"type"`
	ConversationID string     `json:"conversation_id"`
}

// ChangeNotifier is told about every committed write.
type ChangeNotifier interface {
	ConversationChanged(conversationID string, participants []string)
}

// RoomKey is the subscription key for a conversation room.
func RoomKey(conversationID string) string {
	return "conversation:" + conversationID
}

// InboxKey is the subscription key for a user's inbox.
func InboxKey(userID string) string {
	return "inbox:" + userID
}

// EventBroadcaster provides in-memory pub/sub of Updates. Every connection
// is its own subscriber, so a user with several tabs gets one copy each.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscription // key -> subID -> sub
	buffer      int
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. bufferSize <= 0 uses
// DefaultSubscriberBuffer. Pass nil logger for default.
func NewEventBroadcaster(bufferSize int, logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]*subscription),
		buffer:      bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// subscription is one subscriber's channel. gone is closed with ch so the
// ctx watcher exits on an explicit Unsubscribe.
type subscription struct {
	ch   chan Update
	gone chan struct{}
}

func (s *subscription) close() {
	close(s.ch)
	close(s.gone)
}

// Subscribe registers a subscriber for key. The returned channel is closed
// on Unsubscribe, on Close, or when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, key string) (<-chan Update, string) {
	subID := uuid.New().String()
	sub := &subscription{ch: make(chan Update, b.buffer), gone: make(chan struct{})}

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]*subscription)
	}
	b.subscribers[key][subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(key, subID)
		case <-sub.gone:
		}
	}()

	return sub.ch, subID
}

// Publish sends update to every subscriber of key. It never blocks: a
// subscriber whose buffer is full misses this update and catches up on its
// next fetch.
func (b *EventBroadcaster) Publish(key string, update Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, sub := range b.subscribers[key] {
		select {
		case sub.ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"key", key,
				"sub_id", subID,
				"conversation_id", update.ConversationID)
		}
	}
}

// ConversationChanged notifies the conversation room and both participants' inboxes.
func (b *EventBroadcaster) ConversationChanged(conversationID string, participants []string) {
	b.Publish(RoomKey(conversationID), Update{Type: UpdateConversation, ConversationID: conversationID})
	for _, userID := range participants {
		b.Publish(InboxKey(userID), Update{Type: UpdateInbox, ConversationID: conversationID})
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	sub.close()
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// SubscriberCount returns the number of live subscribers for key.
func (b *EventBroadcaster) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, sub := range subs {
			sub.close()
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
