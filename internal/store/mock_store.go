// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while matching its ordering and conflict behavior

package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

type mockMember struct {
	flags  MemberFlags
	unread int
}

type mockConversation struct {
	conv    Conversation // summary fields only; sets are rebuilt from members
	members map[string]*mockMember
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*mockConversation // keyed by conversation ID
	pairIndex     map[string]string            // keyed by PairKey -> conversation ID
	messages      map[string][]*Message        // keyed by conversation ID, in seq order
	messageIndex  map[string]*Message          // keyed by message ID
	preferences   map[string]*Preferences
	profiles      map[string]*Profile
	devices       map[string]*Device // keyed by token

	// PingErr is returned by Ping when set.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*mockConversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
		preferences:   make(map[string]*Preferences),
		profiles:      make(map[string]*Profile),
		devices:       make(map[string]*Device),
	}
}

// CreateConversation stores a new conversation and optional first message.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation, first *Message, preview string) error {
	if conv.ParticipantA == conv.ParticipantB {
		return fmt.Errorf("conversation needs two distinct participants")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := PairKey(conv.ParticipantA, conv.ParticipantB)
	if _, exists := m.pairIndex[key]; exists {
		return ErrDuplicateConversation
	}

	mc := &mockConversation{
		conv: *conv,
		members: map[string]*mockMember{
			conv.ParticipantA: {},
			conv.ParticipantB: {},
		},
	}
	mc.conv.CreatedAt = conv.CreatedAt.UTC()
	mc.conv.UpdatedAt = conv.UpdatedAt.UTC()
	mc.conv.LastMessage = ""
	mc.conv.LastMessageAt = nil
	mc.conv.MessageCount = 0
	mc.conv.Version = 0

	m.conversations[conv.ID] = mc
	m.pairIndex[key] = conv.ID

	if first != nil {
		if err := m.appendLocked(first, preview, 0); err != nil {
			delete(m.conversations, conv.ID)
			delete(m.pairIndex, key)
			return err
		}
	}

	*conv = *m.snapshotLocked(mc)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshotLocked(mc), nil
}

// GetConversationByParticipants finds the conversation for a pair in either order.
func (m *MockStore) GetConversationByParticipants(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairIndex[PairKey(userA, userB)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshotLocked(m.conversations[id]), nil
}

// ListConversations returns userID's conversations, latest activity first.
func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Conversation
	for _, mc := range m.conversations {
		if _, ok := mc.members[userID]; ok {
			result = append(result, m.snapshotLocked(mc))
		}
	}

	activity := func(c *Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	slices.SortFunc(result, func(a, b *Conversation) int {
		if c := activity(b).Compare(activity(a)); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// SetMemberFlags replaces userID's flags if the version still matches.
func (m *MockStore) SetMemberFlags(ctx context.Context, conversationID, userID string, flags MemberFlags, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if mc.conv.Version != expectedVersion {
		return ErrStateConflict
	}
	member, ok := mc.members[userID]
	if !ok {
		return ErrNotParticipant
	}

	member.flags = flags
	mc.conv.Version++
	mc.conv.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendMessage stores a message and updates summary and unread count.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message, preview string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.appendLocked(msg, preview, expectedVersion)
}

func (m *MockStore) appendLocked(msg *Message, preview string, expectedVersion int64) error {
	mc, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if mc.conv.Version != expectedVersion {
		return ErrStateConflict
	}
	if msg.SenderID == msg.ReceiverID || !mc.conv.HasParticipant(msg.SenderID) || !mc.conv.HasParticipant(msg.ReceiverID) {
		return ErrNotParticipant
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	if last := mc.conv.LastMessageAt; last != nil && !createdAt.After(*last) {
		createdAt = last.Add(time.Microsecond)
	}

	mc.conv.MessageCount++
	msg.Seq = int64(mc.conv.MessageCount)
	msg.CreatedAt = createdAt
	msg.IsRead = false

	stored := *msg
	stored.Attachments = slices.Clone(msg.Attachments)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &stored)
	m.messageIndex[msg.ID] = &stored

	mc.conv.LastMessage = preview
	mc.conv.LastMessageAt = &createdAt
	mc.conv.UpdatedAt = createdAt
	mc.members[msg.ReceiverID].unread++
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ListMessages returns the most recent limit messages in ascending order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, copyMessage(msg))
	}
	return result, nil
}

// MarkRead flips is_read on messages addressed to userID and zeroes their counter.
func (m *MockStore) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	member, ok := mc.members[userID]
	if !ok {
		return 0, ErrNotParticipant
	}

	var flipped int64
	for _, msg := range m.messages[conversationID] {
		if msg.ReceiverID == userID && !msg.IsRead {
			msg.IsRead = true
			flipped++
		}
	}
	member.unread = 0
	return flipped, nil
}

// GetPreferences returns stored preferences or defaults.
func (m *MockStore) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.preferences[userID]
	if !ok {
		return &Preferences{UserID: userID, AllowMessages: true}, nil
	}
	result := *p
	return &result, nil
}

// SetPreferences stores preferences.
func (m *MockStore) SetPreferences(ctx context.Context, prefs *Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *prefs
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.preferences[p.UserID] = &p
	return nil
}

// GetProfile retrieves a profile.
func (m *MockStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// UpsertProfile stores a profile.
func (m *MockStore) UpsertProfile(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *profile
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.profiles[p.UserID] = &p
	return nil
}

// RegisterDevice stores a push token.
func (m *MockStore) RegisterDevice(ctx context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := *device
	if existing, ok := m.devices[d.Token]; ok {
		d.CreatedAt = existing.CreatedAt
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.devices[d.Token] = &d
	return nil
}

// ListDevices returns a user's push tokens, oldest first.
func (m *MockStore) ListDevices(ctx context.Context, userID string) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Device
	for _, d := range m.devices {
		if d.UserID == userID {
			c := *d
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *Device) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Token, b.Token)
	})
	return result, nil
}

// DeleteDevice removes a push token.
func (m *MockStore) DeleteDevice(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[token]; !ok {
		return ErrNotFound
	}
	delete(m.devices, token)
	return nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// snapshotLocked builds a detached Conversation with membership sets in
// participant order. Caller holds m.mu.
func (m *MockStore) snapshotLocked(mc *mockConversation) *Conversation {
	c := mc.conv
	c.ArchivedBy, c.DeletedBy, c.BlockedBy = nil, nil, nil
	c.UnreadCount = make(map[string]int, 2)
	if mc.conv.LastMessageAt != nil {
		at := *mc.conv.LastMessageAt
		c.LastMessageAt = &at
	}

	users := []string{c.ParticipantA, c.ParticipantB}
	slices.Sort(users)
	for _, userID := range users {
		member := mc.members[userID]
		if member.flags.Archived {
			c.ArchivedBy = append(c.ArchivedBy, userID)
		}
		if member.flags.Deleted {
			c.DeletedBy = append(c.DeletedBy, userID)
		}
		if member.flags.Blocked {
			c.BlockedBy = append(c.BlockedBy, userID)
		}
		c.UnreadCount[userID] = member.unread
	}
	return &c
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.Attachments = slices.Clone(msg.Attachments)
	return &c
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
