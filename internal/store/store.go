// ABOUTME: Store interfaces and data types for inbox persistence
// ABOUTME: Defines Conversation, Message, Attachment and the interfaces backing the messaging core

package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists for a participant pair
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrStateConflict is returned when a conversation's state version changed
// between read and write. Callers reload and re-evaluate.
var ErrStateConflict = errors.New("conversation state changed concurrently")

// ErrNotParticipant is returned when a user is not one of the two participants
var ErrNotParticipant = errors.New("user is not a participant")

// Attachment is a reference to an uploaded object. Never embedded content.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Conversation is a thread between exactly two participants. Archive,
// delete and block are held per user in the *By sets.
type Conversation struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	StartedBy     string
	LastMessage   string     // denormalized preview of the latest message
	LastMessageAt *time.Time // nil until the first message
	MessageCount  int
	Version       int64 // bumped on every membership-set change

	ArchivedBy  []string
	DeletedBy   []string
	BlockedBy   []string
	UnreadCount map[string]int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemberFlags is one participant's row in the membership sets.
type MemberFlags struct {
	Archived bool
	Deleted  bool
	Blocked  bool
}

// Participants returns both participant ids.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Other returns the counterpart of userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func (c *Conversation) IsArchivedBy(userID string) bool { return slices.Contains(c.ArchivedBy, userID) }
func (c *Conversation) IsDeletedBy(userID string) bool  { return slices.Contains(c.DeletedBy, userID) }
func (c *Conversation) IsBlockedBy(userID string) bool  { return slices.Contains(c.BlockedBy, userID) }

// Unread returns userID's unread count.
func (c *Conversation) Unread(userID string) int {
	return c.UnreadCount[userID]
}

// Flags returns userID's membership flags.
func (c *Conversation) Flags(userID string) MemberFlags {
	return MemberFlags{
		Archived: c.IsArchivedBy(userID),
		Deleted:  c.IsDeletedBy(userID),
		Blocked:  c.IsBlockedBy(userID),
	}
}

// Message is immutable once persisted except for IsRead.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64 // per-conversation commit order, starting at 1
	SenderID       string
	ReceiverID     string
	Content        string
	Attachments    []Attachment
	IsRead         bool
	CreatedAt      time.Time
}

// Preferences holds a user's privacy settings.
type Preferences struct {
	UserID string
	// AllowMessages gates first contact only; existing conversations are unaffected.
	AllowMessages bool
	UpdatedAt     time.Time
}

// Profile is the display snapshot shown to the other participant.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Role        string
	UpdatedAt   time.Time
}

// Device is a push notification token registered by a client.
type Device struct {
	Token     string
	UserID    string
	Platform  string
	CreatedAt time.Time
}

// ConversationStore persists conversations, their membership sets,
// messages and unread counters.
type ConversationStore interface {
	// CreateConversation inserts a conversation with both member rows and,
	// if first is non-nil, its first message, in one transaction.
	// Returns ErrDuplicateConversation if the pair already has one.
	CreateConversation(ctx context.Context, conv *Conversation, first *Message, preview string) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByParticipants(ctx context.Context, userA, userB string) (*Conversation, error)
	// ListConversations returns every conversation userID participates in,
	// most recent activity first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
	// SetMemberFlags replaces userID's flags if the conversation is still at
	// expectedVersion, bumping the version. Returns ErrStateConflict otherwise.
	SetMemberFlags(ctx context.Context, conversationID, userID string, flags MemberFlags, expectedVersion int64) error

	// AppendMessage persists msg, updates the conversation summary and
	// increments the receiver's unread count atomically. It assigns Seq and a
	// CreatedAt strictly after the previous message. Fails with
	// ErrStateConflict if the state version moved past expectedVersion.
	AppendMessage(ctx context.Context, msg *Message, preview string, expectedVersion int64) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns the most recent limit messages in ascending order.
	// A limit of 0 or less returns all messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	// MarkRead flags every unread message addressed to userID as read and
	// resets their unread count to zero. Returns the number of messages flipped.
	MarkRead(ctx context.Context, conversationID, userID string) (int64, error)
}

// DirectoryStore holds per-user preferences and display profiles.
type DirectoryStore interface {
	// GetPreferences returns defaults (AllowMessages=true) for unknown users.
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
	SetPreferences(ctx context.Context, prefs *Preferences) error
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, profile *Profile) error
}

// DeviceStore holds push notification tokens.
type DeviceStore interface {
	RegisterDevice(ctx context.Context, device *Device) error
	ListDevices(ctx context.Context, userID string) ([]*Device, error)
	DeleteDevice(ctx context.Context, token string) error
}

// Store is everything the gateway persists.
type Store interface {
	ConversationStore
	DirectoryStore
	DeviceStore

	// Ping checks the database is reachable
	Ping(ctx context.Context) error
	// Close releases any resources held by the store
	Close() error
}

// PairKey is the order-independent key for a participant pair.
func PairKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}
