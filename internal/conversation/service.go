// ABOUTME: ConversationService validates, commits and announces every conversation write
// ABOUTME: Gate first, one atomic store write, then fire-and-forget broadcast and push

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/realty-inbox/internal/auth"
	"github.com/2389/realty-inbox/internal/dedupe"
	"github.com/2389/realty-inbox/internal/notify"
	"github.com/2389/realty-inbox/internal/richtext"
	"github.com/2389/realty-inbox/internal/store"
)

const (
	DefaultHistoryLimit     = 200
	MaxHistoryLimit         = 1000
	DefaultMaxContentLength = 10000
	DefaultPreviewLength    = 120
	DefaultDedupeTTL        = 10 * time.Minute
	MaxAttachments          = 10

	dedupeCacheSize  = 10000
	maxWriteAttempts = 5
	pushTimeout      = 10 * time.Second
)

// Store is what the service needs from persistence.
type Store interface {
	store.ConversationStore
	store.DirectoryStore
}

// AttachmentChecker confirms an attachment reference points at a stored object.
type AttachmentChecker interface {
	Exists(ctx context.Context, url string) (bool, error)
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	HistoryLimit     int
	MaxContentLength int
	PreviewLength    int
	DedupeTTL        time.Duration
	// Attachments, if set, is asked about every attachment before a send.
	Attachments AttachmentChecker
}

func (o *Options) applyDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.HistoryLimit > MaxHistoryLimit {
		o.HistoryLimit = MaxHistoryLimit
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = DefaultMaxContentLength
	}
	if o.PreviewLength <= 0 {
		o.PreviewLength = DefaultPreviewLength
	}
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = DefaultDedupeTTL
	}
}

// Service is the messaging core. Writes to one conversation are serialized
// in-process and guarded by the store's version check across processes.
type Service struct {
	store   Store
	changes ChangeNotifier
	push    notify.Notifier
	opts    Options
	sent    *dedupe.Cache
	locks   *keyedMutex
	pending sync.WaitGroup
	logger  *slog.Logger
}

// New creates a Service. changes and push may be nil.
func New(st Store, changes ChangeNotifier, push notify.Notifier, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if push == nil {
		push = notify.Nop{}
	}
	opts.applyDefaults()
	return &Service{
		store:   st,
		changes: changes,
		push:    push,
		opts:    opts,
		sent:    dedupe.New(opts.DedupeTTL, dedupeCacheSize),
		locks:   newKeyedMutex(),
		logger:  logger.With("component", "conversation"),
	}
}

// Close waits for in-flight push deliveries and stops the dedupe cache.
func (s *Service) Close() {
	s.pending.Wait()
	s.sent.Close()
}

// ParticipantView is the display snapshot of the other participant.
type ParticipantView struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	Role        string
}

// Summary is one conversation as seen by one viewer.
type Summary struct {
	ID                string
	Other             ParticipantView
	LastMessage       string
	LastMessageAt     *time.Time
	MessageCount      int
	UnreadCount       int
	State             State
	BlockedByMe       bool
	CanSend           bool
	SendBlockedReason SendBlockReason
	CreatedAt         time.Time
}

// Listing is the result of ListConversations. The counts always cover all
// of the viewer's conversations regardless of filter.
type Listing struct {
	Filter        Filter
	Conversations []*Summary
	ArchiveCount  int
	DeletedCount  int
	BlockedCount  int
	// AllowMessages is the viewer's own privacy preference.
	AllowMessages bool
}

// History is the result of GetMessages.
type History struct {
	Conversation *Summary
	Messages     []*store.Message
	// AllowMessages reports whether the viewer may send right now.
	AllowMessages     bool
	SendBlockedReason SendBlockReason
}

// StartRequest opens (or reopens) the conversation between Actor and OtherUserID.
type StartRequest struct {
	Actor           auth.AuthContext
	OtherUserID     string
	Content         string
	ClientMessageID string
}

// StartResult identifies the conversation and any message sent with it.
type StartResult struct {
	ConversationID string
	Created        bool
	Message        *store.Message
}

// SendRequest is one message from SenderID into ConversationID.
type SendRequest struct {
	ConversationID  string
	SenderID        string
	Content         string
	Attachments     []store.Attachment
	ClientMessageID string
}

// StartConversation returns the pair's conversation, creating it if needed.
// Staff may start with empty content, which persists an empty bootstrap
// message; anyone else starting empty gets a conversation with no messages.
func (s *Service) StartConversation(ctx context.Context, req StartRequest) (*StartResult, error) {
	actorID := req.Actor.UserID
	switch {
	case actorID == "":
		return nil, validationError("actor is required")
	case req.OtherUserID == "":
		return nil, validationError("other_user_id is required")
	case req.OtherUserID == actorID:
		return nil, validationError("cannot start a conversation with yourself")
	}
	if err := s.checkLength(req.Content); err != nil {
		return nil, err
	}

	conv, existing, first, err := s.createPair(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.startExisting(ctx, existing, req)
	}

	s.committed(conv, first, notify.EventConversationStarted)
	return &StartResult{ConversationID: conv.ID, Created: true, Message: first}, nil
}

// createPair creates the conversation for a pair under the pair lock. When
// the pair already has one it is returned as existing and nothing is written.
func (s *Service) createPair(ctx context.Context, req StartRequest) (conv, existing *store.Conversation, first *store.Message, err error) {
	actorID := req.Actor.UserID
	unlock := s.locks.Lock(store.PairKey(actorID, req.OtherUserID))
	defer unlock()

	existing, err = s.store.GetConversationByParticipants(ctx, actorID, req.OtherUserID)
	if err == nil {
		return nil, existing, nil, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:           uuid.New().String(),
		ParticipantA: actorID,
		ParticipantB: req.OtherUserID,
		StartedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	blank := richtext.IsBlank(req.Content)
	if !blank || req.Actor.IsStaff() {
		reason, err := s.sendBlockReason(ctx, conv, actorID)
		if err != nil {
			return nil, nil, nil, err
		}
		if reason != ReasonNone {
			return nil, nil, nil, &PermissionError{Reason: reason}
		}

		content := req.Content
		if blank {
			content = ""
		}
		first = &store.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       actorID,
			ReceiverID:     req.OtherUserID,
			Content:        content,
			CreatedAt:      now,
		}
	}

	err = s.store.CreateConversation(ctx, conv, first, s.preview(req.Content, nil))
	if errors.Is(err, store.ErrDuplicateConversation) {
		// another instance created the pair between our lookup and insert
		existing, err = s.store.GetConversationByParticipants(ctx, actorID, req.OtherUserID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading conversation after duplicate: %w", err)
		}
		return nil, existing, nil, nil
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("conversation started",
		"conversation_id", conv.ID,
		"started_by", actorID,
		"bootstrap", first != nil && first.Content == "")

	if first != nil && req.ClientMessageID != "" {
		s.sent.Remember(dedupe.Key(conv.ID, actorID, req.ClientMessageID), first.ID)
	}
	return conv, nil, first, nil
}

func (s *Service) startExisting(ctx context.Context, conv *store.Conversation, req StartRequest) (*StartResult, error) {
	result := &StartResult{ConversationID: conv.ID}
	if richtext.IsBlank(req.Content) {
		return result, nil
	}

	msg, err := s.SendMessage(ctx, SendRequest{
		ConversationID:  conv.ID,
		SenderID:        req.Actor.UserID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		return nil, err
	}
	result.Message = msg
	return result, nil
}

// SendMessage gates, persists and announces one message. Message, summary
// and unread counter commit together or not at all. A repeated
// ClientMessageID within the dedupe window returns the original message.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	if req.ConversationID == "" {
		return nil, validationError("conversation_id is required")
	}
	if req.SenderID == "" {
		return nil, validationError("sender is required")
	}
	if err := s.validateMessage(ctx, req.Content, req.Attachments); err != nil {
		return nil, err
	}

	conv, msg, fresh, err := s.appendLocked(ctx, req)
	if err != nil {
		return nil, err
	}
	if fresh {
		s.committed(conv, msg, notify.EventMessage)
	}
	return msg, nil
}

// appendLocked runs the gate and the write under the conversation lock.
// fresh is false when a remembered client id returned an earlier message.
func (s *Service) appendLocked(ctx context.Context, req SendRequest) (conv *store.Conversation, msg *store.Message, fresh bool, err error) {
	unlock := s.locks.Lock(req.ConversationID)
	defer unlock()

	var key string
	if req.ClientMessageID != "" {
		key = dedupe.Key(req.ConversationID, req.SenderID, req.ClientMessageID)
		if id, ok := s.sent.Lookup(key); ok {
			prior, err := s.store.GetMessage(ctx, id)
			if err == nil {
				s.logger.Debug("duplicate send", "conversation_id", req.ConversationID, "message_id", id)
				return nil, prior, false, nil
			}
			s.sent.Forget(key)
		}
	}

	// last point a caller can abandon the send
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}

	for attempt := 1; ; attempt++ {
		conv, err = s.loadForParticipant(ctx, req.ConversationID, req.SenderID)
		if err != nil {
			return nil, nil, false, err
		}

		reason, err := s.sendBlockReason(ctx, conv, req.SenderID)
		if err != nil {
			return nil, nil, false, err
		}
		if reason != ReasonNone {
			return nil, nil, false, &PermissionError{Reason: reason}
		}

		msg = &store.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       req.SenderID,
			ReceiverID:     conv.Other(req.SenderID),
			Content:        req.Content,
			Attachments:    slices.Clone(req.Attachments),
			CreatedAt:      time.Now().UTC(),
		}
		err = s.store.AppendMessage(context.WithoutCancel(ctx), msg, s.preview(req.Content, req.Attachments), conv.Version)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrStateConflict) && attempt < maxWriteAttempts {
			s.logger.Debug("state changed during send, re-checking",
				"conversation_id", conv.ID,
				"attempt", attempt)
			continue
		}
		return nil, nil, false, fmt.Errorf("appending message: %w", mapStoreErr(err))
	}

	if key != "" {
		s.sent.Remember(key, msg.ID)
	}
	return conv, msg, true, nil
}

// Apply runs a state transition for userID. The write is a compare-and-set
// on the conversation version; on conflict the transition is re-evaluated
// against fresh state, so a racing duplicate gets ErrInvalidTransition.
func (s *Service) Apply(ctx context.Context, userID, conversationID string, action Action) (State, error) {
	updated, err := s.transitionLocked(ctx, userID, conversationID, action)
	if err != nil {
		return "", err
	}
	s.committed(updated, nil, "")
	return StateOf(updated, userID), nil
}

func (s *Service) transitionLocked(ctx context.Context, userID, conversationID string, action Action) (*store.Conversation, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		conv, err := s.loadForParticipant(ctx, conversationID, userID)
		if err != nil {
			return nil, err
		}

		flags, err := Transition(conv, userID, action)
		if err != nil {
			return nil, err
		}

		err = s.store.SetMemberFlags(ctx, conv.ID, userID, flags, conv.Version)
		if errors.Is(err, store.ErrStateConflict) && attempt < maxWriteAttempts {
			s.logger.Debug("state changed during transition, re-checking",
				"conversation_id", conv.ID,
				"action", action,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", action, mapStoreErr(err))
		}

		updated := withFlags(conv, userID, flags)
		s.logger.Debug("conversation state changed",
			"conversation_id", conv.ID,
			"user_id", userID,
			"action", action,
			"state", StateOf(updated, userID))
		return updated, nil
	}
}

func (s *Service) Archive(ctx context.Context, userID, conversationID string) (State, error) {
	return s.Apply(ctx, userID, conversationID, ActionArchive)
}

func (s *Service) Unarchive(ctx context.Context, userID, conversationID string) (State, error) {
	return s.Apply(ctx, userID, conversationID, ActionUnarchive)
}

func (s *Service) Delete(ctx context.Context, userID, conversationID string) (State, error) {
	return s.Apply(ctx, userID, conversationID, ActionDelete)
}

func (s *Service) Restore(ctx context.Context, userID, conversationID string) (State, error) {
	return s.Apply(ctx, userID, conversationID, ActionRestore)
}

func (s *Service) Block(ctx context.Context, userID, conversationID string) (State, error) {
	return s.Apply(ctx, userID, conversationID, ActionBlock)
}

func (s *Service) Unblock(ctx context.Context, userID, conversationID string) (State, error) {
	return s.Apply(ctx, userID, conversationID, ActionUnblock)
}

// MarkAsRead marks everything addressed to userID as read and zeroes their
// unread count. Allowed in any state.
func (s *Service) MarkAsRead(ctx context.Context, userID, conversationID string) (int64, error) {
	n, err := s.store.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("marking read: %w", mapStoreErr(err))
	}
	if n > 0 {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err == nil {
			s.committed(conv, nil, "")
		}
	}
	return n, nil
}

// ListConversations returns the viewer's conversations in filter's state,
// most recent activity first, with per-state counts.
func (s *Service) ListConversations(ctx context.Context, userID string, filter Filter) (*Listing, error) {
	if userID == "" {
		return nil, validationError("user is required")
	}

	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}

	listing := &Listing{
		Filter:        filter,
		Conversations: []*Summary{},
		AllowMessages: prefs.AllowMessages,
	}
	want := filter.State()
	profiles := make(map[string]ParticipantView)

	for _, conv := range convs {
		state := StateOf(conv, userID)
		switch state {
		case StateArchived:
			listing.ArchiveCount++
		case StateDeleted:
			listing.DeletedCount++
		case StateBlocked:
			listing.BlockedCount++
		}
		if state != want {
			continue
		}

		summary, err := s.summarize(ctx, conv, userID, profiles)
		if err != nil {
			return nil, err
		}
		listing.Conversations = append(listing.Conversations, summary)
	}

	return listing, nil
}

// GetMessages returns the most recent limit messages in commit order.
// limit <= 0 uses the configured history limit.
func (s *Service) GetMessages(ctx context.Context, userID, conversationID string, limit int) (*History, error) {
	conv, err := s.loadForParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	messages, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", mapStoreErr(err))
	}

	summary, err := s.summarize(ctx, conv, userID, nil)
	if err != nil {
		return nil, err
	}

	return &History{
		Conversation:      summary,
		Messages:          messages,
		AllowMessages:     summary.CanSend,
		SendBlockedReason: summary.SendBlockedReason,
	}, nil
}

// TotalUnread sums the viewer's unread counts over Active conversations.
func (s *Service) TotalUnread(ctx context.Context, userID string) (int, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("listing conversations: %w", err)
	}
	total := 0
	for _, conv := range convs {
		if StateOf(conv, userID) == StateActive {
			total += conv.Unread(userID)
		}
	}
	return total, nil
}

// GetPreferences returns userID's privacy preferences.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*store.Preferences, error) {
	return s.store.GetPreferences(ctx, userID)
}

// SetAllowMessages updates whether strangers may open a conversation with
// userID. Existing conversations are unaffected.
func (s *Service) SetAllowMessages(ctx context.Context, userID string, allow bool) (*store.Preferences, error) {
	if userID == "" {
		return nil, validationError("user is required")
	}
	prefs := &store.Preferences{UserID: userID, AllowMessages: allow, UpdatedAt: time.Now().UTC()}
	if err := s.store.SetPreferences(ctx, prefs); err != nil {
		return nil, fmt.Errorf("saving preferences: %w", err)
	}
	return prefs, nil
}

// UpdateProfile stores the display snapshot others see for profile.UserID.
func (s *Service) UpdateProfile(ctx context.Context, profile *store.Profile) error {
	if profile.UserID == "" {
		return validationError("user is required")
	}
	profile.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// CheckParticipant returns ErrNotFound unless userID is a participant of the
// conversation. Realtime sessions call it before joining a room.
func (s *Service) CheckParticipant(ctx context.Context, userID, conversationID string) error {
	_, err := s.loadForParticipant(ctx, conversationID, userID)
	return err
}

// loadForParticipant fetches a conversation, hiding it from non-participants.
func (s *Service) loadForParticipant(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	if conversationID == "" {
		return nil, validationError("conversation_id is required")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", mapStoreErr(err))
	}
	if !conv.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	return conv, nil
}

// sendBlockReason evaluates the send gate for senderID. The recipient's
// preference is only read for first contact.
func (s *Service) sendBlockReason(ctx context.Context, conv *store.Conversation, senderID string) (SendBlockReason, error) {
	allows := true
	if conv.MessageCount == 0 {
		prefs, err := s.store.GetPreferences(ctx, conv.Other(senderID))
		if err != nil {
			return ReasonNone, fmt.Errorf("loading recipient preferences: %w", err)
		}
		allows = prefs.AllowMessages
	}
	return CheckSend(conv, senderID, allows), nil
}

func (s *Service) summarize(ctx context.Context, conv *store.Conversation, viewerID string, profiles map[string]ParticipantView) (*Summary, error) {
	reason, err := s.sendBlockReason(ctx, conv, viewerID)
	if err != nil {
		return nil, err
	}
	other, err := s.participant(ctx, conv.Other(viewerID), profiles)
	if err != nil {
		return nil, err
	}

	return &Summary{
		ID:                conv.ID,
		Other:             other,
		LastMessage:       conv.LastMessage,
		LastMessageAt:     conv.LastMessageAt,
		MessageCount:      conv.MessageCount,
		UnreadCount:       conv.Unread(viewerID),
		State:             StateOf(conv, viewerID),
		BlockedByMe:       conv.IsBlockedBy(viewerID),
		CanSend:           reason == ReasonNone,
		SendBlockedReason: reason,
		CreatedAt:         conv.CreatedAt,
	}, nil
}

// participant resolves a display snapshot, falling back to the bare id for
// users without a profile. cache may be nil.
func (s *Service) participant(ctx context.Context, userID string, cache map[string]ParticipantView) (ParticipantView, error) {
	if v, ok := cache[userID]; ok {
		return v, nil
	}

	view := ParticipantView{UserID: userID, DisplayName: userID}
	profile, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		view.DisplayName = profile.DisplayName
		view.AvatarURL = profile.AvatarURL
		view.Role = profile.Role
		if view.DisplayName == "" {
			view.DisplayName = userID
		}
	case !errors.Is(err, store.ErrNotFound):
		return view, fmt.Errorf("loading profile: %w", err)
	}

	if cache != nil {
		cache[userID] = view
	}
	return view, nil
}

func (s *Service) checkLength(content string) error {
	if n := utf8.RuneCountInString(content); n > s.opts.MaxContentLength {
		return validationError("content is %d characters, limit is %d", n, s.opts.MaxContentLength)
	}
	return nil
}

func (s *Service) validateMessage(ctx context.Context, content string, attachments []store.Attachment) error {
	if err := s.checkLength(content); err != nil {
		return err
	}
	if len(attachments) == 0 && richtext.IsBlank(content) {
		return validationError("message needs content or an attachment")
	}
	if len(attachments) > MaxAttachments {
		return validationError("at most %d attachments per message", MaxAttachments)
	}

	for i, att := range attachments {
		if att.URL == "" || att.Name == "" {
			return validationError("attachment %d needs a url and a name", i)
		}
		if att.Size < 0 {
			return validationError("attachment %d has a negative size", i)
		}
		if s.opts.Attachments == nil {
			continue
		}
		ok, err := s.opts.Attachments.Exists(ctx, att.URL)
		if err != nil {
			return fmt.Errorf("checking attachment %s: %w", att.Name, err)
		}
		if !ok {
			return validationError("attachment %s was not uploaded", att.Name)
		}
	}
	return nil
}

// preview is the denormalized list text for a message.
func (s *Service) preview(content string, attachments []store.Attachment) string {
	if p := richtext.Preview(content, s.opts.PreviewLength); p != "" {
		return p
	}
	switch len(attachments) {
	case 0:
		return ""
	case 1:
		return "Sent an attachment: " + attachments[0].Name
	default:
		return fmt.Sprintf("Sent %d attachments", len(attachments))
	}
}

// committed announces a write. It runs after commit and never fails the
// caller: broadcast is non-blocking and push runs in the background.
func (s *Service) committed(conv *store.Conversation, msg *store.Message, kind notify.EventKind) {
	if s.changes != nil {
		s.changes.ConversationChanged(conv.ID, conv.Participants())
	}
	if msg == nil {
		return
	}

	event := notify.Event{
		Kind:           kind,
		ConversationID: conv.ID,
		SenderID:       msg.SenderID,
		Preview:        s.preview(msg.Content, msg.Attachments),
	}
	receiver := msg.ReceiverID

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		if sender, err := s.participant(ctx, event.SenderID, nil); err == nil {
			event.SenderName = sender.DisplayName
		}
		if err := s.push.Notify(ctx, receiver, event); err != nil && !errors.Is(err, notify.ErrNoDevices) {
			s.logger.Warn("push notification failed",
				"conversation_id", event.ConversationID,
				"user_id", receiver,
				"error", err)
		}
	}()
}

// withFlags returns a copy of conv with userID's membership replaced.
func withFlags(conv *store.Conversation, userID string, flags store.MemberFlags) *store.Conversation {
	out := *conv
	out.ArchivedBy = setMember(conv.ArchivedBy, userID, flags.Archived)
	out.DeletedBy = setMember(conv.DeletedBy, userID, flags.Deleted)
	out.BlockedBy = setMember(conv.BlockedBy, userID, flags.Blocked)
	out.Version = conv.Version + 1
	return &out
}

func setMember(set []string, userID string, member bool) []string {
	out := slices.DeleteFunc(slices.Clone(set), func(id string) bool { return id == userID })
	if member {
		out = append(out, userID)
	}
	return out
}
