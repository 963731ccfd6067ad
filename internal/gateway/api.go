// ABOUTME: HTTP API handlers for conversations, messages, attachments and user settings
// ABOUTME: Requests are decoded into validated DTOs; responses are flat JSON views of service results

package gateway

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/2389/realty-inbox/internal/attachments"
	"github.com/2389/realty-inbox/internal/auth"
	"github.com/2389/realty-inbox/internal/config"
	"github.com/2389/realty-inbox/internal/conversation"
	"github.com/2389/realty-inbox/internal/store"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling files to disk.
const multipartMemory = 8 << 20

// StartConversationRequest is the JSON body for POST /api/conversations.
type StartConversationRequest struct {
	OtherUserID     string `json:"other_user_id" validate:"required,max=128"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id" validate:"max=128"`
}

// AttachmentRef references an already uploaded attachment.
type AttachmentRef struct {
	URL  string `json:"url" validate:"required,max=2048"`
	Name string `json:"name" validate:"required,max=255"`
	Type string `json:"type" validate:"max=255"`
	Size int64  `json:"size" validate:"gte=0"`
}

// SendMessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content         string          `json:"content"`
	Attachments     []AttachmentRef `json:"attachments" validate:"max=10,dive"`
	ClientMessageID string          `json:"client_message_id" validate:"max=128"`
}

// PreferencesRequest is the JSON body for PUT /api/preferences.
type PreferencesRequest struct {
	AllowMessages *bool `json:"allow_messages" validate:"required"`
}

// ProfileRequest is the JSON body for PUT /api/profile.
type ProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=200"`
	AvatarURL   string `json:"avatar_url" validate:"omitempty,url,max=2048"`
}

// DeviceRequest is the JSON body for POST /api/devices.
type DeviceRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// ParticipantResponse describes the other side of a conversation.
type ParticipantResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationResponse is one conversation from the viewer's perspective.
type ConversationResponse struct {
	ID                string              `json:"id"`
	OtherParticipant  ParticipantResponse `json:"other_participant"`
	LastMessage       string              `json:"last_message"`
	LastMessageAt     *time.Time          `json:"last_message_at"`
	MessageCount      int                 `json:"message_count"`
	UnreadCount       int                 `json:"unread_count"`
	State             string              `json:"state"`
	BlockedByMe       bool                `json:"blocked_by_me"`
	CanSend           bool                `json:"can_send"`
	SendBlockedReason string              `json:"send_blocked_reason,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Filter        string                  `json:"filter"`
	Conversations []*ConversationResponse `json:"conversations"`
	ArchiveCount  int                     `json:"archive_count"`
	DeletedCount  int                     `json:"deleted_count"`
	BlockedCount  int                     `json:"blocked_count"`
	AllowMessages bool                    `json:"allow_messages"`
}

// MessageResponse is one message.
type MessageResponse struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	Seq            int64              `json:"seq"`
	SenderID       string             `json:"sender_id"`
	ReceiverID     string             `json:"receiver_id"`
	Content        string             `json:"content"`
	Attachments    []store.Attachment `json:"attachments"`
	IsRead         bool               `json:"is_read"`
	CreatedAt      time.Time          `json:"created_at"`
}

// MessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type MessagesResponse struct {
	Conversation      *ConversationResponse `json:"conversation"`
	Messages          []*MessageResponse    `json:"messages"`
	AllowMessages     bool                  `json:"allow_messages"`
	SendBlockedReason string                `json:"send_blocked_reason,omitempty"`
}

// StartConversationResponse is the JSON response for POST /api/conversations.
type StartConversationResponse struct {
	ConversationID string           `json:"conversation_id"`
	Created        bool             `json:"created"`
	Message        *MessageResponse `json:"message,omitempty"`
}

// StateResponse is returned by the state transition endpoints.
type StateResponse struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`
}

func toParticipantResponse(p conversation.ParticipantView) ParticipantResponse {
	return ParticipantResponse{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Role:        p.Role,
	}
}

func toConversationResponse(s *conversation.Summary) *ConversationResponse {
	if s == nil {
		return nil
	}
	return &ConversationResponse{
		ID:                s.ID,
		OtherParticipant:  toParticipantResponse(s.Other),
		LastMessage:       s.LastMessage,
		LastMessageAt:     s.LastMessageAt,
		MessageCount:      s.MessageCount,
		UnreadCount:       s.UnreadCount,
		State:             string(s.State),
		BlockedByMe:       s.BlockedByMe,
		CanSend:           s.CanSend,
		SendBlockedReason: string(s.SendBlockedReason),
		CreatedAt:         s.CreatedAt,
	}
}

func toMessageResponse(m *store.Message) *MessageResponse {
	if m == nil {
		return nil
	}
	atts := m.Attachments
	if atts == nil {
		atts = []store.Attachment{}
	}
	return &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Attachments:    atts,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

// handleStartConversation handles POST /api/conversations.
func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req StartConversationRequest
	if err := g.decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	res, err := g.conversations.StartConversation(r.Context(), conversation.StartRequest{
		Actor:           *actor,
		OtherUserID:     req.OtherUserID,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, StartConversationResponse{
		ConversationID: res.ConversationID,
		Created:        res.Created,
		Message:        toMessageResponse(res.Message),
	})
}

// handleListConversations handles GET /api/conversations?filter=.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	filter, err := conversation.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	listing, err := g.conversations.ListConversations(r.Context(), actor.UserID, filter)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := ListConversationsResponse{
		Filter:        string(listing.Filter),
		Conversations: make([]*ConversationResponse, 0, len(listing.Conversations)),
		ArchiveCount:  listing.ArchiveCount,
		DeletedCount:  listing.DeletedCount,
		BlockedCount:  listing.BlockedCount,
		AllowMessages: listing.AllowMessages,
	}
	for _, s := range listing.Conversations {
		resp.Conversations = append(resp.Conversations, toConversationResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetMessages handles GET /api/conversations/{id}/messages?limit=N.
func (g *Gateway) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > conversation.MaxHistoryLimit {
			sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", conversation.MaxHistoryLimit))
			return
		}
		limit = n
	}

	history, err := g.conversations.GetMessages(r.Context(), actor.UserID, r.PathValue("id"), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := MessagesResponse{
		Conversation:      toConversationResponse(history.Conversation),
		Messages:          make([]*MessageResponse, 0, len(history.Messages)),
		AllowMessages:     history.AllowMessages,
		SendBlockedReason: string(history.SendBlockedReason),
	}
	for _, m := range history.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /api/conversations/{id}/messages with
// either a JSON body or a multipart form carrying files.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		g.handleSendMultipart(w, r, actor)
		return
	}

	var req SendMessageRequest
	if err := g.decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	atts := make([]store.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		atts = append(atts, store.Attachment{URL: a.URL, Name: a.Name, Type: a.Type, Size: a.Size})
	}

	msg, err := g.conversations.SendMessage(r.Context(), conversation.SendRequest{
		ConversationID:  r.PathValue("id"),
		SenderID:        actor.UserID,
		Content:         req.Content,
		Attachments:     atts,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleSendMultipart uploads every file first, then sends. If the send is
// refused the uploads are removed again.
func (g *Gateway) handleSendMultipart(w http.ResponseWriter, r *http.Request, actor *auth.AuthContext) {
	form, err := g.parseMultipart(w, r, conversation.MaxAttachments)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	defer form.RemoveAll()

	headers := slices.Concat(form.File["files"], form.File["file"])
	if len(headers) > conversation.MaxAttachments {
		sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("at most %d attachments per message", conversation.MaxAttachments))
		return
	}

	files, closeFiles, err := openParts(headers)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	uploaded, err := attachments.UploadAll(r.Context(), g.attachments, files, g.logger)
	closeFiles()
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	msg, err := g.conversations.SendMessage(r.Context(), conversation.SendRequest{
		ConversationID:  r.PathValue("id"),
		SenderID:        actor.UserID,
		Content:         formValue(form, "content"),
		Attachments:     uploaded,
		ClientMessageID: formValue(form, "client_message_id"),
	})
	if err != nil {
		attachments.Rollback(g.attachments, uploaded, g.logger)
		g.writeError(w, r, err)
		return
	}
	if len(uploaded) > 0 && !sameAttachments(msg.Attachments, uploaded) {
		// a retried send resolved to the original message, so these copies are unused
		attachments.Rollback(g.attachments, uploaded, g.logger)
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// handleUploadAttachment handles POST /api/attachments (multipart field "file").
func (g *Gateway) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	form, err := g.parseMultipart(w, r, 1)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	defer form.RemoveAll()

	headers := form.File["file"]
	if len(headers) != 1 {
		sendJSONError(w, http.StatusBadRequest, "exactly one file field is required")
		return
	}

	files, closeFiles, err := openParts(headers)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	defer closeFiles()

	att, err := g.attachments.Upload(r.Context(), files[0].Name, files[0].Reader)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// handleTransition handles POST /api/conversations/{id}/{action}.
func (g *Gateway) handleTransition(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	action, err := conversation.ParseAction(r.PathValue("action"))
	if err != nil {
		sendJSONError(w, http.StatusNotFound, "unknown action")
		return
	}

	id := r.PathValue("id")
	state, err := g.conversations.Apply(r.Context(), actor.UserID, id, action)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{ConversationID: id, State: string(state)})
}

// handleMarkRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	id := r.PathValue("id")
	n, err := g.conversations.MarkAsRead(r.Context(), actor.UserID, id)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "marked": n})
}

// handleUnread handles GET /api/unread.
func (g *Gateway) handleUnread(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	total, err := g.conversations.TotalUnread(r.Context(), actor.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

// handleGetPreferences handles GET /api/preferences.
func (g *Gateway) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	prefs, err := g.conversations.GetPreferences(r.Context(), actor.UserID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allow_messages": prefs.AllowMessages})
}

// handleSetPreferences handles PUT /api/preferences.
func (g *Gateway) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req PreferencesRequest
	if err := g.decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	prefs, err := g.conversations.SetAllowMessages(r.Context(), actor.UserID, *req.AllowMessages)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allow_messages": prefs.AllowMessages})
}

// handleUpdateProfile handles PUT /api/profile. The role shown to others is
// the one the caller authenticated with.
func (g *Gateway) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req ProfileRequest
	if err := g.decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	profile := &store.Profile{
		UserID:      actor.UserID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		AvatarURL:   req.AvatarURL,
		Role:        actor.Role,
	}
	if err := g.conversations.UpdateProfile(r.Context(), profile); err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantResponse{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Role:        profile.Role,
	})
}

// handleRegisterDevice handles POST /api/devices.
func (g *Gateway) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	actor := auth.MustFromContext(r.Context())

	var req DeviceRequest
	if err := g.decodeJSON(w, r, &req); err != nil {
		g.writeError(w, r, err)
		return
	}

	device := &store.Device{
		Token:     req.Token,
		UserID:    actor.UserID,
		Platform:  req.Platform,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.RegisterDevice(r.Context(), device); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseMultipart limits the body to the given number of maximum-size files
// plus room for the form fields.
func (g *Gateway) parseMultipart(w http.ResponseWriter, r *http.Request, files int) (*multipart.Form, error) {
	perFile := g.config.Attachments.MaxSizeBytes
	if perFile <= 0 {
		perFile = config.DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(files)*perFile+maxJSONBody)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", attachments.ErrTooLarge, tooBig.Limit)
		}
		return nil, fmt.Errorf("%w: invalid multipart body", errBadRequest)
	}
	return r.MultipartForm, nil
}

// openParts opens every file header. The returned func closes them all.
func openParts(headers []*multipart.FileHeader) ([]attachments.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]attachments.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%w: opening %s: %w", attachments.ErrUpload, h.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, attachments.File{Name: h.Filename, Reader: f})
	}
	return files, closeAll, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func sameAttachments(a, b []store.Attachment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].URL != b[i].URL {
			return false
		}
	}
	return true
}
