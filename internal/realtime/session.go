// ABOUTME: One websocket session: always on its user's inbox, in at most one conversation room
// ABOUTME: Translates join/leave frames into broadcaster subscriptions and forwards updates as frames

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/realty-inbox/internal/conversation"
)

const joinTimeout = 5 * time.Second

// Subscriber is the subscription side of the broadcaster.
type Subscriber interface {
	Subscribe(ctx context.Context, key string) (<-chan conversation.Update, string)
}

// Access decides whether a user may watch a conversation.
type Access interface {
	CheckParticipant(ctx context.Context, userID, conversationID string) error
}

// Frame types exchanged over the socket.
const (
	FrameJoin   = "join"
	FrameLeave  = "leave"
	FrameJoined = "joined"
	FrameLeft   = "left"
	FrameError  = "error"
)

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Session tracks the subscriptions of one connection.
type Session struct {
	userID string
	conn   *Conn
	subs   Subscriber
	access Access
	logger *slog.Logger

	ctx context.Context

	mu         sync.Mutex
	room       string
	leaveRoom  context.CancelFunc
	forwarders sync.WaitGroup
}

func newSession(ctx context.Context, userID string, conn *Conn, subs Subscriber, access Access, logger *slog.Logger) *Session {
	return &Session{
		userID: userID,
		conn:   conn,
		subs:   subs,
		access: access,
		logger: logger.With("user_id", userID),
		ctx:    ctx,
	}
}

// start subscribes to the user's inbox for the lifetime of the session.
func (s *Session) start() {
	ch, _ := s.subs.Subscribe(s.ctx, conversation.InboxKey(s.userID))
	s.forward(ch)
}

// Room returns the conversation the session is currently watching.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) handle(frame inboundFrame) {
	switch frame.Type {
	case FrameJoin:
		s.join(frame.ConversationID)
	case FrameLeave:
		left := s.leave()
		s.reply(ackFrame{Type: FrameLeft, ConversationID: left})
	default:
		s.replyError("unsupported_type", "unknown frame type")
	}
}

func (s *Session) join(conversationID string) {
	if conversationID == "" {
		s.replyError("bad_request", "conversation_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, joinTimeout)
	err := s.access.CheckParticipant(ctx, s.userID, conversationID)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			s.replyError("not_found", "conversation not found")
		case errors.Is(err, conversation.ErrValidation):
			s.replyError("bad_request", err.Error())
		default:
			s.logger.Error("join check failed", "conversation_id", conversationID, "error", err)
			s.replyError("internal_error", "could not join conversation")
		}
		return
	}

	s.mu.Lock()
	if s.room != conversationID {
		if s.leaveRoom != nil {
			s.leaveRoom()
		}
		roomCtx, leaveRoom := context.WithCancel(s.ctx)
		ch, _ := s.subs.Subscribe(roomCtx, conversation.RoomKey(conversationID))
		s.room = conversationID
		s.leaveRoom = leaveRoom
		s.forward(ch)
	}
	s.mu.Unlock()

	s.logger.Debug("joined room", "conversation_id", conversationID)
	s.reply(ackFrame{Type: FrameJoined, ConversationID: conversationID})
}

// leave drops the current room, returning its id.
func (s *Session) leave() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	left := s.room
	if s.leaveRoom != nil {
		s.leaveRoom()
	}
	s.room = ""
	s.leaveRoom = nil
	return left
}

// forward relays updates from ch until the subscription ends.
func (s *Session) forward(ch <-chan conversation.Update) {
	s.forwarders.Go(func() {
		for update := range ch {
			if err := s.conn.SendJSON(update); err != nil {
				s.logger.Debug("dropping update", "conversation_id", update.ConversationID, "error", err)
				return
			}
		}
	})
}

// wait blocks until every forwarder has exited. The session context must be
// cancelled first.
func (s *Session) wait() {
	s.forwarders.Wait()
}

func (s *Session) reply(v any) {
	_ = s.conn.SendJSON(v)
}

func (s *Session) replyError(code, message string) {
	s.reply(errorFrame{Type: FrameError, Code: code, Error: message})
}
