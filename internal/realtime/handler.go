// ABOUTME: HTTP handler upgrading authenticated requests to realtime websocket sessions
// ABOUTME: Runs the read loop; writes happen on the connection's own goroutine

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/realty-inbox/internal/auth"
)

// Handler serves GET /api/ws.
type Handler struct {
	subs       Subscriber
	access     Access
	pingPeriod time.Duration
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHandler creates the websocket handler. pingPeriod <= 0 uses 30s.
func NewHandler(subs Subscriber, access Access, pingPeriod time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		subs:       subs,
		access:     access,
		pingPeriod: pingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// every session is authenticated by token, not cookie
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "realtime"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(ws, h.pingPeriod)
	go conn.writeLoop()

	// the request context is not cancelled on hijack; tie the session to the socket
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	session := newSession(ctx, authCtx.UserID, conn, h.subs, h.access, h.logger)
	session.start()

	h.logger.Info("session opened", "user_id", authCtx.UserID)
	defer func() {
		cancel()
		conn.Close(websocket.CloseNormalClosure, "session closed")
		session.wait()
		h.logger.Info("session closed", "user_id", authCtx.UserID)
	}()

	h.readLoop(ws, conn, session)
}

func (h *Handler) readLoop(ws *websocket.Conn, conn *Conn, session *Session) {
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(conn.readTimeout()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(conn.readTimeout()))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, net.ErrClosed) {
				h.logger.Debug("websocket read ended", "user_id", session.userID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			session.replyError("bad_request", "invalid payload")
			continue
		}
		session.handle(frame)
	}
}
