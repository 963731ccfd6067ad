// ABOUTME: HTTP route table for the inbox API, websocket endpoint, files and health checks
// ABOUTME: Everything under /api is behind the auth middleware; health and files are not

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/2389/realty-inbox/internal/attachments"
	"github.com/2389/realty-inbox/internal/realtime"
)

func (g *Gateway) routes(authenticate func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/conversations", g.handleStartConversation)
	api.HandleFunc("GET /api/conversations", g.handleListConversations)
	api.HandleFunc("GET /api/conversations/{id}/messages", g.handleGetMessages)
	api.HandleFunc("POST /api/conversations/{id}/messages", g.handleSendMessage)
	api.HandleFunc("POST /api/conversations/{id}/read", g.handleMarkRead)
	api.HandleFunc("POST /api/conversations/{id}/{action}", g.handleTransition)
	api.HandleFunc("POST /api/attachments", g.handleUploadAttachment)
	api.HandleFunc("GET /api/preferences", g.handleGetPreferences)
	api.HandleFunc("PUT /api/preferences", g.handleSetPreferences)
	api.HandleFunc("PUT /api/profile", g.handleUpdateProfile)
	api.HandleFunc("POST /api/devices", g.handleRegisterDevice)
	api.HandleFunc("GET /api/unread", g.handleUnread)
	api.Handle("GET /api/ws", realtime.NewHandler(g.broadcaster, g.conversations, g.config.Realtime.PingInterval, g.logger))
	mux.Handle("/api/", authenticate(api))

	// locally stored attachments are served back by key; keys are unguessable.
	// An absolute base URL means something in front of us serves them.
	if local, ok := g.attachments.(*attachments.LocalStore); ok && strings.HasPrefix(local.BaseURL(), "/") {
		mux.Handle("GET "+local.BaseURL()+"/", local.Handler())
	}

	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
