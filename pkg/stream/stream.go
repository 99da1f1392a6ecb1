// Package stream exposes the realtime fanout to browsers over a
// long-lived server-sent events connection.
//
// Authentication uses a session cookie rather than a header because the
// browser EventSource API cannot set custom headers. Bounding the total
// number of concurrent connections per process is the surrounding
// transport layer's responsibility.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finflow/alertpipe/pkg/logger"
	"github.com/finflow/alertpipe/pkg/realtime"
)

// ErrInvalidSession is returned by SessionResolver implementations for
// unknown or expired tokens.
var ErrInvalidSession = errors.New("stream: invalid session token")

// SessionResolver maps a session token to a user id. It is a
// collaborator boundary; the pipeline owns no auth state.
type SessionResolver interface {
	UserIDFromToken(ctx context.Context, token string) (string, error)
}

// Config holds stream endpoint settings.
type Config struct {
	CookieName        string        `env:"STREAM_SESSION_COOKIE" envDefault:"session_token"`
	HeartbeatInterval time.Duration `env:"STREAM_HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// Handler serves GET /notifications/stream.
type Handler struct {
	fanout   realtime.Fanout
	sessions SessionResolver
	cfg      Config
	log      *slog.Logger
}

// NewHandler creates the stream handler.
func NewHandler(fanout realtime.Fanout, sessions SessionResolver, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{fanout: fanout, sessions: sessions, cfg: cfg, log: log}
}

// Routes mounts the stream endpoint on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/notifications/stream", h.serveStream)
	return r
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(h.cfg.CookieName)
	if err != nil {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	userID, err := h.sessions.UserIDFromToken(ctx, cookie.Value)
	if err != nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribing with the request context ties the subscription to the
	// connection: client disconnect releases it immediately.
	sub, err := h.fanout.Subscribe(ctx, userID)
	if err != nil {
		h.log.LogAttrs(ctx, slog.LevelError, "failed to open stream subscription",
			logger.UserID(userID), logger.Error(err))
		http.Error(w, "subscription failed", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Tell buffering reverse proxies to pass frames straight through.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, realtime.Event{
		Type:      realtime.TypeConnected,
		UserID:    userID,
		Timestamp: time.Now(),
	}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			// Comment-only frame keeps idle proxies and load balancers
			// from dropping the connection.
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
