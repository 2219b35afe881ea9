package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/realtime-server-go/internal/errors"
	"github.com/openclaw/realtime-server-go/internal/httputil"
)

// SessionCounter reports live sessions held by this instance.
type SessionCounter interface {
	SessionCount(userID string) int
}

// OnlineChecker reports presence across every instance.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) bool
}

type PresenceHandler struct {
	registry SessionCounter
	online   OnlineChecker
}

func NewPresenceHandler(registry SessionCounter, online OnlineChecker) *PresenceHandler {
	return &PresenceHandler{registry: registry, online: online}
}

func (h *PresenceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{userID}", h.Get)

	return r
}

// GET /v1/presence/{userID}
// online is cluster-wide; sessions counts this instance only.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("userId"))
		return
	}

	sessions := h.registry.SessionCount(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   userID,
		"online":   sessions > 0 || h.online.IsOnline(r.Context(), userID),
		"sessions": sessions,
	})
}
