package handler

import (
	"context"
	"net/http"

	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/transport/http/middleware"
)

type sessionService interface {
	Current(ctx context.Context, sessionKey string) (*domain.Session, error)
	Revoke(ctx context.Context, sessionKey string) error
}

// SessionHandler handles endpoints for the caller's own session.
type SessionHandler struct {
	svc sessionService
}

func NewSessionHandler(svc sessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

func (h *SessionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeCodedError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	sess, err := h.svc.Current(r.Context(), claims.SessionKey)
	if err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, CurrentUserEnvelope{User: sess.Identity, Session: sess})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeCodedError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Revoke(r.Context(), claims.SessionKey); err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}
