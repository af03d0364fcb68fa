package handler

import (
	"context"
	"net/http"

	"github.com/clinic-intake-api/internal/application/lockout"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/validate"
	"github.com/go-chi/chi/v5"
)

type lockoutService interface {
	Check(ctx context.Context, ref string) domain.LockoutState
	Clear(ctx context.Context, ref string) error
}

// LockoutHandler lets the administrator inspect and lift PIN lockouts.
type LockoutHandler struct {
	svc lockoutService
}

func NewLockoutHandler(svc lockoutService) *LockoutHandler { return &LockoutHandler{svc: svc} }

type lockoutSource struct {
	Source string `validate:"required,ip"`
}

func (h *LockoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	st := h.svc.Check(r.Context(), lockout.SourceRef(src))
	env := LockoutEnvelope{
		Source:           src,
		Locked:           st.Locked,
		Failures:         st.Failures,
		RemainingSeconds: int(st.Remaining.Seconds()),
	}
	if st.Locked {
		until := st.LockedUntil.UTC()
		env.LockedUntil = &until
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *LockoutHandler) Clear(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	if err := h.svc.Clear(r.Context(), lockout.SourceRef(src)); err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "lockout cleared"})
}

func sourceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := lockoutSource{Source: chi.URLParam(r, "source")}
	if err := validate.Struct(p); err != nil {
		writeValidationError(w, err)
		return "", false
	}
	return p.Source, true
}
