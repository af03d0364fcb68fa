package handler

import (
	"context"
	"net/http"

	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/validate"
	"github.com/go-chi/chi/v5"
)

type identityService interface {
	CreateStaff(ctx context.Context, req domain.CreateStaffRequest) (*domain.Identity, error)
	List(ctx context.Context) ([]domain.Identity, error)
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	Disable(ctx context.Context, identityID string) error
}

// IdentityHandler handles admin provisioning of staff identities.
type IdentityHandler struct {
	svc identityService
}

func NewIdentityHandler(svc identityService) *IdentityHandler { return &IdentityHandler{svc: svc} }

func (h *IdentityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStaffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	ident, err := h.svc.CreateStaff(r.Context(), req)
	if err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, ident)
}

func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		httpError(w, err, "")
		return
	}
	if list == nil {
		list = []domain.Identity{}
	}
	writeJSON(w, http.StatusOK, IdentityListEnvelope{Data: list})
}

func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *IdentityHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Disable(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "identity disabled"})
}
