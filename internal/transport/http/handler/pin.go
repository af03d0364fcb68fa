package handler

import (
	"context"
	"net/http"

	"github.com/clinic-intake-api/internal/application/pin"
	"github.com/clinic-intake-api/internal/transport/http/middleware"
)

type pinVerifier interface {
	Verify(ctx context.Context, source, pin string) (*pin.Result, error)
}

// PINHandler handles the first authentication step.
type PINHandler struct {
	svc            pinVerifier
	trustProxy     bool
	supportContact string
}

func NewPINHandler(svc pinVerifier, trustProxy bool, supportContact string) *PINHandler {
	return &PINHandler{svc: svc, trustProxy: trustProxy, supportContact: supportContact}
}

// Verify does not validate the PIN shape: a malformed PIN is a failed attempt and must
// reach the lockout tracker like any other.
func (h *PINHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Verify(r.Context(), middleware.ClientIP(r, h.trustProxy), req.PIN)
	if err != nil {
		httpError(w, err, h.supportContact)
		return
	}
	ident := res.Identity
	perms := ident.Permissions
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, PINVerifyEnvelope{
		PINValid:               true,
		SessionToken:           res.SessionToken,
		UserID:                 ident.IdentityID,
		UserType:               ident.Class,
		NeedsEmailVerification: res.RequiresEnrollment,
		TwoFAEnabled:           res.SecondFactorEnabled,
		TwoFAEmail:             res.ContactEmail,
		Permissions:            perms,
		FirstName:              ident.FirstName,
		LastName:               ident.LastName,
		Email:                  ident.Email,
	})
}
