package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/clinic-intake-api/internal/application/otp"
	"github.com/clinic-intake-api/internal/application/totp"
	"github.com/clinic-intake-api/internal/pkg/validate"
	"github.com/clinic-intake-api/internal/transport/http/middleware"
)

type codeService interface {
	SendCode(ctx context.Context, token string) (*otp.Dispatch, error)
	VerifyCode(ctx context.Context, token, code string) (*otp.VerifyResult, error)
}

type totpService interface {
	Setup(ctx context.Context, identityID string) (*totp.SetupResult, error)
	VerifySetup(ctx context.Context, identityID, code string) error
}

// TwoFAHandler handles the second authentication step and authenticator-app enrollment.
type TwoFAHandler struct {
	codes codeService
	totp  totpService
}

func NewTwoFAHandler(codes codeService, totp totpService) *TwoFAHandler {
	return &TwoFAHandler{codes: codes, totp: totp}
}

type sendCodeRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

type verifyCodeRequest struct {
	EmailCode    string `json:"email_code" validate:"required"`
	SessionToken string `json:"session_token" validate:"required"`
}

type verifySetupRequest struct {
	TOTPCode string `json:"totp_code" validate:"required,digits,len=6"`
}

func (h *TwoFAHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	d, err := h.codes.SendCode(r.Context(), req.SessionToken)
	if err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, CodeDispatchEnvelope{
		Message:           "verification code sent",
		ExpiresAt:         d.ExpiresAt,
		ResendAvailableAt: d.ResendAvailableAt,
		Destination:       d.Destination,
	})
}

func (h *TwoFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	res, err := h.codes.VerifyCode(r.Context(), req.SessionToken, req.EmailCode)
	if err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, TokenEnvelope{
		SessionToken: res.AccessToken,
		ExpiresAt:    time.Unix(res.Session.ExpiresAt, 0).UTC(),
	})
}

func (h *TwoFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeCodedError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	res, err := h.totp.Setup(r.Context(), claims.IdentityID)
	if err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, TOTPSetupEnvelope{
		TOTPSecret:  res.Secret,
		OTPAuthURL:  res.OTPAuthURL,
		QRCodeData:  "data:image/png;base64," + res.QRCodePNG,
		BackupCodes: res.BackupCodes,
	})
}

func (h *TwoFAHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeCodedError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return
	}
	var req verifySetupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := h.totp.VerifySetup(r.Context(), claims.IdentityID, req.TOTPCode); err != nil {
		httpError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "authenticator app enabled"})
}
