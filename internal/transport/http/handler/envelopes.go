package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clinic-intake-api/internal/domain"
)

// MessageEnvelope is the generic success wrapper.
type MessageEnvelope struct {
	Message string `json:"message"`
}

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
	SupportContact   string `json:"support_contact,omitempty"`
}

// PINVerifyEnvelope answers a correct PIN.
type PINVerifyEnvelope struct {
	PINValid               bool     `json:"pin_valid"`
	SessionToken           string   `json:"session_token"`
	UserID                 string   `json:"user_id"`
	UserType               string   `json:"user_type"`
	NeedsEmailVerification bool     `json:"needs_email_verification"`
	TwoFAEnabled           bool     `json:"two_fa_enabled"`
	TwoFAEmail             string   `json:"two_fa_email"`
	Permissions            []string `json:"permissions"`
	FirstName              string   `json:"firstName"`
	LastName               string   `json:"lastName"`
	Email                  string   `json:"email"`
}

// CodeDispatchEnvelope answers send-code.
type CodeDispatchEnvelope struct {
	Message           string    `json:"message"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
	Destination       string    `json:"destination"`
}

// TokenEnvelope carries the bearer issued after the second factor.
type TokenEnvelope struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TOTPSetupEnvelope is shown once when an authenticator app is enrolled.
type TOTPSetupEnvelope struct {
	TOTPSecret  string   `json:"totp_secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	QRCodeData  string   `json:"qr_code_data"`
	BackupCodes []string `json:"backup_codes"`
}

// CurrentUserEnvelope describes the caller of /sessions/current.
type CurrentUserEnvelope struct {
	User    *domain.Identity `json:"user"`
	Session *domain.Session  `json:"session"`
}

// IdentityListEnvelope wraps the identity list.
type IdentityListEnvelope struct {
	Data []domain.Identity `json:"data"`
}

// LockoutEnvelope reports the lockout state of a PIN source.
type LockoutEnvelope struct {
	Source           string     `json:"source"`
	Locked           bool       `json:"locked"`
	Failures         int        `json:"failures"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCodedError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorEnvelope{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeCodedError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return false
	}
	return true
}
