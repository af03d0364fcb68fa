package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"go.uber.org/zap"
)

// Machine-readable error codes returned in ErrorEnvelope.Code.
const (
	codeInvalidPin          = "invalid_pin"
	codeLockedOut           = "locked_out"
	codeUnknownSession      = "unknown_session"
	codeSessionExpired      = "session_expired"
	codeNoActiveCode        = "no_active_code"
	codeCodeExpired         = "code_expired"
	codeCodeMismatch        = "code_mismatch"
	codeCodeAlreadyConsumed = "code_already_consumed"
	codeMailDeliveryFailed  = "mail_delivery_failed"
	codeRateLimited         = "rate_limited"
	codeBadRequest          = "bad_request"
	codeValidation          = "validation_failed"
	codeNotFound            = "not_found"
	codeConflict            = "conflict"
	codeUnauthorized        = "unauthorized"
	codeForbidden           = "forbidden"
	codeInternal            = "internal_error"
)

var errorMessages = map[string]string{
	codeInvalidPin:          "the PIN is not valid",
	codeUnknownSession:      "the sign-in session is not valid, start again",
	codeSessionExpired:      "the sign-in session has expired, start again",
	codeNoActiveCode:        "no verification code has been sent, request a new one",
	codeCodeExpired:         "the verification code has expired, request a new one",
	codeCodeMismatch:        "the verification code is not correct",
	codeCodeAlreadyConsumed: "the verification code has already been used",
	codeMailDeliveryFailed:  "the verification email could not be sent, try again",
}

// httpError maps a service error to its status and error body. Locked-out and rate-limited
// responses carry Retry-After; unexpected errors are logged and answered generically.
func httpError(w http.ResponseWriter, err error, supportContact string) {
	var locked *domain.LockedOutError
	var limited *domain.RateLimitedError
	switch {
	case errors.As(err, &locked):
		secs := locked.RemainingSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusLocked, ErrorEnvelope{
			Error:            locked.Error(),
			Code:             codeLockedOut,
			RemainingSeconds: &secs,
			SupportContact:   supportContact,
		})
	case errors.As(err, &limited):
		secs := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, ErrorEnvelope{
			Error:            limited.Error(),
			Code:             codeRateLimited,
			RemainingSeconds: &secs,
		})
	case errors.Is(err, domain.ErrInvalidPin):
		writeCodedError(w, http.StatusUnauthorized, codeInvalidPin, errorMessages[codeInvalidPin])
	case errors.Is(err, domain.ErrUnknownSession):
		writeCodedError(w, http.StatusUnauthorized, codeUnknownSession, errorMessages[codeUnknownSession])
	case errors.Is(err, domain.ErrSessionExpired):
		writeCodedError(w, http.StatusUnauthorized, codeSessionExpired, errorMessages[codeSessionExpired])
	case errors.Is(err, domain.ErrNoActiveCode):
		writeCodedError(w, http.StatusBadRequest, codeNoActiveCode, errorMessages[codeNoActiveCode])
	case errors.Is(err, domain.ErrCodeExpired):
		writeCodedError(w, http.StatusUnauthorized, codeCodeExpired, errorMessages[codeCodeExpired])
	case errors.Is(err, domain.ErrCodeMismatch):
		writeCodedError(w, http.StatusUnauthorized, codeCodeMismatch, errorMessages[codeCodeMismatch])
	case errors.Is(err, domain.ErrCodeAlreadyConsumed):
		writeCodedError(w, http.StatusConflict, codeCodeAlreadyConsumed, errorMessages[codeCodeAlreadyConsumed])
	case errors.Is(err, domain.ErrMailDeliveryFailed):
		logger.L().Warn("code mail delivery failed", zap.Error(err))
		writeCodedError(w, http.StatusBadGateway, codeMailDeliveryFailed, errorMessages[codeMailDeliveryFailed])
	case errors.Is(err, domain.ErrBadRequest):
		writeCodedError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeCodedError(w, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeCodedError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeCodedError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeCodedError(w, http.StatusForbidden, codeForbidden, err.Error())
	default:
		logger.L().Error("unhandled service error", zap.Error(err))
		writeCodedError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeCodedError(w, http.StatusUnprocessableEntity, codeValidation, err.Error())
}
