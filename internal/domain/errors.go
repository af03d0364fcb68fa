package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	ErrInvalidPin          = errors.New("invalid pin")
	ErrLockedOut           = errors.New("locked out")
	ErrUnknownSession      = errors.New("unknown session")
	ErrSessionExpired      = errors.New("session expired")
	ErrNoActiveCode        = errors.New("no active code")
	ErrCodeExpired         = errors.New("code expired")
	ErrCodeMismatch        = errors.New("code mismatch")
	ErrCodeAlreadyConsumed = errors.New("code already consumed")
	ErrMailDeliveryFailed  = errors.New("mail delivery failed")
	ErrRateLimited         = errors.New("rate limited")
)

// LockedOutError carries the remaining cooldown. errors.Is(err, ErrLockedOut) holds.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %d seconds", e.RemainingSeconds())
}

func (e *LockedOutError) Unwrap() error { return ErrLockedOut }

// RemainingSeconds rounds up so a client never retries a second early.
func (e *LockedOutError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// RateLimitedError carries the wait before the next permitted request.
type RateLimitedError struct {
	RetryAfter time.Duration
	// Action names what must wait; empty means requesting a code.
	Action string
}

func (e *RateLimitedError) Error() string {
	action := e.Action
	if action == "" {
		action = "requesting another code"
	}
	return fmt.Sprintf("please wait %d seconds before %s", e.RetryAfterSeconds(), action)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
