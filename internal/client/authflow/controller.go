// Package authflow drives the two-step sign-in from the client side: PIN, then emailed code.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clinic-intake-api/internal/client/api"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/clinic-intake-api/internal/pkg/otpcode"
	"go.uber.org/zap"
)

const (
	pinDigits        = 4
	codeDigits       = 6
	backupCodeDigits = 10
)

var (
	// ErrTransport is returned when the API could not be reached or failed internally. The
	// state is left unchanged and the same call may be repeated.
	ErrTransport = api.ErrTransport

	ErrMalformedPIN   = errors.New("PIN must be 4 digits")
	ErrMalformedCode  = errors.New("code must be 6 digits, or 10 for a backup code")
	ErrInvalidState   = errors.New("action not allowed in the current state")
	ErrStillLockedOut = errors.New("lockout has not elapsed")
)

// API is the server surface the controller needs.
type API interface {
	VerifyPIN(ctx context.Context, pin string) (*api.PINResult, error)
	SendCode(ctx context.Context, sessionToken string) (*api.CodeDispatch, error)
	VerifyCode(ctx context.Context, sessionToken, code string) (*api.Token, error)
}

// Controller is safe for concurrent use; calls are serialized so every step completes
// before the next one starts.
type Controller struct {
	mu    sync.Mutex
	api   API
	hints LocalState
	now   func() time.Time
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New starts in EnteringPin. hints may be nil.
func New(client API, hints LocalState, opts ...Option) *Controller {
	c := &Controller{api: client, hints: hints, now: time.Now, state: EnteringPin{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubmitPIN is valid in EnteringPin. A correct PIN requests the first code before returning.
func (c *Controller) SubmitPIN(ctx context.Context, pin string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(EnteringPin); !ok {
		return c.state, ErrInvalidState
	}
	if len(pin) != pinDigits || !otpcode.IsNumeric(pin) {
		return c.set(EnteringPin{LastError: ErrMalformedPIN}), nil
	}

	res, err := c.api.VerifyPIN(ctx, pin)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return c.state, fmt.Errorf("verify pin: %w", err)
		}
		var locked *domain.LockedOutError
		if errors.As(err, &locked) {
			return c.set(LockedOut{Until: c.now().Add(locked.Remaining), SupportContact: supportContact(err)}), nil
		}
		return c.set(EnteringPin{LastError: err}), nil
	}

	purpose := Verification
	if res.NeedsEmailVerification {
		purpose = Enrollment
	}
	awaiting := AwaitingCode{
		Purpose:     purpose,
		Destination: res.TwoFAEmail,
		token:       res.SessionToken,
		user: User{
			ID:          res.UserID,
			Class:       res.UserType,
			FirstName:   res.FirstName,
			LastName:    res.LastName,
			Email:       res.Email,
			Permissions: res.Permissions,
		},
	}
	c.set(awaiting)
	return c.sendCode(ctx, awaiting)
}

// SubmitCode is valid in AwaitingCode.
func (c *Controller) SubmitCode(ctx context.Context, code string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	awaiting, ok := c.state.(AwaitingCode)
	if !ok {
		return c.state, ErrInvalidState
	}
	if (len(code) != codeDigits && len(code) != backupCodeDigits) || !otpcode.IsNumeric(code) {
		awaiting.LastError = ErrMalformedCode
		return c.set(awaiting), nil
	}

	tok, err := c.api.VerifyCode(ctx, awaiting.token, code)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return c.state, fmt.Errorf("verify code: %w", err)
		}
		if errors.Is(err, domain.ErrUnknownSession) || errors.Is(err, domain.ErrSessionExpired) {
			return c.set(EnteringPin{LastError: err}), nil
		}
		awaiting.LastError = err
		return c.set(awaiting), nil
	}

	user := awaiting.user
	if c.hints != nil {
		c.hints.SetAdminAuthenticated(user.IsAdmin())
		c.hints.SetCurrentUser(&user)
	}
	return c.set(Authenticated{User: user, AccessToken: tok.SessionToken, ExpiresAt: tok.ExpiresAt}), nil
}

// Resend requests a new code once Countdown has reached zero.
func (c *Controller) Resend(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	awaiting, ok := c.state.(AwaitingCode)
	if !ok {
		return c.state, ErrInvalidState
	}
	if wait := awaiting.ResendAvailableAt.Sub(c.now()); wait > 0 {
		awaiting.LastError = &domain.RateLimitedError{RetryAfter: wait}
		return c.set(awaiting), nil
	}
	return c.sendCode(ctx, awaiting)
}

// Cancel abandons a pending sign-in and drops its token.
func (c *Controller) Cancel() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.(type) {
	case AwaitingCode, LockedOut:
		return c.set(EnteringPin{})
	}
	return c.state
}

// Retry leaves LockedOut once the cooldown has elapsed.
func (c *Controller) Retry() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	locked, ok := c.state.(LockedOut)
	if !ok {
		return c.state, ErrInvalidState
	}
	if c.now().Before(locked.Until) {
		return c.state, ErrStillLockedOut
	}
	return c.set(EnteringPin{}), nil
}

// SignOut forgets the bearer and the local hints.
func (c *Controller) SignOut() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hints != nil {
		c.hints.Clear()
	}
	return c.set(EnteringPin{})
}

// Countdown is the wait before Resend (in AwaitingCode) or Retry (in LockedOut) is allowed.
func (c *Controller) Countdown(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var until time.Time
	switch s := c.state.(type) {
	case AwaitingCode:
		until = s.ResendAvailableAt
	case LockedOut:
		until = s.Until
	default:
		return 0
	}
	if d := until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// sendCode runs with c.mu held and awaiting as the current state.
func (c *Controller) sendCode(ctx context.Context, awaiting AwaitingCode) (State, error) {
	d, err := c.api.SendCode(ctx, awaiting.token)
	if err != nil {
		var limited *domain.RateLimitedError
		switch {
		case errors.Is(err, ErrTransport):
			awaiting.LastError = err
			c.set(awaiting)
			return c.state, fmt.Errorf("send code: %w", err)
		case errors.Is(err, domain.ErrUnknownSession), errors.Is(err, domain.ErrSessionExpired):
			return c.set(EnteringPin{LastError: err}), nil
		case errors.As(err, &limited):
			awaiting.ResendAvailableAt = c.now().Add(limited.RetryAfter)
		}
		awaiting.LastError = err
		return c.set(awaiting), nil
	}
	awaiting.Destination = d.Destination
	awaiting.ExpiresAt = d.ExpiresAt
	awaiting.ResendAvailableAt = d.ResendAvailableAt
	awaiting.LastError = nil
	return c.set(awaiting), nil
}

func (c *Controller) set(s State) State {
	logger.L().Debug("auth state", zap.String("state", fmt.Sprintf("%T", s)))
	c.state = s
	return s
}

func supportContact(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.SupportContact
	}
	return ""
}
