// Package api is the HTTP client for the sign-in endpoints. Error responses are mapped back
// onto the domain errors the server produced; network failures and 5xx answers surface as
// ErrTransport.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinic-intake-api/internal/domain"
)

const defaultTimeout = 15 * time.Second

// ErrTransport marks failures that say nothing about the credentials: the request may be
// retried unchanged.
var ErrTransport = errors.New("transport failure")

// Client talks to the /v1 API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL, e.g. "http://localhost:3000".
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// PINResult is the answer to a correct PIN.
type PINResult struct {
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

// CodeDispatch describes a mailed code.
type CodeDispatch struct {
	Message           string    `json:"message"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
	Destination       string    `json:"destination"`
}

// Token is the bearer issued after the second factor.
type Token struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Error is a non-2xx answer. It unwraps to the matching domain error when the code is known.
type Error struct {
	Status           int
	Code             string `json:"code"`
	Message          string `json:"error"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
	SupportContact   string `json:"support_contact,omitempty"`
	cause            error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (c *Client) VerifyPIN(ctx context.Context, pin string) (*PINResult, error) {
	var out PINResult
	if err := c.post(ctx, "/v1/pin-verify", "", map[string]string{"pin": pin}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendCode(ctx context.Context, sessionToken string) (*CodeDispatch, error) {
	var out CodeDispatch
	if err := c.post(ctx, "/v1/2fa/send-code", "", map[string]string{"session_token": sessionToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifyCode(ctx context.Context, sessionToken, code string) (*Token, error) {
	var out Token
	body := map[string]string{"session_token": sessionToken, "email_code": code}
	if err := c.post(ctx, "/v1/2fa/verify", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the session behind bearer.
func (c *Client) Logout(ctx context.Context, bearer string) error {
	return c.post(ctx, "/v1/sessions/logout", bearer, nil, nil)
}

func (c *Client) post(ctx context.Context, path, bearer string, in, out interface{}) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: %w: decode response: %v", path, ErrTransport, err)
		}
		return nil
	}
	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &Error{Status: resp.StatusCode}
	_ = json.Unmarshal(raw, apiErr)
	apiErr.cause = causeFor(apiErr)
	return apiErr
}

func causeFor(e *Error) error {
	remaining := time.Duration(0)
	if e.RemainingSeconds != nil {
		remaining = time.Duration(*e.RemainingSeconds) * time.Second
	}
	switch e.Code {
	case "invalid_pin":
		return domain.ErrInvalidPin
	case "locked_out":
		return &domain.LockedOutError{Remaining: remaining}
	case "rate_limited":
		return &domain.RateLimitedError{RetryAfter: remaining}
	case "unknown_session":
		return domain.ErrUnknownSession
	case "session_expired":
		return domain.ErrSessionExpired
	case "no_active_code":
		return domain.ErrNoActiveCode
	case "code_expired":
		return domain.ErrCodeExpired
	case "code_mismatch":
		return domain.ErrCodeMismatch
	case "code_already_consumed":
		return domain.ErrCodeAlreadyConsumed
	case "mail_delivery_failed":
		return domain.ErrMailDeliveryFailed
	case "bad_request", "validation_failed":
		return domain.ErrBadRequest
	case "unauthorized":
		return domain.ErrUnauthorized
	}
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return ErrTransport
	}
	return nil
}
