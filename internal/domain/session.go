package domain

import "time"

// Session stages.
const (
	StagePINVerified        = "pin_verified"
	StageFullyAuthenticated = "fully_authenticated"
)

// Session is an authentication in progress (pin_verified) or a completed one.
// PK: session_key, the SHA-256 hex of the opaque token handed to the client.
type Session struct {
	SessionKey             string     `json:"-" dynamodbav:"session_key"`
	SessionID              string     `json:"id" dynamodbav:"session_id"`
	IdentityID             string     `json:"user_id" dynamodbav:"identity_id"`
	IdentityClass          string     `json:"user_type" dynamodbav:"identity_class"`
	Stage                  string     `json:"stage" dynamodbav:"stage"`
	NeedsEmailVerification bool       `json:"needs_email_verification" dynamodbav:"needs_email_verification"`
	IssuedAt               time.Time  `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt              int64      `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	PromotedAt             *time.Time `json:"promoted_at,omitempty" dynamodbav:"promoted_at"`
	Revoked                bool       `json:"-" dynamodbav:"revoked"`
	FactorFailures         int        `json:"-" dynamodbav:"factor_failures"`
	PurgeAt                int64      `json:"-" dynamodbav:"purge_at"`
	Identity               *Identity  `json:"user,omitempty" dynamodbav:"-"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

// FullyAuthenticated reports whether the session may call the records API.
func (s *Session) FullyAuthenticated() bool {
	return s.Stage == StageFullyAuthenticated
}
