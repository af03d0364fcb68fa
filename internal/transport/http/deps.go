package http

import (
	"context"
	"time"

	"github.com/clinic-intake-api/internal/domain"
	jwtinfra "github.com/clinic-intake-api/internal/infrastructure/jwt"
)

// IdentityRepository is the minimal interface the router requires from an identity store.
type IdentityRepository interface {
	Create(ctx context.Context, i *domain.Identity) error
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	// ListEnabled returns every identity with enable=true. The table holds one admin and a
	// clinic's staff, so a full scan is acceptable.
	ListEnabled(ctx context.Context) ([]domain.Identity, error)
	Update(ctx context.Context, identityID string, updates map[string]interface{}) error
	MarkEmailVerified(ctx context.Context, identityID string) error
	StartTOTP(ctx context.Context, identityID, sealedSecret string, backupHashes []string) error
	EnableTOTP(ctx context.Context, identityID string) error
	ClaimTOTPStep(ctx context.Context, identityID string, step int64) error
	ConsumeBackupCode(ctx context.Context, identityID, hash string) error
}

// SessionRepository is the minimal interface the router requires from a session store.
type SessionRepository interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionKey string) (*domain.Session, error)
	Promote(ctx context.Context, sessionKey string, expiresAt, purgeAt int64, now time.Time) (*domain.Session, error)
	Revoke(ctx context.Context, sessionKey string) error
	AddFactorFailure(ctx context.Context, sessionKey string) (int, error)
}

// CodeRepository is the minimal interface the router requires from a one-time-code store.
type CodeRepository interface {
	Put(ctx context.Context, c *domain.OneTimeCode) error
	Get(ctx context.Context, sessionKey string) (*domain.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, sessionKey, codeID string) (int, error)
	Consume(ctx context.Context, sessionKey, codeID string, now time.Time) error
	Delete(ctx context.Context, sessionKey, codeID string) error
}

// LockoutStore is the minimal interface the router requires from the lockout backend.
type LockoutStore interface {
	Reserve(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error)
	Fail(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error)
	Get(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error)
	Reset(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string) error
	Clear(ctx context.Context, ref string) error
}

// ResendThrottle gates how often a code may be mailed for one session.
type ResendThrottle interface {
	Acquire(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error)
	Release(ctx context.Context, key string) error
}

// SecretSealer encrypts authenticator secrets at rest.
type SecretSealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

// BearerProvider signs and verifies the bearer JWT issued after the second factor.
type BearerProvider interface {
	Sign(identityID, class, sessionKey string, expiresAt time.Time) (string, error)
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}
