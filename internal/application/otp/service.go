// Package otp issues and checks the email one-time codes that complete sign-in.
// Each session holds at most one code; a resend overwrites it.
package otp

import (
	"context"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
)

type sessionService interface {
	Validate(ctx context.Context, token string) (*domain.Session, error)
	Promote(ctx context.Context, token string) (*domain.Session, error)
	RecordFactorFailure(ctx context.Context, sess *domain.Session, limit int) (bool, error)
}

// authenticator redeems authenticator app and backup codes for identities that
// enabled them.
type authenticator interface {
	Redeem(ctx context.Context, identity *domain.Identity, code string) (bool, error)
}

type codeStore interface {
	Put(ctx context.Context, c *domain.OneTimeCode) error
	Get(ctx context.Context, sessionKey string) (*domain.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, sessionKey, codeID string) (int, error)
	Consume(ctx context.Context, sessionKey, codeID string, now time.Time) error
	Delete(ctx context.Context, sessionKey, codeID string) error
}

type identityStore interface {
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	MarkEmailVerified(ctx context.Context, identityID string) error
}

type throttle interface {
	Acquire(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error)
	Release(ctx context.Context, key string) error
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type bearerSigner interface {
	Sign(identityID, class, sessionKey string, expiresAt time.Time) (string, error)
}

type auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Settings are the code tunables.
type Settings struct {
	Lifetime       time.Duration
	ResendInterval time.Duration
	MaxAttempts    int
	Digits         int
	// BypassCode is accepted in place of the real code in builds without the
	// production tag. Empty disables it.
	BypassCode string
}

type ServiceDeps struct {
	Sessions      sessionService
	CodeRepo      codeStore
	IdentityRepo  identityStore
	Throttle      throttle
	Mailer        mailer
	Signer        bearerSigner
	// Authenticator is optional. Without it only emailed codes complete sign-in.
	Authenticator authenticator
	Audit         auditor
	Settings      Settings
	Now           func() time.Time
}

type Service struct {
	sessions   sessionService
	codes      codeStore
	identities identityStore
	throttle   throttle
	mailer     mailer
	signer     bearerSigner
	authn      authenticator
	audit      auditor
	settings   Settings
	now        func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		sessions:   deps.Sessions,
		codes:      deps.CodeRepo,
		identities: deps.IdentityRepo,
		throttle:   deps.Throttle,
		mailer:     deps.Mailer,
		signer:     deps.Signer,
		authn:      deps.Authenticator,
		audit:      deps.Audit,
		settings:   deps.Settings,
		now:        now,
	}
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, e)
	}
}
