// Package session mints and checks the opaque session tokens that bridge the PIN step
// and the email code step. Only token hashes are stored.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/id"
	pkgtoken "github.com/clinic-intake-api/internal/pkg/token"
)

// purgeGrace keeps expired records around briefly so late requests still read SessionExpired.
const purgeGrace = 24 * time.Hour

type sessionStore interface {
	Put(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, sessionKey string) (*domain.Session, error)
	Promote(ctx context.Context, sessionKey string, expiresAt, purgeAt int64, now time.Time) (*domain.Session, error)
	Revoke(ctx context.Context, sessionKey string) error
	AddFactorFailure(ctx context.Context, sessionKey string) (int, error)
}

type identityStore interface {
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
}

type auditor interface {
	Record(ctx context.Context, e audit.Event)
}

type ServiceDeps struct {
	SessionRepo  sessionStore
	IdentityRepo identityStore
	Audit        auditor
	PendingTTL   time.Duration
	FullTTL      time.Duration
	Now          func() time.Time
}

// Service issues, validates and promotes sessions.
type Service struct {
	repo       sessionStore
	identities identityStore
	audit      auditor
	pendingTTL time.Duration
	fullTTL    time.Duration
	now        func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       deps.SessionRepo,
		identities: deps.IdentityRepo,
		audit:      deps.Audit,
		pendingTTL: deps.PendingTTL,
		fullTTL:    deps.FullTTL,
		now:        now,
	}
}

// Issue mints a pin_verified session for identity and returns the raw token.
func (s *Service) Issue(ctx context.Context, identity *domain.Identity, needsEnrollment bool) (string, *domain.Session, error) {
	tok, err := pkgtoken.NewSessionToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	exp := now.Add(s.pendingTTL)
	sess := &domain.Session{
		SessionKey:             pkgtoken.Key(tok),
		SessionID:              id.New(),
		IdentityID:             identity.IdentityID,
		IdentityClass:          identity.Class,
		Stage:                  domain.StagePINVerified,
		NeedsEmailVerification: needsEnrollment,
		IssuedAt:               now,
		ExpiresAt:              exp.Unix(),
		PurgeAt:                exp.Add(purgeGrace).Unix(),
	}
	if err := s.repo.Put(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}
	sess.Identity = identity
	return tok, sess, nil
}

// Validate resolves a raw token to a live session at any stage.
func (s *Service) Validate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrUnknownSession
	}
	return s.load(ctx, pkgtoken.Key(token))
}

// Promote moves a pin_verified session to fully_authenticated. The one caller is the
// code verifier, after a code has been consumed.
func (s *Service) Promote(ctx context.Context, token string) (*domain.Session, error) {
	sess, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.FullyAuthenticated() {
		return nil, fmt.Errorf("session already authenticated: %w", domain.ErrConflict)
	}
	now := s.now().UTC()
	exp := now.Add(s.fullTTL)
	promoted, err := s.repo.Promote(ctx, sess.SessionKey, exp.Unix(), exp.Add(purgeGrace).Unix(), now)
	if err != nil {
		return nil, fmt.Errorf("promote session: %w", err)
	}
	return promoted, nil
}

// Authorize checks a session key taken from a verified bearer. The session must be
// fully authenticated, unrevoked and unexpired.
func (s *Service) Authorize(ctx context.Context, sessionKey string) (*domain.Session, error) {
	sess, err := s.load(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if !sess.FullyAuthenticated() {
		return nil, fmt.Errorf("second factor not completed: %w", domain.ErrUnauthorized)
	}
	return sess, nil
}

// Current is Authorize plus the bound identity.
func (s *Service) Current(ctx context.Context, sessionKey string) (*domain.Session, error) {
	sess, err := s.Authorize(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	identity, err := s.identities.Get(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	sess.Identity = identity
	return sess, nil
}

// Revoke ends a session before its natural expiry.
func (s *Service) Revoke(ctx context.Context, sessionKey string) error {
	sess, err := s.repo.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUnknownSession
		}
		return err
	}
	if err := s.repo.Revoke(ctx, sessionKey); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{Type: audit.SessionRevoked, IdentityID: sess.IdentityID, SessionID: sess.SessionID})
	}
	return nil
}

// RecordFactorFailure counts a rejected second-factor code against a pending session
// and revokes the session once limit codes have been rejected. It reports whether the
// session was revoked.
func (s *Service) RecordFactorFailure(ctx context.Context, sess *domain.Session, limit int) (bool, error) {
	n, err := s.repo.AddFactorFailure(ctx, sess.SessionKey)
	if err != nil {
		return false, fmt.Errorf("count factor failure: %w", err)
	}
	if n < limit {
		return false, nil
	}
	if err := s.repo.Revoke(ctx, sess.SessionKey); err != nil {
		return false, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{
			Type:       audit.SessionRevoked,
			IdentityID: sess.IdentityID,
			SessionID:  sess.SessionID,
			Detail:     map[string]string{"reason": "factor_failures"},
		})
	}
	return true, nil
}

func (s *Service) load(ctx context.Context, sessionKey string) (*domain.Session, error) {
	sess, err := s.repo.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownSession
		}
		return nil, err
	}
	if sess.Revoked {
		return nil, domain.ErrUnknownSession
	}
	if sess.Expired(s.now()) {
		return nil, domain.ErrSessionExpired
	}
	return sess, nil
}
