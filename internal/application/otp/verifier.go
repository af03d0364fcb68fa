package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/clinic-intake-api/internal/pkg/otpcode"
	"go.uber.org/zap"
)

// VerifyResult is a completed sign-in.
type VerifyResult struct {
	Session     *domain.Session
	Identity    *domain.Identity
	AccessToken string
}

// VerifyCode checks code for the session behind token. On success the code is consumed,
// the session is promoted, and an enrolling identity gets its email marked verified.
// An identity with an authenticator enabled may answer with an authenticator code or a
// backup code instead of the emailed one.
func (s *Service) VerifyCode(ctx context.Context, token, code string) (*VerifyResult, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	rec, err := s.codes.Get(ctx, sess.SessionKey)
	if errors.Is(err, domain.ErrNotFound) {
		rec, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := rec != nil && !rec.Consumed && !rec.Expired(now)

	if live && (otpcode.Equal(code, rec.CodeHash) || s.bypass(code)) {
		if err := s.codes.Consume(ctx, sess.SessionKey, rec.CodeID, now); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return nil, s.raceOutcome(ctx, sess.SessionKey, rec.CodeID)
			}
			return nil, err
		}
		return s.complete(ctx, token, sess, "email")
	}

	identity, err := s.authenticatorIdentity(ctx, sess)
	if err != nil {
		return nil, err
	}
	if identity != nil {
		redeemed, err := s.authn.Redeem(ctx, identity, code)
		if err != nil {
			return nil, err
		}
		if redeemed {
			if live {
				if err := s.codes.Delete(ctx, sess.SessionKey, rec.CodeID); err != nil && !errors.Is(err, domain.ErrConflict) {
					logger.L().Warn("drop superseded code", zap.String("session_id", sess.SessionID), zap.Error(err))
				}
			}
			return s.complete(ctx, token, sess, "authenticator")
		}
		if !live {
			return nil, s.factorMismatch(ctx, sess)
		}
	}

	switch {
	case rec == nil:
		return nil, domain.ErrNoActiveCode
	case rec.Consumed:
		return nil, domain.ErrCodeAlreadyConsumed
	case rec.Expired(now):
		return nil, domain.ErrCodeExpired
	}
	return nil, s.mismatch(ctx, sess, rec)
}

// complete promotes the session after a second factor was accepted and signs the bearer.
func (s *Service) complete(ctx context.Context, token string, sess *domain.Session, factor string) (*VerifyResult, error) {
	promoted, err := s.sessions.Promote(ctx, token)
	if err != nil {
		return nil, err
	}

	// Enrollment completes only with a promoted session.
	if sess.NeedsEmailVerification {
		if err := s.identities.MarkEmailVerified(ctx, sess.IdentityID); err != nil {
			return nil, fmt.Errorf("mark email verified: %w", err)
		}
		s.record(ctx, audit.Event{Type: audit.EmailVerified, IdentityID: sess.IdentityID, SessionID: sess.SessionID})
	}
	identity, err := s.identities.Get(ctx, promoted.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	promoted.Identity = identity

	bearer, err := s.signer.Sign(identity.IdentityID, identity.Class, promoted.SessionKey, time.Unix(promoted.ExpiresAt, 0))
	if err != nil {
		return nil, fmt.Errorf("sign bearer: %w", err)
	}

	s.record(ctx, audit.Event{
		Type:       audit.CodeAccepted,
		IdentityID: sess.IdentityID,
		SessionID:  sess.SessionID,
		Detail:     map[string]string{"factor": factor},
	})
	return &VerifyResult{Session: promoted, Identity: identity, AccessToken: bearer}, nil
}

// authenticatorIdentity returns the session's identity when an authenticator code may
// stand in for the emailed one, and nil otherwise. Enrollment must prove the email
// address, so it never may.
func (s *Service) authenticatorIdentity(ctx context.Context, sess *domain.Session) (*domain.Identity, error) {
	if s.authn == nil || sess.NeedsEmailVerification || sess.Stage != domain.StagePINVerified {
		return nil, nil
	}
	identity, err := s.identities.Get(ctx, sess.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !identity.TOTPEnabled {
		return nil, nil
	}
	return identity, nil
}

// factorMismatch counts a wrong authenticator guess that no live emailed code can
// absorb. The session is revoked after MaxAttempts of them.
func (s *Service) factorMismatch(ctx context.Context, sess *domain.Session) error {
	revoked, err := s.sessions.RecordFactorFailure(ctx, sess, s.settings.MaxAttempts)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ErrCodeMismatch
		}
		return err
	}
	s.record(ctx, audit.Event{Type: audit.CodeRejected, IdentityID: sess.IdentityID, SessionID: sess.SessionID})
	if revoked {
		return fmt.Errorf("too many wrong codes, sign in again: %w", domain.ErrCodeMismatch)
	}
	return domain.ErrCodeMismatch
}

// mismatch counts a wrong guess against rec and deletes rec once the guesses run out.
func (s *Service) mismatch(ctx context.Context, sess *domain.Session, rec *domain.OneTimeCode) error {
	attempts, err := s.codes.IncrementAttempts(ctx, sess.SessionKey, rec.CodeID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.raceOutcome(ctx, sess.SessionKey, rec.CodeID)
		}
		return err
	}
	s.record(ctx, audit.Event{
		Type:       audit.CodeRejected,
		IdentityID: sess.IdentityID,
		SessionID:  sess.SessionID,
		Detail:     map[string]string{"attempts": fmt.Sprint(attempts)},
	})
	if attempts >= s.settings.MaxAttempts {
		if err := s.codes.Delete(ctx, sess.SessionKey, rec.CodeID); err != nil && !errors.Is(err, domain.ErrConflict) {
			logger.L().Warn("invalidate code", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
		return fmt.Errorf("too many wrong codes, request a new one: %w", domain.ErrCodeMismatch)
	}
	return domain.ErrCodeMismatch
}

// raceOutcome explains a conditional write that lost against a concurrent verify or resend.
func (s *Service) raceOutcome(ctx context.Context, sessionKey, codeID string) error {
	cur, err := s.codes.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCodeMismatch
		}
		return err
	}
	if cur.CodeID == codeID && cur.Consumed {
		return domain.ErrCodeAlreadyConsumed
	}
	return domain.ErrCodeMismatch
}

func (s *Service) bypass(code string) bool {
	if !bypassCompiledIn || s.settings.BypassCode == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(s.settings.BypassCode)) == 1
}
