package otp

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/id"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/clinic-intake-api/internal/pkg/otpcode"
	"go.uber.org/zap"
)

// purgeGrace keeps spent codes readable long enough to answer AlreadyConsumed.
const purgeGrace = time.Hour

// Dispatch describes a code that was just mailed.
type Dispatch struct {
	ExpiresAt         time.Time
	ResendAvailableAt time.Time
	Destination       string
}

// SendCode mails a fresh code for the session behind token, superseding any earlier one.
func (s *Service) SendCode(ctx context.Context, token string) (*Dispatch, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.FullyAuthenticated() {
		return nil, fmt.Errorf("session already authenticated: %w", domain.ErrBadRequest)
	}

	ok, wait, err := s.throttle.Acquire(ctx, sess.SessionKey, s.settings.ResendInterval)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.RateLimitedError{RetryAfter: wait}
	}

	dispatch, err := s.issue(ctx, sess)
	if err != nil {
		if relErr := s.throttle.Release(ctx, sess.SessionKey); relErr != nil {
			logger.L().Warn("release resend throttle", zap.String("session_id", sess.SessionID), zap.Error(relErr))
		}
		return nil, err
	}
	return dispatch, nil
}

func (s *Service) issue(ctx context.Context, sess *domain.Session) (*Dispatch, error) {
	identity, err := s.identities.Get(ctx, sess.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	code, err := otpcode.Generate(s.settings.Digits)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	exp := now.Add(s.settings.Lifetime)
	rec := &domain.OneTimeCode{
		SessionKey: sess.SessionKey,
		CodeID:     id.New(),
		CodeHash:   otpcode.Hash(code),
		CreatedAt:  now,
		ExpiresAt:  exp.Unix(),
		PurgeAt:    exp.Add(purgeGrace).Unix(),
	}
	if err := s.codes.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}

	subject, body := composeMail(code, s.settings.Lifetime, sess.NeedsEmailVerification)
	if err := s.mailer.SendEmail(identity.Email, subject, body); err != nil {
		logger.L().Error("code delivery failed", zap.String("session_id", sess.SessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrMailDeliveryFailed, err)
	}

	s.record(ctx, audit.Event{
		Type:       audit.CodeSent,
		IdentityID: sess.IdentityID,
		SessionID:  sess.SessionID,
		Detail:     map[string]string{"code_id": rec.CodeID},
	})
	return &Dispatch{
		ExpiresAt:         exp,
		ResendAvailableAt: now.Add(s.settings.ResendInterval),
		Destination:       MaskEmail(identity.Email),
	}, nil
}

func composeMail(code string, lifetime time.Duration, enrollment bool) (string, string) {
	minutes := int(math.Ceil(lifetime.Minutes()))
	if enrollment {
		return "Verify your email address",
			fmt.Sprintf("Enter this code to confirm your email address and finish signing in: %s\n\n"+
				"The code expires in %d minute(s). If you did not try to sign in, contact the clinic administrator.\n", code, minutes)
	}
	return "Your sign-in code",
		fmt.Sprintf("Your sign-in code is %s\n\n"+
			"The code expires in %d minute(s). If you did not try to sign in, contact the clinic administrator.\n", code, minutes)
}

// MaskEmail keeps the first character of the local part and the whole domain.
func MaskEmail(email string) string {
	local, domainPart, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domainPart
}
