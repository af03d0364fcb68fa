// Package pin implements the first authentication factor: a 4-digit PIN checked against
// every enabled identity, guarded by the lockout tracker.
package pin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/application/lockout"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/clinic-intake-api/internal/pkg/otpcode"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const pinLength = 4

// BusyRetry is the wait suggested when every attempt left for a source is in flight.
const BusyRetry = time.Second

type identityStore interface {
	ListEnabled(ctx context.Context) ([]domain.Identity, error)
}

type lockoutTracker interface {
	Reserve(ctx context.Context, ref string) domain.LockoutState
	Release(ctx context.Context, ref string)
	RecordFailure(ctx context.Context, ref string) domain.LockoutState
	RecordSuccess(ctx context.Context, ref string)
}

type sessionIssuer interface {
	Issue(ctx context.Context, identity *domain.Identity, needsEnrollment bool) (string, *domain.Session, error)
}

type auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Result is the outcome of a correct PIN.
type Result struct {
	Identity            *domain.Identity
	SessionToken        string
	Session             *domain.Session
	RequiresEnrollment  bool
	SecondFactorEnabled bool
	ContactEmail        string
}

type ServiceDeps struct {
	IdentityRepo identityStore
	Lockout      lockoutTracker
	Sessions     sessionIssuer
	Audit        auditor
}

type Service struct {
	identities identityStore
	lockout    lockoutTracker
	sessions   sessionIssuer
	audit      auditor
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		identities: deps.IdentityRepo,
		lockout:    deps.Lockout,
		sessions:   deps.Sessions,
		audit:      deps.Audit,
	}
}

// Verify checks pin submitted from source (the client address).
// It fails with *domain.LockedOutError, *domain.RateLimitedError or domain.ErrInvalidPin.
//
// An attempt is reserved before the PIN is compared, so concurrent guesses from one
// source never get more comparisons than the lockout threshold allows.
func (s *Service) Verify(ctx context.Context, source, pin string) (*Result, error) {
	ref := lockout.SourceRef(source)

	st := s.lockout.Reserve(ctx, ref)
	switch {
	case st.Locked:
		return nil, &domain.LockedOutError{Remaining: st.Remaining}
	case st.Busy:
		return nil, &domain.RateLimitedError{RetryAfter: BusyRetry, Action: "trying another PIN"}
	}

	var match *domain.Identity
	if len(pin) == pinLength && otpcode.IsNumeric(pin) {
		identities, err := s.identities.ListEnabled(ctx)
		if err != nil {
			s.lockout.Release(ctx, ref)
			return nil, fmt.Errorf("list identities: %w", err)
		}
		match = matchPIN(identities, pin)
	}

	if match == nil {
		st := s.lockout.RecordFailure(ctx, ref)
		s.record(ctx, audit.Event{Type: audit.PINRejected, Source: ref})
		if st.Locked {
			return nil, &domain.LockedOutError{Remaining: st.Remaining}
		}
		return nil, domain.ErrInvalidPin
	}
	s.lockout.RecordSuccess(ctx, ref)

	needsEnrollment := match.NeedsEnrollment()
	tok, sess, err := s.sessions.Issue(ctx, match, needsEnrollment)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Event{
		Type:       audit.PINAccepted,
		IdentityID: match.IdentityID,
		SessionID:  sess.SessionID,
		Source:     ref,
		Detail:     map[string]string{"enrollment": fmt.Sprint(needsEnrollment)},
	})
	return &Result{
		Identity:            match,
		SessionToken:        tok,
		Session:             sess,
		RequiresEnrollment:  needsEnrollment,
		SecondFactorEnabled: match.SecondFactorEnabled(),
		ContactEmail:        match.Email,
	}, nil
}

// matchPIN compares pin against every identity, admin first, without stopping at the
// first hit. When two identities share a PIN the earlier one wins.
func matchPIN(identities []domain.Identity, pin string) *domain.Identity {
	sort.SliceStable(identities, func(i, j int) bool {
		return identities[i].IsAdmin() && !identities[j].IsAdmin()
	})
	var match *domain.Identity
	hits := 0
	for i := range identities {
		err := bcrypt.CompareHashAndPassword([]byte(identities[i].PINHash), []byte(pin))
		if err == nil {
			hits++
			if match == nil {
				match = &identities[i]
			}
		} else if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.L().Warn("unreadable pin hash", zap.String("identity_id", identities[i].IdentityID), zap.Error(err))
		}
	}
	if hits > 1 {
		logger.L().Warn("pin shared by several identities", zap.Int("count", hits))
	}
	return match
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, e)
	}
}
