// Package lockout tracks failed PIN attempts per source and answers whether a source
// may try again. It never returns an error: a store failure yields a locked verdict.
package lockout

import (
	"context"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"go.uber.org/zap"
)

// BackendFailureRetry is the cooldown reported when the lockout store is unreachable.
const BackendFailureRetry = 30 * time.Second

type store interface {
	Reserve(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error)
	Fail(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error)
	Get(ctx context.Context, ref string, now time.Time) (domain.LockoutState, error)
	Reset(ctx context.Context, ref string) error
	Release(ctx context.Context, ref string) error
	Clear(ctx context.Context, ref string) error
}

type alerter interface {
	AlertLockout(ctx context.Context, ref string, failures int, lockedUntil time.Time) error
}

type auditor interface {
	Record(ctx context.Context, e audit.Event)
}

type Deps struct {
	Store   store
	Alerter alerter
	Audit   auditor
	Now     func() time.Time
}

type Tracker struct {
	store   store
	alerter alerter
	audit   auditor
	now     func() time.Time
}

func NewTracker(deps Deps) *Tracker {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: deps.Store, alerter: deps.Alerter, audit: deps.Audit, now: now}
}

// SourceRef is the lockout reference for a PIN submitted from ip.
func SourceRef(ip string) string { return "pin:src:" + ip }

// Reserve claims one attempt for ref before its PIN is compared. The attempt may go ahead
// only when the state is neither Locked nor Busy, and must then be settled with
// RecordFailure, RecordSuccess or Release.
func (t *Tracker) Reserve(ctx context.Context, ref string) domain.LockoutState {
	now := t.now()
	st, err := t.store.Reserve(ctx, ref, now)
	if err != nil {
		logger.L().Error("lockout store failure", zap.String("ref", ref), zap.Error(err))
		return failClosed(now)
	}
	return st
}

// Release returns a reservation whose PIN was never judged.
func (t *Tracker) Release(ctx context.Context, ref string) {
	if err := t.store.Release(ctx, ref); err != nil {
		logger.L().Warn("lockout release failed", zap.String("ref", ref), zap.Error(err))
	}
}

// RecordFailure counts one failed PIN and reports whether ref is now locked.
func (t *Tracker) RecordFailure(ctx context.Context, ref string) domain.LockoutState {
	now := t.now()
	st, err := t.store.Fail(ctx, ref, now)
	if err != nil {
		logger.L().Error("lockout store failure", zap.String("ref", ref), zap.Error(err))
		return failClosed(now)
	}
	// Failures is zero when the ref was already locked; only a fresh lock alerts.
	if st.Locked && st.Failures > 0 {
		t.onLocked(ctx, ref, st)
	}
	return st
}

// RecordSuccess settles a reservation and resets the failure counter for ref.
func (t *Tracker) RecordSuccess(ctx context.Context, ref string) {
	if err := t.store.Reset(ctx, ref); err != nil {
		logger.L().Warn("lockout reset failed", zap.String("ref", ref), zap.Error(err))
	}
}

// Check returns the current verdict for ref without mutating it.
func (t *Tracker) Check(ctx context.Context, ref string) domain.LockoutState {
	now := t.now()
	st, err := t.store.Get(ctx, ref, now)
	if err != nil {
		logger.L().Error("lockout store failure", zap.String("ref", ref), zap.Error(err))
		return failClosed(now)
	}
	return st
}

// Clear lifts a lockout early. Used by the administrator.
func (t *Tracker) Clear(ctx context.Context, ref string) error {
	if err := t.store.Clear(ctx, ref); err != nil {
		return err
	}
	if t.audit != nil {
		t.audit.Record(ctx, audit.Event{Type: audit.LockoutCleared, Source: ref})
	}
	return nil
}

func (t *Tracker) onLocked(ctx context.Context, ref string, st domain.LockoutState) {
	logger.L().Warn("pin source locked",
		zap.String("ref", ref),
		zap.Int("failures", st.Failures),
		zap.Time("locked_until", st.LockedUntil),
	)
	if t.audit != nil {
		t.audit.Record(ctx, audit.Event{Type: audit.PINLocked, Source: ref})
	}
	if t.alerter == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := t.alerter.AlertLockout(alertCtx, ref, st.Failures, st.LockedUntil); err != nil {
		logger.L().Warn("lockout alert failed", zap.String("ref", ref), zap.Error(err))
	}
}

func failClosed(now time.Time) domain.LockoutState {
	return domain.LockoutState{
		Locked:      true,
		LockedUntil: now.Add(BackendFailureRetry),
		Remaining:   BackendFailureRetry,
	}
}
