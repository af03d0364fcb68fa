// Package audit records authentication events. Every event is logged through zap and,
// when a publisher is configured, queued for asynchronous shipping to Kafka for
// retention outside the API.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinic-intake-api/internal/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	PINAccepted    = "pin_accepted"
	PINRejected    = "pin_rejected"
	PINLocked      = "pin_locked"
	LockoutCleared = "lockout_cleared"
	CodeSent       = "code_sent"
	CodeRejected   = "code_rejected"
	CodeAccepted   = "code_accepted"
	EmailVerified  = "email_verified"
	SessionRevoked = "session_revoked"
	TOTPEnabled    = "totp_enabled"
	BackupCodeUsed = "backup_code_used"
	StaffCreated   = "staff_created"
	StaffDisabled  = "staff_disabled"
)

type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	IdentityID string            `json:"identity_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Source     string            `json:"source,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	At         time.Time         `json:"at"`
}

type publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// BufferSize is how many events may wait for the publisher before new ones are dropped.
const BufferSize = 256

// publishTimeout bounds one Kafka write from the drain goroutine.
const publishTimeout = 5 * time.Second

// Recorder is safe for concurrent use. Events are logged on the caller's goroutine and
// published from a single background goroutine, so a slow broker never delays sign-in.
type Recorder struct {
	pub       publisher
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRecorder accepts a nil publisher, in which case events are only logged and no
// goroutine is started.
func NewRecorder(pub publisher) *Recorder {
	r := &Recorder{pub: pub}
	if pub == nil {
		return r
	}
	r.ch = make(chan Event, BufferSize)
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.run()
	return r
}

// Record never fails the caller. Publishing errors are logged and dropped, and so are
// events that arrive while the buffer is full or after Close.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	logger.L().Info("auth event",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.String("identity_id", e.IdentityID),
		zap.String("session_id", e.SessionID),
		zap.String("source", e.Source),
		zap.Any("detail", e.Detail),
	)
	if r.pub == nil || r.closed.Load() {
		return
	}
	select {
	case r.ch <- e:
	case <-r.done:
	default:
		r.dropped.Add(1)
		logger.L().Warn("audit buffer full, event dropped", zap.String("event_id", e.ID))
	}
}

// Close stops accepting events, publishes what is buffered and waits for the drain
// goroutine. Call it before closing the publisher.
func (r *Recorder) Close() {
	if r == nil || r.pub == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped counts events that never reached the publisher because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.ch:
			r.publish(e)
		case <-r.done:
			for {
				select {
				case e := <-r.ch:
					r.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logger.L().Warn("audit marshal failed", zap.Error(err))
		return
	}
	key := e.IdentityID
	if key == "" {
		key = e.Source
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.pub.Publish(ctx, key, payload); err != nil {
		logger.L().Warn("audit publish failed", zap.String("event_id", e.ID), zap.Error(err))
	}
}
