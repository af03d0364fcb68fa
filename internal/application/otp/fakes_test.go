package otp

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/clinic-intake-api/internal/domain"
	"github.com/stretchr/testify/mock"
)

// codeMemStore mirrors the conditional writes of the DynamoDB code table.
type codeMemStore struct {
	mu    sync.Mutex
	items map[string]domain.OneTimeCode
}

func newCodeMemStore() *codeMemStore {
	return &codeMemStore{items: map[string]domain.OneTimeCode{}}
}

func (s *codeMemStore) Put(_ context.Context, c *domain.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.SessionKey] = *c
	return nil
}

func (s *codeMemStore) Get(_ context.Context, key string) (*domain.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (s *codeMemStore) IncrementAttempts(_ context.Context, key, codeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[key]
	if !ok || c.CodeID != codeID || c.Consumed {
		return 0, domain.ErrConflict
	}
	c.Attempts++
	s.items[key] = c
	return c.Attempts, nil
}

func (s *codeMemStore) Consume(_ context.Context, key, codeID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[key]
	if !ok || c.CodeID != codeID || c.Consumed {
		return domain.ErrConflict
	}
	c.Consumed = true
	c.ConsumedAt = &now
	s.items[key] = c
	return nil
}

func (s *codeMemStore) Delete(_ context.Context, key, codeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[key]
	if !ok || c.CodeID != codeID {
		return domain.ErrConflict
	}
	delete(s.items, key)
	return nil
}

// sessionMemStore mirrors the conditional writes of the DynamoDB session table.
type sessionMemStore struct {
	mu    sync.Mutex
	items map[string]domain.Session
}

func newSessionMemStore() *sessionMemStore {
	return &sessionMemStore{items: map[string]domain.Session{}}
}

func (s *sessionMemStore) Put(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[sess.SessionKey]; ok {
		return domain.ErrConflict
	}
	cp := *sess
	cp.Identity = nil
	s.items[sess.SessionKey] = cp
	return nil
}

func (s *sessionMemStore) Get(_ context.Context, key string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sess, nil
}

func (s *sessionMemStore) Promote(_ context.Context, key string, expiresAt, purgeAt int64, now time.Time) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[key]
	if !ok || sess.Stage != domain.StagePINVerified || sess.Revoked {
		return nil, domain.ErrConflict
	}
	sess.Stage = domain.StageFullyAuthenticated
	sess.ExpiresAt = expiresAt
	sess.PurgeAt = purgeAt
	sess.PromotedAt = &now
	s.items[key] = sess
	return &sess, nil
}

func (s *sessionMemStore) Revoke(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[key]
	if !ok {
		return domain.ErrConflict
	}
	sess.Revoked = true
	s.items[key] = sess
	return nil
}

func (s *sessionMemStore) AddFactorFailure(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.items[key]
	if !ok || sess.Stage != domain.StagePINVerified || sess.Revoked {
		return 0, domain.ErrConflict
	}
	sess.FactorFailures++
	s.items[key] = sess
	return sess.FactorFailures, nil
}

// identityMemStore holds identities by id.
type identityMemStore struct {
	mu    sync.Mutex
	items map[string]domain.Identity
}

func newIdentityMemStore(ids ...domain.Identity) *identityMemStore {
	s := &identityMemStore{items: map[string]domain.Identity{}}
	for _, i := range ids {
		s.items[i.IdentityID] = i
	}
	return s
}

func (s *identityMemStore) Get(_ context.Context, id string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &i, nil
}

func (s *identityMemStore) ListEnabled(_ context.Context) ([]domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Identity, 0, len(s.items))
	for _, i := range s.items {
		if i.Enable {
			out = append(out, i)
		}
	}
	return out, nil
}

func (s *identityMemStore) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	i.EmailVerified = true
	i.TwoFAEnabled = true
	s.items[id] = i
	return nil
}

// --- mocks ---

type mockThrottle struct{ mock.Mock }

func (m *mockThrottle) Acquire(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error) {
	args := m.Called(ctx, key, interval)
	return args.Bool(0), args.Get(1).(time.Duration), args.Error(2)
}
func (m *mockThrottle) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// mailbox captures the last code sent to each address.
type mailbox struct {
	mu   sync.Mutex
	last map[string]string
	fail error
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func newMailbox() *mailbox { return &mailbox{last: map[string]string{}} }

func (m *mailbox) SendEmail(to, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.last[to] = codePattern.FindString(body)
	return nil
}

func (m *mailbox) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[to]
}

type mockSigner struct{ mock.Mock }

func (m *mockSigner) Sign(identityID, class, sessionKey string, expiresAt time.Time) (string, error) {
	args := m.Called(identityID, class, sessionKey, expiresAt)
	return args.String(0), args.Error(1)
}

func (s *identityMemStore) StartTOTP(_ context.Context, id, sealed string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return domain.ErrConflict
	}
	i.TOTPSecret, i.TOTPEnabled, i.TOTPLastStep = sealed, false, 0
	i.BackupCodeHashes = append([]string(nil), hashes...)
	s.items[id] = i
	return nil
}

func (s *identityMemStore) EnableTOTP(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return domain.ErrConflict
	}
	i.TOTPEnabled = true
	s.items[id] = i
	return nil
}

func (s *identityMemStore) ClaimTOTPStep(_ context.Context, id string, step int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok || !i.TOTPEnabled || i.TOTPLastStep >= step {
		return domain.ErrConflict
	}
	i.TOTPLastStep = step
	s.items[id] = i
	return nil
}

func (s *identityMemStore) ConsumeBackupCode(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.items[id]
	if !ok {
		return domain.ErrConflict
	}
	for n, h := range i.BackupCodeHashes {
		if h == hash {
			i.BackupCodeHashes = append(i.BackupCodeHashes[:n:n], i.BackupCodeHashes[n+1:]...)
			s.items[id] = i
			return nil
		}
	}
	return domain.ErrConflict
}
