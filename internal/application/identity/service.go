package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/id"
	"github.com/clinic-intake-api/internal/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminID is the fixed key of the single administrator identity.
const AdminID = "admin"

// DynamoDB attribute names used in partial update maps.
const (
	fieldPINHash       = "pin_hash"
	fieldEmail         = "email"
	fieldFirstName     = "first_name"
	fieldLastName      = "last_name"
	fieldEnable        = "enable"
	fieldTwoFAEnabled  = "two_fa_enabled"
	fieldEmailVerified = "email_verified"
)

type identityStore interface {
	Create(ctx context.Context, i *domain.Identity) error
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	ListEnabled(ctx context.Context) ([]domain.Identity, error)
	Update(ctx context.Context, identityID string, updates map[string]interface{}) error
}

type auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// AdminSeed is the administrator as described by configuration.
type AdminSeed struct {
	PINHash   string
	Email     string
	FirstName string
	LastName  string
}

type ServiceDeps struct {
	IdentityRepo identityStore
	Audit        auditor
	BcryptCost   int
	Now          func() time.Time
}

type Service struct {
	repo       identityStore
	audit      auditor
	bcryptCost int
	now        func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{repo: deps.IdentityRepo, audit: deps.Audit, bcryptCost: cost, now: now}
}

// CreateStaff provisions a staff identity. PINs are the only sign-in credential, so a PIN
// already held by another enabled identity is refused.
func (s *Service) CreateStaff(ctx context.Context, req domain.CreateStaffRequest) (*domain.Identity, error) {
	existing, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].PINHash == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(existing[i].PINHash), []byte(req.PIN)) == nil {
			return nil, fmt.Errorf("pin already assigned: %w", domain.ErrConflict)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ident := &domain.Identity{
		IdentityID:  id.New(),
		Class:       domain.ClassStaff,
		PINHash:     string(hash),
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Permissions: req.Permissions,
		Enable:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, ident); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Event{Type: audit.StaffCreated, IdentityID: ident.IdentityID})
	return ident, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Identity, error) {
	return s.repo.ListEnabled(ctx)
}

func (s *Service) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	return s.repo.Get(ctx, identityID)
}

// Disable stops a staff identity from signing in. The administrator cannot be disabled.
func (s *Service) Disable(ctx context.Context, identityID string) error {
	if identityID == AdminID {
		return fmt.Errorf("the administrator cannot be disabled: %w", domain.ErrForbidden)
	}
	if err := s.repo.Update(ctx, identityID, map[string]interface{}{fieldEnable: false}); err != nil {
		return err
	}
	s.record(ctx, audit.Event{Type: audit.StaffDisabled, IdentityID: identityID})
	return nil
}

// EnsureAdmin creates or refreshes the administrator from seed. An empty PIN hash leaves
// the store untouched.
func (s *Service) EnsureAdmin(ctx context.Context, seed AdminSeed) error {
	if seed.PINHash == "" {
		logger.L().Warn("admin pin hash not configured; admin identity not seeded")
		return nil
	}
	if _, err := bcrypt.Cost([]byte(seed.PINHash)); err != nil {
		return fmt.Errorf("admin pin hash is not a bcrypt hash: %w", err)
	}

	_, err := s.repo.Get(ctx, AdminID)
	if errors.Is(err, domain.ErrNotFound) {
		now := s.now().UTC()
		err = s.repo.Create(ctx, &domain.Identity{
			IdentityID:    AdminID,
			Class:         domain.ClassAdmin,
			PINHash:       seed.PINHash,
			Email:         seed.Email,
			FirstName:     seed.FirstName,
			LastName:      seed.LastName,
			TwoFAEnabled:  true,
			EmailVerified: true,
			Enable:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err == nil {
			logger.L().Info("admin identity seeded", zap.String("email", seed.Email))
		}
		return err
	}
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, AdminID, map[string]interface{}{
		fieldPINHash:       seed.PINHash,
		fieldEmail:         seed.Email,
		fieldFirstName:     seed.FirstName,
		fieldLastName:      seed.LastName,
		fieldTwoFAEnabled:  true,
		fieldEmailVerified: true,
		fieldEnable:        true,
	})
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, e)
	}
}
