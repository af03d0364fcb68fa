// Package totp enrolls an authenticated identity in an authenticator app. Once enabled,
// an authenticator code or a single-use backup code can stand in for the emailed code
// at sign-in. Redeem only checks and burns the code; promotion stays with the caller.
package totp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/pkg/otpcode"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount  = 8
	backupCodeDigits = 10
	qrSize           = 256
	period           = 30
	skew             = 1
)

var codeOpts = totp.ValidateOpts{
	Period:    period,
	Skew:      skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

type identityStore interface {
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	StartTOTP(ctx context.Context, identityID, sealedSecret string, backupHashes []string) error
	EnableTOTP(ctx context.Context, identityID string) error
	ClaimTOTPStep(ctx context.Context, identityID string, step int64) error
	ConsumeBackupCode(ctx context.Context, identityID, hash string) error
}

type sealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

type auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// SetupResult is shown to the user once.
type SetupResult struct {
	Secret      string
	OTPAuthURL  string
	QRCodePNG   string // base64
	BackupCodes []string
}

type ServiceDeps struct {
	IdentityRepo identityStore
	Sealer       sealer
	Audit        auditor
	Issuer       string
	Now          func() time.Time
}

type Service struct {
	identities identityStore
	sealer     sealer
	audit      auditor
	issuer     string
	now        func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		identities: deps.IdentityRepo,
		sealer:     deps.Sealer,
		audit:      deps.Audit,
		issuer:     deps.Issuer,
		now:        now,
	}
}

// Setup generates a new secret and backup codes for identityID. The secret is stored
// sealed and stays inactive until VerifySetup confirms the user can produce codes.
func (s *Service) Setup(ctx context.Context, identityID string) (*SetupResult, error) {
	identity, err := s.identities.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: identity.Email,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}
	qr, err := encodeQR(key)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		c, err := otpcode.Generate(backupCodeDigits)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
		hashes = append(hashes, otpcode.Hash(c))
	}

	sealed, err := s.sealer.Seal(ctx, key.Secret())
	if err != nil {
		return nil, err
	}
	if err := s.identities.StartTOTP(ctx, identityID, sealed, hashes); err != nil {
		return nil, err
	}
	return &SetupResult{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		QRCodePNG:   qr,
		BackupCodes: codes,
	}, nil
}

// VerifySetup activates the pending secret once the user proves it with a valid code.
func (s *Service) VerifySetup(ctx context.Context, identityID, code string) error {
	identity, err := s.identities.Get(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.TOTPSecret == "" {
		return fmt.Errorf("authenticator setup not started: %w", domain.ErrBadRequest)
	}
	secret, err := s.sealer.Open(ctx, identity.TOTPSecret)
	if err != nil {
		return err
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), codeOpts)
	if err != nil || !ok {
		return domain.ErrCodeMismatch
	}
	if err := s.identities.EnableTOTP(ctx, identityID); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{Type: audit.TOTPEnabled, IdentityID: identityID})
	}
	return nil
}

// Redeem checks code as a second factor for identity, which must have the
// authenticator enabled. Six digits are an authenticator code, ten a backup code.
// A matching code is burned before Redeem returns true: an authenticator time step is
// accepted once, a backup code is removed. A code that matched but was already burned
// by a concurrent or earlier sign-in yields ErrCodeAlreadyConsumed.
func (s *Service) Redeem(ctx context.Context, identity *domain.Identity, code string) (bool, error) {
	if !identity.TOTPEnabled || !otpcode.IsNumeric(code) {
		return false, nil
	}
	switch len(code) {
	case int(otp.DigitsSix):
		return s.redeemTOTP(ctx, identity, code)
	case backupCodeDigits:
		return s.redeemBackup(ctx, identity, code)
	}
	return false, nil
}

func (s *Service) redeemTOTP(ctx context.Context, identity *domain.Identity, code string) (bool, error) {
	secret, err := s.sealer.Open(ctx, identity.TOTPSecret)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	for off := -skew; off <= skew; off++ {
		at := now.Add(time.Duration(off*period) * time.Second)
		want, err := totp.GenerateCodeCustom(secret, at, codeOpts)
		if err != nil {
			return false, fmt.Errorf("generate totp code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(want)) != 1 {
			continue
		}
		step := at.Unix() / period
		if step <= identity.TOTPLastStep {
			return false, domain.ErrCodeAlreadyConsumed
		}
		if err := s.identities.ClaimTOTPStep(ctx, identity.IdentityID, step); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return false, domain.ErrCodeAlreadyConsumed
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) redeemBackup(ctx context.Context, identity *domain.Identity, code string) (bool, error) {
	hash := otpcode.Hash(code)
	known := false
	for _, h := range identity.BackupCodeHashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(hash)) == 1 {
			known = true
		}
	}
	if !known {
		return false, nil
	}
	if err := s.identities.ConsumeBackupCode(ctx, identity.IdentityID, hash); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, domain.ErrCodeAlreadyConsumed
		}
		return false, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, audit.Event{Type: audit.BackupCodeUsed, IdentityID: identity.IdentityID})
	}
	return true, nil
}

func encodeQR(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
