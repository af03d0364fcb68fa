package totp

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/clinic-intake-api/internal/domain"
	kmsinfra "github.com/clinic-intake-api/internal/infrastructure/kms"
	"github.com/clinic-intake-api/internal/pkg/otpcode"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIdentityStore struct{ mock.Mock }

func (m *mockIdentityStore) Get(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if i, _ := args.Get(0).(*domain.Identity); i != nil {
		return i, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockIdentityStore) StartTOTP(ctx context.Context, id, sealed string, hashes []string) error {
	return m.Called(ctx, id, sealed, hashes).Error(0)
}
func (m *mockIdentityStore) EnableTOTP(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockIdentityStore) ClaimTOTPStep(ctx context.Context, id string, step int64) error {
	return m.Called(ctx, id, step).Error(0)
}
func (m *mockIdentityStore) ConsumeBackupCode(ctx context.Context, id, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newService(is *mockIdentityStore) *Service {
	return NewService(ServiceDeps{
		IdentityRepo: is,
		Sealer:       kmsinfra.PlainSealer{},
		Issuer:       "Clinic Intake",
		Now:          func() time.Time { return fixedNow },
	})
}

func TestSetup_StoresSealedSecretAndHashedBackupCodes(t *testing.T) {
	is := &mockIdentityStore{}
	is.On("Get", mock.Anything, "id-1").Return(&domain.Identity{IdentityID: "id-1", Email: "a@clinic.test"}, nil)
	var sealed string
	var hashes []string
	is.On("StartTOTP", mock.Anything, "id-1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sealed = args.String(2)
			hashes = args.Get(3).([]string)
		}).
		Return(nil)

	res, err := newService(is).Setup(context.Background(), "id-1")
	require.NoError(t, err)

	assert.NotEmpty(t, res.Secret)
	assert.Contains(t, res.OTPAuthURL, "otpauth://totp/")
	png, err := base64.StdEncoding.DecodeString(res.QRCodePNG)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
	require.Len(t, res.BackupCodes, backupCodeCount)

	assert.Equal(t, "plain:"+res.Secret, sealed)
	require.Len(t, hashes, backupCodeCount)
	assert.Equal(t, otpcode.Hash(res.BackupCodes[0]), hashes[0])
}

func TestVerifySetup_ValidCodeEnables(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"
	code, err := totp.GenerateCode(secret, fixedNow)
	require.NoError(t, err)

	is := &mockIdentityStore{}
	is.On("Get", mock.Anything, "id-1").Return(&domain.Identity{IdentityID: "id-1", TOTPSecret: "plain:" + secret}, nil)
	is.On("EnableTOTP", mock.Anything, "id-1").Return(nil).Once()

	require.NoError(t, newService(is).VerifySetup(context.Background(), "id-1", code))
	is.AssertExpectations(t)
}

func TestVerifySetup_WrongCode(t *testing.T) {
	is := &mockIdentityStore{}
	is.On("Get", mock.Anything, "id-1").Return(&domain.Identity{IdentityID: "id-1", TOTPSecret: "plain:JBSWY3DPEHPK3PXP"}, nil)

	code, err := totp.GenerateCode("JBSWY3DPEHPK3PXP", fixedNow.Add(10*time.Minute))
	require.NoError(t, err)
	err = newService(is).VerifySetup(context.Background(), "id-1", code)
	assert.ErrorIs(t, err, domain.ErrCodeMismatch)
	is.AssertNotCalled(t, "EnableTOTP", mock.Anything, mock.Anything)
}

func TestVerifySetup_NotStarted(t *testing.T) {
	is := &mockIdentityStore{}
	is.On("Get", mock.Anything, "id-1").Return(&domain.Identity{IdentityID: "id-1"}, nil)

	err := newService(is).VerifySetup(context.Background(), "id-1", "123456")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

// --- Redeem ---

const testSecret = "JBSWY3DPEHPK3PXP"

func enabled() *domain.Identity {
	return &domain.Identity{
		IdentityID:       "id-1",
		TOTPSecret:       "plain:" + testSecret,
		TOTPEnabled:      true,
		BackupCodeHashes: []string{otpcode.Hash("0123456789"), otpcode.Hash("9876543210")},
	}
}

func TestRedeem_CurrentCodeClaimsItsStep(t *testing.T) {
	code, err := totp.GenerateCode(testSecret, fixedNow)
	require.NoError(t, err)
	is := &mockIdentityStore{}
	is.On("ClaimTOTPStep", mock.Anything, "id-1", fixedNow.Unix()/30).Return(nil).Once()

	ok, err := newService(is).Redeem(context.Background(), enabled(), code)
	require.NoError(t, err)
	assert.True(t, ok)
	is.AssertExpectations(t)
}

func TestRedeem_PreviousStepWithinSkew(t *testing.T) {
	prev := fixedNow.Add(-30 * time.Second)
	code, err := totp.GenerateCode(testSecret, prev)
	require.NoError(t, err)
	is := &mockIdentityStore{}
	is.On("ClaimTOTPStep", mock.Anything, "id-1", prev.Unix()/30).Return(nil).Once()

	ok, err := newService(is).Redeem(context.Background(), enabled(), code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedeem_ReplayedStep(t *testing.T) {
	code, err := totp.GenerateCode(testSecret, fixedNow)
	require.NoError(t, err)

	// Known locally as used.
	used := enabled()
	used.TOTPLastStep = fixedNow.Unix() / 30
	is := &mockIdentityStore{}
	_, err = newService(is).Redeem(context.Background(), used, code)
	assert.ErrorIs(t, err, domain.ErrCodeAlreadyConsumed)
	is.AssertNotCalled(t, "ClaimTOTPStep", mock.Anything, mock.Anything, mock.Anything)

	// Claimed by a concurrent sign-in after the identity was read.
	is.On("ClaimTOTPStep", mock.Anything, "id-1", mock.Anything).Return(domain.ErrConflict).Once()
	_, err = newService(is).Redeem(context.Background(), enabled(), code)
	assert.ErrorIs(t, err, domain.ErrCodeAlreadyConsumed)
}

func TestRedeem_StaleCodeIsNoMatch(t *testing.T) {
	code, err := totp.GenerateCode(testSecret, fixedNow.Add(-10*time.Minute))
	require.NoError(t, err)
	is := &mockIdentityStore{}

	ok, err := newService(is).Redeem(context.Background(), enabled(), code)
	require.NoError(t, err)
	assert.False(t, ok)
	is.AssertNotCalled(t, "ClaimTOTPStep", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeem_BackupCodeConsumed(t *testing.T) {
	is := &mockIdentityStore{}
	is.On("ConsumeBackupCode", mock.Anything, "id-1", otpcode.Hash("9876543210")).Return(nil).Once()

	ok, err := newService(is).Redeem(context.Background(), enabled(), "9876543210")
	require.NoError(t, err)
	assert.True(t, ok)
	is.AssertExpectations(t)
}

func TestRedeem_BackupCodeLostRace(t *testing.T) {
	is := &mockIdentityStore{}
	is.On("ConsumeBackupCode", mock.Anything, "id-1", mock.Anything).Return(domain.ErrConflict).Once()

	_, err := newService(is).Redeem(context.Background(), enabled(), "0123456789")
	assert.ErrorIs(t, err, domain.ErrCodeAlreadyConsumed)
}

func TestRedeem_UnknownBackupCode(t *testing.T) {
	is := &mockIdentityStore{}

	ok, err := newService(is).Redeem(context.Background(), enabled(), "5555555555")
	require.NoError(t, err)
	assert.False(t, ok)
	is.AssertNotCalled(t, "ConsumeBackupCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedeem_RequiresEnabledAuthenticator(t *testing.T) {
	code, err := totp.GenerateCode(testSecret, fixedNow)
	require.NoError(t, err)
	off := enabled()
	off.TOTPEnabled = false
	is := &mockIdentityStore{}

	for _, c := range []string{code, "0123456789", "12ab56", ""} {
		ok, err := newService(is).Redeem(context.Background(), off, c)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	is.AssertExpectations(t)
}
