package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clinic-intake-api/internal/application/otp"
	"github.com/clinic-intake-api/internal/application/pin"
	"github.com/clinic-intake-api/internal/application/totp"
	"github.com/clinic-intake-api/internal/domain"
	jwtinfra "github.com/clinic-intake-api/internal/infrastructure/jwt"
	"github.com/clinic-intake-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockPINVerifier struct{ mock.Mock }

func (m *mockPINVerifier) Verify(ctx context.Context, source, p string) (*pin.Result, error) {
	args := m.Called(ctx, source, p)
	if r, _ := args.Get(0).(*pin.Result); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCodeService struct{ mock.Mock }

func (m *mockCodeService) SendCode(ctx context.Context, token string) (*otp.Dispatch, error) {
	args := m.Called(ctx, token)
	if d, _ := args.Get(0).(*otp.Dispatch); d != nil {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockCodeService) VerifyCode(ctx context.Context, token, code string) (*otp.VerifyResult, error) {
	args := m.Called(ctx, token, code)
	if r, _ := args.Get(0).(*otp.VerifyResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTOTPService struct{ mock.Mock }

func (m *mockTOTPService) Setup(ctx context.Context, identityID string) (*totp.SetupResult, error) {
	args := m.Called(ctx, identityID)
	if r, _ := args.Get(0).(*totp.SetupResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockTOTPService) VerifySetup(ctx context.Context, identityID, code string) error {
	return m.Called(ctx, identityID, code).Error(0)
}

type mockSessionService struct{ mock.Mock }

func (m *mockSessionService) Current(ctx context.Context, key string) (*domain.Session, error) {
	args := m.Called(ctx, key)
	if s, _ := args.Get(0).(*domain.Session); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSessionService) Revoke(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockIdentityService struct{ mock.Mock }

func (m *mockIdentityService) CreateStaff(ctx context.Context, req domain.CreateStaffRequest) (*domain.Identity, error) {
	args := m.Called(ctx, req)
	if i, _ := args.Get(0).(*domain.Identity); i != nil {
		return i, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockIdentityService) List(ctx context.Context) ([]domain.Identity, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Identity), args.Error(1)
}
func (m *mockIdentityService) Get(ctx context.Context, id string) (*domain.Identity, error) {
	args := m.Called(ctx, id)
	if i, _ := args.Get(0).(*domain.Identity); i != nil {
		return i, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockIdentityService) Disable(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockLockoutService struct{ mock.Mock }

func (m *mockLockoutService) Check(ctx context.Context, ref string) domain.LockoutState {
	return m.Called(ctx, ref).Get(0).(domain.LockoutState)
}
func (m *mockLockoutService) Clear(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

// --- helpers ---

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withClaims(req *http.Request, identityID, class, sessionKey string) *http.Request {
	ctx := middleware.WithClaims(req.Context(), &jwtinfra.Claims{
		IdentityID: identityID, IdentityClass: class, SessionKey: sessionKey,
	})
	return req.WithContext(ctx)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	return env
}
