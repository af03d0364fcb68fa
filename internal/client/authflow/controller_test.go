package authflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/clinic-intake-api/internal/client/api"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) VerifyPIN(ctx context.Context, pin string) (*api.PINResult, error) {
	args := m.Called(ctx, pin)
	if r, _ := args.Get(0).(*api.PINResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockAPI) SendCode(ctx context.Context, token string) (*api.CodeDispatch, error) {
	args := m.Called(ctx, token)
	if d, _ := args.Get(0).(*api.CodeDispatch); d != nil {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockAPI) VerifyCode(ctx context.Context, token, code string) (*api.Token, error) {
	args := m.Called(ctx, token, code)
	if t, _ := args.Get(0).(*api.Token); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }
func transportErr(op string) error { return fmt.Errorf("%s: %w: connection refused", op, api.ErrTransport) }
func apiErr(code string, cause error) error { return &apiError{code: code, cause: cause} }

// apiError stands in for *api.Error, whose cause field is unexported.
type apiError struct {
	code  string
	cause error
}

func (e *apiError) Error() string { return e.code }
func (e *apiError) Unwrap() error { return e.cause }

var ctx = context.Background()

func staffResult(enroll bool) *api.PINResult {
	return &api.PINResult{
		PINValid: true, SessionToken: "tok", UserID: "s1", UserType: "staff",
		NeedsEmailVerification: enroll, TwoFAEmail: "nurse@clinic.test", Email: "nurse@clinic.test",
	}
}

func dispatchAt(c *clock) *api.CodeDispatch {
	return &api.CodeDispatch{
		Destination:       "n***@clinic.test",
		ExpiresAt:         c.t.Add(3 * time.Minute),
		ResendAvailableAt: c.t.Add(time.Minute),
	}
}

func TestSubmitPIN_MalformedStaysLocal(t *testing.T) {
	m := &mockAPI{}
	c := New(m, nil)

	for _, pin := range []string{"", "123", "12345", "12a4"} {
		st, err := c.SubmitPIN(ctx, pin)
		require.NoError(t, err)
		assert.Equal(t, EnteringPin{LastError: ErrMalformedPIN}, st)
	}
	m.AssertNotCalled(t, "VerifyPIN", mock.Anything, mock.Anything)
}

func TestSubmitPIN_InvalidPin(t *testing.T) {
	m := &mockAPI{}
	m.On("VerifyPIN", mock.Anything, "9999").Return(nil, apiErr("invalid_pin", domain.ErrInvalidPin))

	st, err := New(m, nil).SubmitPIN(ctx, "9999")
	require.NoError(t, err)
	ep, ok := st.(EnteringPin)
	require.True(t, ok)
	assert.ErrorIs(t, ep.LastError, domain.ErrInvalidPin)
}

func TestSubmitPIN_LockedOut(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	m.On("VerifyPIN", mock.Anything, "9999").Return(nil, apiErr("locked_out", &domain.LockedOutError{Remaining: 15 * time.Minute}))

	c := New(m, nil, WithClock(clk.now))
	st, err := c.SubmitPIN(ctx, "9999")
	require.NoError(t, err)
	lo, ok := st.(LockedOut)
	require.True(t, ok)
	assert.Equal(t, clk.t.Add(15*time.Minute), lo.Until)
	assert.Equal(t, 15*time.Minute, c.Countdown(clk.t))

	_, err = c.SubmitPIN(ctx, "1234")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = c.Retry()
	assert.ErrorIs(t, err, ErrStillLockedOut)

	clk.advance(15 * time.Minute)
	assert.Zero(t, c.Countdown(clk.t))
	st, err = c.Retry()
	require.NoError(t, err)
	assert.Equal(t, EnteringPin{}, st)
}

func TestSubmitPIN_TransportKeepsState(t *testing.T) {
	m := &mockAPI{}
	m.On("VerifyPIN", mock.Anything, "1234").Return(nil, transportErr("/v1/pin-verify"))

	c := New(m, nil)
	st, err := c.SubmitPIN(ctx, "1234")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, EnteringPin{}, st)
}

func TestSubmitPIN_EnrollmentSendsCodeImmediately(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	m.On("VerifyPIN", mock.Anything, "1234").Return(staffResult(true), nil)
	m.On("SendCode", mock.Anything, "tok").Return(dispatchAt(clk), nil).Once()

	c := New(m, nil, WithClock(clk.now))
	st, err := c.SubmitPIN(ctx, "1234")
	require.NoError(t, err)

	ac, ok := st.(AwaitingCode)
	require.True(t, ok)
	assert.Equal(t, Enrollment, ac.Purpose)
	assert.Equal(t, "n***@clinic.test", ac.Destination)
	assert.NoError(t, ac.LastError)
	assert.Equal(t, time.Minute, c.Countdown(clk.t))
	m.AssertExpectations(t)
}

func TestSubmitPIN_ReturningUserIsVerification(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	m.On("VerifyPIN", mock.Anything, "1234").Return(staffResult(false), nil)
	m.On("SendCode", mock.Anything, "tok").Return(dispatchAt(clk), nil)

	st, err := New(m, nil, WithClock(clk.now)).SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, Verification, st.(AwaitingCode).Purpose)
}

func TestSubmitPIN_SendCodeMailFailureAllowsResend(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	m.On("VerifyPIN", mock.Anything, "1234").Return(staffResult(true), nil)
	m.On("SendCode", mock.Anything, "tok").Return(nil, apiErr("mail_delivery_failed", domain.ErrMailDeliveryFailed)).Once()
	m.On("SendCode", mock.Anything, "tok").Return(dispatchAt(clk), nil).Once()

	c := New(m, nil, WithClock(clk.now))
	st, err := c.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	ac := st.(AwaitingCode)
	assert.ErrorIs(t, ac.LastError, domain.ErrMailDeliveryFailed)
	assert.Zero(t, c.Countdown(clk.t))

	st, err = c.Resend(ctx)
	require.NoError(t, err)
	assert.NoError(t, st.(AwaitingCode).LastError)
}

func awaitingController(t *testing.T, clk *clock, m *mockAPI, hints LocalState, enroll bool) *Controller {
	t.Helper()
	m.On("VerifyPIN", mock.Anything, "1234").Return(staffResult(enroll), nil)
	m.On("SendCode", mock.Anything, "tok").Return(dispatchAt(clk), nil).Once()
	c := New(m, hints, WithClock(clk.now))
	_, err := c.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	return c
}

func TestSubmitCode_Authenticates(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	hints := NewMemoryState()
	c := awaitingController(t, clk, m, hints, true)
	m.On("VerifyCode", mock.Anything, "tok", "123456").Return(&api.Token{SessionToken: "jwt", ExpiresAt: clk.t.Add(8 * time.Hour)}, nil)

	st, err := c.SubmitCode(ctx, "123456")
	require.NoError(t, err)
	auth, ok := st.(Authenticated)
	require.True(t, ok)
	assert.Equal(t, "jwt", auth.AccessToken)
	assert.Equal(t, "s1", auth.User.ID)

	assert.False(t, hints.AdminAuthenticated())
	u, ok := hints.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "nurse@clinic.test", u.Email)

	assert.Equal(t, EnteringPin{}, c.SignOut())
	_, ok = hints.CurrentUser()
	assert.False(t, ok)
}

func TestSubmitCode_AdminSetsHint(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	hints := NewMemoryState()
	m.On("VerifyPIN", mock.Anything, "0224").Return(&api.PINResult{SessionToken: "tok", UserID: "admin", UserType: "admin", TwoFAEnabled: true}, nil)
	m.On("SendCode", mock.Anything, "tok").Return(dispatchAt(clk), nil)
	m.On("VerifyCode", mock.Anything, "tok", "654321").Return(&api.Token{SessionToken: "jwt"}, nil)

	c := New(m, hints, WithClock(clk.now))
	_, err := c.SubmitPIN(ctx, "0224")
	require.NoError(t, err)
	_, err = c.SubmitCode(ctx, "654321")
	require.NoError(t, err)
	assert.True(t, hints.AdminAuthenticated())
}

func TestSubmitCode_MismatchStaysAwaiting(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)
	m.On("VerifyCode", mock.Anything, "tok", "000000").Return(nil, apiErr("code_mismatch", domain.ErrCodeMismatch))

	st, err := c.SubmitCode(ctx, "000000")
	require.NoError(t, err)
	ac, ok := st.(AwaitingCode)
	require.True(t, ok)
	assert.ErrorIs(t, ac.LastError, domain.ErrCodeMismatch)
	assert.Equal(t, Verification, ac.Purpose)
}

func TestSubmitCode_MalformedStaysLocal(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)

	st, err := c.SubmitCode(ctx, "12345")
	require.NoError(t, err)
	assert.ErrorIs(t, st.(AwaitingCode).LastError, ErrMalformedCode)
	m.AssertNotCalled(t, "VerifyCode", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitCode_BackupCodeGoesToServer(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, NewMemoryState(), false)
	m.On("VerifyCode", mock.Anything, "tok", "0123456789").Return(&api.Token{SessionToken: "jwt"}, nil).Once()

	st, err := c.SubmitCode(ctx, "0123456789")
	require.NoError(t, err)
	_, ok := st.(Authenticated)
	assert.True(t, ok)
	m.AssertExpectations(t)
}

func TestSubmitCode_SessionExpiredBackToPIN(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)
	m.On("VerifyCode", mock.Anything, "tok", "123456").Return(nil, apiErr("session_expired", domain.ErrSessionExpired))

	st, err := c.SubmitCode(ctx, "123456")
	require.NoError(t, err)
	ep, ok := st.(EnteringPin)
	require.True(t, ok)
	assert.ErrorIs(t, ep.LastError, domain.ErrSessionExpired)
}

func TestSubmitCode_TransportKeepsState(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)
	before := c.State()
	m.On("VerifyCode", mock.Anything, "tok", "123456").Return(nil, transportErr("/v1/2fa/verify"))

	st, err := c.SubmitCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, before, st)
}

func TestResend_WaitsForCountdown(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)

	clk.advance(30 * time.Second)
	st, err := c.Resend(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, st.(AwaitingCode).LastError, domain.ErrRateLimited)
	m.AssertNumberOfCalls(t, "SendCode", 1)

	clk.advance(31 * time.Second)
	m.On("SendCode", mock.Anything, "tok").Return(dispatchAt(clk), nil).Once()
	st, err = c.Resend(ctx)
	require.NoError(t, err)
	assert.NoError(t, st.(AwaitingCode).LastError)
	m.AssertNumberOfCalls(t, "SendCode", 2)
	assert.Equal(t, time.Minute, c.Countdown(clk.t))
}

func TestResend_ServerThrottleMovesCountdown(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)

	clk.advance(time.Minute)
	m.On("SendCode", mock.Anything, "tok").Return(nil, apiErr("rate_limited", &domain.RateLimitedError{RetryAfter: 5 * time.Second})).Once()
	_, err := c.Resend(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Countdown(clk.t))
}

func TestCancel(t *testing.T) {
	clk := newClock()
	m := &mockAPI{}
	c := awaitingController(t, clk, m, nil, false)

	assert.Equal(t, EnteringPin{}, c.Cancel())
	_, err := c.SubmitCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, EnteringPin{}, c.Cancel())
}
