package http

import (
	"net/http"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/application/identity"
	"github.com/clinic-intake-api/internal/application/lockout"
	"github.com/clinic-intake-api/internal/application/otp"
	"github.com/clinic-intake-api/internal/application/pin"
	"github.com/clinic-intake-api/internal/application/session"
	"github.com/clinic-intake-api/internal/application/totp"
	"github.com/clinic-intake-api/internal/config"
	"github.com/clinic-intake-api/internal/domain"
	"github.com/clinic-intake-api/internal/infrastructure/smtp"
	"github.com/clinic-intake-api/internal/infrastructure/sns"
	"github.com/clinic-intake-api/internal/transport/http/handler"
	appmiddleware "github.com/clinic-intake-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	IdentityRepo   IdentityRepository
	SessionRepo    SessionRepository
	CodeRepo       CodeRepository
	LockoutStore   LockoutStore
	ResendThrottle ResendThrottle
	Mailer         smtp.Mailer
	Alerter        sns.LockoutAlerter
	Sealer         SecretSealer
	Audit          *audit.Recorder
	JWTProvider    BearerProvider
	HealthChecks   map[string]handler.HealthCheck
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	a := cfg.Auth

	// 5 requests/second, burst of 10, applied to the public sign-in endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10, cfg.TrustProxyHeaders)

	tracker := lockout.NewTracker(lockout.Deps{
		Store:   deps.LockoutStore,
		Alerter: deps.Alerter,
		Audit:   deps.Audit,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		SessionRepo:  deps.SessionRepo,
		IdentityRepo: deps.IdentityRepo,
		Audit:        deps.Audit,
		PendingTTL:   a.PendingSessionTTL,
		FullTTL:      a.FullSessionTTL,
	})
	pinSvc := pin.NewService(pin.ServiceDeps{
		IdentityRepo: deps.IdentityRepo,
		Lockout:      tracker,
		Sessions:     sessionSvc,
		Audit:        deps.Audit,
	})
	totpSvc := totp.NewService(totp.ServiceDeps{
		IdentityRepo: deps.IdentityRepo,
		Sealer:       deps.Sealer,
		Audit:        deps.Audit,
		Issuer:       a.TOTPIssuer,
	})
	otpSvc := otp.NewService(otp.ServiceDeps{
		Sessions:      sessionSvc,
		CodeRepo:      deps.CodeRepo,
		IdentityRepo:  deps.IdentityRepo,
		Throttle:      deps.ResendThrottle,
		Mailer:        deps.Mailer,
		Signer:        deps.JWTProvider,
		Authenticator: totpSvc,
		Audit:         deps.Audit,
		Settings: otp.Settings{
			Lifetime:       a.CodeLifetime,
			ResendInterval: a.CodeResendInterval,
			MaxAttempts:    a.CodeMaxAttempts,
			Digits:         a.CodeDigits,
			BypassCode:     a.DevBypassCode,
		},
	})
	identitySvc := identity.NewService(identity.ServiceDeps{
		IdentityRepo: deps.IdentityRepo,
		Audit:        deps.Audit,
		BcryptCost:   a.BcryptCost,
	})

	authMw := appmiddleware.Auth(deps.JWTProvider, sessionSvc)

	healthH := handler.NewHealthHandler(deps.HealthChecks)
	pinH := handler.NewPINHandler(pinSvc, cfg.TrustProxyHeaders, cfg.SupportContact)
	twoFAH := handler.NewTwoFAHandler(otpSvc, totpSvc)
	sessionH := handler.NewSessionHandler(sessionSvc)
	identityH := handler.NewIdentityHandler(identitySvc)
	lockoutH := handler.NewLockoutHandler(tracker)

	var records *handler.RecordsProxy
	if cfg.ClinicRecordsURL != "" {
		var err error
		if records, err = handler.NewRecordsProxy(cfg.ClinicRecordsURL); err != nil {
			return nil, err
		}
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/pin-verify", pinH.Verify)
		r.With(sensitiveRL.Limit).Post("/2fa/send-code", twoFAH.SendCode)
		r.With(sensitiveRL.Limit).Post("/2fa/verify", twoFAH.Verify)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/sessions/current", sessionH.GetCurrent)
			r.Post("/sessions/logout", sessionH.Logout)
			r.Post("/2fa/setup", twoFAH.Setup)
			r.Post("/2fa/verify-setup", twoFAH.VerifySetup)
			if records != nil {
				r.Handle("/records/*", records)
			}

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireClass(domain.ClassAdmin))

				r.Get("/identities", identityH.List)
				r.Post("/identities", identityH.Create)
				r.Get("/identities/{id}", identityH.Get)
				r.Delete("/identities/{id}", identityH.Disable)
				r.Get("/lockouts/{source}", lockoutH.Get)
				r.Delete("/lockouts/{source}", lockoutH.Clear)
			})
		})
	})

	return r, nil
}
