package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/audit"
	"github.com/lumen-trade/signin/internal/config"
	"github.com/lumen-trade/signin/internal/credential"
	"github.com/lumen-trade/signin/internal/federated"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/login"
	"github.com/lumen-trade/signin/internal/metrics"
	"github.com/lumen-trade/signin/internal/middleware"
	"github.com/lumen-trade/signin/internal/notification"
	"github.com/lumen-trade/signin/internal/otp"
	"github.com/lumen-trade/signin/internal/passkey"
	"github.com/lumen-trade/signin/internal/phone"
	"github.com/lumen-trade/signin/internal/posture"
	"github.com/lumen-trade/signin/internal/session"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Cache == nil {
		return errors.New("redis is required for challenges, flows and sessions")
	}
	if d.DB == nil && !d.Cfg.IsDev() {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", d.Metrics.Handler())

	policy := phone.Policy{CountryCode: d.Cfg.PhoneCountryCode, NationalLength: d.Cfg.PhoneNationalLength}
	var accounts identity.Repository
	if d.DB != nil {
		accounts = identity.NewPostgresRepository(d.DB)
	} else {
		accounts = identity.NewMemoryRepository()
	}
	identitySvc := identity.NewService(accounts, identity.NewResolver(accounts, policy))
	sink := audit.NewLoggerSink(d.Logger)

	notifier := notifierFor(d.Cfg, d.Logger)
	loginCodes := otp.NewService(d.Cache, notifier, otp.Config{
		Purpose:     "login",
		Kind:        notification.KindOTPSMS,
		TTL:         d.Cfg.OTP.TTL,
		MaxAttempts: d.Cfg.OTP.MaxAttempts,
		SendTimeout: d.Cfg.OTP.SendTimeout,
	}, d.Metrics, d.Logger)
	recoveryCodes := otp.NewService(d.Cache, notifier, otp.Config{
		Purpose:     "recovery",
		Kind:        notification.KindOTPEmail,
		TTL:         d.Cfg.OTP.TTL,
		MaxAttempts: d.Cfg.OTP.MaxAttempts,
		SendTimeout: d.Cfg.OTP.SendTimeout,
	}, d.Metrics, d.Logger)

	passkeys, err := passkey.NewService(passkey.Config{
		RPID:          d.Cfg.WebAuthn.RPID,
		RPDisplayName: d.Cfg.WebAuthn.RPName,
		RPOrigins:     d.Cfg.WebAuthn.RPOrigins,
	}, accounts, passkey.NewChallengeStore(d.Cache, d.Cfg.WebAuthn.ChallengeTTL), sink, d.Metrics, d.Logger)
	if err != nil {
		return err
	}

	sessions := session.NewService(d.Cache, d.Cfg.SessionSecret, sink, d.Metrics)

	loginDeps := login.Deps{
		Identity: identitySvc,
		Flows:    login.NewFlowStore(d.Cache, d.Cfg.LoginFlowTTL),
		Otp:      loginCodes,
		Passkeys: passkeys,
		Sessions: sessions,
		Sink:     sink,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
	}
	if d.Cfg.OAuth.Enabled() {
		loginDeps.Federated = federated.NewProvider(federated.Config{
			ClientID:     d.Cfg.OAuth.ClientID,
			ClientSecret: d.Cfg.OAuth.ClientSecret,
			AuthURL:      d.Cfg.OAuth.AuthURL,
			TokenURL:     d.Cfg.OAuth.TokenURL,
			UserInfoURL:  d.Cfg.OAuth.UserInfoURL,
			RedirectURL:  d.Cfg.OAuth.RedirectURL,
			Scopes:       d.Cfg.OAuth.Scopes,
		})
		loginDeps.FederatedStates = federated.NewStateStore(d.Cache)
	}
	loginHandler := login.NewHandler(login.NewService(loginDeps), d.Cfg.Secure())

	enrollment := posture.NewEnrollment(posture.EnrollmentDeps{
		Repo:       accounts,
		Hasher:     credential.NewHasher(d.Cfg.BcryptCost),
		EmailCodes: recoveryCodes,
		Passkeys:   passkeys,
		Cache:      d.Cache,
		PendingTTL: d.Cfg.OTP.TTL,
		Sink:       sink,
		Logger:     d.Logger,
	})

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	limiter := middleware.LoginRateLimit(d.Cache, policy, d.Cfg.LoginMaxPerMinute)
	RegisterLoginRoutes(api, loginHandler, limiter)

	// Protected routes
	sessionHandler := session.NewHandler(sessions, d.Cfg.Secure())
	api.Post("/logout", sessionHandler.Logout)
	protected := api.Group("", session.RequireSession(sessions))
	protected.Get("/session", sessionHandler.Current)
	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, session.SubjectID, d.Logger)
	RegisterAccountRoutes(protected,
		identity.NewHandler(identitySvc, session.SubjectID),
		posture.NewHandler(enrollment, session.SubjectID),
		idem,
	)

	return nil
}

// notifierFor routes SMS codes to the gateway when one is configured and
// everything else to the log. Codes are only logged in development.
func notifierFor(cfg config.Config, logger *slog.Logger) notification.Notifier {
	router := notification.NewRouter(notification.NewLoggerNotifier(logger, cfg.IsDev()))
	if cfg.SMS.APIKey != "" {
		router.Route(notification.KindOTPSMS, notification.NewSMSGateway(cfg.SMS.APIKey, cfg.SMS.BaseURL, cfg.SMS.Sender))
	}
	return router
}
