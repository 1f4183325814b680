package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/config"
	"github.com/lumen-trade/signin/internal/metrics"
	"github.com/lumen-trade/signin/internal/routes"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 2 * time.Minute
	// WebAuthn attestation objects are the largest bodies accepted.
	bodyLimit = 64 * 1024
)

const genericMessage = "something went wrong, please try again"

// Server owns the Fiber application for the sign-in API.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New builds the Fiber app and wires every route through routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := newApp(cfg)
	if err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Metrics: metrics.New()}); err != nil {
		return nil, err
	}
	return &Server{app: app, cfg: cfg}, nil
}

func newApp(cfg config.Config) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           idleTimeout,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: !cfg.IsDev(),
		ErrorHandler:          errorHandler,
	})
}

// errorHandler renders every error as {"error": message}. Only fiber errors
// carry a message meant for the client.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := genericMessage
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
