// Package stub is a development backend implementing the HTTP
// contract the console client consumes: JWT auth with access/refresh
// pairs, ticket CRUD with queue visibility rules, and DRF-shaped
// responses. It backs cmd/stubserver and the client integration tests.
package stub

import (
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/domain"
)

// Server bundles the fiber app with its dependencies.
type Server struct {
	App      *fiber.App
	Store    *Store
	Tokens   *TokenManager
	throttle *Throttle
	log      *zap.Logger
}

// NewServer builds a ready-to-listen stub backend.
func NewServer(cfg config.StubConfig, logger *zap.Logger) *Server {
	store := NewStore(cfg.BcryptCost)
	tokens := NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	throttle := NewThrottle(cfg, logger)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(requestLogger(logger))

	h := &Handlers{store: store, tokens: tokens, throttle: throttle, log: logger}
	RegisterRoutes(app, h)

	return &Server{App: app, Store: store, Tokens: tokens, throttle: throttle, log: logger}
}

// RegisterRoutes wires the HTTP contract under /api.
func RegisterRoutes(app *fiber.App, h *Handlers) {
	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/token/", h.Login)
	auth.Post("/token/refresh/", h.Refresh)
	auth.Post("/register/", h.Register)
	auth.Get("/me/", h.RequireAuth, h.Me)

	tickets := api.Group("/tickets", h.RequireAuth)
	tickets.Get("/", h.ListTickets)
	tickets.Post("/", h.CreateTicket)
	tickets.Get("/:id/", h.GetTicket)
	tickets.Patch("/:id/", h.UpdateTicket)
	tickets.Delete("/:id/", h.DeleteTicket)
	tickets.Post("/:id/respond/", h.Respond)
}

// Seed registers an account directly, bypassing the register endpoint.
// Used to provision the initial staff user.
func (s *Server) Seed(reg domain.Registration, isStaff bool) (domain.User, error) {
	return s.Store.CreateUser(reg, isStaff)
}

// Listen serves on addr until the app is shut down.
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Serve accepts connections from an existing listener; tests use this
// with a random port.
func (s *Server) Serve(ln net.Listener) error {
	return s.App.Listener(ln)
}

// Shutdown stops the app and releases resources.
func (s *Server) Shutdown() error {
	err := s.App.Shutdown()
	s.throttle.Close()
	return err
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}
