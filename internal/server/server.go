// Package server assembles the Fiber application: global middleware, the
// public endpoints, the chat websocket and the admin API.
package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/trentd187/company-chat/internal/chat"
	"github.com/trentd187/company-chat/internal/handlers"
	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/middleware"
	"github.com/trentd187/company-chat/internal/websocket"
)

// Directory is everything the admin API needs from the company directory
// (implemented by directory.Store).
type Directory interface {
	handlers.CompanyDirectory
	handlers.ProfileDirectory
}

// Deps are the collaborators the routes are wired to.
type Deps struct {
	Auth      *middleware.Authenticator
	Directory Directory
	Registry  *chat.Registry
	Notifier  *chat.Notifier
	Chat      *websocket.Handler
	Gatherer  prometheus.Gatherer // nil disables /metrics
	Logger    *zap.Logger

	CORSOrigins []string // empty or "*" allows any origin
	AccessLog   bool     // print one line per request
}

// New builds the Fiber app and registers every route.
func New(d Deps) *fiber.App {
	logger := logging.OrNop(d.Logger)

	app := fiber.New(fiber.Config{
		AppName:               "Company Chat",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	// --- Global middleware ---
	app.Use(recover.New())
	if d.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{AllowOrigins: normalizeOrigins(d.CORSOrigins)}))

	// --- Public routes (no auth required) ---
	app.Get("/health", handlers.HealthCheck(d.Registry))
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// --- Chat ---
	// Plain GETs get 426; upgrades carry the token in the header or ?token=.
	app.Get("/ws/chat", handlers.RequireUpgrade, d.Auth.Identify(), d.Chat.Upgrade())

	// --- Admin API ---
	// Every route under /api/v1 requires a valid token of an admin.
	api := app.Group("/api/v1", d.Auth.Auth(), middleware.RequireRole("admin"))

	// GET  /api/v1/companies              list companies, ?search= filters by name
	// POST /api/v1/companies              create a company
	// POST /api/v1/update-company/:id     rename a company and notify its chat
	// GET  /api/v1/companies/:id/online   who is connected to the company's chat
	// PUT  /api/v1/profiles               assign a user to a company
	api.Get("/companies", handlers.ListCompanies(d.Directory))
	api.Post("/companies", handlers.CreateCompany(d.Directory))
	api.Post("/update-company/:id", handlers.UpdateCompany(d.Directory, d.Notifier))
	api.Get("/companies/:id/online", handlers.OnlineMembers(d.Registry))
	api.Put("/profiles", handlers.AssignProfile(d.Directory))

	return app
}

// errorHandler renders errors returned by handlers and middleware as
// {"error": "..."}; unexpected errors are logged and reported as 500.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			logger.Error("unhandled request error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}

func normalizeOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}
