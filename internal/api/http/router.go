package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/visit-engine/internal/api/http/handlers"
	"github.com/spec-kit/visit-engine/internal/auth"
	"github.com/spec-kit/visit-engine/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Auth           *handlers.AuthHandler
	Turns          *handlers.TurnsHandler
	Reservations   *handlers.ReservationsHandler
	Handoffs       *handlers.HandoffsHandler
	Events         *handlers.EventsHandler
	AuthMiddleware *auth.AuthMiddleware
	ServiceToken   string
}

// RegisterRoutes wires HTTP routes. /v1/voice serves the voice layer behind
// the service token; /v1/console serves coordinators behind bearer tokens.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Snapshot)
	}

	app.Post("/auth/login", cfg.Auth.Login)

	v1 := app.Group("/v1")

	voice := v1.Group("/voice", auth.ServiceToken(cfg.ServiceToken))
	voice.Post("/turns", cfg.Turns.Evaluate)
	voice.Post("/scheduling/offers", cfg.Reservations.Offers)
	voice.Post("/scheduling/holds", cfg.Reservations.Hold)
	voice.Get("/reservations/:id", cfg.Reservations.Get)
	voice.Get("/reservations/:id/calendar.ics", cfg.Reservations.Calendar)
	voice.Post("/reservations/:id/book", cfg.Reservations.Book)
	voice.Post("/reservations/:id/confirmation", cfg.Reservations.Confirmation)
	voice.Post("/reservations/:id/cancel", cfg.Reservations.Cancel)
	voice.Post("/handoffs", cfg.Handoffs.Create)
	voice.Get("/participants/:id/contact-policy", cfg.Handoffs.ContactPolicy)

	console := v1.Group("/console", cfg.AuthMiddleware.Handle, auth.RequireRole())
	console.Get("/me", cfg.Auth.Me)
	console.Get("/handoffs", cfg.Handoffs.List)
	console.Post("/handoffs", cfg.Handoffs.Create)
	console.Get("/handoffs/:id", cfg.Handoffs.Get)
	console.Post("/handoffs/:id/assign", cfg.Handoffs.Assign)
	console.Post("/handoffs/:id/resolve", cfg.Handoffs.Resolve)
	console.Get("/reservations/:id", cfg.Reservations.Get)
	console.Post("/reservations/:id/cancel", cfg.Reservations.Cancel)
	console.Post("/reservations/:id/no-show", cfg.Reservations.NoShow)
	console.Post("/reservations/:id/complete", cfg.Reservations.Complete)
	console.Post("/reservations/:id/expire", cfg.Reservations.Expire)
	console.Get("/events", cfg.Events.List)
	console.Get("/events/stream", cfg.Events.Stream)
	console.Get("/dashboard", cfg.Events.Dashboard)

	admin := console.Group("/admin", auth.RequireRole(domain.CoordinatorRoleAdmin))
	admin.Post("/coordinators", cfg.Auth.CreateCoordinator)
}
