package api

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/auth"
	"github.com/kue-app/backend/internal/config"
	"github.com/kue-app/backend/internal/middleware"
	"github.com/kue-app/backend/internal/payment"
	"github.com/kue-app/backend/internal/realtime"
)

// Deps are the services the router wires into handlers.
type Deps struct {
	Config    *config.Config
	Ledger    handlers.Ledger
	Broker    realtime.Broker
	Generator handlers.ReplyGenerator
	Profiles  handlers.ProfileStore
	Users     auth.UserRecorder
	Catalog   *payment.Catalog
	Orders    handlers.OrderCreator
	Webhooks  handlers.WebhookProcessor
	Checks    []handlers.Check
	// OnShutdown registers a function to run when the server shuts down,
	// normally http.Server.RegisterOnShutdown. Optional.
	OnShutdown func(func())
}

// NewRouter creates and configures the main router
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	cfg := d.Config

	// Token lifetime only matters for locally minted tokens.
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, 24*time.Hour)
	authMiddleware := auth.NewAuthMiddleware(jwtService, d.Users)

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Timing)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORSWithOrigins(cfg.CORSOrigins))

	// Initialize handlers
	healthHandler := handlers.NewHealthChecker(d.Checks...)
	creditsHandler := handlers.NewCreditsHandler(d.Ledger, d.Broker, cfg.CORSOrigins)
	if d.OnShutdown != nil {
		d.OnShutdown(creditsHandler.CloseStreams)
	}
	generateHandler := handlers.NewGenerateHandler(d.Ledger, d.Generator, d.Profiles)
	profileHandler := handlers.NewProfileHandler(d.Profiles)
	paymentHandler := handlers.NewPaymentHandler(d.Catalog, d.Orders, d.Webhooks)

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", handlers.LivenessProbe)
	r.Get("/health/ready", healthHandler.ReadinessProbe)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Get("/plans", paymentHandler.ListPlans)
		r.Post("/webhooks/razorpay", paymentHandler.RazorpayWebhook)

		// Protected endpoints (require authentication)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Get("/credits", creditsHandler.GetBalance)
			r.Get("/credits/stream", creditsHandler.Stream)

			r.Post("/generate", generateHandler.Generate)

			r.Route("/profiles", func(r chi.Router) {
				r.Get("/", profileHandler.List)
				r.Post("/", profileHandler.Create)
				r.Get("/{id}", profileHandler.Get)
				r.Put("/{id}", profileHandler.Update)
				r.Delete("/{id}", profileHandler.Delete)
			})

			r.Post("/payments/orders", paymentHandler.CreateOrder)
		})
	})

	return r
}
