package router

import (
	"github.com/freshretail/freshcast/internal/config"
	"github.com/freshretail/freshcast/internal/handlers"
	"github.com/freshretail/freshcast/internal/logging"
	"github.com/freshretail/freshcast/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup configures all routes and middlewares. gatherer backs /metrics and
// may be nil to disable the endpoint.
func Setup(app *fiber.App, logger *logging.Logger, h *handlers.Handler, gatherer prometheus.Gatherer, cfg config.Config) {
	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Health check and metrics (no auth required)
	app.Get("/health", h.Health)
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API routes (protected by API key)
	api := app.Group("/api", middleware.APIKeyAuth(logger, cfg.Auth))

	// Forecasting
	api.Post("/forecast", h.Forecast)
	api.Post("/forecast/batch", h.ForecastBatch)
	api.Get("/forecast/precomputed", h.Precomputed)
	api.Post("/forecast/jobs", h.EnqueueJob)

	// Promotions
	api.Post("/promotions", h.CreatePromotion)
	api.Get("/promotions", h.ListPromotions)
	api.Post("/promotions/analyze", h.AnalyzePromotions)
	api.Post("/promotions/recommend", h.RecommendPromotions)
	api.Get("/promotions/:id", h.GetPromotion)
	api.Put("/promotions/:id", h.UpdatePromotion)
	api.Delete("/promotions/:id", h.DeletePromotion)

	// Analytics
	api.Post("/stockouts/analyze", h.AnalyzeStockouts)
	api.Post("/holidays/analyze", h.AnalyzeHolidays)
	api.Post("/insights", h.Insights)

	// Reference data
	api.Get("/mapping/cities", h.Cities)
	api.Get("/mapping/stores", h.Stores)

	// 404 handler
	app.Use(h.NotFound)
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, h *handlers.Handler, gatherer prometheus.Gatherer, cfg config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Freshcast API",
		DisableStartupMessage: !cfg.IsDevelopment(),
		EnablePrintRoutes:     cfg.IsDevelopment(),
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, h, gatherer, cfg)

	return app
}
