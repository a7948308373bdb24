package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "visitorstats/api/v1"
	"visitorstats/internal/config"
	"visitorstats/internal/http"
	"visitorstats/internal/http/middleware"
	"visitorstats/internal/responsecache"
	"visitorstats/internal/settings"
	"visitorstats/internal/visitors"
)

// RouteOptions carries the collaborators the routes need beyond the server
// itself. Nil fields are built from the server's config and database.
type RouteOptions struct {
	Config  *config.Config
	Cache   responsecache.Cache
	Origins *settings.OriginPolicy
	Geo     visitors.CountryLookup
	Now     func() time.Time
}

// MountAppRoutes mounts all routes with collaborators derived from the server.
func MountAppRoutes(srv *cartridge.Server) {
	MountRoutes(srv, RouteOptions{})
}

// MountRoutes mounts all application routes using cartridge's route API
func MountRoutes(srv *cartridge.Server, opts RouteOptions) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.GetConfig()
	}
	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = responsecache.NewDatabase(db, logger, opts.Now)
	}
	if opts.Origins == nil {
		opts.Origins = settings.NewOriginPolicy(db, logger, cfg.OriginsCacheTTL())
	}

	api := v1.NewAPI(v1.Options{
		Cache:    opts.Cache,
		CacheTTL: cfg.CacheTTL(),
		Geo:      opts.Geo,
		Now:      opts.Now,
	})

	// Helper to conditionally apply rate limiting (only in production)
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Tracking pixel rate limiter (70 requests per minute per IP)
	trackingRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	srv.App().Use(securityHeaders())

	cors := middleware.PermissiveCORS()
	allowedOrigin := middleware.RequireAllowedOrigin(opts.Origins, logger)
	getOnly := middleware.RequireMethod(fiber.MethodGet)

	// ============================================
	// ROUTE CONFIGURATIONS
	// CORS runs first so every response, errors included, carries the headers.
	// Pages embedding the pixel are cross-site by nature, so Sec-Fetch-Site
	// validation is off for the whole server (NewServerConfig) and per route.
	// ============================================

	openConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{cors},
	}

	trackingConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{cors, trackingRateLimiter, allowedOrigin},
	}

	readConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{cors, getOnly, allowedOrigin},
	}

	statsConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{cors, middleware.BearerKeyAuth(cfg.APIKey)},
	}

	// Preflight on any path
	srv.Options("/*", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, openConfig)

	// === TRACKING ===
	srv.Get("/log", api.LogVisitHandler, trackingConfig)
	srv.Post("/log", api.LogVisitHandler, trackingConfig)

	// === PUBLIC READS ===
	// POST and DELETE are routed so they get 405 instead of the banner
	srv.Get("/page-stats", api.PageStatsHandler, readConfig)
	srv.Post("/page-stats", api.PageStatsHandler, readConfig)
	srv.Delete("/page-stats", api.PageStatsHandler, readConfig)
	srv.Get("/total", api.SiteTotalHandler, readConfig)
	srv.Post("/total", api.SiteTotalHandler, readConfig)
	srv.Delete("/total", api.SiteTotalHandler, readConfig)

	// === ADMIN STATS ===
	srv.Get("/stats", api.RealtimeStatsHandler, statsConfig)
	srv.Post("/stats", api.RealtimeStatsHandler, statsConfig)

	// Health check endpoint
	srv.Get("/health", http.HealthIndexAction, openConfig)
	srv.Head("/health", http.HealthIndexAction, openConfig)
	srv.Post("/health", http.HealthIndexAction, openConfig)

	// Everything else identifies the service
	srv.Get("/*", http.HomeIndexAction, openConfig)
	srv.Post("/*", http.HomeIndexAction, openConfig)
}
