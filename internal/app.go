// Package internal contains core application functionality
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"

	"visitorstats/internal/config"
	"visitorstats/internal/database"
	"visitorstats/internal/jobs"
	"visitorstats/internal/pkg/geoip"
	"visitorstats/internal/responsecache"
	"visitorstats/internal/settings"
)

// Application wraps cartridge.Application with visitorstats components
type Application struct {
	*cartridge.Application
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager // DB manager with migration methods
	Cache     responsecache.Cache
	Origins   *settings.OriginPolicy
	Geo       *geoip.Lookup
	Scheduler *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	// Create logger
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db := dbManager.GetConnection()

	cache, err := responsecache.New(cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}

	geo := geoip.Open(cfg.GeoDBPath, logger)
	origins := settings.NewOriginPolicy(db, logger, cfg.OriginsCacheTTL())
	scheduler := jobs.NewScheduler(dbManager, logger, cfg, cache)

	routeOptions := RouteOptions{
		Config:  cfg,
		Cache:   cache,
		Origins: origins,
		Geo:     geo,
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		ServerConfig: NewServerConfig(),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, routeOptions)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		Config:      cfg,
		Logger:      logger,
		DBManager:   dbManager,
		Cache:       cache,
		Origins:     origins,
		Geo:         geo,
		Scheduler:   scheduler,
	}, nil
}

// Shutdown stops the server and workers, then releases the cache and the
// GeoIP reader.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	if cerr := a.Cache.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close response cache: %w", cerr))
	}
	if gerr := a.Geo.Close(); gerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close geoip database: %w", gerr))
	}
	return err
}
