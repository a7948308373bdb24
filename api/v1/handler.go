// Package v1 implements the tracking and stats endpoints.
package v1

import (
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitorstats/internal/config"
	"visitorstats/internal/responsecache"
	"visitorstats/internal/visitors"
)

const (
	errInvalidPath = "Invalid path"
)

// transparentGIF is the 1x1 pixel answered by /log.
var transparentGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAP///wAAACH5BAEAAAAALAAAAAABAAEAAAICRAEAOw==")

// API holds the collaborators shared by the handlers.
type API struct {
	cache    responsecache.Cache
	cacheTTL time.Duration
	geo      visitors.CountryLookup
	now      func() time.Time
}

// Options configures NewAPI. Zero values fall back to sensible defaults:
// no GeoIP lookup and time.Now.
type Options struct {
	Cache    responsecache.Cache
	CacheTTL time.Duration
	Geo      visitors.CountryLookup
	Now      func() time.Time
}

func NewAPI(opts Options) *API {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &API{
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		geo:      opts.Geo,
		now:      opts.Now,
	}
}

func appConfig(ctx *cartridge.Context) *config.Config {
	if cfg, ok := ctx.Config.(*config.Config); ok {
		return cfg
	}
	return config.GetConfig()
}

// handleError answers a storage failure with the underlying message.
func handleError(ctx *cartridge.Context, err error, msg string) error {
	ctx.Logger.Error(msg, slog.String("path", ctx.Path()), slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
