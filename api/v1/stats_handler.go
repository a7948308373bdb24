package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitorstats/internal/reports"
	"visitorstats/internal/responsecache"
)

// cacheWriteTimeout bounds the detached cache population after a miss.
const cacheWriteTimeout = 5 * time.Second

// PageStatsHandler answers the counters of one article with the site totals.
func (a *API) PageStatsHandler(ctx *cartridge.Context) error {
	report, err := reports.PageSnapshot(ctx.DB(), ctx.Query("path"))
	if errors.Is(err, reports.ErrInvalidPath) {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidPath,
		})
	}
	if err != nil {
		return handleError(ctx, err, "Failed to load page stats")
	}
	return ctx.JSON(report)
}

// totalCacheKey is the canonical URL of the site snapshot, query dropped.
func totalCacheKey(c *fiber.Ctx) string {
	return c.BaseURL() + "/total"
}

// SiteTotalHandler answers the lifetime site counters, served from the
// response cache while fresh.
func (a *API) SiteTotalHandler(ctx *cartridge.Context) error {
	key := totalCacheKey(ctx.Ctx)
	maxAge := fmt.Sprintf("public, max-age=%d", int(a.cacheTTL.Seconds()))

	if a.cache != nil {
		entry, ok, err := a.cache.Get(ctx.UserContext(), key)
		if err != nil {
			ctx.Logger.Warn("Response cache lookup failed", slog.String("key", key), slog.Any("error", err))
		} else if ok {
			ctx.Set(fiber.HeaderContentType, entry.ContentType)
			ctx.Set(fiber.HeaderCacheControl, maxAge)
			ctx.Set("X-Cache", "HIT")
			return ctx.Status(fiber.StatusOK).Send(entry.Body)
		}
	}

	report, err := reports.SiteSnapshot(ctx.DB())
	if err != nil {
		return handleError(ctx, err, "Failed to load site stats")
	}
	body, err := json.Marshal(report)
	if err != nil {
		return handleError(ctx, err, "Failed to encode site stats")
	}

	if a.cache != nil {
		entry := responsecache.Entry{Body: body, ContentType: fiber.MIMEApplicationJSON, StoredAt: a.now()}
		logger := ctx.Logger
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
			defer cancel()
			if err := a.cache.Set(writeCtx, key, entry, a.cacheTTL); err != nil {
				logger.Warn("Response cache write failed", slog.String("key", key), slog.Any("error", err))
			}
		}()
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	ctx.Set(fiber.HeaderCacheControl, maxAge)
	ctx.Set("X-Cache", "MISS")
	return ctx.Status(fiber.StatusOK).Send(body)
}

// RealtimeStatsHandler counts raw visits for today or all time.
func (a *API) RealtimeStatsHandler(ctx *cartridge.Context) error {
	loc, err := appConfig(ctx).Location()
	if err != nil {
		return handleError(ctx, err, "Invalid timezone")
	}

	report, err := reports.Realtime(ctx.UserContext(), ctx.DB(), reports.RealtimeQuery{
		Period:   ctx.Query("period", reports.PeriodToday),
		Path:     ctx.Query("path"),
		Now:      a.now(),
		Location: loc,
	})
	if err != nil {
		return handleError(ctx, err, "Failed to count visits")
	}
	return ctx.JSON(report)
}
