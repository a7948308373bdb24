package v1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitorstats/internal/ingestion"
	"visitorstats/internal/visitors"
)

// LogVisitHandler records one hit and answers the tracking pixel.
func (a *API) LogVisitHandler(ctx *cartridge.Context) error {
	address := visitors.ClientAddress(ctx.Ctx)

	input := ingestion.VisitInput{
		Address:   address,
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
		Referer:   ctx.Get(fiber.HeaderReferer),
		Country:   visitors.ResolveCountry(ctx.Get("CF-IPCountry"), address, a.geo),
		RawPath:   ctx.Query("path", "/"),
		Timestamp: a.now(),
	}

	if _, err := ingestion.CollectVisit(ctx.DB(), ctx.Logger, appConfig(ctx).Salt, input); err != nil {
		return handleError(ctx, err, "Failed to collect visit")
	}

	ctx.Set(fiber.HeaderContentType, "image/gif")
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	return ctx.Status(fiber.StatusOK).Send(transparentGIF)
}
