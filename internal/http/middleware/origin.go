package middleware

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// MissingOrigin is checked against the allow-list when a request carries
// neither Origin nor Referer. Only a "*" entry allows it.
const MissingOrigin = "http://error.error"

// OriginChecker decides whether an origin is allow-listed.
type OriginChecker interface {
	Allows(origin string) bool
}

// RequestOrigin returns the Origin header, else the origin of the Referer,
// else MissingOrigin. An unparsable Referer yields "null", which is never
// listed.
func RequestOrigin(c *fiber.Ctx) string {
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		return origin
	}

	referer := c.Get(fiber.HeaderReferer)
	if referer == "" {
		return MissingOrigin
	}

	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "null"
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if port := u.Port(); (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return scheme + "://" + host
}

// RequireAllowedOrigin rejects requests from origins missing from the
// allow-list with 403.
func RequireAllowedOrigin(checker OriginChecker, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := RequestOrigin(c)
		if !checker.Allows(origin) {
			logger.Debug("Rejected request from disallowed origin",
				slog.String("origin", origin),
				slog.String("path", c.Path()))
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Origin not allowed",
			})
		}
		return c.Next()
	}
}
