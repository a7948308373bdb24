package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// BearerKeyAuth validates the configured secret for the stats endpoint.
// Expects: Authorization: Bearer <api_key>. An empty configured key
// rejects every request.
func BearerKeyAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" || !secureCompare(c.Get(fiber.HeaderAuthorization), "Bearer "+apiKey) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}

// secureCompare performs constant-time string comparison
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
