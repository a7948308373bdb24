package middleware

import (
	"slices"

	"github.com/gofiber/fiber/v2"
)

// RequireMethod rejects requests whose method is not listed with 405.
func RequireMethod(methods ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !slices.Contains(methods, c.Method()) {
			return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
				"error": "Method not allowed",
			})
		}
		return c.Next()
	}
}
