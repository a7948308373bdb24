package internal

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
)

// NewServerConfig returns the cartridge server settings shared by the
// application and the test app. Every endpoint is called cross-site, so the
// global Sec-Fetch-Site check is off: it runs before any per-route opt-out
// and would reject POSTs and error responses without CORS headers. There are
// no templates or static assets to serve.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = false
	cfg.EnableHelmet = false
	cfg.EnableTemplates = false
	cfg.EnableStaticAssets = false
	return cfg
}

// securityHeaders is cartridge's helmet with a cross-origin resource policy,
// so pages on other origins can load the tracking pixel.
func securityHeaders() fiber.Handler {
	return cartridgemiddleware.HelmetWithConfig(helmet.Config{
		ReferrerPolicy:            "same-origin",
		CrossOriginEmbedderPolicy: "unsafe-none",
		CrossOriginResourcePolicy: "cross-origin",
	})
}
