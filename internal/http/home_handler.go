package http

import (
	"github.com/karloscodes/cartridge"
)

// Banner identifies the service on every unrouted path.
const Banner = "Visitor Stats Worker"

// HomeIndexAction answers the root and any unknown path.
func HomeIndexAction(ctx *cartridge.Context) error {
	return ctx.SendString(Banner)
}
