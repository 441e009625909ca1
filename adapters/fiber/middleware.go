// Package authlyfiber gates Fiber routes behind an authly.Gate.
//
// On success the decoded claims are stored in c.Locals(LocalsKey). On
// failure the route handler is not called and the AuthError is written as
// {"code", "description"} with its status.
//
// Concurrency: All exported functions are safe for concurrent use.
package authlyfiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/coffeeshop/adapters/common"
	"github.com/keksclan/coffeeshop/authly"
)

// LocalsKey is the c.Locals key holding authly.Claims.
const LocalsKey = "authly.claims"

// Handler is a route handler that receives the caller's claims.
type Handler func(c *fiber.Ctx, claims authly.Claims) error

// Middleware authorizes the request for permission and continues the chain.
// An empty permission only requires a valid token.
func Middleware(gate *authly.Gate, permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := gate.Authorize(c.UserContext(), common.RequestHeaders(&c.Request().Header), permission)
		if err != nil {
			return WriteError(c, err)
		}
		c.Locals(LocalsKey, claims)
		return c.Next()
	}
}

// Guard wraps h so it runs only for requests holding permission.
func Guard(gate *authly.Gate, permission string, h Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := gate.Authorize(c.UserContext(), common.RequestHeaders(&c.Request().Header), permission)
		if err != nil {
			return WriteError(c, err)
		}
		c.Locals(LocalsKey, claims)
		return h(c, claims.Clone())
	}
}

// ClaimsFromLocals returns the claims stored by Middleware or Guard.
func ClaimsFromLocals(c *fiber.Ctx) authly.Claims {
	v, _ := c.Locals(LocalsKey).(authly.Claims)
	return v
}

// WriteError writes the boundary body for err.
func WriteError(c *fiber.Ctx, err error) error {
	status, body := common.ErrorResponse(err)
	return c.Status(status).JSON(body)
}
