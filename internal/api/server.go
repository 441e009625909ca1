// Package api serves the drinks menu over HTTP. Reading the menu is public;
// details and changes are gated by permissions carried in bearer tokens.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	authlyfiber "github.com/keksclan/coffeeshop/adapters/fiber"
	"github.com/keksclan/coffeeshop/authly"
	"github.com/keksclan/coffeeshop/internal/drinks"
)

// Permissions required by the protected routes.
const (
	PermGetDrinksDetail = "get:drinks-detail"
	PermPostDrinks      = "post:drinks"
	PermPatchDrinks     = "patch:drinks"
	PermDeleteDrinks    = "delete:drinks"
)

type Server struct {
	store  drinks.Store
	logger *zap.Logger
}

// New wires the routes onto a fresh fiber app.
func New(store drinks.Store, gate *authly.Gate, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, logger: logger}

	app := fiber.New(fiber.Config{
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	app.Use(s.requestLogger)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/drinks", s.listDrinks)
	app.Get("/drinks-detail", authlyfiber.Guard(gate, PermGetDrinksDetail, s.listDrinkDetails))
	app.Post("/drinks", authlyfiber.Guard(gate, PermPostDrinks, s.createDrink))
	app.Patch("/drinks/:id", authlyfiber.Guard(gate, PermPatchDrinks, s.updateDrink))
	app.Delete("/drinks/:id", authlyfiber.Guard(gate, PermDeleteDrinks, s.deleteDrink))

	return app
}
