package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/keksclan/coffeeshop/authly"
	"github.com/keksclan/coffeeshop/internal/drinks"
)

func (s *Server) listDrinks(c *fiber.Ctx) error {
	all, err := s.store.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]drinks.Short, 0, len(all))
	for _, d := range all {
		out = append(out, d.Short())
	}
	return c.JSON(fiber.Map{"success": true, "drinks": out, "status": fiber.StatusOK})
}

func (s *Server) listDrinkDetails(c *fiber.Ctx, _ authly.Claims) error {
	all, err := s.store.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]drinks.Long, 0, len(all))
	for _, d := range all {
		out = append(out, d.Long())
	}
	return c.JSON(fiber.Map{"success": true, "drinks": out, "status": fiber.StatusOK})
}

func (s *Server) createDrink(c *fiber.Ctx, claims authly.Claims) error {
	in, err := drinks.DecodeInput(c.Body())
	if err != nil {
		return err
	}
	if err := in.ValidateCreate(); err != nil {
		return err
	}
	d, err := s.store.Create(c.UserContext(), in.Drink())
	if err != nil {
		return err
	}
	s.logger.Info("drink created",
		zap.Int64("id", d.ID),
		zap.String("title", d.Title),
		zap.String("sub", claims.Subject()))
	return c.JSON(fiber.Map{"success": true, "drinks": []drinks.Long{d.Long()}, "status": fiber.StatusOK})
}

func (s *Server) updateDrink(c *fiber.Ctx, claims authly.Claims) error {
	id, err := drinkID(c)
	if err != nil {
		return err
	}
	d, err := s.store.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	in, err := drinks.DecodeInput(c.Body())
	if err != nil {
		return err
	}
	if err := in.ValidatePatch(); err != nil {
		return err
	}
	d, err = s.store.Update(c.UserContext(), in.Apply(d))
	if err != nil {
		return err
	}
	s.logger.Info("drink updated", zap.Int64("id", d.ID), zap.String("sub", claims.Subject()))
	return c.JSON(fiber.Map{"success": true, "drinks": []drinks.Long{d.Long()}, "status": fiber.StatusOK})
}

func (s *Server) deleteDrink(c *fiber.Ctx, claims authly.Claims) error {
	id, err := drinkID(c)
	if err != nil {
		return err
	}
	if err := s.store.Delete(c.UserContext(), id); err != nil {
		return err
	}
	s.logger.Info("drink deleted", zap.Int64("id", id), zap.String("sub", claims.Subject()))
	return c.JSON(fiber.Map{"success": true, "delete": id, "status": fiber.StatusOK})
}

// drinkID parses the :id route parameter. A non-numeric id cannot name a
// drink, so it is reported as not found.
func drinkID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, drinks.ErrNotFound
	}
	return int64(id), nil
}
