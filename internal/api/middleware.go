package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	authlyfiber "github.com/keksclan/coffeeshop/adapters/fiber"
	"github.com/keksclan/coffeeshop/authly"
	"github.com/keksclan/coffeeshop/internal/drinks"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// requestLogger assigns a request id and logs each request once the error
// handler has produced its response.
func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	rid := c.Get(HeaderRequestID)
	if rid == "" {
		rid = uuid.NewString()
	}
	c.Set(HeaderRequestID, rid)
	c.Locals("request_id", rid)

	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	s.logger.Info("request",
		zap.String("request_id", rid),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)))
	return nil
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	if _, ok := authly.AsAuthError(err); ok {
		return authlyfiber.WriteError(c, err)
	}

	var fe *fiber.Error
	switch {
	case errors.Is(err, drinks.ErrNotFound):
		return writeError(c, fiber.StatusNotFound)
	case errors.Is(err, drinks.ErrUnprocessable):
		return writeError(c, fiber.StatusUnprocessableEntity)
	case errors.As(err, &fe):
		if fe.Code == fiber.StatusNotFound || fe.Code == fiber.StatusUnprocessableEntity {
			return writeError(c, fe.Code)
		}
		return c.Status(fe.Code).JSON(errorBody{Error: fe.Code, Message: fe.Message})
	default:
		s.logger.Error("unhandled error",
			zap.Error(err),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()))
		return writeError(c, fiber.StatusInternalServerError)
	}
}

func writeError(c *fiber.Ctx, status int) error {
	var msg string
	switch status {
	case fiber.StatusNotFound:
		msg = "resource not found"
	case fiber.StatusUnprocessableEntity:
		msg = "unprocessable"
	default:
		msg = "internal server error"
	}
	return c.Status(status).JSON(errorBody{Error: status, Message: msg})
}
