package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
)

// sendError maps domain errors onto HTTP responses
func sendError(c *fiber.Ctx, err error) error {
	var (
		notFound     *model.NotFoundError
		validation   *model.ValidationError
		precondition *model.PreconditionError
		conflict     *model.ConflictError
		terminal     *model.TerminalStateError
		provider     *model.ProviderError
	)

	switch {
	case errors.As(err, &notFound):
		c.SendStatus(fiber.StatusNotFound)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.As(err, &validation):
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error":  "Invalid request",
			"fields": validation.Fields,
		})
	case errors.As(err, &precondition), errors.As(err, &conflict), errors.As(err, &terminal):
		c.SendStatus(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.As(err, &provider):
		log.Warn().Err(err).Str("path", c.Path()).Msg("Provider request failed")

		c.SendStatus(fiber.StatusBadGateway)
		return c.JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")

		c.SendStatus(fiber.StatusInternalServerError)
		return c.JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}

func invalidBody(c *fiber.Ctx, err error) error {
	c.SendStatus(fiber.StatusBadRequest)
	return c.JSON(fiber.Map{
		"error": "Could not parse request body: " + err.Error(),
	})
}
