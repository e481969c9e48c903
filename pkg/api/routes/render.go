package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/liip/sheriff"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
)

// ActorLocal is the fiber local holding the authenticated operator name
const ActorLocal = "actor"

var (
	publicGroups   = []string{"basic"}
	operatorGroups = []string{"basic", "detailed"}
)

func render(c *fiber.Ctx, groups []string, value interface{}) error {
	reducedValue, err := sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, value)
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(reducedValue)
}

func actorFrom(c *fiber.Ctx) tracking.Actor {
	name, _ := c.Locals(ActorLocal).(string)
	if name == "" {
		name = "operator"
	}

	return tracking.Actor{Name: name, Source: "api"}
}
