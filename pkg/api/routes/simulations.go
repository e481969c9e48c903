package routes

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/simulator"
)

type simulationsRoutes struct {
	simulations *simulator.Manager
}

func SimulationsRouter(router fiber.Router, simulations *simulator.Manager) {
	routes := &simulationsRoutes{simulations: simulations}

	router.Get("/", routes.listSimulations)
	router.Get("/:identifier", routes.getSimulation)
	router.Post("/:identifier", routes.startSimulation)
	router.Delete("/:identifier", routes.stopSimulation)
}

func (r *simulationsRoutes) listSimulations(c *fiber.Ctx) error {
	return c.JSON(r.simulations.Active())
}

func (r *simulationsRoutes) getSimulation(c *fiber.Ctx) error {
	snapshot, ok := r.simulations.Get(c.Params("identifier"))
	if !ok {
		return sendError(c, &model.NotFoundError{Kind: "simulation", Identifier: c.Params("identifier")})
	}

	return c.JSON(snapshot)
}

func (r *simulationsRoutes) startSimulation(c *fiber.Ctx) error {
	var options simulator.Options
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &options); err != nil {
			return invalidBody(c, err)
		}
	}

	snapshot, err := r.simulations.Start(c.UserContext(), c.Params("identifier"), options, actorFrom(c))
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(snapshot)
}

func (r *simulationsRoutes) stopSimulation(c *fiber.Ctx) error {
	reason := c.Query("reason", "stopped by operator")

	stopped, err := r.simulations.Stop(c.UserContext(), c.Params("identifier"), reason, actorFrom(c))
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"Stopped": stopped,
	})
}
