package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/parcelwatch/parcelwatch/pkg/api/routes"
	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/simulator"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
)

type Services struct {
	Updater     *tracking.Updater
	Simulations *simulator.Manager
	// Optional, geocoding requests fail with a precondition error without it
	Geocoder tracking.Geocoder
	Metrics  *metrics.Metrics
	// Guards operator routes, defaults to open access
	OperatorAuth fiber.Handler
}

func NewApp(services Services) *fiber.App {
	operatorAuth := services.OperatorAuth
	if operatorAuth == nil {
		operatorAuth = NewOperatorAuth(nil, "")
	}

	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,

		// Identifiers and reasons outlive the request in sessions and the store
		Immutable: true,
	})
	webApp.Use(NewLogger(services.Metrics))

	group := webApp.Group("/core")

	group.Get("version", routes.APIVersion)

	routes.DeliveriesRouter(group.Group("/deliveries"), operatorAuth, services.Updater, services.Simulations, services.Geocoder)
	routes.SimulationsRouter(group.Group("/simulations", operatorAuth), services.Simulations)

	return webApp
}
