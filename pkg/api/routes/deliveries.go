package routes

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/progress"
	"github.com/parcelwatch/parcelwatch/pkg/simulator"
	"github.com/parcelwatch/parcelwatch/pkg/tracking"
)

type deliveriesRoutes struct {
	updater     *tracking.Updater
	simulations *simulator.Manager
	geocoder    tracking.Geocoder
}

// DeliveriesRouter registers the delivery routes. Tracking lookups are
// public, everything else goes through operator.
func DeliveriesRouter(router fiber.Router, operator fiber.Handler, updater *tracking.Updater, simulations *simulator.Manager, geocoder tracking.Geocoder) {
	routes := &deliveriesRoutes{
		updater:     updater,
		simulations: simulations,
		geocoder:    geocoder,
	}

	router.Get("/track/:trackingid", routes.trackDelivery)

	router.Get("/:identifier", operator, routes.getDelivery)
	router.Get("/:identifier/progress-estimate", operator, routes.estimateProgress)
	router.Post("/:identifier/geocode", operator, routes.geocodeDelivery)
	router.Post("/:identifier/location", operator, routes.updateLocation)
	router.Post("/:identifier/incidents", operator, routes.reportIncident)
	router.Post("/:identifier/incidents/:incident/resolve", operator, routes.resolveIncident)
	router.Post("/:identifier/cancel", operator, routes.cancelDelivery)
}

func (r *deliveriesRoutes) trackDelivery(c *fiber.Ctx) error {
	delivery, err := r.updater.GetByTrackingID(c.UserContext(), c.Params("trackingid"))
	if err != nil {
		return sendError(c, err)
	}

	return render(c, publicGroups, delivery)
}

func (r *deliveriesRoutes) getDelivery(c *fiber.Ctx) error {
	delivery, err := r.updater.Get(c.UserContext(), c.Params("identifier"))
	if err != nil {
		return sendError(c, err)
	}

	return render(c, operatorGroups, delivery)
}

func (r *deliveriesRoutes) estimateProgress(c *fiber.Ctx) error {
	validation := &model.ValidationError{}

	longitude, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		validation.Add("lon", "must be a number")
	}
	latitude, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		validation.Add("lat", "must be a number")
	}
	if err := validation.OrNil(); err != nil {
		return sendError(c, err)
	}

	delivery, err := r.updater.Get(c.UserContext(), c.Params("identifier"))
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"VehicleProgress": progress.ProgressForCoordinate(delivery, []float64{longitude, latitude}),
	})
}

func (r *deliveriesRoutes) geocodeDelivery(c *fiber.Ctx) error {
	if r.geocoder == nil {
		return sendError(c, &model.PreconditionError{Reason: "no geocoding provider configured"})
	}

	delivery, err := r.updater.Geocode(c.UserContext(), c.Params("identifier"), r.geocoder)
	if err != nil {
		return sendError(c, err)
	}

	return render(c, operatorGroups, delivery)
}

func (r *deliveriesRoutes) updateLocation(c *fiber.Ctx) error {
	var update tracking.ManualUpdate
	if err := json.Unmarshal(c.Body(), &update); err != nil {
		return invalidBody(c, err)
	}

	delivery, err := r.updater.UpdatePositionManual(c.UserContext(), c.Params("identifier"), update, actorFrom(c))
	if err != nil {
		return sendError(c, err)
	}

	return render(c, operatorGroups, delivery)
}

func (r *deliveriesRoutes) reportIncident(c *fiber.Ctx) error {
	var report tracking.IncidentReport
	if err := json.Unmarshal(c.Body(), &report); err != nil {
		return invalidBody(c, err)
	}

	delivery, incident, err := r.updater.ApplyIncident(c.UserContext(), c.Params("identifier"), report, actorFrom(c))
	if err != nil {
		return sendError(c, err)
	}

	return render(c, operatorGroups, struct {
		Incident *model.Incident `groups:"basic"`
		Delivery *model.Delivery `groups:"basic"`
	}{
		Incident: incident,
		Delivery: delivery,
	})
}

func (r *deliveriesRoutes) resolveIncident(c *fiber.Ctx) error {
	delivery, err := r.updater.ResolveIncident(c.UserContext(), c.Params("identifier"), c.Params("incident"), actorFrom(c))
	if err != nil {
		return sendError(c, err)
	}

	return render(c, operatorGroups, delivery)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (r *deliveriesRoutes) cancelDelivery(c *fiber.Ctx) error {
	var request cancelRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &request); err != nil {
			return invalidBody(c, err)
		}
	}

	delivery, err := r.simulations.Cancel(c.UserContext(), c.Params("identifier"), request.Reason, actorFrom(c))
	if err != nil {
		return sendError(c, err)
	}

	return render(c, operatorGroups, delivery)
}
