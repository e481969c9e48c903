package tracking

import (
	"math"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/model"
)

type Position struct {
	Coordinates     []float64
	VehicleProgress float64

	RouteProgress *float64
	Speed         *float64
	Bearing       *float64
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

func validateCoordinates(validation *model.ValidationError, longitude float64, latitude float64) {
	if !finite(longitude) || longitude < -180 || longitude > 180 {
		validation.Add("longitude", "must be between -180 and 180")
	}
	if !finite(latitude) || latitude < -90 || latitude > 90 {
		validation.Add("latitude", "must be between -90 and 90")
	}
}

func validateOptional(validation *model.ValidationError, field string, value *float64) {
	if value != nil && !finite(*value) {
		validation.Add(field, "must be a finite number")
	}
}

func (p Position) Validate() error {
	validation := &model.ValidationError{}

	if len(p.Coordinates) != 2 {
		validation.Add("coordinates", "must be [longitude, latitude]")
	} else {
		validateCoordinates(validation, p.Coordinates[0], p.Coordinates[1])
	}
	if !finite(p.VehicleProgress) {
		validation.Add("vehicleProgress", "must be a finite number")
	}
	validateOptional(validation, "routeProgress", p.RouteProgress)
	validateOptional(validation, "speed", p.Speed)
	validateOptional(validation, "bearing", p.Bearing)

	return validation.OrNil()
}

type ManualUpdate struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`

	VehicleProgress *float64 `json:"vehicleProgress"`
	RouteProgress   *float64 `json:"routeProgress"`

	Speed   *float64 `json:"speed"`
	Bearing *float64 `json:"bearing"`
}

func (m ManualUpdate) routeProgressOnly() bool {
	return m.Longitude == nil && m.Latitude == nil && m.VehicleProgress == nil && m.RouteProgress != nil
}

func (m ManualUpdate) Validate() error {
	validation := &model.ValidationError{}

	switch {
	case (m.Longitude == nil) != (m.Latitude == nil):
		validation.Add("coordinates", "longitude and latitude must be supplied together")
	case m.Longitude != nil:
		validateCoordinates(validation, *m.Longitude, *m.Latitude)
	}

	if m.Longitude == nil && m.VehicleProgress == nil && m.RouteProgress == nil {
		validation.Add("update", "one of coordinates, vehicleProgress or routeProgress is required")
	}

	validateOptional(validation, "vehicleProgress", m.VehicleProgress)
	validateOptional(validation, "routeProgress", m.RouteProgress)
	validateOptional(validation, "speed", m.Speed)
	validateOptional(validation, "bearing", m.Bearing)

	return validation.OrNil()
}

type IncidentReport struct {
	Type        string                 `json:"type"`
	Severity    model.IncidentSeverity `json:"severity"`
	Description string                 `json:"description"`
	Resolved    bool                   `json:"resolved"`
}

func (r IncidentReport) Validate() error {
	validation := &model.ValidationError{}

	if r.Type == "" {
		validation.Add("type", "is required")
	}
	if !r.Severity.IsValid() {
		validation.Add("severity", "must be one of low, medium, high, critical")
	}

	return validation.OrNil()
}

type locationPayload struct {
	Status            model.DeliveryStatus `json:"status"`
	Coordinates       []float64            `json:"coordinates"`
	VehicleProgress   float64              `json:"vehicle_progress"`
	RouteProgress     float64              `json:"route_progress"`
	Speed             float64              `json:"speed"`
	Bearing           float64              `json:"bearing"`
	RemainingDistance *float64             `json:"remaining_distance,omitempty"`
	EstimatedArrival  *time.Time           `json:"estimated_arrival,omitempty"`
	Active            bool                 `json:"active"`
	LastUpdated       time.Time            `json:"last_updated"`
}

func newLocationPayload(delivery *model.Delivery) locationPayload {
	trackingData := delivery.TrackingData

	return locationPayload{
		Status:            delivery.Status,
		Coordinates:       trackingData.CurrentLocation.Coordinates,
		VehicleProgress:   trackingData.VehicleProgress,
		RouteProgress:     trackingData.RouteProgress,
		Speed:             trackingData.Speed,
		Bearing:           trackingData.Bearing,
		RemainingDistance: trackingData.RemainingDistance,
		EstimatedArrival:  trackingData.EstimatedArrival,
		Active:            trackingData.Active,
		LastUpdated:       trackingData.LastUpdated,
	}
}

type statusPayload struct {
	From   model.DeliveryStatus `json:"from"`
	To     model.DeliveryStatus `json:"to"`
	Reason string               `json:"reason"`
}

func statusNotification(previous model.DeliveryStatus, delivery *model.Delivery, reason string) notification {
	return notification{
		eventType: model.BroadcastStatusChange,
		payload: statusPayload{
			From:   previous,
			To:     delivery.Status,
			Reason: reason,
		},
	}
}

type simulationStoppedPayload struct {
	Reason          string  `json:"reason"`
	VehicleProgress float64 `json:"vehicle_progress"`
}
