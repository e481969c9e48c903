// Package tracking owns every mutation of a delivery's tracking state. All
// writes for one delivery are serialised and terminal deliveries are never
// modified.
package tracking

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/parcelwatch/parcelwatch/pkg/broadcast"
	"github.com/parcelwatch/parcelwatch/pkg/clock"
	"github.com/parcelwatch/parcelwatch/pkg/geo"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/parcelwatch/parcelwatch/pkg/progress"
	"github.com/rs/zerolog/log"
)

const (
	OutForDeliveryThreshold = 95.0
	DeliveredThreshold      = 100.0
)

type Actor struct {
	Name   string
	Source string
}

var (
	ActorSimulator = Actor{Name: "simulator", Source: "simulation"}
	ActorSystem    = Actor{Name: "system", Source: "system"}
)

type Updater struct {
	store   Store
	gateway broadcast.Gateway
	clock   clock.Clock
	locks   *KeyedMutex
}

func NewUpdater(store Store, gateway broadcast.Gateway, c clock.Clock) *Updater {
	if gateway == nil {
		gateway = broadcast.Nop{}
	}
	if c == nil {
		c = clock.RealClock{}
	}

	return &Updater{
		store:   store,
		gateway: gateway,
		clock:   c,
		locks:   NewKeyedMutex(),
	}
}

type notification struct {
	eventType model.BroadcastType
	payload   interface{}
}

type mutation func(delivery *model.Delivery, now time.Time) ([]notification, error)

// mutate loads, changes and saves one delivery while holding its lock.
// Broadcasts go out after the lock is released.
func (u *Updater) mutate(ctx context.Context, identifier string, fn mutation) (*model.Delivery, error) {
	unlock := u.locks.Lock(identifier)

	delivery, err := u.store.Get(ctx, identifier)
	if err != nil {
		unlock()
		return nil, err
	}

	if delivery.Status.IsTerminal() {
		unlock()
		return nil, &model.TerminalStateError{Identifier: identifier, Status: delivery.Status}
	}

	now := u.clock.Now()
	notifications, err := fn(delivery, now)
	if err != nil {
		unlock()
		return nil, err
	}

	delivery.ModificationDateTime = now
	if err := u.store.Save(ctx, delivery); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	for _, n := range notifications {
		u.gateway.Publish(delivery.PrimaryIdentifier, delivery.TrackingID, n.eventType, n.payload)
	}

	return delivery, nil
}

func (u *Updater) Get(ctx context.Context, identifier string) (*model.Delivery, error) {
	return u.store.Get(ctx, identifier)
}

func (u *Updater) GetByTrackingID(ctx context.Context, trackingID string) (*model.Delivery, error) {
	return u.store.GetByTrackingID(ctx, trackingID)
}

func clampProgress(percent float64) float64 {
	return math.Max(0, math.Min(100, percent))
}

// ApplyPosition records a new vehicle position and runs the status rules
func (u *Updater) ApplyPosition(ctx context.Context, identifier string, position Position, actor Actor) (*model.Delivery, error) {
	if err := position.Validate(); err != nil {
		return nil, err
	}

	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		return applyPosition(delivery, position, actor, now), nil
	})
}

func applyPosition(delivery *model.Delivery, position Position, actor Actor, now time.Time) []notification {
	trackingData := &delivery.TrackingData
	percent := clampProgress(position.VehicleProgress)

	trackingData.CurrentLocation = model.NewLocation(position.Coordinates[0], position.Coordinates[1])
	trackingData.VehicleProgress = percent
	if position.RouteProgress != nil {
		trackingData.RouteProgress = clampProgress(*position.RouteProgress)
	}
	if position.Speed != nil {
		trackingData.Speed = math.Max(0, *position.Speed)
	}
	if position.Bearing != nil {
		trackingData.Bearing = geo.NormalizeBearing(*position.Bearing)
	}
	trackingData.LastUpdated = now

	markWaypointArrivals(trackingData, percent, now)

	if delivery.Route != nil && delivery.Route.TotalDistance > 0 {
		remaining := math.Round(delivery.Route.TotalDistance * (100 - percent) / 100)
		trackingData.RemainingDistance = &remaining

		switch {
		case remaining <= 0:
			trackingData.EstimatedArrival = nil
		case trackingData.Speed > 0:
			seconds := math.Round(remaining / 1000 / trackingData.Speed * 3600)
			eta := now.Add(time.Duration(seconds) * time.Second)
			trackingData.EstimatedArrival = &eta
		}
	}

	previous := delivery.Status
	applyTransitions(delivery, percent, now)

	delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
		Action:          "position_update",
		Timestamp:       now,
		Coordinates:     []float64{position.Coordinates[0], position.Coordinates[1]},
		VehicleProgress: trackingData.VehicleProgress,
		RouteProgress:   trackingData.RouteProgress,
		Actor:           actor.Name,
		Source:          actor.Source,
	})

	notifications := []notification{{
		eventType: model.BroadcastLocationUpdate,
		payload:   newLocationPayload(delivery),
	}}
	if previous != delivery.Status {
		notifications = append(notifications, statusNotification(previous, delivery, "progress"))
	}

	return notifications
}

// markWaypointArrivals marks every waypoint whose share of the journey has
// been covered, so a single large jump can arrive at several at once
func markWaypointArrivals(trackingData *model.TrackingData, percent float64, now time.Time) {
	count := len(trackingData.Waypoints)
	if count == 0 {
		return
	}

	arrivedIndex := int(math.Floor(percent*float64(count)/100)) - 1
	for i := 0; i <= arrivedIndex && i < count; i++ {
		waypoint := &trackingData.Waypoints[i]
		if waypoint.Arrived {
			continue
		}

		arrivedAt := now
		waypoint.Arrived = true
		waypoint.ArrivedAt = &arrivedAt
	}
}

func applyTransitions(delivery *model.Delivery, percent float64, now time.Time) {
	if delivery.Status == model.DeliveryStatusPending && percent > 0 {
		delivery.SetStatus(model.DeliveryStatusInTransit, now, "vehicle departed")
	}

	if percent >= OutForDeliveryThreshold && delivery.Status != model.DeliveryStatusDelivered {
		delivery.SetStatus(model.DeliveryStatusOutForDelivery, now, "approaching destination")
	}

	if percent >= DeliveredThreshold {
		delivery.SetStatus(model.DeliveryStatusDelivered, now, "arrived at destination")

		actualDelivery := now
		delivery.ActualDelivery = &actualDelivery
		delivery.TrackingData.Active = false
	}
}

// UpdatePositionManual applies an operator correction. A route progress only
// update never moves the vehicle.
func (u *Updater) UpdatePositionManual(ctx context.Context, identifier string, update ManualUpdate, actor Actor) (*model.Delivery, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		if update.routeProgressOnly() {
			trackingData := &delivery.TrackingData
			trackingData.RouteProgress = clampProgress(*update.RouteProgress)
			if update.Speed != nil {
				trackingData.Speed = math.Max(0, *update.Speed)
			}
			if update.Bearing != nil {
				trackingData.Bearing = geo.NormalizeBearing(*update.Bearing)
			}
			trackingData.LastUpdated = now

			delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
				Action:          "route_progress_update",
				Timestamp:       now,
				Coordinates:     trackingData.CurrentLocation.Coordinates,
				VehicleProgress: trackingData.VehicleProgress,
				RouteProgress:   trackingData.RouteProgress,
				Actor:           actor.Name,
				Source:          actor.Source,
			})

			return []notification{{
				eventType: model.BroadcastLocationUpdate,
				payload:   newLocationPayload(delivery),
			}}, nil
		}

		percent := delivery.TrackingData.VehicleProgress
		if update.VehicleProgress != nil {
			percent = *update.VehicleProgress
		}

		var coordinates []float64
		if update.Longitude != nil && update.Latitude != nil {
			coordinates = []float64{*update.Longitude, *update.Latitude}
		} else if point, ok := progress.CoordinateForProgress(delivery, percent); ok {
			coordinates = point
		} else if !delivery.TrackingData.CurrentLocation.IsSentinel() {
			coordinates = delivery.TrackingData.CurrentLocation.Coordinates
		} else {
			coordinates = []float64{0, 0}
		}

		return applyPosition(delivery, Position{
			Coordinates:     coordinates,
			VehicleProgress: percent,
			RouteProgress:   update.RouteProgress,
			Speed:           update.Speed,
			Bearing:         update.Bearing,
		}, actor, now), nil
	})
}

// ApplyIncident appends the incident and delays the delivery when it is unresolved and above low severity
func (u *Updater) ApplyIncident(ctx context.Context, identifier string, report IncidentReport, actor Actor) (*model.Delivery, *model.Incident, error) {
	if err := report.Validate(); err != nil {
		return nil, nil, err
	}

	var created model.Incident

	delivery, err := u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		created = model.Incident{
			ID:          uuid.NewString(),
			Type:        report.Type,
			Severity:    report.Severity,
			Description: report.Description,
			Resolved:    report.Resolved,
			ReportedAt:  now,
			ReportedBy:  actor.Name,
		}
		if created.Resolved {
			resolvedAt := now
			created.ResolvedAt = &resolvedAt
		}
		delivery.Incidents = append(delivery.Incidents, created)

		delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
			Action:          "incident_reported",
			Timestamp:       now,
			Coordinates:     delivery.TrackingData.CurrentLocation.Coordinates,
			VehicleProgress: delivery.TrackingData.VehicleProgress,
			RouteProgress:   delivery.TrackingData.RouteProgress,
			Actor:           actor.Name,
			Source:          actor.Source,
		})

		notifications := []notification{{
			eventType: model.BroadcastIncidentReported,
			payload:   created,
		}}

		previous := delivery.Status
		if created.Blocks() {
			delivery.SetStatus(model.DeliveryStatusDelayed, now, "incident: "+created.Type)
		}
		if previous != delivery.Status {
			notifications = append(notifications, statusNotification(previous, delivery, "incident"))
		}

		return notifications, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return delivery, &created, nil
}

// ResolveIncident closes an incident. A delayed delivery resumes once nothing blocks it.
func (u *Updater) ResolveIncident(ctx context.Context, identifier string, incidentID string, actor Actor) (*model.Delivery, error) {
	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		var incident *model.Incident
		for i := range delivery.Incidents {
			if delivery.Incidents[i].ID == incidentID {
				incident = &delivery.Incidents[i]
				break
			}
		}
		if incident == nil {
			return nil, &model.NotFoundError{Kind: "incident", Identifier: incidentID}
		}
		if incident.Resolved {
			return nil, nil
		}

		resolvedAt := now
		incident.Resolved = true
		incident.ResolvedAt = &resolvedAt

		delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
			Action:          "incident_resolved",
			Timestamp:       now,
			Coordinates:     delivery.TrackingData.CurrentLocation.Coordinates,
			VehicleProgress: delivery.TrackingData.VehicleProgress,
			RouteProgress:   delivery.TrackingData.RouteProgress,
			Actor:           actor.Name,
			Source:          actor.Source,
		})

		notifications := []notification{{
			eventType: model.BroadcastIncidentResolved,
			payload:   *incident,
		}}

		if delivery.Status == model.DeliveryStatusDelayed && !delivery.HasBlockingIncident() {
			previous := delivery.Status
			delivery.SetStatus(resumedStatus(delivery), now, "incidents resolved")
			notifications = append(notifications, statusNotification(previous, delivery, "incident resolved"))
		}

		return notifications, nil
	})
}

func resumedStatus(delivery *model.Delivery) model.DeliveryStatus {
	switch {
	case delivery.TrackingData.VehicleProgress >= OutForDeliveryThreshold:
		return model.DeliveryStatusOutForDelivery
	case delivery.TrackingData.VehicleProgress > 0 || delivery.TrackingData.Active:
		return model.DeliveryStatusInTransit
	default:
		return model.DeliveryStatusPending
	}
}

// BeginSimulation marks the delivery as actively tracked and in transit
func (u *Updater) BeginSimulation(ctx context.Context, identifier string, actor Actor) (*model.Delivery, error) {
	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		previous := delivery.Status

		delivery.SetStatus(model.DeliveryStatusInTransit, now, "simulation started")
		delivery.TrackingData.Active = true
		delivery.TrackingData.LastUpdated = now

		if delivery.TrackingData.CurrentLocation.IsSentinel() && !delivery.Sender.Location.IsSentinel() {
			delivery.TrackingData.CurrentLocation = model.NewLocation(delivery.Sender.Location.Longitude(), delivery.Sender.Location.Latitude())
		}

		delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
			Action:          "simulation_started",
			Timestamp:       now,
			Coordinates:     delivery.TrackingData.CurrentLocation.Coordinates,
			VehicleProgress: delivery.TrackingData.VehicleProgress,
			RouteProgress:   delivery.TrackingData.RouteProgress,
			Actor:           actor.Name,
			Source:          actor.Source,
		})

		notifications := []notification{{
			eventType: model.BroadcastSimulationStarted,
			payload:   newLocationPayload(delivery),
		}}
		if previous != delivery.Status {
			notifications = append(notifications, statusNotification(previous, delivery, "simulation started"))
		}

		return notifications, nil
	})
}

// EndSimulation clears the active flag after a session stops early
func (u *Updater) EndSimulation(ctx context.Context, identifier string, reason string, actor Actor) (*model.Delivery, error) {
	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		delivery.TrackingData.Active = false
		delivery.TrackingData.LastUpdated = now

		delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
			Action:          "simulation_stopped",
			Timestamp:       now,
			Coordinates:     delivery.TrackingData.CurrentLocation.Coordinates,
			VehicleProgress: delivery.TrackingData.VehicleProgress,
			RouteProgress:   delivery.TrackingData.RouteProgress,
			Actor:           actor.Name,
			Source:          actor.Source,
		})

		return []notification{{
			eventType: model.BroadcastSimulationStopped,
			payload:   simulationStoppedPayload{Reason: reason, VehicleProgress: delivery.TrackingData.VehicleProgress},
		}}, nil
	})
}

func (u *Updater) Cancel(ctx context.Context, identifier string, reason string, actor Actor) (*model.Delivery, error) {
	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		previous := delivery.Status

		if reason == "" {
			reason = "cancelled"
		}
		delivery.SetStatus(model.DeliveryStatusCancelled, now, reason)
		delivery.TrackingData.Active = false
		delivery.TrackingData.LastUpdated = now

		delivery.UpdateLog = append(delivery.UpdateLog, model.UpdateLogEntry{
			Action:          "cancelled",
			Timestamp:       now,
			Coordinates:     delivery.TrackingData.CurrentLocation.Coordinates,
			VehicleProgress: delivery.TrackingData.VehicleProgress,
			RouteProgress:   delivery.TrackingData.RouteProgress,
			Actor:           actor.Name,
			Source:          actor.Source,
		})

		return []notification{statusNotification(previous, delivery, reason)}, nil
	})
}

func (u *Updater) SetRoute(ctx context.Context, identifier string, route *model.Route) (*model.Delivery, error) {
	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		delivery.Route = route
		return nil, nil
	})
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) ([]float64, error)
}

// Geocode resolves the sender and receiver addresses. The provider is called
// before the delivery lock is taken. A failed lookup leaves the [0,0]
// placeholder and Geocoded false.
func (u *Updater) Geocode(ctx context.Context, identifier string, geocoder Geocoder) (*model.Delivery, error) {
	current, err := u.store.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, &model.TerminalStateError{Identifier: identifier, Status: current.Status}
	}

	sender := geocodeParty(ctx, geocoder, identifier, current.Sender)
	receiver := geocodeParty(ctx, geocoder, identifier, current.Receiver)

	return u.mutate(ctx, identifier, func(delivery *model.Delivery, now time.Time) ([]notification, error) {
		if delivery.Sender.Address == current.Sender.Address {
			delivery.Sender.Location = sender.Location
			delivery.Sender.Geocoded = sender.Geocoded
		}
		if delivery.Receiver.Address == current.Receiver.Address {
			delivery.Receiver.Location = receiver.Location
			delivery.Receiver.Geocoded = receiver.Geocoded
		}

		return nil, nil
	})
}

func geocodeParty(ctx context.Context, geocoder Geocoder, identifier string, party model.Party) model.Party {
	if party.Address == "" {
		party.Location = model.NewLocation(0, 0)
		party.Geocoded = false
		return party
	}

	coordinates, err := geocoder.Geocode(ctx, party.Address)
	if err != nil || len(coordinates) < 2 {
		log.Warn().Err(err).Str("delivery", identifier).Str("address", party.Address).Msg("Failed to geocode address")

		party.Location = model.NewLocation(0, 0)
		party.Geocoded = false
		return party
	}

	party.Location = model.NewLocation(coordinates[0], coordinates[1])
	party.Geocoded = true
	return party
}
