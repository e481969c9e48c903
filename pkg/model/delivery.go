package model

import "time"

type Delivery struct {
	PrimaryIdentifier string `groups:"basic"`
	TrackingID        string `groups:"basic"`

	CreationDateTime     time.Time `groups:"detailed"`
	ModificationDateTime time.Time `groups:"detailed"`

	Status DeliveryStatus `groups:"basic"`

	Sender   Party `groups:"detailed"`
	Receiver Party `groups:"basic"`

	TrackingData TrackingData `groups:"basic"`

	// Optional precomputed road geometry
	Route *Route `groups:"detailed"`

	Incidents     []Incident       `groups:"basic"`
	StatusHistory []StatusChange   `groups:"detailed"`
	UpdateLog     []UpdateLogEntry `groups:"internal"`

	ActualDelivery *time.Time `groups:"basic"`
}

type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "pending"
	DeliveryStatusInTransit      DeliveryStatus = "in_transit"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelayed        DeliveryStatus = "delayed"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusCancelled      DeliveryStatus = "cancelled"
)

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusCancelled
}

type Party struct {
	Name     string   `groups:"basic"`
	Address  string   `groups:"basic"`
	Location Location `groups:"basic"`
	Geocoded bool     `groups:"detailed"`
}

type TrackingData struct {
	CurrentLocation Location `groups:"basic"`

	// VehicleProgress drives location and status, RouteProgress is display only
	VehicleProgress float64 `groups:"basic"`
	RouteProgress   float64 `groups:"basic"`

	Speed   float64 `groups:"basic"`
	Bearing float64 `groups:"basic"`

	RemainingDistance *float64   `groups:"basic"`
	EstimatedArrival  *time.Time `groups:"basic"`

	Waypoints []Waypoint `groups:"basic"`

	Active      bool      `groups:"basic"`
	LastUpdated time.Time `groups:"basic"`
}

type Waypoint struct {
	Name      string     `groups:"basic"`
	Location  Location   `groups:"basic"`
	Arrived   bool       `groups:"basic"`
	ArrivedAt *time.Time `groups:"basic"`
}

type Route struct {
	Geometry      [][]float64 `groups:"detailed"`
	TotalDistance float64     `groups:"basic"` // meters
	TotalDuration float64     `groups:"basic"` // seconds
}

func (r *Route) HasGeometry() bool {
	return r != nil && len(r.Geometry) >= 2
}

type StatusChange struct {
	From      DeliveryStatus `groups:"detailed"`
	To        DeliveryStatus `groups:"detailed"`
	Timestamp time.Time      `groups:"detailed"`
	Reason    string         `groups:"detailed"`
}

type UpdateLogEntry struct {
	Action          string    `groups:"internal"`
	Timestamp       time.Time `groups:"internal"`
	Coordinates     []float64 `groups:"internal"`
	VehicleProgress float64   `groups:"internal"`
	RouteProgress   float64   `groups:"internal"`
	Actor           string    `groups:"internal"`
	Source          string    `groups:"internal"`
}

func (d *Delivery) SetStatus(status DeliveryStatus, now time.Time, reason string) {
	if d.Status == status {
		return
	}

	d.StatusHistory = append(d.StatusHistory, StatusChange{
		From:      d.Status,
		To:        status,
		Timestamp: now,
		Reason:    reason,
	})
	d.Status = status
}

// HasBlockingIncident is true while any unresolved incident above low severity remains
func (d *Delivery) HasBlockingIncident() bool {
	for _, incident := range d.Incidents {
		if incident.Blocks() {
			return true
		}
	}

	return false
}
