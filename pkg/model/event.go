package model

import "time"

type Event struct {
	Type      EventType
	Timestamp time.Time
	Body      interface{}
}

type EventType string

const (
	EventTypeDeliveryStatusChanged    EventType = "DeliveryStatusChanged"
	EventTypeDeliveryDelayed          EventType = "DeliveryDelayed"
	EventTypeDeliveryDelivered        EventType = "DeliveryDelivered"
	EventTypeDeliveryCancelled        EventType = "DeliveryCancelled"
	EventTypeDeliveryIncidentReported EventType = "DeliveryIncidentReported"
)

type EventNotificationData struct {
	Title   string
	Message string
}

// BroadcastType names the realtime messages pushed to websocket subscribers
type BroadcastType string

const (
	BroadcastLocationUpdate      BroadcastType = "location_update"
	BroadcastStatusChange        BroadcastType = "status_change"
	BroadcastIncidentReported    BroadcastType = "incident_reported"
	BroadcastIncidentResolved    BroadcastType = "incident_resolved"
	BroadcastSimulationStarted   BroadcastType = "simulation_started"
	BroadcastSimulationStopped   BroadcastType = "simulation_stopped"
	BroadcastSimulationCompleted BroadcastType = "simulation_completed"
)

// DeliveryEventBody is the body of every delivery event on the events queue
type DeliveryEventBody struct {
	PrimaryIdentifier string
	TrackingID        string

	Status         DeliveryStatus
	PreviousStatus DeliveryStatus
	Reason         string

	ReceiverName    string
	VehicleProgress float64

	Incident *Incident `json:",omitempty"`
}

// Notification is a customer facing message queued for the notify service
type Notification struct {
	DeliveryID string
	TrackingID string
	EventType  EventType
	Timestamp  time.Time

	Title   string
	Message string
}
