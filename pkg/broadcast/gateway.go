// Package broadcast pushes realtime tracking messages to subscribers. Every
// Gateway is fire-and-forget: failures are logged and counted, never returned.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

const AdminRoom = "admin"

func DeliveryRoom(trackingCode string) string {
	return "delivery:" + trackingCode
}

type Gateway interface {
	Publish(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{})
}

type Message struct {
	Type       model.BroadcastType `json:"type"`
	DeliveryID string              `json:"delivery_id"`
	TrackingID string              `json:"tracking_id"`
	Timestamp  time.Time           `json:"timestamp"`
	Payload    interface{}         `json:"payload,omitempty"`
}

func Encode(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:       eventType,
		DeliveryID: deliveryID,
		TrackingID: trackingCode,
		Timestamp:  time.Now(),
		Payload:    payload,
	})
}

type Nop struct{}

func (Nop) Publish(string, string, model.BroadcastType, interface{}) {}

// Multi fans a message out to every gateway. A panicking gateway is logged
// and does not stop the others.
type Multi []Gateway

func (m Multi) Publish(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{}) {
	for _, gateway := range m {
		var catcher panics.Catcher
		catcher.Try(func() {
			gateway.Publish(deliveryID, trackingCode, eventType, payload)
		})

		if recovered := catcher.Recovered(); recovered != nil {
			log.Error().
				Str("delivery", deliveryID).
				Str("type", string(eventType)).
				Err(recovered.AsError()).
				Msg("Broadcast gateway panicked")
		}
	}
}

// Recorder keeps every message in memory, used by the demo command and tests
type Recorder struct {
	messages chan Message
}

func NewRecorder(size int) *Recorder {
	return &Recorder{messages: make(chan Message, size)}
}

func (r *Recorder) Publish(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{}) {
	select {
	case r.messages <- Message{
		Type:       eventType,
		DeliveryID: deliveryID,
		TrackingID: trackingCode,
		Timestamp:  time.Now(),
		Payload:    payload,
	}:
	default:
		log.Warn().Str("delivery", deliveryID).Msg("Broadcast recorder full, dropping message")
	}
}

// Drain returns everything recorded so far without blocking
func (r *Recorder) Drain() []Message {
	var messages []Message
	for {
		select {
		case message := <-r.messages:
			messages = append(messages, message)
		default:
			return messages
		}
	}
}
