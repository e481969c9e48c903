package dbwatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/database"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const EventsQueue = "events-queue"

type eventPublisher interface {
	PublishBytes(payload ...[]byte) error
}

type DeliveriesWatch struct {
	EventQueue eventPublisher
}

type deliveryUpdate struct {
	OperationType            string         `bson:"operationType"`
	FullDocument             model.Delivery `bson:"fullDocument"`
	FullDocumentBeforeChange model.Delivery `bson:"fullDocumentBeforeChange"`
}

func NewDeliveriesWatch(eventQueue eventPublisher) *DeliveriesWatch {
	return &DeliveriesWatch{
		EventQueue: eventQueue,
	}
}

// Run follows the deliveries change stream until ctx is cancelled, reopening
// the stream when it fails
func (w *DeliveriesWatch) Run(ctx context.Context) {
	for {
		if err := w.watch(ctx); err != nil {
			log.Error().Err(err).Msg("Deliveries watch fell over")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *DeliveriesWatch) watch(ctx context.Context) error {
	log.Info().Msg("Starting dbwatch on collection deliveries")
	collection := database.GetCollection(database.DeliveriesCollection)

	matchPipeline := bson.D{
		{
			Key: "$match", Value: bson.D{
				{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"update", "replace"}}}},
			},
		},
	}

	// Position history is large and never needed for event detection
	projectPipeline := bson.D{
		{
			Key: "$project",
			Value: bson.D{
				bson.E{Key: "fullDocument.updatelog", Value: 0},
				bson.E{Key: "fullDocument.route", Value: 0},
				bson.E{Key: "fullDocumentBeforeChange.updatelog", Value: 0},
				bson.E{Key: "fullDocumentBeforeChange.route", Value: 0},
			},
		},
	}

	opts := options.ChangeStream().SetFullDocumentBeforeChange(options.WhenAvailable).SetFullDocument(options.WhenAvailable)
	stream, err := collection.Watch(ctx, mongo.Pipeline{matchPipeline, projectPipeline}, opts)
	if err != nil {
		return err
	}

	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var data deliveryUpdate

		if err := stream.Decode(&data); err != nil {
			log.Error().Err(err).Msg("Failed to decode event")
			continue
		}

		if data.FullDocument.PrimaryIdentifier == "" || data.FullDocumentBeforeChange.PrimaryIdentifier == "" {
			continue
		}

		w.publish(DetectEvents(&data.FullDocumentBeforeChange, &data.FullDocument, time.Now()))
	}

	return stream.Err()
}

func (w *DeliveriesWatch) publish(events []model.Event) {
	for _, event := range events {
		eventBytes, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode event")
			continue
		}

		if err := w.EventQueue.PublishBytes(eventBytes); err != nil {
			log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to publish event")
		}
	}
}

func eventBody(delivery *model.Delivery, previous model.DeliveryStatus) model.DeliveryEventBody {
	body := model.DeliveryEventBody{
		PrimaryIdentifier: delivery.PrimaryIdentifier,
		TrackingID:        delivery.TrackingID,
		Status:            delivery.Status,
		PreviousStatus:    previous,
		ReceiverName:      delivery.Receiver.Name,
		VehicleProgress:   delivery.TrackingData.VehicleProgress,
	}

	if len(delivery.StatusHistory) > 0 {
		body.Reason = delivery.StatusHistory[len(delivery.StatusHistory)-1].Reason
	}

	return body
}

// DetectEvents compares the stored document before and after a write and
// returns the events it raises
func DetectEvents(before *model.Delivery, after *model.Delivery, now time.Time) []model.Event {
	var events []model.Event

	if after.Status != before.Status {
		log.Info().
			Str("id", after.PrimaryIdentifier).
			Str("from", string(before.Status)).
			Str("to", string(after.Status)).
			Msg("Delivery status changed")

		body := eventBody(after, before.Status)

		events = append(events, model.Event{
			Type:      model.EventTypeDeliveryStatusChanged,
			Timestamp: now,
			Body:      body,
		})

		var specific model.EventType
		switch after.Status {
		case model.DeliveryStatusDelivered:
			specific = model.EventTypeDeliveryDelivered
		case model.DeliveryStatusCancelled:
			specific = model.EventTypeDeliveryCancelled
		case model.DeliveryStatusDelayed:
			specific = model.EventTypeDeliveryDelayed
		}

		if specific != "" {
			events = append(events, model.Event{
				Type:      specific,
				Timestamp: now,
				Body:      body,
			})
		}
	}

	known := map[string]bool{}
	for _, incident := range before.Incidents {
		known[incident.ID] = true
	}

	for i := range after.Incidents {
		incident := after.Incidents[i]
		if known[incident.ID] {
			continue
		}

		log.Info().
			Str("id", after.PrimaryIdentifier).
			Str("incident", incident.ID).
			Msg("Delivery incident reported")

		body := eventBody(after, before.Status)
		body.Incident = &incident

		events = append(events, model.Event{
			Type:      model.EventTypeDeliveryIncidentReported,
			Timestamp: now,
			Body:      body,
		})
	}

	return events
}
