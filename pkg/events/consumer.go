package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/parcelwatch/parcelwatch/pkg/elastic_client"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
)

type deliveryEvent struct {
	Type      model.EventType
	Timestamp time.Time
	Body      model.DeliveryEventBody
}

// filterEnv is what a PARCELWATCH_EVENTS_FILTER expression can see
type filterEnv struct {
	Type           string
	Status         string
	PreviousStatus string
	TrackingID     string
	Severity       string
}

func newFilterEnv(event *deliveryEvent) filterEnv {
	env := filterEnv{
		Type:           string(event.Type),
		Status:         string(event.Body.Status),
		PreviousStatus: string(event.Body.PreviousStatus),
		TrackingID:     event.Body.TrackingID,
	}
	if event.Body.Incident != nil {
		env.Severity = string(event.Body.Incident.Severity)
	}

	return env
}

type indexedEvent struct {
	Type      model.EventType
	Timestamp time.Time

	Title   string
	Message string

	Body model.DeliveryEventBody
}

// NotifyQueue carries customer notifications to the notify service
const NotifyQueue = "notify-queue"

type notificationQueue interface {
	PublishBytes(payload ...[]byte) error
}

type EventsBatchConsumer struct {
	filter        *vm.Program
	index         func(indexName string, document io.ReadSeeker)
	notifications notificationQueue
}

// NewEventsBatchConsumer builds the consumer. An empty filter accepts every event.
func NewEventsBatchConsumer(filter string) (*EventsBatchConsumer, error) {
	consumer := &EventsBatchConsumer{
		index: elastic_client.IndexRequest,
	}

	if filter != "" {
		program, err := expr.Compile(filter, expr.Env(filterEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compiling events filter: %w", err)
		}
		consumer.filter = program
	}

	return consumer, nil
}

// ForwardNotifications queues the notification for every accepted event
func (c *EventsBatchConsumer) ForwardNotifications(queue notificationQueue) {
	c.notifications = queue
}

func (c *EventsBatchConsumer) Consume(batch rmq.Deliveries) {
	for _, payload := range batch.Payloads() {
		c.handle([]byte(payload))
	}

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Error().Err(err).Msg("Failed to consume event")
		}
	}
}

func (c *EventsBatchConsumer) accepts(event *deliveryEvent) bool {
	if c.filter == nil {
		return true
	}

	result, err := expr.Run(c.filter, newFilterEnv(event))
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("Events filter failed")
		return false
	}

	return result.(bool)
}

func (c *EventsBatchConsumer) handle(payload []byte) bool {
	var event deliveryEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Error().Err(err).Msg("Failed to decode event")
		return false
	}

	if !c.accepts(&event) {
		return false
	}

	notification := GetNotificationData(&event)

	log.Info().
		Str("type", string(event.Type)).
		Str("delivery", event.Body.PrimaryIdentifier).
		Str("title", notification.Title).
		Msg(notification.Message)

	document, err := json.Marshal(indexedEvent{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Title:     notification.Title,
		Message:   notification.Message,
		Body:      event.Body,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode indexed event")
		return false
	}

	c.index(IndexName(event.Timestamp), bytes.NewReader(document))

	if c.notifications != nil && notification.Message != "" {
		c.forward(&event, notification)
	}

	return true
}

func (c *EventsBatchConsumer) forward(event *deliveryEvent, data model.EventNotificationData) {
	notificationBytes, err := json.Marshal(model.Notification{
		DeliveryID: event.Body.PrimaryIdentifier,
		TrackingID: event.Body.TrackingID,
		EventType:  event.Type,
		Timestamp:  event.Timestamp,
		Title:      data.Title,
		Message:    data.Message,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode notification")
		return
	}

	if err := c.notifications.PublishBytes(notificationBytes); err != nil {
		log.Error().Err(err).Str("delivery", event.Body.PrimaryIdentifier).Msg("Failed to queue notification")
	}
}

// IndexName buckets events into one elasticsearch index per ISO week
func IndexName(timestamp time.Time) string {
	year, week := timestamp.ISOWeek()

	return fmt.Sprintf("delivery-events-%d-%d", year, week)
}
