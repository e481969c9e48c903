package dbwatch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivery(status model.DeliveryStatus) *model.Delivery {
	return &model.Delivery{
		PrimaryIdentifier: "d1",
		TrackingID:        "TRK-1",
		Status:            status,
		Receiver:          model.Party{Name: "Ada"},
	}
}

func eventTypes(events []model.Event) []model.EventType {
	var types []model.EventType
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func TestDetectEventsIgnoresPositionUpdates(t *testing.T) {
	before := testDelivery(model.DeliveryStatusInTransit)
	after := testDelivery(model.DeliveryStatusInTransit)
	after.TrackingData.VehicleProgress = 42

	assert.Empty(t, DetectEvents(before, after, time.Now()))
}

func TestDetectEventsStatusChanges(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		to       model.DeliveryStatus
		expected []model.EventType
	}{
		{model.DeliveryStatusOutForDelivery, []model.EventType{model.EventTypeDeliveryStatusChanged}},
		{model.DeliveryStatusDelivered, []model.EventType{model.EventTypeDeliveryStatusChanged, model.EventTypeDeliveryDelivered}},
		{model.DeliveryStatusCancelled, []model.EventType{model.EventTypeDeliveryStatusChanged, model.EventTypeDeliveryCancelled}},
		{model.DeliveryStatusDelayed, []model.EventType{model.EventTypeDeliveryStatusChanged, model.EventTypeDeliveryDelayed}},
	}

	for _, test := range tests {
		t.Run(string(test.to), func(t *testing.T) {
			before := testDelivery(model.DeliveryStatusInTransit)
			after := testDelivery(model.DeliveryStatusInTransit)
			after.SetStatus(test.to, now, "because")

			events := DetectEvents(before, after, now)
			assert.Equal(t, test.expected, eventTypes(events))

			body := events[0].Body.(model.DeliveryEventBody)
			assert.Equal(t, test.to, body.Status)
			assert.Equal(t, model.DeliveryStatusInTransit, body.PreviousStatus)
			assert.Equal(t, "because", body.Reason)
			assert.Equal(t, now, events[0].Timestamp)
		})
	}
}

func TestDetectEventsNewIncidents(t *testing.T) {
	before := testDelivery(model.DeliveryStatusInTransit)
	before.Incidents = []model.Incident{{ID: "old", Type: "traffic"}}

	after := testDelivery(model.DeliveryStatusInTransit)
	after.Incidents = []model.Incident{
		{ID: "old", Type: "traffic"},
		{ID: "new", Type: "weather", Severity: model.IncidentSeverityLow},
	}

	events := DetectEvents(before, after, time.Now())
	require.Equal(t, []model.EventType{model.EventTypeDeliveryIncidentReported}, eventTypes(events))

	body := events[0].Body.(model.DeliveryEventBody)
	require.NotNil(t, body.Incident)
	assert.Equal(t, "new", body.Incident.ID)
}

type fakeQueue struct {
	payloads [][]byte
	err      error
}

func (q *fakeQueue) PublishBytes(payload ...[]byte) error {
	q.payloads = append(q.payloads, payload...)
	return q.err
}

func TestPublishEncodesEvents(t *testing.T) {
	queue := &fakeQueue{}
	watch := NewDeliveriesWatch(queue)

	before := testDelivery(model.DeliveryStatusOutForDelivery)
	after := testDelivery(model.DeliveryStatusOutForDelivery)
	after.SetStatus(model.DeliveryStatusDelivered, time.Now(), "arrived at destination")

	watch.publish(DetectEvents(before, after, time.Now()))
	require.Len(t, queue.payloads, 2)

	var decoded struct {
		Type model.EventType
		Body model.DeliveryEventBody
	}
	require.NoError(t, json.Unmarshal(queue.payloads[1], &decoded))
	assert.Equal(t, model.EventTypeDeliveryDelivered, decoded.Type)
	assert.Equal(t, "TRK-1", decoded.Body.TrackingID)
}

func TestPublishSurvivesQueueErrors(t *testing.T) {
	queue := &fakeQueue{err: errors.New("redis down")}
	watch := NewDeliveriesWatch(queue)

	after := testDelivery(model.DeliveryStatusCancelled)
	watch.publish(DetectEvents(testDelivery(model.DeliveryStatusPending), after, time.Now()))

	assert.Len(t, queue.payloads, 2)
}
