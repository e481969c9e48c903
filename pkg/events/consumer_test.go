package events

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexed struct {
	index    string
	document indexedEvent
}

func newTestConsumer(t *testing.T, filter string) (*EventsBatchConsumer, *[]indexed) {
	t.Helper()

	consumer, err := NewEventsBatchConsumer(filter)
	require.NoError(t, err)

	var documents []indexed
	consumer.index = func(indexName string, document io.ReadSeeker) {
		var decoded indexedEvent
		require.NoError(t, json.NewDecoder(document).Decode(&decoded))
		documents = append(documents, indexed{index: indexName, document: decoded})
	}

	return consumer, &documents
}

func payload(t *testing.T, eventType model.EventType, body model.DeliveryEventBody) []byte {
	encoded, err := json.Marshal(model.Event{
		Type:      eventType,
		Timestamp: time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC),
		Body:      body,
	})
	require.NoError(t, err)
	return encoded
}

func TestHandleIndexesEvent(t *testing.T) {
	consumer, documents := newTestConsumer(t, "")

	handled := consumer.handle(payload(t, model.EventTypeDeliveryDelivered, model.DeliveryEventBody{
		PrimaryIdentifier: "d1",
		TrackingID:        "TRK-1",
		Status:            model.DeliveryStatusDelivered,
		ReceiverName:      "Ada",
	}))
	require.True(t, handled)
	require.Len(t, *documents, 1)

	document := (*documents)[0]
	assert.Equal(t, "delivery-events-2024-1", document.index)
	assert.Equal(t, "Delivered", document.document.Title)
	assert.Equal(t, "Parcel TRK-1 has been delivered to Ada.", document.document.Message)
	assert.Equal(t, "d1", document.document.Body.PrimaryIdentifier)
}

func TestHandleAppliesFilter(t *testing.T) {
	consumer, documents := newTestConsumer(t, `Type != "DeliveryStatusChanged" && Severity != "low"`)

	assert.False(t, consumer.handle(payload(t, model.EventTypeDeliveryStatusChanged, model.DeliveryEventBody{TrackingID: "TRK-1"})))
	assert.False(t, consumer.handle(payload(t, model.EventTypeDeliveryIncidentReported, model.DeliveryEventBody{
		TrackingID: "TRK-1",
		Incident:   &model.Incident{Severity: model.IncidentSeverityLow},
	})))
	assert.True(t, consumer.handle(payload(t, model.EventTypeDeliveryIncidentReported, model.DeliveryEventBody{
		TrackingID: "TRK-1",
		Incident:   &model.Incident{Severity: model.IncidentSeverityHigh, Type: "traffic", Description: "Road closed"},
	})))

	require.Len(t, *documents, 1)
	assert.Equal(t, "A high severity traffic incident was reported for parcel TRK-1: Road closed", (*documents)[0].document.Message)
}

func TestHandleRejectsGarbage(t *testing.T) {
	consumer, documents := newTestConsumer(t, "")

	assert.False(t, consumer.handle([]byte("not json")))
	assert.Empty(t, *documents)
}

type fakeQueue struct {
	published [][]byte
}

func (q *fakeQueue) PublishBytes(payload ...[]byte) error {
	q.published = append(q.published, payload...)
	return nil
}

func TestHandleForwardsNotifications(t *testing.T) {
	consumer, _ := newTestConsumer(t, "")
	queue := &fakeQueue{}
	consumer.ForwardNotifications(queue)

	require.True(t, consumer.handle(payload(t, model.EventTypeDeliveryCancelled, model.DeliveryEventBody{
		PrimaryIdentifier: "d1",
		TrackingID:        "TRK-1",
		Reason:            "customer request",
	})))
	require.Len(t, queue.published, 1)

	var notification model.Notification
	require.NoError(t, json.Unmarshal(queue.published[0], &notification))
	assert.Equal(t, "d1", notification.DeliveryID)
	assert.Equal(t, "TRK-1", notification.TrackingID)
	assert.Equal(t, model.EventTypeDeliveryCancelled, notification.EventType)
	assert.Equal(t, "Delivery cancelled", notification.Title)
	assert.Equal(t, "Parcel TRK-1 has been cancelled. Reason: customer request.", notification.Message)
}

func TestInvalidFilter(t *testing.T) {
	_, err := NewEventsBatchConsumer("Type ==")
	assert.Error(t, err)

	_, err = NewEventsBatchConsumer(`Type`)
	assert.Error(t, err)
}

func TestNotificationData(t *testing.T) {
	tests := []struct {
		eventType model.EventType
		body      model.DeliveryEventBody
		title     string
		message   string
	}{
		{
			eventType: model.EventTypeDeliveryStatusChanged,
			body:      model.DeliveryEventBody{TrackingID: "T1", Status: model.DeliveryStatusOutForDelivery},
			title:     "Delivery update",
			message:   "Parcel T1 is now out for delivery.",
		},
		{
			eventType: model.EventTypeDeliveryCancelled,
			body:      model.DeliveryEventBody{TrackingID: "T1", Reason: "customer request"},
			title:     "Delivery cancelled",
			message:   "Parcel T1 has been cancelled. Reason: customer request.",
		},
		{
			eventType: model.EventTypeDeliveryDelayed,
			body:      model.DeliveryEventBody{TrackingID: "T1"},
			title:     "Delivery delayed",
			message:   "Parcel T1 has been delayed.",
		},
		{
			eventType: model.EventTypeDeliveryDelivered,
			body:      model.DeliveryEventBody{TrackingID: "T1"},
			title:     "Delivered",
			message:   "Parcel T1 has been delivered.",
		},
	}

	for _, test := range tests {
		t.Run(string(test.eventType), func(t *testing.T) {
			data := GetNotificationData(&deliveryEvent{Type: test.eventType, Body: test.body})
			assert.Equal(t, test.title, data.Title)
			assert.Equal(t, test.message, data.Message)
		})
	}
}
