package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotification() model.Notification {
	return model.Notification{
		DeliveryID: "d1",
		TrackingID: "TRK-1",
		EventType:  model.EventTypeDeliveryDelivered,
		Timestamp:  time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC),
		Title:      "Delivered",
		Message:    "Parcel TRK-1 has been delivered.",
	}
}

func TestWebhookSenderPostsNotification(t *testing.T) {
	var received model.Notification
	var authorization string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.URL, "secret")
	require.NoError(t, sender.Send(context.Background(), testNotification()))

	assert.Equal(t, "Bearer secret", authorization)
	assert.Equal(t, testNotification(), received)
}

func TestWebhookSenderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.URL, "")
	require.NoError(t, sender.Send(context.Background(), testNotification()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSenderDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.URL, "")
	assert.Error(t, sender.Send(context.Background(), testNotification()))
	assert.Equal(t, int32(1), calls.Load())
}

type recordingSender struct {
	sent []model.Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, notification model.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, notification)
	return nil
}

func TestConsumerHandle(t *testing.T) {
	sender := &recordingSender{}
	consumer := NewNotifyBatchConsumer(sender)

	payload, err := json.Marshal(testNotification())
	require.NoError(t, err)

	assert.True(t, consumer.handle(payload))
	assert.False(t, consumer.handle([]byte("not json")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "TRK-1", sender.sent[0].TrackingID)

	sender.err = errors.New("unreachable")
	assert.False(t, consumer.handle(payload))
}
