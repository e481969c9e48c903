package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/rs/zerolog/log"
)

type NotifyBatchConsumer struct {
	sender  Sender
	timeout time.Duration
}

func NewNotifyBatchConsumer(sender Sender) *NotifyBatchConsumer {
	return &NotifyBatchConsumer{
		sender:  sender,
		timeout: time.Minute,
	}
}

func (c *NotifyBatchConsumer) Consume(batch rmq.Deliveries) {
	for _, payload := range batch.Payloads() {
		c.handle([]byte(payload))
	}

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Error().Err(err).Msg("Failed to consume notification")
		}
	}
}

// handle sends one notification. Undeliverable notifications are logged and dropped.
func (c *NotifyBatchConsumer) handle(payload []byte) bool {
	var notification model.Notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		log.Error().Err(err).Msg("Failed to decode notification")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.sender.Send(ctx, notification); err != nil {
		log.Error().Err(err).Str("tracking", notification.TrackingID).Msg("Failed to send notification")
		return false
	}

	log.Debug().Str("tracking", notification.TrackingID).Str("type", string(notification.EventType)).Msg("Sent notification")

	return true
}
