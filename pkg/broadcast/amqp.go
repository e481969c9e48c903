package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const DefaultExchange = "parcelwatch.tracking"

const amqpPublishTimeout = 5 * time.Second

// AMQPPublisher publishes every message onto a topic exchange keyed by
// <event type>.<tracking code> for downstream consumers
type AMQPPublisher struct {
	channel  *amqp.Channel
	exchange string
	metrics  *metrics.Metrics

	mu sync.Mutex
}

func NewAMQPPublisher(channel *amqp.Channel, exchange string, m *metrics.Metrics) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		channel:  channel,
		exchange: exchange,
		metrics:  m,
	}, nil
}

func RoutingKey(eventType model.BroadcastType, trackingCode string) string {
	return fmt.Sprintf("%s.%s", eventType, trackingCode)
}

func (p *AMQPPublisher) Publish(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{}) {
	data, err := Encode(deliveryID, trackingCode, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("Failed to encode broadcast")
		p.metrics.BroadcastFailed("amqp")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), amqpPublishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		RoutingKey(eventType, trackingCode),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
			Body:         data,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Str("exchange", p.exchange).Msg("Failed to publish broadcast to rabbitmq")
		p.metrics.BroadcastFailed("amqp")
		return
	}

	p.metrics.BroadcastPublished("amqp")
}
