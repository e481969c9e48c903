package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/parcelwatch/parcelwatch/pkg/metrics"
	"github.com/parcelwatch/parcelwatch/pkg/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultRedisChannel = "parcelwatch:tracking"

const redisPublishTimeout = 2 * time.Second

// RedisPublisher hands messages to a redis pub/sub channel so a websocket
// server in another process can relay them
type RedisPublisher struct {
	client  *redis.Client
	channel string
	metrics *metrics.Metrics
}

func NewRedisPublisher(client *redis.Client, channel string, m *metrics.Metrics) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	return &RedisPublisher{
		client:  client,
		channel: channel,
		metrics: m,
	}
}

func (p *RedisPublisher) Publish(deliveryID string, trackingCode string, eventType model.BroadcastType, payload interface{}) {
	data, err := Encode(deliveryID, trackingCode, eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Msg("Failed to encode broadcast")
		p.metrics.BroadcastFailed("redis")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Error().Err(err).Str("delivery", deliveryID).Str("channel", p.channel).Msg("Failed to publish broadcast to redis")
		p.metrics.BroadcastFailed("redis")
		return
	}

	p.metrics.BroadcastPublished("redis")
}

// RedisRelay subscribes to the channel and feeds every message into a Hub
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
	}
}

// Run blocks until the context is cancelled or the subscription closes
func (r *RedisRelay) Run(ctx context.Context) error {
	subscription := r.client.Subscribe(ctx, r.channel)
	defer subscription.Close()

	if _, err := subscription.Receive(ctx); err != nil {
		return err
	}

	log.Info().Str("channel", r.channel).Msg("Relaying redis broadcasts to websocket hub")

	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			r.relay([]byte(message.Payload))
		}
	}
}

func (r *RedisRelay) relay(data []byte) {
	var envelope struct {
		TrackingID string `json:"tracking_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Error().Err(err).Msg("Failed to decode relayed broadcast")
		return
	}

	r.hub.Deliver(envelope.TrackingID, data)
}
