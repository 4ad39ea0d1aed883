package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisNotifier delivers events to the local hub and publishes them to a
// Redis channel so every other instance's Relay can deliver them to its own
// websocket clients. Messages carry the notifier's origin so the local Relay
// does not deliver them twice.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
	room    string
	origin  string
	local   Emitter
}

func NewRedisNotifier(client redis.UniversalClient, channel, room string, local Emitter) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		room:    room,
		origin:  uuid.NewString(),
		local:   local,
	}
}

// Origin identifies this instance on the channel.
func (n *RedisNotifier) Origin() string { return n.origin }

func (n *RedisNotifier) Publish(ctx context.Context, event string, payload interface{}) error {
	data, err := encodeMessage(n.origin, n.room, event, payload)
	if err != nil {
		return err
	}
	if n.local != nil {
		if err := n.local.Emit(ctx, n.room, event, payload); err != nil {
			return fmt.Errorf("emit %s locally: %w", event, err)
		}
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, n.channel, err)
	}
	return nil
}

// Relay subscribes to the notification channel and re-emits messages from
// other instances into the local hub. Messages whose origin matches this
// instance were already delivered by the RedisNotifier and are skipped.
type Relay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	emitter Emitter
	logger  zerolog.Logger
}

func NewRelay(client redis.UniversalClient, channel, origin string, emitter Emitter, logger zerolog.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		origin:  origin,
		emitter: emitter,
		logger:  logger.With().Str("component", "notify-relay").Str("channel", channel).Logger(),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so publish-after-start works.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, data string) {
	m, err := decodeMessage(data)
	if err != nil {
		r.logger.Warn().Err(err).Msg("dropping relayed message")
		return
	}
	if m.Origin == r.origin {
		return
	}
	if err := r.emitter.Emit(ctx, m.Room, m.Event, m.Payload); err != nil {
		r.logger.Error().Err(err).Str("event", m.Event).Msg("emit relayed message")
	}
}
