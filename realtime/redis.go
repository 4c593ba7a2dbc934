package realtime

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"consy/events"
)

// RedisRelay fans events out across instances. Publish writes the event to
// a Redis channel; Run subscribes to the channel and hands every event to
// the local hub, so each instance delivers to its own sockets.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   events.Publisher
	log     logrus.FieldLogger
}

// NewRedisRelay creates a relay delivering to local
func NewRedisRelay(client *redis.Client, channel string, local events.Publisher, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

// Publish sends ev to every instance. When Redis is unreachable the event
// is still delivered to local clients.
func (r *RedisRelay) Publish(ctx context.Context, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.WithError(err).WithField("type", ev.Type).Error("failed to encode event")
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.WithError(err).WithField("type", ev.Type).Warn("redis publish failed, delivering locally")
		r.local.Publish(ctx, ev)
	}
}

// Run relays subscribed events to the local hub until ctx is cancelled
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.WithField("channel", r.channel).Info("subscribed to event relay")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.WithError(err).Warn("dropping malformed relay message")
				continue
			}
			r.local.Publish(ctx, ev)
		}
	}
}
