package changefeed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
)

const DefaultRedisChannel = "schemedesk:contracts_schemes:changed"

// Redis shares notices between API instances over Redis pub/sub.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedis(client *redis.Client, channel string, logger *zap.Logger) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel, logger: logging.OrNop(logger)}
}

func (r *Redis) Publish(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, "changed").Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Run relays every message on the channel into hub until ctx ends.
func (r *Redis) Run(ctx context.Context, hub *Hub) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("change subscription attached", zap.String("channel", r.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.logger.Debug("change notice", zap.String("channel", msg.Channel))
			hub.Notify()
		}
	}
}
