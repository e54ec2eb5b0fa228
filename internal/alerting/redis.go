package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trade-alert-engine/internal/logging"
)

// RedisOptions describes the pub/sub connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisPublisher sends payloads with PUBLISH on the owner channel.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisPublisherFromClient(client, logger), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(client *redis.Client, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logging.Component(logger, "publish_redis"),
	}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload Payload) error {
	body, err := payload.Encode()
	if err != nil {
		return err
	}
	receivers, err := p.client.Publish(ctx, channel, body).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	p.logger.Debug().Str("channel", channel).Str("event_id", payload.ID).Int64("receivers", receivers).Msg("alert published")
	return nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
