package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPingTimeout = 5 * time.Second

// ConnectRedis opens the client shared by presence counters, the realtime relay and the
// rate limiter. An empty URL disables Redis.
func ConnectRedis(url, name string, logger zerolog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	options.ClientName = name
	if options.DialTimeout == 0 {
		options.DialTimeout = redisPingTimeout
	}
	// PubSub receives block on the read deadline, so the relay needs reads that can wait.
	if options.ReadTimeout == 0 {
		options.ReadTimeout = 3 * time.Second
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	logger.Info().Str("component", "redis").Str("addr", options.Addr).Int("db", options.DB).Msg("redis connected")
	return client, nil
}
