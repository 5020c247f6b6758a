package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const presenceTTL = 24 * time.Hour

// Presence counts live connections per user. Counters live in Redis so every node agrees;
// without Redis it falls back to the local hub.
type Presence struct {
	redis  *redis.Client
	prefix string
	local  *Hub
	logger zerolog.Logger
}

// NewPresence builds a presence tracker. redisClient may be nil.
func NewPresence(redisClient *redis.Client, channelBase string, local *Hub, logger zerolog.Logger) *Presence {
	prefix := "presence"
	if channelBase != "" {
		prefix = channelBase + ":presence"
	}
	return &Presence{
		redis:  redisClient,
		prefix: prefix,
		local:  local,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// Connect records one more live connection for the user.
func (p *Presence) Connect(ctx context.Context, userID string) {
	if p.redis == nil {
		return
	}
	key := p.key(userID)
	pipe := p.redis.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record presence")
	}
}

// Disconnect releases one connection; the counter is removed when it reaches zero.
func (p *Presence) Disconnect(ctx context.Context, userID string) {
	if p.redis == nil {
		return
	}
	key := p.key(userID)
	remaining, err := p.redis.Decr(ctx, key).Result()
	if err != nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to release presence")
		return
	}
	if remaining <= 0 {
		if err := p.redis.Del(ctx, key).Err(); err != nil {
			p.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to clear presence")
		}
	}
}

// Online implements service.PresenceReader.
func (p *Presence) Online(userIDs []string) []string {
	if len(userIDs) == 0 {
		return []string{}
	}
	if p.redis == nil {
		return p.fallback(userIDs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, p.key(id))
	}
	values, err := p.redis.MGet(ctx, keys...).Result()
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to read presence, using local connections")
		return p.fallback(userIDs)
	}

	online := make([]string, 0, len(userIDs))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		if count, err := strconv.ParseInt(raw, 10, 64); err == nil && count > 0 {
			online = append(online, userIDs[i])
		}
	}
	return online
}

func (p *Presence) fallback(userIDs []string) []string {
	if p.local == nil {
		return []string{}
	}
	return p.local.Online(userIDs)
}

func (p *Presence) key(userID string) string {
	return p.prefix + ":" + userID
}
