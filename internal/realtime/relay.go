package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/taskchat-api/internal/observability"
)

// RelayEnvelope carries one room frame between nodes.
type RelayEnvelope struct {
	Source string          `json:"source"`
	Room   string          `json:"room"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Evict  string          `json:"evict,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}

const (
	TransportNATS  = "nats"
	TransportRedis = "redis"
)

// Relay fans room frames out to the other API nodes over exactly one transport: NATS when it
// is configured, otherwise Redis pub/sub. Every node of a deployment must resolve the same one.
type Relay struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	nodeID      string
	logger      zerolog.Logger
}

// NewRelay builds a relay. Either transport may be nil; with both nil the relay is inert.
// With both set, Redis stays unused by the relay.
func NewRelay(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *Relay {
	if natsConn != nil {
		redisClient = nil
	}
	streamChannel := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":realtime"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".realtime"
	}

	return &Relay{
		redis:       redisClient,
		redisStream: streamChannel,
		nats:        natsConn,
		natsSubject: natsSubject,
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "realtime_relay").Logger(),
	}
}

// Transport names the transport frames travel on, or "" when the relay is inert.
func (r *Relay) Transport() string {
	switch {
	case r.nats != nil && r.natsSubject != "":
		return TransportNATS
	case r.redis != nil && r.redisStream != "":
		return TransportRedis
	default:
		return ""
	}
}

// NodeID identifies this process on the relay.
func (r *Relay) NodeID() string {
	return r.nodeID
}

// Publish stamps the envelope with this node's id and sends it on the relay transport.
func (r *Relay) Publish(ctx context.Context, envelope RelayEnvelope) error {
	transport := r.Transport()
	if transport == "" {
		return nil
	}
	envelope.Source = r.nodeID
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if transport == TransportNATS {
		err = r.nats.Publish(r.natsSubject, payload)
	} else {
		err = r.redis.Publish(ctx, r.redisStream, payload).Err()
	}
	if err != nil {
		observability.RelayFailures().WithLabelValues(transport).Inc()
	}
	return err
}

// Start consumes frames from other nodes and hands them to the hub until ctx is cancelled.
func (r *Relay) Start(ctx context.Context, hub *Hub) {
	switch r.Transport() {
	case TransportNATS:
		r.consumeNATS(ctx, hub)
	case TransportRedis:
		go r.consumeRedis(ctx, hub)
	}
}

func (r *Relay) consumeRedis(ctx context.Context, hub *Hub) {
	pubsub := r.redis.Subscribe(ctx, r.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		r.handle(hub, []byte(msg.Payload))
	}
}

func (r *Relay) consumeNATS(ctx context.Context, hub *Hub) {
	// Every node must see every frame, so this is a plain subscription rather than a queue group.
	sub, err := r.nats.Subscribe(r.natsSubject, func(msg *nats.Msg) {
		r.handle(hub, msg.Data)
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to subscribe to nats realtime subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
		}
	}()
}

func (r *Relay) handle(hub *Hub, data []byte) {
	var envelope RelayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		r.logger.Warn().Err(err).Msg("invalid realtime envelope")
		return
	}
	if envelope.Source == r.nodeID || envelope.Room == "" {
		return
	}
	hub.Deliver(envelope)
}
