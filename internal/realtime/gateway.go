package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/middleware"
	"github.com/noah-isme/taskchat-api/internal/observability"
	"github.com/noah-isme/taskchat-api/internal/service"
)

// Inbound event names.
const (
	EventJoinChat       = "join:chat"
	EventLeaveChat      = "leave:chat"
	EventMessageSend    = "message:send"
	EventMessageEdit    = "message:edit"
	EventMessageReact   = "message:react"
	EventMessageDelete  = "message:delete"
	EventMessagesRead   = "messages:read"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventCallOffer      = "call:offer"
	EventCallAnswer     = "call:answer"
	EventCallCandidate  = "call:ice-candidate"
	EventCallEnd        = "call:end"
	pingInterval        = 30 * time.Second
	maxInboundFrameSize = 64 * 1024
)

var (
	errUnknownEvent   = errors.New("unknown event")
	errInvalidPayload = errors.New("invalid message payload")
)

// ConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ConnectionOptions struct {
	UserID        string
	CorrelationID string
	Context       context.Context
}

// Gateway speaks the websocket protocol: envelopes in, room frames out.
type Gateway struct {
	hub       *Hub
	presence  *Presence
	chats     service.ChatService
	messages  service.MessageService
	validator *validator.Validate
	schema    *jsonschema.Schema
	logger    zerolog.Logger
}

// NewGateway builds the websocket gateway. presence may be nil.
func NewGateway(hub *Hub, presence *Presence, chats service.ChatService, messages service.MessageService, validate *validator.Validate, logger zerolog.Logger) (*Gateway, error) {
	schema, err := compileMessageSendSchema()
	if err != nil {
		return nil, err
	}
	return &Gateway{
		hub:       hub,
		presence:  presence,
		chats:     chats,
		messages:  messages,
		validator: validate,
		schema:    schema,
		logger:    logger.With().Str("component", "realtime_gateway").Logger(),
	}, nil
}

type client struct {
	*member
	conn    *websocket.Conn
	gateway *Gateway
	ctx     context.Context
	log     zerolog.Logger
}

// Serve runs the connection until either side closes it. Every connection joins its user room.
func (g *Gateway) Serve(conn *websocket.Conn, opts ConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	correlation := opts.CorrelationID
	if correlation == "" {
		correlation = middleware.CorrelationIDFromContext(baseCtx)
	}

	c := &client{
		member:  newMember(opts.UserID),
		conn:    conn,
		gateway: g,
		ctx:     middleware.ContextWithCorrelation(baseCtx, correlation),
		log:     g.logger.With().Str("user_id", opts.UserID).Str("correlation_id", correlation).Logger(),
	}

	g.hub.join(c.member, UserRoom(opts.UserID))
	observability.RealtimeConnections().Inc()
	if g.presence != nil {
		g.presence.Connect(c.ctx, opts.UserID)
	}
	c.log.Info().Msg("realtime connection opened")

	defer func() {
		c.shutdown()
		observability.RealtimeConnections().Dec()
		if g.presence != nil {
			g.presence.Disconnect(context.Background(), opts.UserID)
		}
		c.log.Info().Msg("realtime connection closed")
	}()

	go c.writer()
	c.reader()
}

func (c *client) reader() {
	defer c.shutdown()
	c.conn.SetReadLimit(maxInboundFrameSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("realtime read loop ended")
			return
		}

		var envelope dto.Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Event == "" {
			c.fail("", errors.New("malformed envelope"))
			continue
		}

		if err := c.gateway.dispatch(c, envelope); err != nil {
			observability.RealtimeEvents().WithLabelValues(envelope.Event, "error").Inc()
			c.fail(envelope.Event, err)
			continue
		}
		observability.RealtimeEvents().WithLabelValues(envelope.Event, "ok").Inc()

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *client) writer() {
	defer c.shutdown()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			envelope := dto.Envelope{Event: frame.Event, Data: frame.Data}
			if err := c.conn.WriteJSON(envelope); err != nil {
				c.log.Debug().Err(err).Msg("realtime write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.log.Debug().Err(err).Msg("realtime ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		c.gateway.hub.remove(c.member)
		_ = c.conn.Close()
	})
}

// fail reports an error to this connection only.
func (c *client) fail(event string, err error) {
	c.log.Debug().Err(err).Str("event", event).Msg("realtime event rejected")
	c.gateway.hub.send(c.member, service.EventMessageError, dto.ErrorEvent{Message: publicMessage(err), Event: event})
}

func (g *Gateway) dispatch(c *client, envelope dto.Envelope) error {
	ctx := c.ctx
	switch envelope.Event {
	case EventJoinChat:
		var payload dto.ChatRefRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		if err := g.chats.CanJoin(ctx, c.userID, payload.ChatID); err != nil {
			return err
		}
		g.hub.join(c.member, ChatRoom(payload.ChatID))
		return nil

	case EventLeaveChat:
		var payload dto.ChatRefRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		g.hub.leave(c.member, ChatRoom(payload.ChatID))
		return nil

	case EventMessageSend:
		if err := validatePayload(g.schema, envelope.Data); err != nil {
			return fmt.Errorf("%w: %v", errInvalidPayload, err)
		}
		var payload dto.MessageSendRequest
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return err
		}
		_, err := g.messages.Send(ctx, c.userID, payload)
		return err

	case EventMessageEdit:
		var payload dto.MessageEditRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		_, err := g.messages.Edit(ctx, c.userID, payload)
		return err

	case EventMessageReact:
		var payload dto.MessageReactRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		_, err := g.messages.React(ctx, c.userID, payload)
		return err

	case EventMessageDelete:
		var payload dto.MessageRefRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		_, err := g.messages.Delete(ctx, c.userID, payload.MessageID)
		return err

	case EventMessagesRead:
		var payload dto.ChatRefRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		_, err := g.messages.MarkRead(ctx, c.userID, payload.ChatID)
		return err

	case EventTypingStart, EventTypingStop:
		var payload dto.ChatRefRequest
		if err := g.decode(envelope.Data, &payload); err != nil {
			return err
		}
		room := ChatRoom(payload.ChatID)
		if !g.hub.inRoom(c.member, room) {
			return service.ErrChatForbidden
		}
		event := service.EventUserTyping
		if envelope.Event == EventTypingStop {
			event = service.EventUserStopTyping
		}
		g.hub.emitExcept(room, event, dto.TypingEvent{ChatID: payload.ChatID, UserID: c.userID}, c.member)
		return nil

	case EventCallOffer, EventCallAnswer, EventCallCandidate, EventCallEnd:
		var signal dto.CallSignal
		if err := g.decode(envelope.Data, &signal); err != nil {
			return err
		}
		if signal.ChatID != "" {
			if err := g.chats.CanJoin(ctx, c.userID, signal.ChatID); err != nil {
				return err
			}
		}
		signal.FromUserID = c.userID
		g.hub.ToUser(strings.TrimSpace(signal.TargetUserID), envelope.Event, signal)
		return nil

	default:
		return fmt.Errorf("%w: %s", errUnknownEvent, envelope.Event)
	}
}

func (g *Gateway) decode(data json.RawMessage, target interface{}) error {
	if len(data) == 0 {
		return errors.New("event data required")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("malformed event data: %w", err)
	}
	return g.validator.Struct(target)
}

// publicMessage keeps internal failures out of client-facing errors.
func publicMessage(err error) string {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return "validation failed: " + validationErrs.Error()
	case errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrChatForbidden),
		errors.Is(err, service.ErrMessageForbidden),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidAttachment),
		errors.Is(err, service.ErrInvalidReply),
		errors.Is(err, service.ErrUnsupportedForChatType),
		errors.Is(err, errUnknownEvent),
		errors.Is(err, errInvalidPayload):
		return err.Error()
	case strings.HasPrefix(err.Error(), "malformed"), strings.HasPrefix(err.Error(), "event data"):
		return err.Error()
	default:
		return "internal error"
	}
}
