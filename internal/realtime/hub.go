package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/taskchat-api/internal/observability"
	"github.com/noah-isme/taskchat-api/internal/service"
)

const (
	userRoomPrefix = "user:"
	chatRoomPrefix = "chat:"

	sendBufferSize = 32
)

// UserRoom names the room every connection of a user joins on connect.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ChatRoom names the room of a chat.
func ChatRoom(chatID string) string { return chatRoomPrefix + chatID }

// Publisher forwards locally originated frames to other nodes.
type Publisher interface {
	Publish(ctx context.Context, envelope RelayEnvelope) error
}

// member is anything that can sit in a room: a websocket client or an SSE stream.
type member struct {
	userID string
	send   chan service.StreamEvent
	closed chan struct{}
	once   sync.Once
}

func newMember(userID string) *member {
	return &member{
		userID: userID,
		send:   make(chan service.StreamEvent, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (m *member) close() {
	m.once.Do(func() { close(m.closed) })
}

// Hub is the per-process room registry. Room membership is connection-scoped and never persisted.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*member]struct{}
	memberOf  map[*member]map[string]struct{}
	publisher Publisher
	log       zerolog.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:    make(map[string]map[*member]struct{}),
		memberOf: make(map[*member]map[string]struct{}),
		log:      logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// UsePublisher attaches the cross-node relay. Frames received from the relay are never re-published.
func (h *Hub) UsePublisher(publisher Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publisher = publisher
}

// ToChat implements service.Broadcaster.
func (h *Hub) ToChat(chatID, event string, payload interface{}) {
	h.emit(ChatRoom(chatID), event, payload)
}

// ToUser implements service.Broadcaster.
func (h *Hub) ToUser(userID, event string, payload interface{}) {
	h.emit(UserRoom(userID), event, payload)
}

// EvictFromChat drops every connection of the user from the chat room, on every node.
func (h *Hub) EvictFromChat(chatID, userID string) {
	h.evictLocal(ChatRoom(chatID), userID)
	h.publish(RelayEnvelope{Room: ChatRoom(chatID), Evict: userID})
}

// SubscribeUser follows the user room for server-sent events.
func (h *Hub) SubscribeUser(userID string) (<-chan service.StreamEvent, func()) {
	m := newMember(userID)
	h.join(m, UserRoom(userID))
	return m.send, func() {
		h.remove(m)
		m.close()
	}
}

// Online reports which of the given users hold a connection on this node.
func (h *Hub) Online(userIDs []string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	online := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if len(h.rooms[UserRoom(id)]) > 0 {
			online = append(online, id)
		}
	}
	return online
}

// Deliver hands a frame from another node to local members of its room.
func (h *Hub) Deliver(envelope RelayEnvelope) {
	if envelope.Evict != "" {
		h.evictLocal(envelope.Room, envelope.Evict)
		return
	}
	h.deliverLocal(envelope.Room, service.StreamEvent{Event: envelope.Event, Data: envelope.Data}, nil)
}

func (h *Hub) emit(room, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode realtime payload")
		return
	}
	h.deliverLocal(room, service.StreamEvent{Event: event, Data: data}, nil)
	h.publish(RelayEnvelope{Room: room, Event: event, Data: data})
}

// emitExcept broadcasts to a room while skipping one connection, as typing indicators do.
func (h *Hub) emitExcept(room, event string, payload interface{}, except *member) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode realtime payload")
		return
	}
	h.deliverLocal(room, service.StreamEvent{Event: event, Data: data}, except)
	h.publish(RelayEnvelope{Room: room, Event: event, Data: data})
}

func (h *Hub) publish(envelope RelayEnvelope) {
	h.mu.RLock()
	publisher := h.publisher
	h.mu.RUnlock()
	if publisher == nil {
		return
	}

	envelope.SentAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := publisher.Publish(ctx, envelope); err != nil {
		h.log.Warn().Err(err).Str("room", envelope.Room).Msg("failed to relay realtime frame")
	}
}

func (h *Hub) deliverLocal(room string, frame service.StreamEvent, except *member) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for m := range h.rooms[room] {
		if m == except {
			continue
		}
		select {
		case m.send <- frame:
		default:
			observability.RealtimeDropped().WithLabelValues(roomKind(room)).Inc()
			h.log.Warn().Str("room", room).Str("user_id", m.userID).Str("event", frame.Event).Msg("dropping realtime frame for slow client")
		}
	}
}

// send writes to a single member, used for errors that belong to one connection only.
func (h *Hub) send(m *member, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case m.send <- service.StreamEvent{Event: event, Data: data}:
	default:
		observability.RealtimeDropped().WithLabelValues("direct").Inc()
	}
}

func (h *Hub) join(m *member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*member]struct{})
	}
	h.rooms[room][m] = struct{}{}
	if _, ok := h.memberOf[m]; !ok {
		h.memberOf[m] = make(map[string]struct{})
	}
	h.memberOf[m][room] = struct{}{}
	h.log.Debug().Str("room", room).Str("user_id", m.userID).Msg("joined room")
}

func (h *Hub) leave(m *member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(m, room)
}

func (h *Hub) leaveLocked(m *member, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, m)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberOf[m]; ok {
		delete(rooms, room)
	}
}

func (h *Hub) inRoom(m *member, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][m]
	return ok
}

func (h *Hub) remove(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.memberOf[m] {
		h.leaveLocked(m, room)
	}
	delete(h.memberOf, m)
}

func (h *Hub) evictLocal(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for m := range h.rooms[room] {
		if m.userID == userID {
			h.leaveLocked(m, room)
		}
	}
	h.log.Debug().Str("room", room).Str("user_id", userID).Msg("evicted from room")
}

func roomKind(room string) string {
	if idx := strings.Index(room, ":"); idx > 0 {
		return room[:idx]
	}
	return "unknown"
}
