package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taskchat-api/internal/service"
)

type capturePublisher struct {
	mu        sync.Mutex
	envelopes []RelayEnvelope
}

func (p *capturePublisher) Publish(ctx context.Context, envelope RelayEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, envelope)
	return nil
}

func (p *capturePublisher) all() []RelayEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RelayEnvelope(nil), p.envelopes...)
}

func receive(t *testing.T, ch <-chan service.StreamEvent) service.StreamEvent {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(time.Second):
		t.Fatal("expected a realtime frame")
		return service.StreamEvent{}
	}
}

func requireSilent(t *testing.T, ch <-chan service.StreamEvent) {
	t.Helper()
	select {
	case frame := <-ch:
		t.Fatalf("unexpected frame %q", frame.Event)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubRoutesChatAndUserRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := newMember("alice")
	bob := newMember("bob")
	hub.join(alice, UserRoom("alice"))
	hub.join(bob, UserRoom("bob"))
	hub.join(alice, ChatRoom("c1"))
	hub.join(bob, ChatRoom("c1"))

	hub.ToChat("c1", service.EventMessageNew, map[string]string{"text": "hi"})
	frame := receive(t, alice.send)
	require.Equal(t, service.EventMessageNew, frame.Event)
	require.JSONEq(t, `{"text":"hi"}`, string(frame.Data))
	receive(t, bob.send)

	hub.ToUser("bob", service.EventNotificationNew, map[string]string{"id": "n1"})
	require.Equal(t, service.EventNotificationNew, receive(t, bob.send).Event)
	requireSilent(t, alice.send)

	require.Equal(t, []string{"bob", "alice"}, hub.Online([]string{"bob", "carol", "alice"}))
}

func TestHubEvictLeavesUserRoomIntact(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	publisher := &capturePublisher{}
	hub.UsePublisher(publisher)

	first := newMember("bob")
	second := newMember("bob")
	for _, m := range []*member{first, second} {
		hub.join(m, UserRoom("bob"))
		hub.join(m, ChatRoom("c1"))
	}

	hub.EvictFromChat("c1", "bob")
	require.False(t, hub.inRoom(first, ChatRoom("c1")))
	require.False(t, hub.inRoom(second, ChatRoom("c1")))
	require.True(t, hub.inRoom(first, UserRoom("bob")))

	hub.ToChat("c1", service.EventMessageNew, map[string]string{})
	requireSilent(t, first.send)

	envelopes := publisher.all()
	require.Len(t, envelopes, 2)
	require.Equal(t, ChatRoom("c1"), envelopes[0].Room)
	require.Equal(t, "bob", envelopes[0].Evict)
	require.Equal(t, service.EventMessageNew, envelopes[1].Event)
	require.False(t, envelopes[1].SentAt.IsZero())
}

func TestHubEmitExceptSkipsSender(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := newMember("alice")
	bob := newMember("bob")
	hub.join(alice, ChatRoom("c1"))
	hub.join(bob, ChatRoom("c1"))

	hub.emitExcept(ChatRoom("c1"), service.EventUserTyping, map[string]string{"userId": "alice"}, alice)
	require.Equal(t, service.EventUserTyping, receive(t, bob.send).Event)
	requireSilent(t, alice.send)
}

func TestHubDeliverDoesNotRepublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	publisher := &capturePublisher{}
	hub.UsePublisher(publisher)

	bob := newMember("bob")
	hub.join(bob, ChatRoom("c1"))

	hub.Deliver(RelayEnvelope{Room: ChatRoom("c1"), Event: service.EventMessageEdited, Data: json.RawMessage(`{"id":"m1"}`)})
	frame := receive(t, bob.send)
	require.Equal(t, service.EventMessageEdited, frame.Event)
	require.JSONEq(t, `{"id":"m1"}`, string(frame.Data))

	hub.Deliver(RelayEnvelope{Room: ChatRoom("c1"), Evict: "bob"})
	require.False(t, hub.inRoom(bob, ChatRoom("c1")))
	require.Empty(t, publisher.all())
}

func TestHubDropsFramesForSlowMembers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := newMember("slow")
	hub.join(slow, UserRoom("slow"))

	for i := 0; i < sendBufferSize+5; i++ {
		hub.ToUser("slow", service.EventNotificationNew, i)
	}
	require.Len(t, slow.send, sendBufferSize)
}

func TestHubSubscribeUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	stream, cancel := hub.SubscribeUser("carol")

	hub.ToUser("carol", service.EventNotificationNew, map[string]string{"id": "n1"})
	require.Equal(t, service.EventNotificationNew, receive(t, stream).Event)
	require.Equal(t, []string{"carol"}, hub.Online([]string{"carol"}))

	cancel()
	require.Empty(t, hub.Online([]string{"carol"}))
	hub.ToUser("carol", service.EventNotificationNew, map[string]string{"id": "n2"})
	requireSilent(t, stream)
}
