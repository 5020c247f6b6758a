package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/handler"
	"github.com/noah-isme/taskchat-api/internal/models"
	"github.com/noah-isme/taskchat-api/internal/service"
)

type mockChatService struct {
	calls       []string
	lastUser    string
	lastChat    string
	lastTarget  string
	lastGroup   dto.GroupChatCreateRequest
	lastUpdate  dto.ChatUpdateRequest
	lastDirect  dto.DirectChatRequest
	chat        dto.ChatResponse
	err         error
	presenceIDs []string
}

func (m *mockChatService) record(name, userID, chatID string) {
	m.calls = append(m.calls, name)
	m.lastUser = userID
	m.lastChat = chatID
}

func (m *mockChatService) List(_ context.Context, userID string) ([]dto.ChatResponse, error) {
	m.record("list", userID, "")
	if m.err != nil {
		return nil, m.err
	}
	return []dto.ChatResponse{m.chat}, nil
}

func (m *mockChatService) Get(_ context.Context, userID, chatID string) (dto.ChatResponse, error) {
	m.record("get", userID, chatID)
	return m.chat, m.err
}

func (m *mockChatService) OpenDirect(_ context.Context, userID string, payload dto.DirectChatRequest) (dto.ChatResponse, error) {
	m.record("direct", userID, "")
	m.lastDirect = payload
	return m.chat, m.err
}

func (m *mockChatService) CreateGroup(_ context.Context, userID string, payload dto.GroupChatCreateRequest) (dto.ChatResponse, error) {
	m.record("group", userID, "")
	m.lastGroup = payload
	return m.chat, m.err
}

func (m *mockChatService) AddParticipant(_ context.Context, userID, chatID string, payload dto.ParticipantRequest) (dto.ChatResponse, error) {
	m.record("add", userID, chatID)
	m.lastTarget = payload.UserID
	return m.chat, m.err
}

func (m *mockChatService) RemoveParticipant(_ context.Context, userID, chatID, targetID string) (dto.ChatResponse, error) {
	m.record("remove", userID, chatID)
	m.lastTarget = targetID
	return m.chat, m.err
}

func (m *mockChatService) Leave(_ context.Context, userID, chatID string) error {
	m.record("leave", userID, chatID)
	return m.err
}

func (m *mockChatService) Delete(_ context.Context, userID, chatID string) error {
	m.record("delete", userID, chatID)
	return m.err
}

func (m *mockChatService) Update(_ context.Context, userID, chatID string, payload dto.ChatUpdateRequest) (dto.ChatResponse, error) {
	m.record("update", userID, chatID)
	m.lastUpdate = payload
	return m.chat, m.err
}

func (m *mockChatService) Presence(_ context.Context, userID, chatID string) (dto.ChatPresenceResponse, error) {
	m.record("presence", userID, chatID)
	return dto.ChatPresenceResponse{ChatID: chatID, Online: m.presenceIDs}, m.err
}

func (m *mockChatService) CanJoin(_ context.Context, userID, chatID string) error {
	m.record("join", userID, chatID)
	return m.err
}

func setupChatHandler(svc *mockChatService) *fiber.App {
	app, group := newTestApp("alice")
	handler.NewChatHandler(svc, newValidator(), testLogger()).Register(group.Group("/chats"))
	return app
}

func TestChatHandlerCreateGroup(t *testing.T) {
	svc := &mockChatService{chat: dto.ChatResponse{ID: "chat-1", Type: models.ChatTypeGroup, Name: "Launch"}}
	app := setupChatHandler(svc)

	resp := doJSON(t, app, http.MethodPost, "/api/v2/chats/group", map[string]interface{}{
		"name":           "Launch",
		"participantIds": []string{"bob", "carol"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var chat dto.ChatResponse
	body := decodeEnvelope(t, resp, &chat)
	require.True(t, body.Success)
	require.Equal(t, "group chat created", body.Message)
	require.Equal(t, "chat-1", chat.ID)
	require.Equal(t, "alice", svc.lastUser)
	require.Equal(t, []string{"bob", "carol"}, svc.lastGroup.ParticipantIDs)
}

func TestChatHandlerCreateGroupValidation(t *testing.T) {
	svc := &mockChatService{}
	app := setupChatHandler(svc)

	resp := doJSON(t, app, http.MethodPost, "/api/v2/chats/group", map[string]interface{}{
		"participantIds": []string{"bob"},
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Empty(t, svc.calls)

	body := decodeEnvelope(t, resp, nil)
	require.Equal(t, "validation failed", body.Message)
	require.JSONEq(t, `{"Name":"required"}`, string(body.Details))

	resp = doJSON(t, app, http.MethodPost, "/api/v2/chats/direct", map[string]interface{}{})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Empty(t, svc.calls)
}

func TestChatHandlerRoutesPathParameters(t *testing.T) {
	svc := &mockChatService{presenceIDs: []string{"bob"}}
	app := setupChatHandler(svc)

	resp := doJSON(t, app, http.MethodDelete, "/api/v2/chats/chat-9/participants/carol", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "chat-9", svc.lastChat)
	require.Equal(t, "carol", svc.lastTarget)

	resp = doJSON(t, app, http.MethodPost, "/api/v2/chats/chat-9/participants", map[string]string{"userId": "dave"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "dave", svc.lastTarget)

	nickname := "Bobby"
	resp = doJSON(t, app, http.MethodPatch, "/api/v2/chats/chat-9", map[string]*string{"nickname": &nickname})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, svc.lastUpdate.Nickname)
	require.Equal(t, "Bobby", *svc.lastUpdate.Nickname)

	resp = doJSON(t, app, http.MethodGet, "/api/v2/chats/chat-9/presence", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var presence dto.ChatPresenceResponse
	decodeEnvelope(t, resp, &presence)
	require.Equal(t, []string{"bob"}, presence.Online)

	resp = doJSON(t, app, http.MethodPost, "/api/v2/chats/chat-9/leave", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"remove", "add", "update", "presence", "leave"}, svc.calls)
}

func TestChatHandlerMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{service.ErrChatNotFound, fiber.StatusNotFound, service.ErrChatNotFound.Error()},
		{service.ErrChatForbidden, fiber.StatusForbidden, service.ErrChatForbidden.Error()},
		{service.ErrParticipantExists, fiber.StatusConflict, service.ErrParticipantExists.Error()},
		{fmt.Errorf("wrapped: %w", service.ErrUnsupportedForChatType), fiber.StatusBadRequest, "wrapped: " + service.ErrUnsupportedForChatType.Error()},
		{service.ErrUserRequired, fiber.StatusUnauthorized, service.ErrUserRequired.Error()},
		{errors.New("connection reset"), fiber.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			app := setupChatHandler(&mockChatService{err: tc.err})
			resp := doJSON(t, app, http.MethodDelete, "/api/v2/chats/chat-1", nil)
			require.Equal(t, tc.status, resp.StatusCode)

			body := decodeEnvelope(t, resp, nil)
			require.False(t, body.Success)
			require.Equal(t, tc.message, body.Message)
		})
	}
}
