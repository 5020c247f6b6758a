package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/handler"
	"github.com/noah-isme/taskchat-api/internal/service"
)

type mockNotificationService struct {
	lastUser    string
	lastID      uint
	lastUnread  bool
	lastLimit   int
	lastOffset  int
	lastPublish dto.NotificationCreateRequest
	err         error
}

func (m *mockNotificationService) FanOut(_ context.Context, req service.FanOutRequest) ([]dto.NotificationResponse, error) {
	return nil, m.err
}

func (m *mockNotificationService) Publish(_ context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	m.lastPublish = payload
	return dto.NotificationResponse{ID: 9, UserID: payload.UserID, Type: payload.Type}, m.err
}

func (m *mockNotificationService) List(_ context.Context, userID string, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error) {
	m.lastUser = userID
	m.lastUnread = unreadOnly
	m.lastLimit = limit
	m.lastOffset = offset
	return []dto.NotificationResponse{{ID: 1, UserID: userID}}, m.err
}

func (m *mockNotificationService) UnreadCount(_ context.Context, userID string) (dto.UnreadCountResponse, error) {
	m.lastUser = userID
	return dto.UnreadCountResponse{Unread: 3}, m.err
}

func (m *mockNotificationService) MarkRead(_ context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	m.lastUser = userID
	m.lastID = id
	return dto.NotificationResponse{ID: id, UserID: userID, IsRead: true}, m.err
}

func (m *mockNotificationService) MarkAllRead(_ context.Context, userID string) (int64, error) {
	m.lastUser = userID
	return 2, m.err
}

func (m *mockNotificationService) Subscribe(userID string) (<-chan service.StreamEvent, func()) {
	ch := make(chan service.StreamEvent)
	return ch, func() {}
}

func setupNotificationHandler(svc *mockNotificationService, userID string) *fiber.App {
	app, group := newTestApp(userID)
	handler.NewNotificationHandler(svc, newValidator(), testLogger(), time.Second).Register(group.Group("/notifications"), nil)
	return app
}

func TestNotificationHandlerList(t *testing.T) {
	svc := &mockNotificationService{}
	app := setupNotificationHandler(svc, "bob")

	resp := doJSON(t, app, http.MethodGet, "/api/v2/notifications?unread=true&limit=5&offset=10", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "bob", svc.lastUser)
	require.True(t, svc.lastUnread)
	require.Equal(t, 5, svc.lastLimit)
	require.Equal(t, 10, svc.lastOffset)

	resp = doJSON(t, app, http.MethodGet, "/api/v2/notifications?limit=many", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestNotificationHandlerRequiresUser(t *testing.T) {
	app := setupNotificationHandler(&mockNotificationService{}, "")

	resp := doJSON(t, app, http.MethodGet, "/api/v2/notifications", nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/v2/notifications/stream", nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	svc := &mockNotificationService{}
	app := setupNotificationHandler(svc, "bob")

	resp := doJSON(t, app, http.MethodPatch, "/api/v2/notifications/42/read", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(42), svc.lastID)

	var notification dto.NotificationResponse
	decodeEnvelope(t, resp, &notification)
	require.True(t, notification.IsRead)

	resp = doJSON(t, app, http.MethodPatch, "/api/v2/notifications/abc/read", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPatch, "/api/v2/notifications/read-all", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated struct {
		Updated int64 `json:"updated"`
	}
	decodeEnvelope(t, resp, &updated)
	require.Equal(t, int64(2), updated.Updated)

	missing := setupNotificationHandler(&mockNotificationService{err: service.ErrNotificationNotFound}, "bob")
	resp = doJSON(t, missing, http.MethodPatch, "/api/v2/notifications/7/read", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestNotificationHandlerUnreadCount(t *testing.T) {
	app := setupNotificationHandler(&mockNotificationService{}, "bob")

	resp := doJSON(t, app, http.MethodGet, "/api/v2/notifications/unread-count", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var count dto.UnreadCountResponse
	decodeEnvelope(t, resp, &count)
	require.Equal(t, int64(3), count.Unread)
}

func TestNotificationHandlerPublish(t *testing.T) {
	svc := &mockNotificationService{}
	app := setupNotificationHandler(svc, "system")

	resp := doJSON(t, app, http.MethodPost, "/api/v2/notifications", map[string]string{"userId": "bob", "type": "task_assigned"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/api/v2/notifications", map[string]string{
		"userId":      "bob",
		"type":        "task_assigned",
		"message":     "Review the draft",
		"relatedTask": "task-3",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "task-3", svc.lastPublish.RelatedTask)

	rejecting := setupNotificationHandler(&mockNotificationService{err: service.ErrInvalidNotificationType}, "system")
	resp = doJSON(t, rejecting, http.MethodPost, "/api/v2/notifications", map[string]string{"userId": "bob", "type": "bogus", "message": "x"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
