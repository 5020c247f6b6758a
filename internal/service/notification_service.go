package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/models"
	"github.com/noah-isme/taskchat-api/internal/observability"
	"github.com/noah-isme/taskchat-api/internal/repository"
)

// MessageMentions carries what a message event needs to pick a notification type per recipient.
type MessageMentions struct {
	ChatType   models.ChatType
	MentionAll bool
	Mentioned  []string
}

// FanOutRequest describes one audience-relevant event.
type FanOutRequest struct {
	ActorID    string
	Recipients []string
	// Type is used for every recipient unless Mentions is set.
	Type           models.NotificationType
	Mentions       *MessageMentions
	Title          string
	Message        string
	RelatedChat    string
	RelatedTask    string
	RelatedProject string
}

// StreamEvent is a user-room frame forwarded to server-sent event subscribers.
type StreamEvent struct {
	Event string
	Data  []byte
}

// UserStreamer lets SSE clients follow a user room.
type UserStreamer interface {
	SubscribeUser(userID string) (<-chan StreamEvent, func())
}

// NotificationPublisher is the subset used by other services.
type NotificationPublisher interface {
	FanOut(ctx context.Context, req FanOutRequest) ([]dto.NotificationResponse, error)
}

// NotificationService persists notifications and delivers them live.
type NotificationService interface {
	NotificationPublisher
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error)
	UnreadCount(ctx context.Context, userID string) (dto.UnreadCountResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Subscribe(userID string) (<-chan StreamEvent, func())
}

type notificationService struct {
	repo        repository.NotificationRepository
	broadcaster Broadcaster
	streamer    UserStreamer
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	now         func() time.Time
}

// NewNotificationService constructs a notification service. streamer may be nil when SSE is unused.
func NewNotificationService(repo repository.NotificationRepository, broadcaster Broadcaster, streamer UserStreamer, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	return &notificationService{
		repo:        repo,
		broadcaster: orNop(broadcaster),
		streamer:    streamer,
		validator:   validate,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/taskchat-api/internal/service/notification"),
		sanitizer:   bluemonday.StrictPolicy(),
		now:         serviceClock,
	}
}

// ResolveMessageType picks the notification type of a message event for one recipient.
// mentionAll wins over an explicit mention, which wins over the default.
func ResolveMessageType(recipientID string, mentions MessageMentions) models.NotificationType {
	if mentions.MentionAll {
		return models.NotificationMentionAll
	}
	for _, id := range mentions.Mentioned {
		if id == recipientID {
			return models.NotificationMention
		}
	}
	if mentions.ChatType == models.ChatTypeGroup {
		return models.NotificationGroupMessage
	}
	return models.NotificationMessage
}

func (s *notificationService) FanOut(ctx context.Context, req FanOutRequest) ([]dto.NotificationResponse, error) {
	recipients := uniqueIDs(req.Recipients, req.ActorID)
	if len(recipients) == 0 {
		return []dto.NotificationResponse{}, nil
	}
	if req.Mentions == nil && !req.Type.Valid() {
		return nil, ErrInvalidNotificationType
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.fan_out", trace.WithAttributes(
		attribute.String("notification.actor_id", req.ActorID),
		attribute.Int("notification.recipients", len(recipients)),
	))
	defer span.End()

	title := strings.TrimSpace(s.sanitizer.Sanitize(req.Title))
	message := strings.TrimSpace(s.sanitizer.Sanitize(req.Message))

	items := make([]models.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		kind := req.Type
		if req.Mentions != nil {
			kind = ResolveMessageType(recipient, *req.Mentions)
		}
		items = append(items, models.Notification{
			UserID:         recipient,
			Type:           kind,
			Title:          title,
			Message:        message,
			RelatedChat:    req.RelatedChat,
			RelatedTask:    req.RelatedTask,
			RelatedProject: req.RelatedProject,
		})
	}

	if err := s.repo.CreateBatch(spanCtx, items); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist notifications: %w", err)
	}

	responses := dto.NewNotificationResponseSlice(items)
	for _, response := range responses {
		s.deliver(response)
	}
	return responses, nil
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}
	kind := models.NotificationType(payload.Type)
	if !kind.Valid() {
		return dto.NotificationResponse{}, ErrInvalidNotificationType
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, errors.New("notification message empty after sanitization")
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.type", payload.Type),
	))
	defer span.End()

	model := models.Notification{
		UserID:         payload.UserID,
		Type:           kind,
		Title:          strings.TrimSpace(s.sanitizer.Sanitize(payload.Title)),
		Message:        cleanMessage,
		RelatedTask:    payload.RelatedTask,
		RelatedProject: payload.RelatedProject,
		RelatedChat:    payload.RelatedChat,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	s.deliver(response)
	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}

	notifications, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (dto.UnreadCountResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.UnreadCountResponse{}, ErrUserRequired
	}
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return dto.UnreadCountResponse{}, err
	}
	return dto.UnreadCountResponse{Unread: count}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID, s.now())
	if err != nil {
		if isNotFound(err) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

// Subscribe follows the user's room for server-sent events.
func (s *notificationService) Subscribe(userID string) (<-chan StreamEvent, func()) {
	if s.streamer == nil {
		ch := make(chan StreamEvent)
		return ch, func() {}
	}

	stream, cancel := s.streamer.SubscribeUser(userID)
	observability.SSEClientsActive().Inc()
	return stream, func() {
		cancel()
		observability.SSEClientsActive().Dec()
	}
}

// deliver is best-effort: persistence already happened, offline users read it later.
func (s *notificationService) deliver(notification dto.NotificationResponse) {
	observability.NotificationsPublishedTotal().WithLabelValues(notification.Type).Inc()
	s.broadcaster.ToUser(notification.UserID, EventNotificationNew, notification)
}
