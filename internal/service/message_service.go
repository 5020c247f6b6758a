package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/taskchat-api/internal/dto"
	"github.com/noah-isme/taskchat-api/internal/models"
	"github.com/noah-isme/taskchat-api/internal/observability"
	"github.com/noah-isme/taskchat-api/internal/repository"
)

// MessageService runs the message pipeline: send, edit, react, delete, forward and read.
type MessageService interface {
	Send(ctx context.Context, userID string, payload dto.MessageSendRequest) (dto.MessageResponse, error)
	Edit(ctx context.Context, userID string, payload dto.MessageEditRequest) (dto.MessageResponse, error)
	React(ctx context.Context, userID string, payload dto.MessageReactRequest) (dto.MessageResponse, error)
	Delete(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	Forward(ctx context.Context, userID, messageID string, payload dto.MessageForwardRequest) (dto.ForwardResponse, error)
	MarkRead(ctx context.Context, userID, chatID string) (dto.ReadResponse, error)
	List(ctx context.Context, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
}

// MessageServiceDeps groups the collaborators of the message pipeline.
type MessageServiceDeps struct {
	Chats         repository.ChatRepository
	Messages      repository.MessageRepository
	Users         repository.UserRepository
	Notifications NotificationPublisher
	Broadcaster   Broadcaster
	Uploads       repository.UploadRepository
	Attachments   AttachmentPurger
	Validator     *validator.Validate
	Logger        zerolog.Logger
}

type messageService struct {
	chats         repository.ChatRepository
	messages      repository.MessageRepository
	access        chatAccess
	users         userNames
	notifications NotificationPublisher
	broadcaster   Broadcaster
	uploads       repository.UploadRepository
	attachments   AttachmentPurger
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
	now           func() time.Time
}

// NewMessageService constructs the message pipeline.
func NewMessageService(deps MessageServiceDeps) MessageService {
	logger := deps.Logger.With().Str("component", "message_service").Logger()
	return &messageService{
		chats:         deps.Chats,
		messages:      deps.Messages,
		access:        chatAccess{chats: deps.Chats},
		users:         userNames{repo: deps.Users, logger: logger},
		notifications: deps.Notifications,
		broadcaster:   orNop(deps.Broadcaster),
		uploads:       deps.Uploads,
		attachments:   deps.Attachments,
		validator:     deps.Validator,
		logger:        logger,
		tracer:        otel.Tracer("github.com/noah-isme/taskchat-api/internal/service/message"),
		sanitizer:     bluemonday.UGCPolicy(),
		now:           serviceClock,
	}
}

func (s *messageService) Send(ctx context.Context, userID string, payload dto.MessageSendRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	chat, _, err := s.access.active(ctx, userID, payload.ChatID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	text := strings.TrimSpace(s.sanitizer.Sanitize(payload.Text))
	attachments, err := s.buildAttachments(ctx, chat.ID, payload.Attachments)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if text == "" && len(attachments) == 0 {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	spanCtx, span := s.tracer.Start(ctx, "message.send", trace.WithAttributes(
		attribute.String("message.chat_id", chat.ID),
		attribute.String("message.sender_id", userID),
		attribute.Int("message.attachments", len(attachments)),
	))
	defer span.End()

	message := models.Message{
		ChatID:         chat.ID,
		SenderID:       userID,
		Text:           text,
		Attachments:    datatypes.JSONSlice[models.Attachment](attachments),
		MentionedUsers: datatypes.JSONSlice[string](uniqueIDs(payload.MentionedUsers)),
		MentionAll:     payload.MentionAll,
	}

	if replyTo := strings.TrimSpace(payload.ReplyTo); replyTo != "" {
		target, err := s.messages.FindByID(spanCtx, replyTo)
		if err != nil || target.ChatID != chat.ID {
			return dto.MessageResponse{}, ErrInvalidReply
		}
		if member, _ := chat.Member(userID); !inWindow(member, target) {
			return dto.MessageResponse{}, ErrInvalidReply
		}
		message.ReplyToID = &target.ID
	}

	response, err := s.persist(spanCtx, chat, &message)
	if err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}
	observability.ChatMessagesSent().WithLabelValues("user").Inc()

	recipients := chat.ParticipantIDs()
	s.fanOut(spanCtx, FanOutRequest{
		ActorID:    userID,
		Recipients: recipients,
		Mentions: &MessageMentions{
			ChatType:   chat.Type,
			MentionAll: message.MentionAll,
			Mentioned:  message.MentionedUsers,
		},
		Title:       s.notificationTitle(spanCtx, chat, userID),
		Message:     s.notificationBody(spanCtx, userID, message),
		RelatedChat: chat.ID,
	})

	return response, nil
}

func (s *messageService) Edit(ctx context.Context, userID string, payload dto.MessageEditRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	message, _, err := s.authorOf(ctx, userID, payload.MessageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if message.IsDeleted || message.IsSystem {
		return dto.MessageResponse{}, ErrMessageForbidden
	}

	text := strings.TrimSpace(s.sanitizer.Sanitize(payload.Text))
	if text == "" {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	updated, err := s.messages.UpdateText(ctx, message.ID, userID, text, s.now())
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if !updated {
		return dto.MessageResponse{}, ErrMessageForbidden
	}

	stored, err := s.messages.FindByID(ctx, message.ID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.chats.ReplaceLastMessagePreview(ctx, stored.ChatID, stored.ID, stored.Preview()); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", stored.ChatID).Msg("failed to refresh last message preview")
	}

	response := dto.NewMessageResponse(stored)
	s.broadcaster.ToChat(stored.ChatID, EventMessageEdited, response)
	return response, nil
}

func (s *messageService) React(ctx context.Context, userID string, payload dto.MessageReactRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	message, err := s.messages.FindByID(ctx, payload.MessageID)
	if err != nil {
		if isNotFound(err) {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		return dto.MessageResponse{}, err
	}

	_, member, err := s.access.active(ctx, userID, message.ChatID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if !inWindow(member, message) {
		return dto.MessageResponse{}, ErrMessageNotFound
	}
	if message.IsDeleted {
		return dto.MessageResponse{}, ErrMessageForbidden
	}

	emoji := strings.TrimSpace(payload.Emoji)
	if _, err := s.messages.ToggleReaction(ctx, message.ID, userID, emoji); err != nil {
		return dto.MessageResponse{}, err
	}

	stored, err := s.messages.FindByID(ctx, message.ID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	response := dto.NewMessageResponse(stored)
	s.broadcaster.ToChat(stored.ChatID, EventMessageReacted, response)
	return response, nil
}

func (s *messageService) Delete(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	message, _, err := s.authorOf(ctx, userID, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if message.IsSystem {
		return dto.MessageResponse{}, ErrMessageForbidden
	}
	if message.IsDeleted {
		return dto.NewMessageResponse(message), nil
	}

	spanCtx, span := s.tracer.Start(ctx, "message.delete", trace.WithAttributes(
		attribute.String("message.id", message.ID),
		attribute.String("message.chat_id", message.ChatID),
	))
	defer span.End()

	deleted, err := s.messages.Tombstone(spanCtx, message.ID, userID, s.now())
	if err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}
	if !deleted {
		return dto.MessageResponse{}, ErrMessageForbidden
	}

	if s.attachments != nil && len(message.Attachments) > 0 {
		s.attachments.Purge(spanCtx, userID, message.Attachments)
	}

	stored, err := s.messages.FindByID(spanCtx, message.ID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.chats.ReplaceLastMessagePreview(spanCtx, stored.ChatID, stored.ID, stored.Preview()); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", stored.ChatID).Msg("failed to refresh last message preview")
	}

	response := dto.NewMessageResponse(stored)
	s.broadcaster.ToChat(stored.ChatID, EventMessageDeleted, dto.MessageDeletedEvent{
		MessageID: stored.ID,
		ChatID:    stored.ChatID,
		Message:   response,
	})
	return response, nil
}

func (s *messageService) Forward(ctx context.Context, userID, messageID string, payload dto.MessageForwardRequest) (dto.ForwardResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ForwardResponse{}, err
	}

	source, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if isNotFound(err) {
			return dto.ForwardResponse{}, ErrMessageNotFound
		}
		return dto.ForwardResponse{}, err
	}
	_, member, err := s.access.visible(ctx, userID, source.ChatID)
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return dto.ForwardResponse{}, ErrMessageNotFound
		}
		return dto.ForwardResponse{}, err
	}
	if !inWindow(member, source) {
		return dto.ForwardResponse{}, ErrMessageNotFound
	}
	if source.IsDeleted || source.IsSystem {
		return dto.ForwardResponse{}, ErrEmptyMessage
	}

	origin := source.ForwardedFrom
	if origin == "" {
		origin = source.SenderID
	}

	spanCtx, span := s.tracer.Start(ctx, "message.forward", trace.WithAttributes(
		attribute.String("message.id", source.ID),
		attribute.Int("message.targets", len(payload.ChatIDs)),
	))
	defer span.End()

	result := dto.ForwardResponse{Messages: []dto.MessageResponse{}, Skipped: []string{}}
	for _, chatID := range uniqueIDs(payload.ChatIDs) {
		target, _, err := s.access.active(spanCtx, userID, chatID)
		if err != nil {
			result.Skipped = append(result.Skipped, chatID)
			continue
		}

		copied := models.Message{
			ChatID:         target.ID,
			SenderID:       userID,
			Text:           source.Text,
			Attachments:    append(datatypes.JSONSlice[models.Attachment]{}, source.Attachments...),
			MentionedUsers: datatypes.JSONSlice[string]{},
			ForwardedFrom:  origin,
		}
		response, err := s.persist(spanCtx, target, &copied)
		if err != nil {
			span.RecordError(err)
			s.logger.Error().Err(err).Str("chat_id", target.ID).Msg("failed to forward message")
			result.Skipped = append(result.Skipped, chatID)
			continue
		}
		observability.ChatMessagesSent().WithLabelValues("forward").Inc()
		result.Messages = append(result.Messages, response)

		s.fanOut(spanCtx, FanOutRequest{
			ActorID:     userID,
			Recipients:  target.ParticipantIDs(),
			Type:        models.NotificationMessageForwarded,
			Title:       s.notificationTitle(spanCtx, target, userID),
			Message:     s.notificationBody(spanCtx, userID, copied),
			RelatedChat: target.ID,
		})
	}

	return result, nil
}

func (s *messageService) MarkRead(ctx context.Context, userID, chatID string) (dto.ReadResponse, error) {
	chat, member, err := s.access.visible(ctx, userID, chatID)
	if err != nil {
		return dto.ReadResponse{}, err
	}

	ids, err := s.messages.MarkChatRead(ctx, chat.ID, userID, windowFor(member), s.now())
	if err != nil {
		return dto.ReadResponse{}, err
	}
	if ids == nil {
		ids = []string{}
	}

	if len(ids) > 0 {
		s.broadcaster.ToChat(chat.ID, EventMessagesRead, dto.MessagesReadEvent{
			ChatID:     chat.ID,
			UserID:     userID,
			MessageIDs: ids,
		})
	}
	return dto.ReadResponse{ChatID: chat.ID, MessageIDs: ids}, nil
}

func (s *messageService) List(ctx context.Context, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	chat, member, err := s.access.visible(ctx, userID, query.ChatID)
	if err != nil {
		return nil, err
	}

	filter := repository.MessageFilter{MessageWindow: windowFor(member), Limit: query.Limit}
	if query.Before != nil {
		filter.Before = query.Before.UTC()
		filter.BeforeID = query.BeforeID
	}

	messages, err := s.messages.ListByChat(ctx, chat.ID, filter)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageResponseSlice(messages), nil
}

// persist stores a new message in chat, then restores anyone who had hidden the chat,
// records the sender's own receipt and broadcasts it.
func (s *messageService) persist(ctx context.Context, chat models.Chat, message *models.Message) (dto.MessageResponse, error) {
	message.CreatedAt = s.now()
	if err := s.messages.Create(ctx, message); err != nil {
		return dto.MessageResponse{}, fmt.Errorf("persist message: %w", err)
	}
	if err := s.chats.TouchLastMessage(ctx, chat.ID, *message); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to update last message")
	}
	if err := s.messages.AddReceipt(ctx, message.ID, message.SenderID, message.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Str("message_id", message.ID).Msg("failed to record sender receipt")
	} else {
		message.ReadBy = []models.MessageRead{{MessageID: message.ID, UserID: message.SenderID, ReadAt: message.CreatedAt}}
	}

	response := dto.NewMessageResponse(*message)
	s.broadcaster.ToChat(chat.ID, EventMessageNew, response)
	s.restoreHidden(ctx, chat.ID, *message, response)
	return response, nil
}

// restoreHidden brings the chat back for members who hid it. Their history floor moves to the
// new message so nothing older reappears.
func (s *messageService) restoreHidden(ctx context.Context, chatID string, message models.Message, response dto.MessageResponse) {
	hidden, err := s.chats.HiddenMembers(ctx, chatID, message.SenderID)
	if err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to load hidden members")
		return
	}
	if len(hidden) == 0 {
		return
	}

	restored := make([]string, 0, len(hidden))
	for _, id := range hidden {
		ok, err := s.chats.Restore(ctx, chatID, id, message.CreatedAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chatID).Str("user_id", id).Msg("failed to restore chat")
			continue
		}
		if ok {
			restored = append(restored, id)
		}
	}
	if len(restored) == 0 {
		return
	}

	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to reload restored chat")
		return
	}
	observability.ChatLifecycle().WithLabelValues("restored").Add(float64(len(restored)))
	for _, id := range restored {
		newMessage := response
		s.broadcaster.ToUser(id, EventChatRestored, dto.ChatRestoredEvent{
			Chat:       dto.NewChatResponse(chat, id),
			NewMessage: &newMessage,
		})
	}
}

// authorOf loads a message the caller sent in a chat they still participate in.
func (s *messageService) authorOf(ctx context.Context, userID, messageID string) (models.Message, models.ChatMember, error) {
	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if isNotFound(err) {
			return models.Message{}, models.ChatMember{}, ErrMessageNotFound
		}
		return models.Message{}, models.ChatMember{}, err
	}

	_, member, err := s.access.active(ctx, userID, message.ChatID)
	if err != nil {
		return models.Message{}, models.ChatMember{}, err
	}
	if !inWindow(member, message) {
		return models.Message{}, models.ChatMember{}, ErrMessageNotFound
	}
	if message.SenderID != userID {
		return models.Message{}, models.ChatMember{}, ErrMessageForbidden
	}
	return message, member, nil
}

// buildAttachments accepts only files uploaded into chatID. Type and size come from the
// upload record, not the client.
func (s *messageService) buildAttachments(ctx context.Context, chatID string, payloads []dto.AttachmentPayload) ([]models.Attachment, error) {
	if len(payloads) == 0 {
		return []models.Attachment{}, nil
	}
	if s.uploads == nil {
		return nil, fmt.Errorf("attachments unavailable: %w", ErrInvalidAttachment)
	}

	out := make([]models.Attachment, 0, len(payloads))
	urls := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		parsed, err := url.Parse(strings.TrimSpace(payload.URL))
		if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
			return nil, fmt.Errorf("attachment %q: %w", payload.Name, ErrInvalidAttachment)
		}
		name := strings.TrimSpace(s.sanitizer.Sanitize(payload.Name))
		if name == "" {
			return nil, fmt.Errorf("attachment name required: %w", ErrInvalidAttachment)
		}

		uploadedAt := s.now()
		if payload.UploadedAt != nil {
			uploadedAt = payload.UploadedAt.UTC()
		}
		out = append(out, models.Attachment{
			URL:        parsed.String(),
			Name:       name,
			Type:       strings.TrimSpace(payload.Type),
			Size:       payload.Size,
			UploadedAt: uploadedAt,
		})
		urls = append(urls, parsed.String())
	}

	records, err := s.uploads.FindInChat(ctx, chatID, urls)
	if err != nil {
		return nil, err
	}
	byURL := make(map[string]models.UploadRecord, len(records))
	for _, record := range records {
		byURL[record.URL] = record
	}
	for i := range out {
		record, ok := byURL[out[i].URL]
		if !ok {
			return nil, fmt.Errorf("attachment %q was not uploaded to this chat: %w", out[i].Name, ErrInvalidAttachment)
		}
		out[i].Type = record.MimeType
		out[i].Size = record.SizeBytes
	}
	return out, nil
}

func (s *messageService) notificationTitle(ctx context.Context, chat models.Chat, senderID string) string {
	if chat.IsGroup() {
		return chat.Name
	}
	return s.users.name(ctx, senderID)
}

func (s *messageService) notificationBody(ctx context.Context, senderID string, message models.Message) string {
	return fmt.Sprintf("%s: %s", s.users.name(ctx, senderID), message.Preview())
}

func (s *messageService) fanOut(ctx context.Context, req FanOutRequest) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.FanOut(ctx, req); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", req.RelatedChat).Msg("failed to fan out notifications")
	}
}
