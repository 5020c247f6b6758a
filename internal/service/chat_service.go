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

// ChatService manages chat lifecycle and membership.
type ChatService interface {
	List(ctx context.Context, userID string) ([]dto.ChatResponse, error)
	Get(ctx context.Context, userID, chatID string) (dto.ChatResponse, error)
	OpenDirect(ctx context.Context, userID string, payload dto.DirectChatRequest) (dto.ChatResponse, error)
	CreateGroup(ctx context.Context, userID string, payload dto.GroupChatCreateRequest) (dto.ChatResponse, error)
	AddParticipant(ctx context.Context, userID, chatID string, payload dto.ParticipantRequest) (dto.ChatResponse, error)
	RemoveParticipant(ctx context.Context, userID, chatID, targetID string) (dto.ChatResponse, error)
	Leave(ctx context.Context, userID, chatID string) error
	Delete(ctx context.Context, userID, chatID string) error
	Update(ctx context.Context, userID, chatID string, payload dto.ChatUpdateRequest) (dto.ChatResponse, error)
	Presence(ctx context.Context, userID, chatID string) (dto.ChatPresenceResponse, error)
	CanJoin(ctx context.Context, userID, chatID string) error
}

type chatService struct {
	chats         repository.ChatRepository
	messages      repository.MessageRepository
	access        chatAccess
	users         userNames
	notifications NotificationPublisher
	broadcaster   Broadcaster
	presence      PresenceReader
	uploads       ChatUploadsPurger
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
	now           func() time.Time
}

// ChatServiceDeps groups the collaborators of the chat directory.
type ChatServiceDeps struct {
	Chats         repository.ChatRepository
	Messages      repository.MessageRepository
	Users         repository.UserRepository
	Notifications NotificationPublisher
	Broadcaster   Broadcaster
	Presence      PresenceReader
	Uploads       ChatUploadsPurger
	Validator     *validator.Validate
	Logger        zerolog.Logger
}

// NewChatService constructs the chat directory.
func NewChatService(deps ChatServiceDeps) ChatService {
	logger := deps.Logger.With().Str("component", "chat_service").Logger()
	return &chatService{
		chats:         deps.Chats,
		messages:      deps.Messages,
		access:        chatAccess{chats: deps.Chats},
		users:         userNames{repo: deps.Users, logger: logger},
		notifications: deps.Notifications,
		broadcaster:   orNop(deps.Broadcaster),
		presence:      deps.Presence,
		uploads:       deps.Uploads,
		validator:     deps.Validator,
		logger:        logger,
		tracer:        otel.Tracer("github.com/noah-isme/taskchat-api/internal/service/chat"),
		sanitizer:     bluemonday.StrictPolicy(),
		now:           serviceClock,
	}
}

func (s *chatService) List(ctx context.Context, userID string) ([]dto.ChatResponse, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}

	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.ChatResponse, 0, len(chats))
	for _, chat := range chats {
		response := dto.NewChatResponse(chat, userID)
		if member, ok := chat.Member(userID); ok {
			unread, err := s.messages.CountUnread(ctx, chat.ID, userID, windowFor(member))
			if err != nil {
				s.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to count unread messages")
			}
			response.UnreadCount = unread
		}
		out = append(out, response)
	}
	return out, nil
}

func (s *chatService) Get(ctx context.Context, userID, chatID string) (dto.ChatResponse, error) {
	chat, member, err := s.access.visible(ctx, userID, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	response := dto.NewChatResponse(chat, userID)
	if unread, err := s.messages.CountUnread(ctx, chat.ID, userID, windowFor(member)); err == nil {
		response.UnreadCount = unread
	}
	return response, nil
}

func (s *chatService) OpenDirect(ctx context.Context, userID string, payload dto.DirectChatRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatResponse{}, err
	}
	otherID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		return dto.ChatResponse{}, ErrUserRequired
	}
	if otherID == userID {
		return dto.ChatResponse{}, fmt.Errorf("direct chat needs two distinct users: %w", ErrInvalidMembership)
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.open_direct", trace.WithAttributes(
		attribute.String("chat.user_id", userID),
		attribute.String("chat.other_id", otherID),
	))
	defer span.End()

	at := s.now()
	key := models.DirectKey(userID, otherID)
	chat := models.Chat{
		Type:      models.ChatTypeDirect,
		CreatedBy: userID,
		DirectKey: &key,
		Members: []models.ChatMember{
			{UserID: userID, Status: models.MemberStatusActive, JoinedAt: at},
			{UserID: otherID, Status: models.MemberStatusActive, JoinedAt: at},
		},
	}

	stored, created, err := s.chats.CreateDirect(spanCtx, &chat)
	if err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	if created {
		observability.ChatLifecycle().WithLabelValues("direct_created").Inc()
		s.logger.Info().Str("chat_id", stored.ID).Str("user_id", userID).Msg("direct chat created")
		response := dto.NewChatResponse(stored, userID)
		s.broadcaster.ToUser(userID, EventChatUpdated, response)
		return response, nil
	}

	member, ok := stored.Member(userID)
	if !ok {
		return dto.ChatResponse{}, ErrChatNotFound
	}
	if member.Hidden {
		// History stays hidden: the floor moves to now.
		if _, err := s.chats.Restore(spanCtx, stored.ID, userID, at); err != nil {
			span.RecordError(err)
			return dto.ChatResponse{}, err
		}
		if stored, err = s.chats.FindByID(spanCtx, stored.ID); err != nil {
			return dto.ChatResponse{}, err
		}
		observability.ChatLifecycle().WithLabelValues("restored").Inc()
		response := dto.NewChatResponse(stored, userID)
		s.broadcaster.ToUser(userID, EventChatRestored, dto.ChatRestoredEvent{Chat: response})
		return response, nil
	}

	return dto.NewChatResponse(stored, userID), nil
}

func (s *chatService) CreateGroup(ctx context.Context, userID string, payload dto.GroupChatCreateRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatResponse{}, err
	}
	if userID == "" {
		return dto.ChatResponse{}, ErrUserRequired
	}

	name := strings.TrimSpace(s.sanitizer.Sanitize(payload.Name))
	if name == "" {
		return dto.ChatResponse{}, errors.New("group name empty after sanitization")
	}
	participants := uniqueIDs(payload.ParticipantIDs, userID)
	if len(participants) == 0 {
		return dto.ChatResponse{}, fmt.Errorf("group needs at least one other participant: %w", ErrInvalidMembership)
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.create_group", trace.WithAttributes(
		attribute.String("chat.creator_id", userID),
		attribute.Int("chat.participants", len(participants)+1),
	))
	defer span.End()

	at := s.now()
	members := []models.ChatMember{{UserID: userID, Status: models.MemberStatusActive, IsAdmin: true, JoinedAt: at}}
	for i, id := range participants {
		members = append(members, models.ChatMember{
			UserID:   id,
			Status:   models.MemberStatusActive,
			JoinedAt: at.Add(time.Duration(i+1) * time.Microsecond),
		})
	}

	chat := models.Chat{
		Type:        models.ChatTypeGroup,
		Name:        name,
		Description: strings.TrimSpace(s.sanitizer.Sanitize(payload.Description)),
		CreatedBy:   userID,
		Members:     members,
	}
	if err := s.chats.Create(spanCtx, &chat); err != nil {
		span.RecordError(err)
		return dto.ChatResponse{}, err
	}

	names := s.users.lookup(spanCtx, append([]string{userID}, participants...)...)
	s.postSystem(spanCtx, chat.ID, userID, fmt.Sprintf("%s created the chat", names[userID]))
	s.postSystem(spanCtx, chat.ID, userID, fmt.Sprintf("%s joined", joinNames(names, participants)))

	observability.ChatLifecycle().WithLabelValues("group_created").Inc()
	s.logger.Info().Str("chat_id", chat.ID).Str("creator_id", userID).Int("participants", len(members)).Msg("group chat created")

	s.fanOut(spanCtx, FanOutRequest{
		ActorID:     userID,
		Recipients:  participants,
		Type:        models.NotificationChatAdded,
		Title:       name,
		Message:     fmt.Sprintf("%s added you to %s", names[userID], name),
		RelatedChat: chat.ID,
	})

	return s.publishUpdate(spanCtx, chat.ID, userID)
}

func (s *chatService) AddParticipant(ctx context.Context, userID, chatID string, payload dto.ParticipantRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatResponse{}, err
	}
	targetID := strings.TrimSpace(payload.UserID)

	chat, _, err := s.access.active(ctx, userID, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if !chat.IsGroup() {
		return dto.ChatResponse{}, ErrUnsupportedForChatType
	}

	err = s.chats.AddMember(ctx, models.ChatMember{
		ChatID:   chat.ID,
		UserID:   targetID,
		JoinedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrMemberExists) {
			return dto.ChatResponse{}, ErrParticipantExists
		}
		return dto.ChatResponse{}, err
	}

	names := s.users.lookup(ctx, userID, targetID)
	s.postSystem(ctx, chat.ID, userID, fmt.Sprintf("%s added %s", names[userID], names[targetID]))
	observability.ChatLifecycle().WithLabelValues("participant_added").Inc()

	s.fanOut(ctx, FanOutRequest{
		ActorID:     userID,
		Recipients:  []string{targetID},
		Type:        models.NotificationChatAdded,
		Title:       chat.Name,
		Message:     fmt.Sprintf("%s added you to %s", names[userID], chat.Name),
		RelatedChat: chat.ID,
	})

	return s.publishUpdate(ctx, chat.ID, userID)
}

func (s *chatService) RemoveParticipant(ctx context.Context, userID, chatID, targetID string) (dto.ChatResponse, error) {
	chat, _, err := s.access.active(ctx, userID, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if !chat.IsGroup() {
		return dto.ChatResponse{}, ErrUnsupportedForChatType
	}
	if chat.CreatedBy != userID || targetID == chat.CreatedBy {
		return dto.ChatResponse{}, ErrChatForbidden
	}

	removed, err := s.chats.MarkFormer(ctx, chat.ID, targetID, s.now())
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if !removed {
		return dto.ChatResponse{}, ErrNotParticipant
	}

	s.broadcaster.EvictFromChat(chat.ID, targetID)
	s.reassignAdmin(ctx, chat.ID, userID)

	names := s.users.lookup(ctx, userID, targetID)
	s.postSystem(ctx, chat.ID, userID, fmt.Sprintf("%s removed %s", names[userID], names[targetID]))
	observability.ChatLifecycle().WithLabelValues("participant_removed").Inc()

	s.fanOut(ctx, FanOutRequest{
		ActorID:     userID,
		Recipients:  []string{targetID},
		Type:        models.NotificationChatRemoved,
		Title:       chat.Name,
		Message:     fmt.Sprintf("%s removed you from %s", names[userID], chat.Name),
		RelatedChat: chat.ID,
	})

	response, err := s.publishUpdate(ctx, chat.ID, userID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	if updated, err := s.chats.FindByID(ctx, chat.ID); err == nil {
		s.broadcaster.ToUser(targetID, EventChatUpdated, dto.NewChatResponse(updated, targetID))
	}
	return response, nil
}

func (s *chatService) Leave(ctx context.Context, userID, chatID string) error {
	chat, _, err := s.access.active(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if !chat.IsGroup() {
		return ErrUnsupportedForChatType
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.leave", trace.WithAttributes(
		attribute.String("chat.id", chat.ID),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	left, err := s.chats.MarkFormer(spanCtx, chat.ID, userID, s.now())
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !left {
		return ErrChatForbidden
	}
	s.broadcaster.EvictFromChat(chat.ID, userID)

	remaining, err := s.chats.CountActive(spanCtx, chat.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if remaining == 0 {
		if err := s.chats.HardDelete(spanCtx, chat.ID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("delete empty group: %w", err)
		}
		s.purgeUploads(spanCtx, chat.ID)
		observability.ChatLifecycle().WithLabelValues("group_emptied").Inc()
		s.logger.Info().Str("chat_id", chat.ID).Msg("group chat deleted after last participant left")
		for _, member := range chat.Members {
			s.broadcaster.ToUser(member.UserID, EventChatDeleted, dto.ChatDeletedEvent{ChatID: chat.ID, Permanent: true})
		}
		return nil
	}

	s.reassignAdmin(spanCtx, chat.ID, userID)
	s.postSystem(spanCtx, chat.ID, userID, fmt.Sprintf("%s left the chat", s.users.name(spanCtx, userID)))
	observability.ChatLifecycle().WithLabelValues("left").Inc()

	s.broadcaster.ToUser(userID, EventChatLeft, dto.ChatLeftEvent{ChatID: chat.ID, UserID: userID})
	_, err = s.publishUpdate(spanCtx, chat.ID, "")
	return err
}

func (s *chatService) Delete(ctx context.Context, userID, chatID string) error {
	chat, member, err := s.access.visible(ctx, userID, chatID)
	if err != nil {
		return err
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.String("chat.id", chat.ID),
		attribute.String("chat.user_id", userID),
		attribute.String("chat.type", string(chat.Type)),
	))
	defer span.End()

	if chat.IsGroup() && chat.CreatedBy == userID && member.Status == models.MemberStatusActive {
		if err := s.chats.HardDelete(spanCtx, chat.ID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("delete group: %w", err)
		}
		s.purgeUploads(spanCtx, chat.ID)
		observability.ChatLifecycle().WithLabelValues("group_deleted").Inc()
		s.logger.Info().Str("chat_id", chat.ID).Str("user_id", userID).Msg("group chat deleted by creator")

		s.fanOut(spanCtx, FanOutRequest{
			ActorID:     userID,
			Recipients:  chat.ParticipantIDs(),
			Type:        models.NotificationChatDeleted,
			Title:       chat.Name,
			Message:     fmt.Sprintf("%s deleted %s", s.users.name(spanCtx, userID), chat.Name),
			RelatedChat: chat.ID,
		})
		for _, m := range chat.Members {
			s.broadcaster.EvictFromChat(chat.ID, m.UserID)
			s.broadcaster.ToUser(m.UserID, EventChatDeleted, dto.ChatDeletedEvent{ChatID: chat.ID, Permanent: true})
		}
		return nil
	}

	if err := s.chats.Hide(spanCtx, chat.ID, userID, s.now()); err != nil {
		span.RecordError(err)
		return err
	}
	observability.ChatLifecycle().WithLabelValues("hidden").Inc()
	s.broadcaster.EvictFromChat(chat.ID, userID)
	s.broadcaster.ToUser(userID, EventChatDeleted, dto.ChatDeletedEvent{ChatID: chat.ID})
	return nil
}

func (s *chatService) Update(ctx context.Context, userID, chatID string, payload dto.ChatUpdateRequest) (dto.ChatResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatResponse{}, err
	}

	chat, member, err := s.access.active(ctx, userID, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	if chat.IsGroup() {
		return s.updateGroup(ctx, chat, member, payload)
	}
	return s.updateNickname(ctx, chat, userID, payload)
}

func (s *chatService) updateGroup(ctx context.Context, chat models.Chat, member models.ChatMember, payload dto.ChatUpdateRequest) (dto.ChatResponse, error) {
	if payload.Nickname != nil {
		return dto.ChatResponse{}, ErrUnsupportedForChatType
	}
	if payload.Name == nil && payload.Description == nil {
		return dto.NewChatResponse(chat, member.UserID), nil
	}
	if !member.IsAdmin {
		return dto.ChatResponse{}, ErrChatForbidden
	}

	actorName := s.users.name(ctx, member.UserID)
	fields := map[string]interface{}{}
	notes := make([]string, 0, 2)
	if payload.Name != nil {
		name := strings.TrimSpace(s.sanitizer.Sanitize(*payload.Name))
		if name == "" {
			return dto.ChatResponse{}, errors.New("group name empty after sanitization")
		}
		if name != chat.Name {
			fields["name"] = name
			notes = append(notes, fmt.Sprintf("%s renamed the chat to %s", actorName, name))
		}
	}
	if payload.Description != nil {
		description := strings.TrimSpace(s.sanitizer.Sanitize(*payload.Description))
		if description != chat.Description {
			fields["description"] = description
			notes = append(notes, fmt.Sprintf("%s updated the description", actorName))
		}
	}
	if len(fields) == 0 {
		return dto.NewChatResponse(chat, member.UserID), nil
	}

	if err := s.chats.UpdateDetails(ctx, chat.ID, fields); err != nil {
		if isNotFound(err) {
			return dto.ChatResponse{}, ErrChatNotFound
		}
		return dto.ChatResponse{}, err
	}
	for _, note := range notes {
		s.postSystem(ctx, chat.ID, member.UserID, note)
	}
	return s.publishUpdate(ctx, chat.ID, member.UserID)
}

// updateNickname stores the caller's private alias for the other party of a direct chat.
func (s *chatService) updateNickname(ctx context.Context, chat models.Chat, userID string, payload dto.ChatUpdateRequest) (dto.ChatResponse, error) {
	if payload.Name != nil || payload.Description != nil {
		return dto.ChatResponse{}, ErrUnsupportedForChatType
	}
	if payload.Nickname == nil {
		return dto.NewChatResponse(chat, userID), nil
	}

	nickname := strings.TrimSpace(s.sanitizer.Sanitize(*payload.Nickname))
	if err := s.chats.SetNickname(ctx, chat.ID, userID, nickname); err != nil {
		if isNotFound(err) {
			return dto.ChatResponse{}, ErrChatNotFound
		}
		return dto.ChatResponse{}, err
	}

	updated, err := s.chats.FindByID(ctx, chat.ID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	response := dto.NewChatResponse(updated, userID)
	if nickname == "" {
		return response, nil
	}

	s.broadcaster.ToUser(userID, EventChatUpdated, response)
	s.fanOut(ctx, FanOutRequest{
		ActorID:     userID,
		Recipients:  chat.ParticipantIDs(),
		Type:        models.NotificationNicknameSet,
		Title:       "Nickname updated",
		Message:     fmt.Sprintf("%s set a nickname for you", s.users.name(ctx, userID)),
		RelatedChat: chat.ID,
	})
	return response, nil
}

func (s *chatService) Presence(ctx context.Context, userID, chatID string) (dto.ChatPresenceResponse, error) {
	chat, _, err := s.access.visible(ctx, userID, chatID)
	if err != nil {
		return dto.ChatPresenceResponse{}, err
	}

	online := []string{}
	if s.presence != nil {
		online = append(online, s.presence.Online(chat.ParticipantIDs())...)
	}
	return dto.ChatPresenceResponse{ChatID: chat.ID, Online: online}, nil
}

// CanJoin re-checks live membership before a connection may follow a chat room.
func (s *chatService) CanJoin(ctx context.Context, userID, chatID string) error {
	_, _, err := s.access.active(ctx, userID, chatID)
	return err
}

// publishUpdate reloads the chat and sends each participant their own view of it.
func (s *chatService) publishUpdate(ctx context.Context, chatID, viewerID string) (dto.ChatResponse, error) {
	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		if isNotFound(err) {
			return dto.ChatResponse{}, ErrChatNotFound
		}
		return dto.ChatResponse{}, err
	}

	for _, id := range chat.ParticipantIDs() {
		s.broadcaster.ToUser(id, EventChatUpdated, dto.NewChatResponse(chat, id))
	}
	return dto.NewChatResponse(chat, viewerID), nil
}

func (s *chatService) reassignAdmin(ctx context.Context, chatID, actorID string) {
	promoted, err := s.chats.EnsureAdmin(ctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to reassign chat admin")
		return
	}
	if promoted == "" {
		return
	}
	s.logger.Info().Str("chat_id", chatID).Str("user_id", promoted).Msg("chat admin reassigned")
	s.postSystem(ctx, chatID, actorID, fmt.Sprintf("%s is now an admin", s.users.name(ctx, promoted)))
}

// postSystem persists a server-authored message and pushes it to the chat room.
// Failures are logged: the lifecycle change already happened.
func (s *chatService) postSystem(ctx context.Context, chatID, actorID, text string) {
	message := models.Message{
		ChatID:    chatID,
		SenderID:  actorID,
		Text:      text,
		IsSystem:  true,
		CreatedAt: s.now(),
	}
	if err := s.messages.Create(ctx, &message); err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to persist system message")
		return
	}
	if err := s.chats.TouchLastMessage(ctx, chatID, message); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("failed to update last message")
	}
	observability.ChatMessagesSent().WithLabelValues("system").Inc()
	s.broadcaster.ToChat(chatID, EventMessageNew, dto.NewMessageResponse(message))
}

func (s *chatService) fanOut(ctx context.Context, req FanOutRequest) {
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.FanOut(ctx, req); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", req.RelatedChat).Str("type", string(req.Type)).Msg("failed to fan out notifications")
	}
}

func (s *chatService) purgeUploads(ctx context.Context, chatID string) {
	if s.uploads == nil {
		return
	}
	s.uploads.PurgeChat(ctx, chatID)
}
