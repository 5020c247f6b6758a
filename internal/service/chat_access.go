package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/taskchat-api/internal/models"
	"github.com/noah-isme/taskchat-api/internal/repository"
)

// chatAccess centralises the membership checks shared by the directory and the pipeline.
type chatAccess struct {
	chats repository.ChatRepository
}

// visible loads the chat for a viewer. Absent chats, non-members and chats the viewer hid are all
// reported as not found.
func (a chatAccess) visible(ctx context.Context, userID, chatID string) (models.Chat, models.ChatMember, error) {
	if userID == "" {
		return models.Chat{}, models.ChatMember{}, ErrUserRequired
	}
	chat, err := a.chats.FindByID(ctx, chatID)
	if err != nil {
		if isNotFound(err) {
			return models.Chat{}, models.ChatMember{}, ErrChatNotFound
		}
		return models.Chat{}, models.ChatMember{}, fmt.Errorf("load chat: %w", err)
	}

	member, ok := chat.Member(userID)
	if !ok || member.Hidden {
		return models.Chat{}, models.ChatMember{}, ErrChatNotFound
	}
	return chat, member, nil
}

// active additionally requires current participation, which every write needs.
func (a chatAccess) active(ctx context.Context, userID, chatID string) (models.Chat, models.ChatMember, error) {
	chat, member, err := a.visible(ctx, userID, chatID)
	if err != nil {
		return models.Chat{}, models.ChatMember{}, err
	}
	if member.Status != models.MemberStatusActive {
		return models.Chat{}, models.ChatMember{}, ErrChatForbidden
	}
	return chat, member, nil
}

// windowFor returns the slice of history a member may read: from their visibility floor and,
// for former participants, up to their departure.
func windowFor(member models.ChatMember) repository.MessageWindow {
	window := repository.MessageWindow{From: member.VisibleFrom}
	if member.Status == models.MemberStatusFormer {
		window.Until = member.LeftAt
	}
	return window
}

// inWindow applies windowFor to a single message.
func inWindow(member models.ChatMember, message models.Message) bool {
	window := windowFor(member)
	if window.From != nil && message.CreatedAt.Before(*window.From) {
		return false
	}
	if window.Until != nil && message.CreatedAt.After(*window.Until) {
		return false
	}
	return true
}
