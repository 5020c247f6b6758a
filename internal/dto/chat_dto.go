package dto

import (
	"time"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// DirectChatRequest opens (or restores) the direct chat with another user.
type DirectChatRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

// GroupChatCreateRequest creates a group chat; the caller joins implicitly.
type GroupChatCreateRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=255"`
	Description    string   `json:"description" validate:"omitempty,max=2000"`
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,dive,required,max=64"`
}

// ChatUpdateRequest changes group details or the caller's nickname in a direct chat.
type ChatUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Nickname    *string `json:"nickname" validate:"omitempty,max=128"`
}

// ParticipantRequest names a user to add to a group.
type ParticipantRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

// ChatResponse is the viewer-scoped representation of a chat.
type ChatResponse struct {
	ID                  string               `json:"id"`
	Type                models.ChatType      `json:"type"`
	Name                string               `json:"name,omitempty"`
	Description         string               `json:"description,omitempty"`
	CreatedBy           string               `json:"createdBy"`
	Participants        []string             `json:"participants"`
	FormerParticipants  []string             `json:"formerParticipants"`
	Admins              []string             `json:"admins"`
	DeletedBy           []string             `json:"deletedBy"`
	MessagesVisibleFrom map[string]time.Time `json:"messagesVisibleFrom"`
	Nicknames           map[string]string    `json:"nicknames"`
	LastMessage         string               `json:"lastMessage,omitempty"`
	LastMessageID       string               `json:"lastMessageId,omitempty"`
	LastMessageAt       *time.Time           `json:"lastMessageAt,omitempty"`
	UnreadCount         int64                `json:"unreadCount"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// NewChatResponse builds the view of a chat for one viewer. Visibility floors and nicknames
// are private to their owner, so only the viewer's entries are exposed.
func NewChatResponse(chat models.Chat, viewerID string) ChatResponse {
	response := ChatResponse{
		ID:                  chat.ID,
		Type:                chat.Type,
		Name:                chat.Name,
		Description:         chat.Description,
		CreatedBy:           chat.CreatedBy,
		Participants:        chat.ParticipantIDs(),
		FormerParticipants:  chat.FormerParticipantIDs(),
		Admins:              chat.AdminIDs(),
		DeletedBy:           []string{},
		MessagesVisibleFrom: map[string]time.Time{},
		Nicknames:           map[string]string{},
		LastMessage:         chat.LastMessage,
		LastMessageID:       chat.LastMessageID,
		LastMessageAt:       chat.LastMessageAt,
		CreatedAt:           chat.CreatedAt,
		UpdatedAt:           chat.UpdatedAt,
	}

	if member, ok := chat.Member(viewerID); ok {
		if member.Hidden {
			response.DeletedBy = append(response.DeletedBy, viewerID)
		}
		if member.VisibleFrom != nil {
			response.MessagesVisibleFrom[viewerID] = *member.VisibleFrom
		}
		if member.Nickname != "" && chat.Type == models.ChatTypeDirect {
			for _, other := range chat.ParticipantIDs() {
				if other != viewerID {
					response.Nicknames[other] = member.Nickname
				}
			}
		}
	}

	return response
}

// ChatPresenceResponse lists which participants currently hold a live connection.
type ChatPresenceResponse struct {
	ChatID string   `json:"chatId"`
	Online []string `json:"online"`
}
