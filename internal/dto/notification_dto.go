package dto

import (
	"time"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	UserID         string `json:"userId" validate:"required,max=64"`
	Type           string `json:"type" validate:"required,max=32"`
	Title          string `json:"title" validate:"omitempty,max=255"`
	Message        string `json:"message" validate:"required,min=1,max=2000"`
	RelatedTask    string `json:"relatedTask" validate:"omitempty,max=64"`
	RelatedProject string `json:"relatedProject" validate:"omitempty,max=64"`
	RelatedChat    string `json:"relatedChat" validate:"omitempty,max=36"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID             uint       `json:"id"`
	UserID         string     `json:"userId"`
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	RelatedTask    string     `json:"relatedTask,omitempty"`
	RelatedProject string     `json:"relatedProject,omitempty"`
	RelatedChat    string     `json:"relatedChat,omitempty"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             model.ID,
		UserID:         model.UserID,
		Type:           string(model.Type),
		Title:          model.Title,
		Message:        model.Message,
		RelatedTask:    model.RelatedTask,
		RelatedProject: model.RelatedProject,
		RelatedChat:    model.RelatedChat,
		IsRead:         model.IsRead,
		ReadAt:         model.ReadAt,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// UnreadCountResponse carries the unread notification counter.
type UnreadCountResponse struct {
	Unread int64 `json:"unread"`
}
