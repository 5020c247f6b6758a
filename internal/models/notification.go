package models

import "time"

// NotificationType enumerates the notification kinds the chat subsystem produces.
type NotificationType string

const (
	NotificationTaskAssigned     NotificationType = "task_assigned"
	NotificationMention          NotificationType = "mention"
	NotificationMentionAll       NotificationType = "mention_all"
	NotificationMessage          NotificationType = "message"
	NotificationGroupMessage     NotificationType = "group_message"
	NotificationChatAdded        NotificationType = "chat_added"
	NotificationChatRemoved      NotificationType = "chat_removed"
	NotificationChatDeleted      NotificationType = "chat_deleted"
	NotificationNicknameSet      NotificationType = "nickname_set"
	NotificationMessageForwarded NotificationType = "message_forwarded"
)

var notificationTypes = map[NotificationType]struct{}{
	NotificationTaskAssigned:     {},
	NotificationMention:          {},
	NotificationMentionAll:       {},
	NotificationMessage:          {},
	NotificationGroupMessage:     {},
	NotificationChatAdded:        {},
	NotificationChatRemoved:      {},
	NotificationChatDeleted:      {},
	NotificationNicknameSet:      {},
	NotificationMessageForwarded: {},
}

// Valid reports whether the type belongs to the closed set.
func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

// Notification is a user-owned record of an event; it only soft-references its trigger.
type Notification struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	UserID         string           `gorm:"size:64;index;not null" json:"user_id"`
	Type           NotificationType `gorm:"size:32;not null" json:"type"`
	Title          string           `gorm:"size:255" json:"title"`
	Message        string           `gorm:"type:text" json:"message"`
	RelatedTask    string           `gorm:"size:64" json:"related_task,omitempty"`
	RelatedProject string           `gorm:"size:64" json:"related_project,omitempty"`
	RelatedChat    string           `gorm:"size:36" json:"related_chat,omitempty"`
	IsRead         bool             `gorm:"not null;default:false;index" json:"is_read"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
