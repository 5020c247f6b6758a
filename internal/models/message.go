package models

import (
	"time"

	"gorm.io/datatypes"
)

// Attachment describes a file shared in a message.
type Attachment struct {
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Message is a single chat entry. Deleted messages keep sender and time as a tombstone.
type Message struct {
	ID             string                         `gorm:"primaryKey;size:36" json:"id"`
	ChatID         string                         `gorm:"size:36;not null;index:idx_messages_chat_order,priority:1" json:"chat_id"`
	SenderID       string                         `gorm:"size:64;index" json:"sender_id"`
	Text           string                         `gorm:"type:text" json:"text"`
	Attachments    datatypes.JSONSlice[Attachment] `gorm:"type:json" json:"attachments"`
	ReplyToID      *string                        `gorm:"size:36" json:"reply_to_id,omitempty"`
	IsEdited       bool                           `gorm:"not null;default:false" json:"is_edited"`
	EditedAt       *time.Time                     `json:"edited_at,omitempty"`
	IsDeleted      bool                           `gorm:"not null;default:false" json:"is_deleted"`
	DeletedAt      *time.Time                     `json:"deleted_at,omitempty"`
	MentionedUsers datatypes.JSONSlice[string]    `gorm:"type:json" json:"mentioned_users"`
	MentionAll     bool                           `gorm:"not null;default:false" json:"mention_all"`
	IsSystem       bool                           `gorm:"not null;default:false" json:"is_system"`
	ForwardedFrom  string                         `gorm:"size:64" json:"forwarded_from,omitempty"`
	CreatedAt      time.Time                      `gorm:"index:idx_messages_chat_order,priority:2" json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
	Reactions      []MessageReaction              `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reactions,omitempty"`
	ReadBy         []MessageRead                  `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"read_by,omitempty"`
}

// MessageReaction stores the single live reaction of a user on a message.
type MessageReaction struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRead is an append-only read receipt.
type MessageRead struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:64;index" json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// Preview renders a short text for chat listings.
func (m Message) Preview() string {
	switch {
	case m.IsDeleted:
		return "This message was deleted"
	case m.Text != "":
		runes := []rune(m.Text)
		if len(runes) > 120 {
			return string(runes[:120]) + "…"
		}
		return m.Text
	case len(m.Attachments) == 1:
		return "Sent an attachment"
	case len(m.Attachments) > 1:
		return "Sent attachments"
	default:
		return ""
	}
}
