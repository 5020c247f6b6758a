package dto

import (
	"time"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// AttachmentPayload is a structured attachment reference supplied by clients.
type AttachmentPayload struct {
	URL        string     `json:"url" validate:"required,url,max=2048"`
	Name       string     `json:"name" validate:"required,max=255"`
	Type       string     `json:"type" validate:"omitempty,max=128"`
	Size       int64      `json:"size" validate:"gte=0"`
	UploadedAt *time.Time `json:"uploadedAt"`
}

// MessageSendRequest carries a new message. Text is optional when attachments are present.
type MessageSendRequest struct {
	ChatID         string              `json:"chatId" validate:"required,max=36"`
	Text           string              `json:"text" validate:"omitempty,max=4000"`
	Attachments    []AttachmentPayload `json:"attachments" validate:"omitempty,max=10,dive"`
	ReplyTo        string              `json:"replyTo" validate:"omitempty,max=36"`
	MentionedUsers []string            `json:"mentionedUsers" validate:"omitempty,max=100,dive,required,max=64"`
	MentionAll     bool                `json:"mentionAll"`
}

// MessageEditRequest replaces the text of a message.
type MessageEditRequest struct {
	MessageID string `json:"messageId" validate:"required,max=36"`
	Text      string `json:"text" validate:"required,min=1,max=4000"`
}

// MessageReactRequest toggles a reaction.
type MessageReactRequest struct {
	MessageID string `json:"messageId" validate:"required,max=36"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

// MessageRefRequest identifies a message.
type MessageRefRequest struct {
	MessageID string `json:"messageId" validate:"required,max=36"`
}

// MessageForwardRequest copies a message into other chats.
type MessageForwardRequest struct {
	ChatIDs []string `json:"chatIds" validate:"required,min=1,max=20,dive,required,max=36"`
}

// ChatRefRequest identifies a chat.
type ChatRefRequest struct {
	ChatID string `json:"chatId" validate:"required,max=36"`
}

// MessageHistoryQuery pages backwards through a chat.
type MessageHistoryQuery struct {
	ChatID   string     `validate:"required,max=36"`
	Before   *time.Time `validate:"-"`
	BeforeID string     `validate:"omitempty,max=36"`
	Limit    int        `validate:"omitempty,min=1,max=100"`
}

// ReactionResponse is a live reaction.
type ReactionResponse struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// ReadReceiptResponse is a read receipt.
type ReadReceiptResponse struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// MessageResponse is the serialized representation of a message.
type MessageResponse struct {
	ID             string                `json:"id"`
	ChatID         string                `json:"chatId"`
	SenderID       string                `json:"senderId"`
	Text           string                `json:"text"`
	Attachments    []models.Attachment   `json:"attachments"`
	ReplyTo        *string               `json:"replyTo,omitempty"`
	IsEdited       bool                  `json:"isEdited"`
	EditedAt       *time.Time            `json:"editedAt,omitempty"`
	IsDeleted      bool                  `json:"isDeleted"`
	DeletedAt      *time.Time            `json:"deletedAt,omitempty"`
	ReadBy         []ReadReceiptResponse `json:"readBy"`
	Reactions      []ReactionResponse    `json:"reactions"`
	MentionedUsers []string              `json:"mentionedUsers"`
	MentionAll     bool                  `json:"mentionAll"`
	IsSystem       bool                  `json:"isSystem"`
	ForwardedFrom  string                `json:"forwardedFrom,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// NewMessageResponse converts a model into a DTO. Lists are never null.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:             message.ID,
		ChatID:         message.ChatID,
		SenderID:       message.SenderID,
		Text:           message.Text,
		Attachments:    make([]models.Attachment, 0, len(message.Attachments)),
		ReplyTo:        message.ReplyToID,
		IsEdited:       message.IsEdited,
		EditedAt:       message.EditedAt,
		IsDeleted:      message.IsDeleted,
		DeletedAt:      message.DeletedAt,
		ReadBy:         make([]ReadReceiptResponse, 0, len(message.ReadBy)),
		Reactions:      make([]ReactionResponse, 0, len(message.Reactions)),
		MentionedUsers: make([]string, 0, len(message.MentionedUsers)),
		MentionAll:     message.MentionAll,
		IsSystem:       message.IsSystem,
		ForwardedFrom:  message.ForwardedFrom,
		CreatedAt:      message.CreatedAt,
		UpdatedAt:      message.UpdatedAt,
	}

	response.Attachments = append(response.Attachments, message.Attachments...)
	response.MentionedUsers = append(response.MentionedUsers, message.MentionedUsers...)
	for _, read := range message.ReadBy {
		response.ReadBy = append(response.ReadBy, ReadReceiptResponse{UserID: read.UserID, ReadAt: read.ReadAt})
	}
	for _, reaction := range message.Reactions {
		response.Reactions = append(response.Reactions, ReactionResponse{UserID: reaction.UserID, Emoji: reaction.Emoji})
	}

	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// MessageDeletedEvent is broadcast when a message becomes a tombstone.
type MessageDeletedEvent struct {
	MessageID string          `json:"messageId"`
	ChatID    string          `json:"chatId"`
	Message   MessageResponse `json:"message"`
}

// MessagesReadEvent reports receipts recorded by a bulk read.
type MessagesReadEvent struct {
	ChatID     string   `json:"chatId"`
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// ChatRestoredEvent tells a user a hidden chat came back with a new message.
type ChatRestoredEvent struct {
	Chat       ChatResponse     `json:"chat"`
	NewMessage *MessageResponse `json:"newMessage,omitempty"`
}

// ChatDeletedEvent tells a user a chat disappeared from their list.
type ChatDeletedEvent struct {
	ChatID    string `json:"chatId"`
	Permanent bool   `json:"permanent"`
}

// ChatLeftEvent confirms a departure on the leaver's sessions.
type ChatLeftEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// ForwardResponse lists the copies created by a forward.
type ForwardResponse struct {
	Messages []MessageResponse `json:"messages"`
	Skipped  []string          `json:"skipped"`
}

// ReadResponse reports how many receipts were recorded.
type ReadResponse struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}
