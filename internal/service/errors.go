package service

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrChatNotFound covers absent chats and chats hidden from the caller.
	ErrChatNotFound = errors.New("chat not found")
	// ErrMessageNotFound covers absent messages and messages outside the caller's visibility window.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotificationNotFound indicates the notification does not exist for the caller.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrChatForbidden indicates the caller lacks the membership or role the chat operation needs.
	ErrChatForbidden = errors.New("not authorised for chat")
	// ErrMessageForbidden indicates the caller is not the sender of the message.
	ErrMessageForbidden = errors.New("not authorised for message")
	// ErrInvalidMembership indicates the participant set would be invalid for the chat type.
	ErrInvalidMembership = errors.New("invalid membership size")
	// ErrParticipantExists indicates the user already participates in the chat.
	ErrParticipantExists = errors.New("user is already a participant")
	// ErrNotParticipant indicates the target user does not currently participate.
	ErrNotParticipant = errors.New("user is not a participant")
	// ErrUnsupportedForChatType indicates the operation does not apply to direct or group chats.
	ErrUnsupportedForChatType = errors.New("operation not supported for this chat type")
	// ErrEmptyMessage indicates neither text nor attachments were supplied.
	ErrEmptyMessage = errors.New("message requires text or at least one attachment")
	// ErrInvalidAttachment indicates a malformed attachment entry.
	ErrInvalidAttachment = errors.New("invalid attachment")
	// ErrInvalidReply indicates replyTo does not reference a message of the same chat.
	ErrInvalidReply = errors.New("reply target must belong to the same chat")
	// ErrInvalidNotificationType indicates a type outside the closed set.
	ErrInvalidNotificationType = errors.New("invalid notification type")
	// ErrUserRequired indicates the caller identity is missing.
	ErrUserRequired = errors.New("user id is required")
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
