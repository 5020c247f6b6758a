package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// MessageWindow bounds which messages of a chat a viewer may see.
type MessageWindow struct {
	From  *time.Time
	Until *time.Time
}

// MessageFilter pages backwards through a chat inside a visibility window. Before and BeforeID
// form a (created_at, id) keyset cursor; BeforeID alone has no effect.
type MessageFilter struct {
	MessageWindow
	Before   time.Time
	BeforeID string
	Limit    int
}

// MessageRepository persists messages, reactions and read receipts.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	ListByChat(ctx context.Context, chatID string, filter MessageFilter) ([]models.Message, error)
	UpdateText(ctx context.Context, id, senderID, text string, at time.Time) (bool, error)
	Tombstone(ctx context.Context, id, senderID string, at time.Time) (bool, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	AddReceipt(ctx context.Context, messageID, userID string, at time.Time) error
	MarkChatRead(ctx context.Context, chatID, userID string, window MessageWindow, at time.Time) ([]string, error)
	CountUnread(ctx context.Context, chatID, userID string, window MessageWindow) (int64, error)
	CountAttachmentRefs(ctx context.Context, url string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.withDetails(r.db.WithContext(ctx)).First(&message, "id = ?", id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) ListByChat(ctx context.Context, chatID string, filter MessageFilter) ([]models.Message, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.scopeWindow(r.db.WithContext(ctx).Where("chat_id = ?", chatID), filter.MessageWindow)
	switch {
	case !filter.Before.IsZero() && filter.BeforeID != "":
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", filter.Before, filter.Before, filter.BeforeID)
	case !filter.Before.IsZero():
		query = query.Where("created_at < ?", filter.Before)
	}

	var messages []models.Message
	if err := r.withDetails(query).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) UpdateText(ctx context.Context, id, senderID, text string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND sender_id = ? AND is_deleted = ? AND is_system = ?", id, senderID, false, false).
		Updates(map[string]interface{}{
			"text":      text,
			"is_edited": true,
			"edited_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Tombstone clears content but keeps sender and time.
func (r *messageRepository) Tombstone(ctx context.Context, id, senderID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND sender_id = ? AND is_deleted = ? AND is_system = ?", id, senderID, false, false).
		Updates(map[string]interface{}{
			"text":            "",
			"attachments":     datatypes.JSONSlice[models.Attachment]{},
			"mentioned_users": datatypes.JSONSlice[string]{},
			"mention_all":     false,
			"is_deleted":      true,
			"deleted_at":      at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ToggleReaction removes the user's reaction when it matches emoji, otherwise sets it.
// It reports whether a reaction is live afterwards.
func (r *messageRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	db := r.db.WithContext(ctx)

	removed := db.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.MessageReaction{})
	if removed.Error != nil {
		return false, removed.Error
	}
	if removed.RowsAffected > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	reaction := models.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "updated_at"}),
	}).Create(&reaction).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *messageRepository) AddReceipt(ctx context.Context, messageID, userID string, at time.Time) error {
	receipt := models.MessageRead{MessageID: messageID, UserID: userID, ReadAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error
}

// MarkChatRead appends receipts for every visible message from others the user has not read.
// Receipts already present are left untouched, so repeated calls are no-ops.
func (r *messageRepository) MarkChatRead(ctx context.Context, chatID, userID string, window MessageWindow, at time.Time) ([]string, error) {
	var ids []string
	if err := r.unreadQuery(ctx, chatID, userID, window).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	receipts := make([]models.MessageRead, 0, len(ids))
	for _, id := range ids {
		receipts = append(receipts, models.MessageRead{MessageID: id, UserID: userID, ReadAt: at})
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&receipts, 200).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, chatID, userID string, window MessageWindow) (int64, error) {
	var count int64
	err := r.unreadQuery(ctx, chatID, userID, window).Count(&count).Error
	return count, err
}

func (r *messageRepository) unreadQuery(ctx context.Context, chatID, userID string, window MessageWindow) *gorm.DB {
	read := r.db.Model(&models.MessageRead{}).Select("message_id").Where("user_id = ?", userID)
	query := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_system = ?", chatID, userID, false).
		Where("id NOT IN (?)", read)
	return r.scopeWindow(query, window)
}

func (r *messageRepository) scopeWindow(query *gorm.DB, window MessageWindow) *gorm.DB {
	if window.From != nil {
		query = query.Where("created_at >= ?", *window.From)
	}
	if window.Until != nil {
		query = query.Where("created_at <= ?", *window.Until)
	}
	return query
}

func (r *messageRepository) withDetails(query *gorm.DB) *gorm.DB {
	return query.
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC") })
}

// CountAttachmentRefs counts live messages in any chat whose attachments include url.
// Matching is textual on the stored JSON, so a false positive only keeps a file alive.
func (r *messageRepository) CountAttachmentRefs(ctx context.Context, url string) (int64, error) {
	encoded, err := json.Marshal(url)
	if err != nil {
		return 0, err
	}
	pattern := "%" + escapeLike(`"url":`+string(encoded)) + "%"

	var count int64
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("is_deleted = ?", false).
		Where(`CAST(attachments AS TEXT) LIKE ? ESCAPE '\'`, pattern).
		Count(&count).Error
	return count, err
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(value)
}
