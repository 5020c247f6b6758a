package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// ErrMemberExists is returned when an active membership already exists.
var ErrMemberExists = errors.New("member already active")

// ChatRepository persists chats and the per-user membership rows.
// Every per-user mutation is a single-row statement so concurrent writers never lose updates.
type ChatRepository interface {
	Create(ctx context.Context, chat *models.Chat) error
	CreateDirect(ctx context.Context, chat *models.Chat) (models.Chat, bool, error)
	FindByID(ctx context.Context, id string) (models.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
	UpdateDetails(ctx context.Context, chatID string, fields map[string]interface{}) error
	TouchLastMessage(ctx context.Context, chatID string, message models.Message) error
	ReplaceLastMessagePreview(ctx context.Context, chatID, messageID, preview string) error

	AddMember(ctx context.Context, member models.ChatMember) error
	MarkFormer(ctx context.Context, chatID, userID string, at time.Time) (bool, error)
	CountActive(ctx context.Context, chatID string) (int64, error)
	EnsureAdmin(ctx context.Context, chatID string) (string, error)
	Hide(ctx context.Context, chatID, userID string, at time.Time) error
	Restore(ctx context.Context, chatID, userID string, at time.Time) (bool, error)
	HiddenMembers(ctx context.Context, chatID, excludeUserID string) ([]string, error)
	SetNickname(ctx context.Context, chatID, userID, nickname string) error

	HardDelete(ctx context.Context, chatID string) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Create(ctx context.Context, chat *models.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

// CreateDirect inserts the chat unless its pair already exists and returns the stored row.
// The boolean reports whether this call created it.
func (r *chatRepository) CreateDirect(ctx context.Context, chat *models.Chat) (models.Chat, bool, error) {
	if chat.DirectKey == nil {
		return models.Chat{}, false, errors.New("direct key required")
	}

	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members := chat.Members
		chat.Members = nil
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "direct_key"}},
			DoNothing: true,
		}).Create(chat)
		chat.Members = members
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		created = true
		for i := range members {
			members[i].ChatID = chat.ID
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return models.Chat{}, false, err
	}

	var stored models.Chat
	if err := r.db.WithContext(ctx).Preload("Members").Where("direct_key = ?", *chat.DirectKey).First(&stored).Error; err != nil {
		return models.Chat{}, false, err
	}
	return stored, created, nil
}

func (r *chatRepository) FindByID(ctx context.Context, id string) (models.Chat, error) {
	var chat models.Chat
	if err := r.db.WithContext(ctx).Preload("Members").First(&chat, "id = ?", id).Error; err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	visible := r.db.Model(&models.ChatMember{}).
		Select("chat_id").
		Where("user_id = ? AND hidden = ?", userID, false)

	var chats []models.Chat
	if err := r.db.WithContext(ctx).
		Preload("Members").
		Where("id IN (?)", visible).
		Order("COALESCE(last_message_at, created_at) DESC").
		Order("id DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) UpdateDetails(ctx context.Context, chatID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchLastMessage advances the denormalized preview, never moving it backwards in time.
func (r *chatRepository) TouchLastMessage(ctx context.Context, chatID string, message models.Message) error {
	return r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", chatID, message.CreatedAt).
		Updates(map[string]interface{}{
			"last_message":    message.Preview(),
			"last_message_id": message.ID,
			"last_message_at": message.CreatedAt,
		}).Error
}

func (r *chatRepository) ReplaceLastMessagePreview(ctx context.Context, chatID, messageID, preview string) error {
	return r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ? AND last_message_id = ?", chatID, messageID).
		Update("last_message", preview).Error
}

// AddMember inserts the row, or re-activates a former member. An active duplicate yields ErrMemberExists.
func (r *chatRepository) AddMember(ctx context.Context, member models.ChatMember) error {
	member.Status = models.MemberStatusActive
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":       models.MemberStatusActive,
			"is_admin":     member.IsAdmin,
			"hidden":       false,
			"visible_from": member.VisibleFrom,
			"joined_at":    member.JoinedAt,
			"left_at":      nil,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: "chat_members", Name: "status"}, Value: models.MemberStatusActive},
		}},
	}).Create(&member)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberExists
	}
	return nil
}

func (r *chatRepository) MarkFormer(ctx context.Context, chatID, userID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ? AND status = ?", chatID, userID, models.MemberStatusActive).
		Updates(map[string]interface{}{
			"status":   models.MemberStatusFormer,
			"is_admin": false,
			"left_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *chatRepository) CountActive(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND status = ?", chatID, models.MemberStatusActive).
		Count(&count).Error
	return count, err
}

// EnsureAdmin promotes the earliest remaining member when no active admin is left.
// It returns the promoted user id, or an empty string when nothing changed.
func (r *chatRepository) EnsureAdmin(ctx context.Context, chatID string) (string, error) {
	db := r.db.WithContext(ctx)

	first := r.db.Model(&models.ChatMember{}).
		Select("user_id").
		Where("chat_id = ? AND status = ?", chatID, models.MemberStatusActive).
		Order("joined_at ASC").
		Order("user_id ASC").
		Limit(1)
	admins := r.db.Model(&models.ChatMember{}).
		Select("1").
		Where("chat_id = ? AND status = ? AND is_admin = ?", chatID, models.MemberStatusActive, true)

	result := db.Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = (?) AND NOT EXISTS (?)", chatID, first, admins).
		Update("is_admin", true)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", nil
	}

	var promoted models.ChatMember
	if err := db.Where("chat_id = ? AND status = ? AND is_admin = ?", chatID, models.MemberStatusActive, true).
		Order("joined_at ASC").Order("user_id ASC").
		First(&promoted).Error; err != nil {
		return "", err
	}
	return promoted.UserID, nil
}

func (r *chatRepository) Hide(ctx context.Context, chatID, userID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{"hidden": true, "visible_from": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Restore un-hides the chat for the user and moves their visibility floor to at.
// It reports false when the chat was not hidden for that user.
func (r *chatRepository) Restore(ctx context.Context, chatID, userID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ? AND hidden = ?", chatID, userID, true).
		Updates(map[string]interface{}{"hidden": false, "visible_from": at})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *chatRepository) HiddenMembers(ctx context.Context, chatID, excludeUserID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND status = ? AND hidden = ? AND user_id <> ?", chatID, models.MemberStatusActive, true, excludeUserID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (r *chatRepository) SetNickname(ctx context.Context, chatID, userID, nickname string) error {
	result := r.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("nickname", nickname)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// HardDelete removes messages first, then the chat and its members. Each step is idempotent,
// so a cascade interrupted midway can simply be re-run.
func (r *chatRepository) HardDelete(ctx context.Context, chatID string) error {
	db := r.db.WithContext(ctx)
	messageIDs := r.db.Model(&models.Message{}).Select("id").Where("chat_id = ?", chatID)

	if err := db.Where("message_id IN (?)", messageIDs).Delete(&models.MessageReaction{}).Error; err != nil {
		return err
	}
	if err := db.Where("message_id IN (?)", messageIDs).Delete(&models.MessageRead{}).Error; err != nil {
		return err
	}
	if err := db.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
		return err
	}
	if err := db.Where("chat_id = ?", chatID).Delete(&models.ChatMember{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", chatID).Delete(&models.Chat{}).Error
}
