package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// UploadRepository tracks files pushed to the storage provider so they can be purged later.
type UploadRepository interface {
	Create(ctx context.Context, record *models.UploadRecord) error
	ListByChat(ctx context.Context, chatID string) ([]models.UploadRecord, error)
	FindByURL(ctx context.Context, url string) (models.UploadRecord, error)
	FindInChat(ctx context.Context, chatID string, urls []string) ([]models.UploadRecord, error)
	DeleteByURL(ctx context.Context, url string) error
}

type uploadRepository struct {
	db *gorm.DB
}

func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

func (r *uploadRepository) Create(ctx context.Context, record *models.UploadRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListByChat returns the chat's uploads oldest first.
func (r *uploadRepository) ListByChat(ctx context.Context, chatID string) ([]models.UploadRecord, error) {
	var records []models.UploadRecord
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (r *uploadRepository) FindByURL(ctx context.Context, url string) (models.UploadRecord, error) {
	var record models.UploadRecord
	if err := r.db.WithContext(ctx).Where("url = ?", url).Order("id ASC").First(&record).Error; err != nil {
		return models.UploadRecord{}, err
	}
	return record, nil
}

// FindInChat returns the records among urls that were uploaded into chatID.
func (r *uploadRepository) FindInChat(ctx context.Context, chatID string, urls []string) ([]models.UploadRecord, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	var records []models.UploadRecord
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND url IN ?", chatID, urls).
		Find(&records).Error
	return records, err
}

func (r *uploadRepository) DeleteByURL(ctx context.Context, url string) error {
	return r.db.WithContext(ctx).Where("url = ?", url).Delete(&models.UploadRecord{}).Error
}
