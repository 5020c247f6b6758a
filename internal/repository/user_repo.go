package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/taskchat-api/internal/models"
)

// UserRepository reads the platform's user directory. Users are never written here.
type UserRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a read-only user directory.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, user := range users {
		out[user.ID] = user
	}
	return out, nil
}
