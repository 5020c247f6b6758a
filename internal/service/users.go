package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/taskchat-api/internal/repository"
)

// userNames resolves display names, falling back to ids when the directory is unavailable.
type userNames struct {
	repo   repository.UserRepository
	logger zerolog.Logger
}

func (u userNames) lookup(ctx context.Context, ids ...string) map[string]string {
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		names[id] = id
	}
	if u.repo == nil || len(ids) == 0 {
		return names
	}

	users, err := u.repo.FindByIDs(ctx, ids)
	if err != nil {
		u.logger.Warn().Err(err).Msg("failed to resolve user names")
		return names
	}
	for id, user := range users {
		names[id] = user.DisplayName()
	}
	return names
}

func (u userNames) name(ctx context.Context, id string) string {
	return u.lookup(ctx, id)[id]
}

func joinNames(names map[string]string, ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, names[id])
	}
	return strings.Join(parts, ", ")
}

// uniqueIDs trims, drops blanks and duplicates while keeping first-seen order.
func uniqueIDs(ids []string, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
