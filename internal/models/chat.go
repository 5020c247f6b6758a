package models

import (
	"sort"
	"strings"
	"time"
)

// ChatType distinguishes one-to-one conversations from group conversations.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// MemberStatus tracks whether a user still participates in a chat.
type MemberStatus string

const (
	MemberStatusActive MemberStatus = "active"
	MemberStatusFormer MemberStatus = "former"
)

// Chat is a direct or group conversation. Per-user state lives in ChatMember rows.
type Chat struct {
	ID            string       `gorm:"primaryKey;size:36" json:"id"`
	Type          ChatType     `gorm:"size:16;not null;index" json:"type"`
	Name          string       `gorm:"size:255" json:"name"`
	Description   string       `gorm:"type:text" json:"description"`
	CreatedBy     string       `gorm:"size:64;index" json:"created_by"`
	DirectKey     *string      `gorm:"size:160;uniqueIndex" json:"-"`
	LastMessage   string       `gorm:"type:text" json:"last_message"`
	LastMessageID string       `gorm:"size:36" json:"last_message_id"`
	LastMessageAt *time.Time   `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Members       []ChatMember `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
}

// ChatMember holds one user's participation and per-user view state for a chat.
type ChatMember struct {
	ChatID      string       `gorm:"primaryKey;size:36" json:"chat_id"`
	UserID      string       `gorm:"primaryKey;size:64;index" json:"user_id"`
	Status      MemberStatus `gorm:"size:16;not null;default:active;index" json:"status"`
	IsAdmin     bool         `gorm:"not null;default:false" json:"is_admin"`
	Hidden      bool         `gorm:"not null;default:false" json:"hidden"`
	VisibleFrom *time.Time   `json:"visible_from,omitempty"`
	Nickname    string       `gorm:"size:128" json:"nickname,omitempty"`
	JoinedAt    time.Time    `json:"joined_at"`
	LeftAt      *time.Time   `json:"left_at,omitempty"`
}

// DirectKey returns the order-independent key identifying the direct chat of a user pair.
func DirectKey(a, b string) string {
	pair := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

// IsGroup reports whether the chat is a group conversation.
func (c Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup
}

// Member returns the membership row for the user, if loaded.
func (c Chat) Member(userID string) (ChatMember, bool) {
	for _, member := range c.Members {
		if member.UserID == userID {
			return member, true
		}
	}
	return ChatMember{}, false
}

// ActiveMember returns the membership row when the user currently participates.
func (c Chat) ActiveMember(userID string) (ChatMember, bool) {
	member, ok := c.Member(userID)
	if !ok || member.Status != MemberStatusActive {
		return ChatMember{}, false
	}
	return member, true
}

// ParticipantIDs lists active participants ordered by join time then id.
func (c Chat) ParticipantIDs() []string {
	return c.memberIDs(func(m ChatMember) bool { return m.Status == MemberStatusActive })
}

// FormerParticipantIDs lists departed group members.
func (c Chat) FormerParticipantIDs() []string {
	return c.memberIDs(func(m ChatMember) bool { return m.Status == MemberStatusFormer })
}

// AdminIDs lists active admins.
func (c Chat) AdminIDs() []string {
	return c.memberIDs(func(m ChatMember) bool { return m.Status == MemberStatusActive && m.IsAdmin })
}

// HiddenBy lists users that soft-deleted the chat for themselves.
func (c Chat) HiddenBy() []string {
	return c.memberIDs(func(m ChatMember) bool { return m.Hidden })
}

func (c Chat) memberIDs(keep func(ChatMember) bool) []string {
	members := make([]ChatMember, 0, len(c.Members))
	for _, member := range c.Members {
		if keep(member) {
			members = append(members, member)
		}
	}
	SortMembers(members)

	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.UserID)
	}
	return ids
}

// SortMembers orders members deterministically by join time, then user id.
func SortMembers(members []ChatMember) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
}
