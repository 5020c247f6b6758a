package models

// User is owned by the identity side of the platform and only read here.
type User struct {
	ID     string `gorm:"primaryKey;size:64" json:"id"`
	Name   string `gorm:"size:255" json:"name"`
	Email  string `gorm:"size:255" json:"email"`
	Avatar string `gorm:"size:512" json:"avatar"`
	Role   string `gorm:"size:32" json:"role"`
}

// DisplayName falls back to the id when the directory has no name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
