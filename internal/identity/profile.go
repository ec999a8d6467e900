package identity

import (
	"strings"
	"time"
)

// Profile is the first-party profile row keyed by the identity backend's
// user id. The service never originates ids; they always come from the
// backend's signup or token response.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username  string    `gorm:"column:username;size:190;uniqueIndex"`
	FirstName string    `gorm:"column:first_name;size:190"`
	LastName  string    `gorm:"column:last_name;size:190"`
	Email     string    `gorm:"column:email;size:320;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

// Complete reports whether the profile carries everything the dashboard
// needs; an incomplete profile sends the user to the completion form.
func (p Profile) Complete() bool {
	return normalize(p.Username) != "" && normalize(p.FirstName) != "" && normalize(p.LastName) != ""
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
