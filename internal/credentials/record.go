package credentials

import (
	"strings"
	"time"
)

// Provider identifies the third-party integration a credential belongs to.
type Provider string

const (
	ProviderFitbit         Provider = "fitbit"
	ProviderGoogleCalendar Provider = "google_calendar"
)

// Record holds the access/refresh token pair issued by a provider together
// with the absolute expiry computed at issuance time.
type Record struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Provider     Provider  `gorm:"column:provider;primaryKey;size:32;not null"`
	AccessToken  string    `gorm:"column:access_token;not null"`
	RefreshToken string    `gorm:"column:refresh_token"`
	ExpiresAtMs  int64     `gorm:"column:expires_at_ms;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing credential records.
func (Record) TableName() string {
	return "integration_credentials"
}

// Valid reports whether the record can still be presented to the provider.
func (r Record) Valid(now time.Time) bool {
	return r.AccessToken != "" && now.UnixMilli() < r.ExpiresAtMs
}

// NewRecord derives the expiry from the provider-reported lifetime in seconds.
func NewRecord(userID string, provider Provider, accessToken, refreshToken string, expiresInSeconds int64, now time.Time) Record {
	return Record{
		UserID:       userID,
		Provider:     provider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAtMs:  now.UnixMilli() + expiresInSeconds*1000,
	}
}

// TransactionState is the anti-CSRF nonce round-tripped through an OAuth
// redirect. It is consumed exactly once when the callback is handled.
type TransactionState struct {
	UserID      string   `gorm:"column:user_id;primaryKey;size:190;not null"`
	Provider    Provider `gorm:"column:provider;primaryKey;size:32;not null"`
	Nonce       string   `gorm:"column:nonce;size:190;not null"`
	CreatedAtMs int64    `gorm:"column:created_at_ms;not null"`
}

// TableName exposes the table backing pending OAuth transactions.
func (TransactionState) TableName() string {
	return "oauth_transactions"
}

func normalizeUserID(value string) string {
	return strings.TrimSpace(value)
}
