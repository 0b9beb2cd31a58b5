package models

import "time"

// Account is the persisted row for a registered mailbox account.
type Account struct {
	ID              string `gorm:"primaryKey"` // UUID
	Email           string `gorm:"index"`
	Provider        string `gorm:"index"` // "gmail", "outlook"
	AccessToken     string
	RefreshToken    string
	TokenType       string
	Scopes          string // JSON array of granted scopes
	ExpiresAt       time.Time
	LastRefreshedAt *time.Time
	IsActive        bool
	ReauthRequired  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
