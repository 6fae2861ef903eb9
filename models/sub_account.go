package models

import "time"

const (
	DefaultSubAccountName  = "New Account"
	PrimarySubAccountName  = "Main Account"
	DefaultSubAccountColor = "#3b82f6"
)

// SubAccount is a named balance bucket owned by exactly one user.
type SubAccount struct {
	ID        string    `gorm:"primaryKey;size:50"`
	CreatedAt time.Time `gorm:"not null;index:idx_sub_accounts_user_created,priority:2"`
	UpdatedAt time.Time
	UserID    string `gorm:"size:12;not null;index:idx_sub_accounts_user_created,priority:1"`
	Name      string `gorm:"size:50;not null"`
	Balance   Amount `gorm:"not null;default:0"` // cents, never negative
	Color     string `gorm:"size:7"`
}
