package models

import (
	"time"
)

type UserStatus string

const (
	StatusActive UserStatus = "active"
	StatusFrozen UserStatus = "frozen"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is a bank customer. ID is the 12-digit bank account number, assigned
// once at registration and never changed.
type User struct {
	ID             string `gorm:"primaryKey;size:12"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LoginID        string     `gorm:"size:64;not null;uniqueIndex"`
	RealName       string     `gorm:"size:100;not null"`
	HashedPassword []byte     `gorm:"not null" json:"-"`
	Role           UserRole   `gorm:"size:16;not null;default:user"`
	Status         UserStatus `gorm:"size:16;not null;default:active;index"`
	// SubAccounts are removed together with the user.
	SubAccounts []SubAccount `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:",omitempty"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

func (u User) IsFrozen() bool { return u.Status == StatusFrozen }
