package models

import "time"

// FavoriteAccount is a saved transfer recipient.
type FavoriteAccount struct {
	UserID         string `gorm:"primaryKey;size:12"`
	FavoriteUserID string `gorm:"primaryKey;size:12"`
	CreatedAt      time.Time
}

// All lists every model in migration order.
func All() []any {
	return []any{&User{}, &SubAccount{}, &Transaction{}, &FavoriteAccount{}, &RefreshToken{}}
}
