package ledger

import (
	"context"
	"fmt"
	"time"

	"bankledger/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FavoriteView is a saved recipient as shown to its owner.
type FavoriteView struct {
	AccountNumber string    `json:"accountNumber"`
	RealName      string    `json:"realName"`
	SavedAt       time.Time `json:"savedAt"`
}

func listFavorites(db *gorm.DB, userID string) ([]FavoriteView, error) {
	out := []FavoriteView{}
	err := db.Table("favorite_accounts").
		Select("favorite_accounts.favorite_user_id AS account_number, users.real_name, favorite_accounts.created_at AS saved_at").
		Joins("JOIN users ON users.id = favorite_accounts.favorite_user_id").
		Where("favorite_accounts.user_id = ?", userID).
		Order("favorite_accounts.created_at, favorite_accounts.favorite_user_id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list favorites of %s: %w", userID, err)
	}
	return out, nil
}

func (e *Engine) ListFavorites(ctx context.Context, userID string) ([]FavoriteView, error) {
	db := e.db.WithContext(ctx)
	if _, err := loadUser(db, userID); err != nil {
		return nil, err
	}
	return listFavorites(db, userID)
}

// AddFavorite saves accountNumber as a recipient. Saving it twice is a no-op.
func (e *Engine) AddFavorite(ctx context.Context, userID, accountNumber string) error {
	fav := NormalizeAccountNumber(accountNumber)
	if fav == userID {
		return ErrSelfTransfer
	}
	db := e.db.WithContext(ctx)
	if _, err := loadUser(db, userID); err != nil {
		return err
	}
	if _, err := loadUser(db, fav); err != nil {
		if KindOf(err) == KindNotFound {
			return ErrRecipientNotFound
		}
		return err
	}
	row := models.FavoriteAccount{UserID: userID, FavoriteUserID: fav, CreatedAt: e.now()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save favorite %s: %w", fav, err)
	}
	return nil
}

// RemoveFavorite forgets a saved recipient; removing an unknown one is NotFound.
func (e *Engine) RemoveFavorite(ctx context.Context, userID, accountNumber string) error {
	fav := NormalizeAccountNumber(accountNumber)
	res := e.db.WithContext(ctx).
		Where("user_id = ? AND favorite_user_id = ?", userID, fav).
		Delete(&models.FavoriteAccount{})
	if res.Error != nil {
		return fmt.Errorf("remove favorite %s: %w", fav, res.Error)
	}
	if res.RowsAffected == 0 {
		return &Error{KindNotFound, "favorite not found"}
	}
	return nil
}
