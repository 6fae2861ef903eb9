package ledger

import (
	"context"
	"fmt"
	"strings"

	"bankledger/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSubAccount adds an empty sub-account for userID. Blank name and color
// fall back to the defaults.
func (e *Engine) CreateSubAccount(ctx context.Context, userID, name, color string) (*models.SubAccount, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.DefaultSubAccountName
	}
	color = strings.TrimSpace(color)
	if color == "" {
		color = models.DefaultSubAccountColor
	}
	var sub *models.SubAccount
	err := e.atomically(ctx, []string{userKey(userID)}, func(tx *gorm.DB) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		var err error
		sub, err = e.newSubAccount(tx, userID, name, color)
		return err
	})
	if err != nil {
		e.reject("create sub-account", err, "user", userID)
		return nil, err
	}
	e.log.Info("sub-account created", "user", userID, "sub_account", sub.ID)
	return sub, nil
}

func (e *Engine) newSubAccount(tx *gorm.DB, userID, name, color string) (*models.SubAccount, error) {
	now := e.now()
	sub := &models.SubAccount{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
		Name:      name,
		Color:     color,
	}
	if err := tx.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("create sub-account for %s: %w", userID, err)
	}
	return sub, nil
}

// DeleteSubAccount removes an empty sub-account. A user always keeps at least
// one; the count and the balance are checked under the same locks as the delete.
func (e *Engine) DeleteSubAccount(ctx context.Context, subAccountID, userID string) error {
	keys := []string{userKey(userID), subKey(subAccountID)}
	err := e.atomically(ctx, keys, func(tx *gorm.DB) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		var owned []models.SubAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Order("id").
			Find(&owned).Error
		if err != nil {
			return fmt.Errorf("lock sub-accounts of %s: %w", userID, err)
		}
		if len(owned) <= 1 {
			return ErrLastAccountProtected
		}
		var target *models.SubAccount
		for i := range owned {
			if owned[i].ID == subAccountID {
				target = &owned[i]
			}
		}
		if target == nil {
			return subAccountNotFound(subAccountID)
		}
		if target.Balance != 0 {
			return ErrNonZeroBalance
		}
		res := tx.Where("id = ? AND balance = 0", subAccountID).Delete(&models.SubAccount{})
		if res.Error != nil {
			return fmt.Errorf("delete sub-account %s: %w", subAccountID, res.Error)
		}
		if res.RowsAffected != 1 {
			return subAccountNotFound(subAccountID)
		}
		return nil
	})
	if err != nil {
		e.reject("delete sub-account", err, "user", userID, "sub_account", subAccountID)
		return err
	}
	e.log.Info("sub-account deleted", "user", userID, "sub_account", subAccountID)
	return nil
}
