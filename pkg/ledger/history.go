package ledger

import (
	"context"
	"fmt"

	"bankledger/models"

	"gorm.io/gorm/clause"
)

// newestFirst orders log entries by timestamp, then id. Transaction ids are
// UUIDv7, so entries written in the same millisecond keep their write order.
var newestFirst = clause.OrderBy{Columns: []clause.OrderByColumn{
	{Column: clause.Column{Name: "timestamp"}, Desc: true},
	{Column: clause.Column{Name: "id"}, Desc: true},
}}

// History returns the user's log entries, newest first.
func (e *Engine) History(ctx context.Context, userID string) ([]models.Transaction, error) {
	var gen int64
	if e.cache != nil {
		txs, g, ok := e.cache.Get(ctx, userID)
		if ok {
			return txs, nil
		}
		gen = g
	}
	db := e.db.WithContext(ctx)
	if _, err := loadUser(db, userID); err != nil {
		return nil, err
	}
	txs := []models.Transaction{}
	if err := db.Where("user_id = ?", userID).Order(newestFirst).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("history of %s: %w", userID, err)
	}
	if e.cache != nil {
		e.cache.Set(ctx, userID, gen, txs)
	}
	return txs, nil
}
