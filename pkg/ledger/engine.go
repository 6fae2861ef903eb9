// Package ledger holds the bank's money rules: deposits, withdrawals,
// transfers between users and between a user's own sub-accounts, plus the
// sub-account lifecycle. Every operation is one gorm transaction; balances and
// their log entries commit together or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bankledger/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimeLayout renders Transaction.Time, e.g. "2025/03/14 PM 2:05:09".
const TimeLayout = "2006/01/02 PM 3:04:05"

const maxReplans = 3

// HistoryCache is an optional read-through cache of per-user transaction history.
//
// Every Invalidate bumps the user's generation. Get reports the generation it
// saw, and Set must store only while that generation is still current, so a
// history read before a commit can never be cached after its invalidation.
type HistoryCache interface {
	Get(ctx context.Context, userID string) (txs []models.Transaction, gen int64, ok bool)
	Set(ctx context.Context, userID string, gen int64, txs []models.Transaction)
	Invalidate(ctx context.Context, userIDs ...string) error
}

type Engine struct {
	db     *gorm.DB
	locks  *keyedLocker
	log    *slog.Logger
	now    func() time.Time
	loc    *time.Location
	cache  HistoryCache
	number func() string
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock replaces time.Now; tests use it to control creation order.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLocation sets the zone of the human-readable transaction time.
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.loc = loc } }

func WithHistoryCache(c HistoryCache) Option { return func(e *Engine) { e.cache = c } }

// WithAccountNumbers replaces the random 12-digit account number generator.
func WithAccountNumbers(next func() string) Option { return func(e *Engine) { e.number = next } }

func New(db *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		locks:  newKeyedLocker(),
		log:    slog.Default(),
		now:    time.Now,
		loc:    time.Local,
		number: randomAccountNumber,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Receipt is what a successful money movement produced.
type Receipt struct {
	Transactions []models.Transaction
	SubAccounts  []models.SubAccount // post-operation state
}

// atomically runs fn in one database transaction while holding the in-process
// locks for keys. Locks are taken before the connection so a goroutine that
// owns a connection never waits on another goroutine's lock.
func (e *Engine) atomically(ctx context.Context, keys []string, fn func(tx *gorm.DB) error) error {
	unlock := e.locks.lock(keys...)
	defer unlock()
	return e.db.WithContext(ctx).Transaction(fn)
}

// afterCommit drops cached history of every user whose log just grew.
func (e *Engine) afterCommit(ctx context.Context, userIDs ...string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, userIDs...); err != nil {
		e.log.Warn("history cache invalidation failed", "users", userIDs, "error", err)
	}
}

func (e *Engine) reject(op string, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "error", err)
	if KindOf(err) != "" {
		e.log.Info("ledger operation rejected", attrs...)
		return
	}
	e.log.Error("ledger operation failed", attrs...)
}

type entry struct {
	userID       string
	typ          models.TxType
	amount       models.Amount
	note         string
	subAccountID *string
	reference    *string
}

// record appends one log entry inside tx. It is never called on its own: the
// balance change it describes is written in the same transaction.
func (e *Engine) record(tx *gorm.DB, en entry) (models.Transaction, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now := e.now()
	t := models.Transaction{
		ID:           id.String(),
		UserID:       en.userID,
		Type:         en.typ,
		Amount:       en.amount,
		Note:         en.note,
		Time:         now.In(e.loc).Format(TimeLayout),
		Timestamp:    now.UnixMilli(),
		SubAccountID: en.subAccountID,
		Reference:    en.reference,
	}
	if err := tx.Create(&t).Error; err != nil {
		return t, fmt.Errorf("record %s for %s: %w", en.typ, en.userID, err)
	}
	return t, nil
}

func loadUser(tx *gorm.DB, id string) (*models.User, error) {
	var u models.User
	err := tx.Where("id = ?", id).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, userNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &u, nil
}

func listSubAccounts(tx *gorm.DB, userID string) ([]models.SubAccount, error) {
	var subs []models.SubAccount
	if err := tx.Where("user_id = ?", userID).Order("created_at, id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list sub-accounts of %s: %w", userID, err)
	}
	return subs, nil
}

// lockSubAccounts selects the rows FOR UPDATE in id order. Missing ids are
// simply absent from the result.
func lockSubAccounts(tx *gorm.DB, ids ...string) (map[string]*models.SubAccount, error) {
	var rows []models.SubAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", lockKeys(ids...)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("lock sub-accounts: %w", err)
	}
	out := make(map[string]*models.SubAccount, len(rows))
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

func lockOwnedSubAccount(tx *gorm.DB, id, userID string) (*models.SubAccount, error) {
	rows, err := lockSubAccounts(tx, id)
	if err != nil {
		return nil, err
	}
	sub, ok := rows[id]
	if !ok || sub.UserID != userID {
		return nil, subAccountNotFound(id)
	}
	return sub, nil
}

func (e *Engine) setBalance(tx *gorm.DB, sub *models.SubAccount, balance models.Amount) error {
	if balance < 0 {
		return fmt.Errorf("sub-account %s: refusing negative balance %s", sub.ID, balance)
	}
	now := e.now()
	res := tx.Model(&models.SubAccount{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{"balance": balance, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("update balance of %s: %w", sub.ID, res.Error)
	}
	if res.RowsAffected != 1 {
		return errReplan
	}
	sub.Balance = balance
	sub.UpdatedAt = now
	return nil
}
