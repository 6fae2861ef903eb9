package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"bankledger/models"

	"gorm.io/gorm"
)

const maxNumberAttempts = 10

// randomAccountNumber builds a 12-digit number from three groups in 1000-9999.
func randomAccountNumber() string {
	return fmt.Sprintf("%d%d%d", 1000+rand.IntN(9000), 1000+rand.IntN(9000), 1000+rand.IntN(9000))
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}

type OpenUserRequest struct {
	LoginID        string
	RealName       string
	HashedPassword []byte
	Role           models.UserRole // empty means RoleUser
	InitialDeposit models.Amount
}

// OpenUser registers a customer: a fresh account number, the user row and its
// "Main Account" sub-account, all in one transaction. A positive initial
// deposit is credited to that sub-account and logged.
func (e *Engine) OpenUser(ctx context.Context, req OpenUserRequest) (*models.User, error) {
	req.LoginID = strings.TrimSpace(req.LoginID)
	if req.LoginID == "" {
		return nil, errors.New("login id required")
	}
	if req.InitialDeposit < 0 || req.InitialDeposit > MaxBalance {
		return nil, ErrInvalidAmount
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	var (
		user *models.User
		err  error
	)
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		user, err = e.openUser(ctx, req, e.number())
		if !errors.Is(err, errNumberTaken) {
			break
		}
	}
	if err != nil {
		e.reject("open user", err, "login", req.LoginID)
		return nil, err
	}
	e.log.Info("user opened", "user", user.ID, "login", user.LoginID, "role", user.Role)
	return user, nil
}

var errNumberTaken = errors.New("ledger: account number already assigned")

func (e *Engine) openUser(ctx context.Context, req OpenUserRequest, number string) (*models.User, error) {
	var user *models.User
	err := e.atomically(ctx, []string{"login:" + req.LoginID, userKey(number)}, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("login_id = ?", req.LoginID).Count(&n).Error; err != nil {
			return fmt.Errorf("check login %s: %w", req.LoginID, err)
		}
		if n > 0 {
			return ErrLoginTaken
		}
		if err := tx.Model(&models.User{}).Where("id = ?", number).Count(&n).Error; err != nil {
			return fmt.Errorf("check account number: %w", err)
		}
		if n > 0 {
			return errNumberTaken
		}
		now := e.now()
		u := models.User{
			ID:             number,
			CreatedAt:      now,
			UpdatedAt:      now,
			LoginID:        req.LoginID,
			RealName:       strings.TrimSpace(req.RealName),
			HashedPassword: req.HashedPassword,
			Role:           req.Role,
			Status:         models.StatusActive,
		}
		if err := tx.Create(&u).Error; err != nil {
			if isUniqueConstraintError(err) {
				// another process won the race for the login or the number
				if strings.Contains(strings.ToLower(err.Error()), "login") {
					return ErrLoginTaken
				}
				return errNumberTaken
			}
			return fmt.Errorf("create user %s: %w", req.LoginID, err)
		}
		sub, err := e.newSubAccount(tx, u.ID, models.PrimarySubAccountName, models.DefaultSubAccountColor)
		if err != nil {
			return err
		}
		if req.InitialDeposit > 0 {
			if err := e.setBalance(tx, sub, req.InitialDeposit); err != nil {
				return err
			}
			_, err := e.record(tx, entry{
				userID:       u.ID,
				typ:          models.TxDeposit,
				amount:       req.InitialDeposit,
				note:         fmt.Sprintf(`Deposit to "%s"`, sub.Name),
				subAccountID: &sub.ID,
			})
			if err != nil {
				return err
			}
		}
		u.SubAccounts = []models.SubAccount{*sub}
		user = &u
		return nil
	})
	return user, err
}

func (e *Engine) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return loadUser(e.db.WithContext(ctx), userID)
}

// GetUserByLogin is used by authentication; the returned user carries the password hash.
func (e *Engine) GetUserByLogin(ctx context.Context, loginID string) (*models.User, error) {
	var u models.User
	err := e.db.WithContext(ctx).Where("login_id = ?", strings.TrimSpace(loginID)).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &Error{KindNotFound, "login not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load login %s: %w", loginID, err)
	}
	return &u, nil
}

// ListSubAccounts returns the user's sub-accounts oldest first.
func (e *Engine) ListSubAccounts(ctx context.Context, userID string) ([]models.SubAccount, error) {
	db := e.db.WithContext(ctx)
	if _, err := loadUser(db, userID); err != nil {
		return nil, err
	}
	return listSubAccounts(db, userID)
}

// Summary is everything the account overview page shows.
type Summary struct {
	User         models.User         `json:"user"`
	SubAccounts  []models.SubAccount `json:"subAccounts"`
	TotalBalance models.Amount       `json:"totalBalance"`
	Favorites    []FavoriteView      `json:"favorites"`
}

func (e *Engine) UserSummary(ctx context.Context, userID string) (*Summary, error) {
	db := e.db.WithContext(ctx)
	u, err := loadUser(db, userID)
	if err != nil {
		return nil, err
	}
	subs, err := listSubAccounts(db, userID)
	if err != nil {
		return nil, err
	}
	favs, err := listFavorites(db, userID)
	if err != nil {
		return nil, err
	}
	s := &Summary{User: *u, SubAccounts: subs, Favorites: favs}
	for _, sub := range subs {
		s.TotalBalance += sub.Balance
	}
	return s, nil
}

// Customer is one row of the admin user list.
type Customer struct {
	ID           string            `json:"accountNumber"`
	LoginID      string            `json:"loginId"`
	RealName     string            `json:"realName"`
	Status       models.UserStatus `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	TotalBalance models.Amount     `json:"totalBalance"`
}

// ListCustomers returns every non-admin user with the sum of their sub-accounts.
func (e *Engine) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	err := e.db.WithContext(ctx).
		Table("users").
		Select("users.id, users.login_id, users.real_name, users.status, users.created_at, COALESCE(SUM(sub_accounts.balance), 0) AS total_balance").
		Joins("LEFT JOIN sub_accounts ON sub_accounts.user_id = users.id").
		Where("users.role <> ?", models.RoleAdmin).
		Group("users.id, users.login_id, users.real_name, users.status, users.created_at").
		Order("users.created_at, users.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return out, nil
}

// ToggleStatus flips a customer between active and frozen.
func (e *Engine) ToggleStatus(ctx context.Context, userID string) (*models.User, error) {
	var user *models.User
	err := e.atomically(ctx, []string{userKey(userID)}, func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if u.IsAdmin() {
			return ErrAdminProtected
		}
		next := models.StatusFrozen
		if u.IsFrozen() {
			next = models.StatusActive
		}
		now := e.now()
		err = tx.Model(&models.User{}).Where("id = ?", userID).
			Updates(map[string]any{"status": next, "updated_at": now}).Error
		if err != nil {
			return fmt.Errorf("set status of %s: %w", userID, err)
		}
		u.Status, u.UpdatedAt = next, now
		user = u
		return nil
	})
	if err != nil {
		e.reject("toggle status", err, "user", userID)
		return nil, err
	}
	e.log.Info("user status changed", "user", userID, "status", user.Status)
	return user, nil
}

// DeleteUser removes a customer with their sub-accounts, log entries and
// favorites, including favorites other users saved for them.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	subs, err := listSubAccounts(e.db.WithContext(ctx), userID)
	if err != nil {
		return err
	}
	keys := []string{userKey(userID)}
	for _, s := range subs {
		keys = append(keys, subKey(s.ID))
	}
	err = e.atomically(ctx, keys, func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if u.IsAdmin() {
			return ErrAdminProtected
		}
		steps := []struct {
			what  string
			query *gorm.DB
			model any
		}{
			{"transactions", tx.Where("user_id = ?", userID), &models.Transaction{}},
			{"favorites", tx.Where("user_id = ? OR favorite_user_id = ?", userID, userID), &models.FavoriteAccount{}},
			{"sessions", tx.Where("user_id = ?", userID), &models.RefreshToken{}},
			{"sub-accounts", tx.Where("user_id = ?", userID), &models.SubAccount{}},
			{"user", tx.Where("id = ?", userID), &models.User{}},
		}
		for _, s := range steps {
			if err := s.query.Delete(s.model).Error; err != nil {
				return fmt.Errorf("delete %s of %s: %w", s.what, userID, err)
			}
		}
		return nil
	})
	if err != nil {
		e.reject("delete user", err, "user", userID)
		return err
	}
	e.log.Info("user deleted", "user", userID)
	e.afterCommit(ctx, userID)
	return nil
}

// AllTransactions is the admin view of the whole log, newest first. A limit
// of zero or less returns everything.
func (e *Engine) AllTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	q := e.db.WithContext(ctx).Order(newestFirst)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var txs []models.Transaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}
