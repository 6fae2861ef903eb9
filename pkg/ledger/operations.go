package ledger

import (
	"context"
	"errors"
	"fmt"

	"bankledger/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DepositRequest struct {
	UserID       string
	SubAccountID string
	Amount       models.Amount
	// Reference makes the deposit idempotent: a second deposit with the same
	// non-empty reference fails with ErrDuplicateReference and changes nothing.
	Reference string
}

type WithdrawRequest struct {
	UserID       string
	SubAccountID string
	Amount       models.Amount
}

type TransferRequest struct {
	UserID                 string
	RecipientAccountNumber string
	Amount                 models.Amount
	SaveAsFavorite         bool
}

type InternalTransferRequest struct {
	UserID           string
	FromSubAccountID string
	ToSubAccountID   string
	Amount           models.Amount
}

// MaxBalance mirrors a numeric(15,2) column.
const MaxBalance models.Amount = 1_000_000_000_000_000 - 1

func checkAmount(a models.Amount) error {
	if a <= 0 {
		return ErrInvalidAmount
	}
	if a > MaxBalance {
		return &Error{KindInvalidAmount, "amount exceeds the balance limit"}
	}
	return nil
}

func credit(sub *models.SubAccount, a models.Amount) (models.Amount, error) {
	if sub.Balance > MaxBalance-a {
		return 0, &Error{KindInvalidAmount, "deposit would exceed the balance limit"}
	}
	return sub.Balance + a, nil
}

// Deposit adds Amount to one of the caller's sub-accounts.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (*Receipt, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	var (
		rcpt *Receipt
		ref  *string
	)
	keys := []string{subKey(req.SubAccountID)}
	if req.Reference != "" {
		ref = &req.Reference
		keys = append(keys, "ref:"+req.Reference)
	}
	err := e.atomically(ctx, keys, func(tx *gorm.DB) error {
		if ref != nil {
			var n int64
			if err := tx.Model(&models.Transaction{}).Where("reference = ?", *ref).Count(&n).Error; err != nil {
				return fmt.Errorf("check reference %s: %w", *ref, err)
			}
			if n > 0 {
				return ErrDuplicateReference
			}
		}
		user, err := loadUser(tx, req.UserID)
		if err != nil {
			return err
		}
		if !CanInitiateMoneyMovement(user) {
			return ErrAccountFrozen
		}
		sub, err := lockOwnedSubAccount(tx, req.SubAccountID, req.UserID)
		if err != nil {
			return err
		}
		balance, err := credit(sub, req.Amount)
		if err != nil {
			return err
		}
		if err := e.setBalance(tx, sub, balance); err != nil {
			return err
		}
		t, err := e.record(tx, entry{
			userID:       req.UserID,
			typ:          models.TxDeposit,
			amount:       req.Amount,
			note:         fmt.Sprintf(`Deposit to "%s"`, sub.Name),
			subAccountID: &sub.ID,
			reference:    ref,
		})
		if err != nil {
			// another process applied the same reference first
			if ref != nil && isUniqueConstraintError(err) {
				return ErrDuplicateReference
			}
			return err
		}
		rcpt = &Receipt{Transactions: []models.Transaction{t}, SubAccounts: []models.SubAccount{*sub}}
		return nil
	})
	if err != nil {
		e.reject("deposit", err, "user", req.UserID, "sub_account", req.SubAccountID)
		return nil, err
	}
	e.log.Info("deposit", "user", req.UserID, "sub_account", req.SubAccountID, "amount", req.Amount.String())
	e.afterCommit(ctx, req.UserID)
	return rcpt, nil
}

// Withdraw takes Amount out of one of the caller's sub-accounts.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (*Receipt, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	var rcpt *Receipt
	err := e.atomically(ctx, []string{subKey(req.SubAccountID)}, func(tx *gorm.DB) error {
		user, err := loadUser(tx, req.UserID)
		if err != nil {
			return err
		}
		if !CanInitiateMoneyMovement(user) {
			return ErrAccountFrozen
		}
		sub, err := lockOwnedSubAccount(tx, req.SubAccountID, req.UserID)
		if err != nil {
			return err
		}
		if sub.Balance < req.Amount {
			return ErrInsufficientFunds
		}
		if err := e.setBalance(tx, sub, sub.Balance-req.Amount); err != nil {
			return err
		}
		t, err := e.record(tx, entry{
			userID:       req.UserID,
			typ:          models.TxWithdrawal,
			amount:       req.Amount.Neg(),
			note:         fmt.Sprintf(`Withdrawal from "%s"`, sub.Name),
			subAccountID: &sub.ID,
		})
		if err != nil {
			return err
		}
		rcpt = &Receipt{Transactions: []models.Transaction{t}, SubAccounts: []models.SubAccount{*sub}}
		return nil
	})
	if err != nil {
		e.reject("withdraw", err, "user", req.UserID, "sub_account", req.SubAccountID)
		return nil, err
	}
	e.log.Info("withdraw", "user", req.UserID, "sub_account", req.SubAccountID, "amount", req.Amount.String())
	e.afterCommit(ctx, req.UserID)
	return rcpt, nil
}

type transferPlan struct {
	sender    *models.User
	recipient *models.User
	from      models.SubAccount
	to        *models.SubAccount // nil: recipient owns no sub-account
}

func (p *transferPlan) keys() []string {
	keys := []string{subKey(p.from.ID)}
	if p.to != nil {
		keys = append(keys, subKey(p.to.ID))
	}
	return keys
}

func (p *transferPlan) same(q *transferPlan) bool {
	if p.from.ID != q.from.ID || (p.to == nil) != (q.to == nil) {
		return false
	}
	return p.to == nil || p.to.ID == q.to.ID
}

// planTransfer resolves both parties and their primary sub-accounts without
// locking anything.
func planTransfer(tx *gorm.DB, senderID, recipientID string) (*transferPlan, error) {
	sender, err := loadUser(tx, senderID)
	if err != nil {
		return nil, err
	}
	if !CanInitiateMoneyMovement(sender) {
		return nil, ErrAccountFrozen
	}
	recipient, err := loadUser(tx, recipientID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	fromSubs, err := listSubAccounts(tx, senderID)
	if err != nil {
		return nil, err
	}
	from, ok := PrimarySubAccount(fromSubs)
	if !ok {
		return nil, ErrNoSourceAccount
	}
	toSubs, err := listSubAccounts(tx, recipientID)
	if err != nil {
		return nil, err
	}
	plan := &transferPlan{sender: sender, recipient: recipient, from: from}
	if to, ok := PrimarySubAccount(toSubs); ok {
		plan.to = &to
	}
	return plan, nil
}

// Transfer moves Amount from the caller's primary sub-account to the primary
// sub-account of the user owning RecipientAccountNumber.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	recipientID := NormalizeAccountNumber(req.RecipientAccountNumber)
	if recipientID == req.UserID {
		return nil, ErrSelfTransfer
	}
	var (
		rcpt *Receipt
		err  error
	)
	for attempt := 1; ; attempt++ {
		var plan *transferPlan
		plan, err = planTransfer(e.db.WithContext(ctx), req.UserID, recipientID)
		if err != nil {
			break
		}
		rcpt, err = e.executeTransfer(ctx, req, recipientID, plan)
		if !errors.Is(err, errReplan) || attempt == maxReplans {
			break
		}
		e.log.Debug("transfer plan changed, retrying", "user", req.UserID, "attempt", attempt)
	}
	if err != nil {
		if errors.Is(err, errReplan) {
			err = fmt.Errorf("transfer from %s: %w", req.UserID, err)
		}
		e.reject("transfer", err, "user", req.UserID, "recipient", recipientID)
		return nil, err
	}
	e.log.Info("transfer", "user", req.UserID, "recipient", recipientID, "amount", req.Amount.String())
	e.afterCommit(ctx, req.UserID, recipientID)
	return rcpt, nil
}

func (e *Engine) executeTransfer(ctx context.Context, req TransferRequest, recipientID string, planned *transferPlan) (*Receipt, error) {
	var rcpt *Receipt
	err := e.atomically(ctx, planned.keys(), func(tx *gorm.DB) error {
		plan, err := planTransfer(tx, req.UserID, recipientID)
		if err != nil {
			return err
		}
		if !plan.same(planned) {
			return errReplan
		}
		ids := []string{plan.from.ID}
		if plan.to != nil {
			ids = append(ids, plan.to.ID)
		}
		rows, err := lockSubAccounts(tx, ids...)
		if err != nil {
			return err
		}
		from, ok := rows[plan.from.ID]
		if !ok {
			return errReplan
		}
		if from.Balance < req.Amount {
			return ErrInsufficientFunds
		}
		if plan.to == nil {
			return ErrNoDestinationAccount
		}
		to, ok := rows[plan.to.ID]
		if !ok {
			return errReplan
		}
		toBalance, err := credit(to, req.Amount)
		if err != nil {
			return err
		}
		if err := e.setBalance(tx, from, from.Balance-req.Amount); err != nil {
			return err
		}
		if err := e.setBalance(tx, to, toBalance); err != nil {
			return err
		}
		if req.SaveAsFavorite {
			fav := models.FavoriteAccount{UserID: req.UserID, FavoriteUserID: recipientID, CreatedAt: e.now()}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fav).Error; err != nil {
				return fmt.Errorf("save favorite %s: %w", recipientID, err)
			}
		}
		out, err := e.record(tx, entry{
			userID: req.UserID,
			typ:    models.TxTransferOut,
			amount: req.Amount.Neg(),
			note:   "Transfer to " + MaskAccountNumber(recipientID),
		})
		if err != nil {
			return err
		}
		in, err := e.record(tx, entry{
			userID: recipientID,
			typ:    models.TxTransferIn,
			amount: req.Amount,
			note:   "Transfer from " + MaskAccountNumber(req.UserID),
		})
		if err != nil {
			return err
		}
		rcpt = &Receipt{
			Transactions: []models.Transaction{out, in},
			SubAccounts:  []models.SubAccount{*from, *to},
		}
		return nil
	})
	return rcpt, err
}

// TransferBetweenSubAccounts moves money between two of the caller's own
// sub-accounts. It logs a single zero-amount internal_transfer entry whose note
// names both sub-accounts and the sum; the balances carry the movement.
func (e *Engine) TransferBetweenSubAccounts(ctx context.Context, req InternalTransferRequest) (*Receipt, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.FromSubAccountID == req.ToSubAccountID {
		return nil, ErrSameSubAccount
	}
	var rcpt *Receipt
	keys := []string{subKey(req.FromSubAccountID), subKey(req.ToSubAccountID)}
	err := e.atomically(ctx, keys, func(tx *gorm.DB) error {
		user, err := loadUser(tx, req.UserID)
		if err != nil {
			return err
		}
		if !CanInitiateMoneyMovement(user) {
			return ErrAccountFrozen
		}
		rows, err := lockSubAccounts(tx, req.FromSubAccountID, req.ToSubAccountID)
		if err != nil {
			return err
		}
		from, ok := rows[req.FromSubAccountID]
		if !ok || from.UserID != req.UserID {
			return subAccountNotFound(req.FromSubAccountID)
		}
		to, ok := rows[req.ToSubAccountID]
		if !ok || to.UserID != req.UserID {
			return subAccountNotFound(req.ToSubAccountID)
		}
		if from.Balance < req.Amount {
			return ErrInsufficientFunds
		}
		toBalance, err := credit(to, req.Amount)
		if err != nil {
			return err
		}
		if err := e.setBalance(tx, from, from.Balance-req.Amount); err != nil {
			return err
		}
		if err := e.setBalance(tx, to, toBalance); err != nil {
			return err
		}
		t, err := e.record(tx, entry{
			userID: req.UserID,
			typ:    models.TxInternalTransfer,
			amount: 0,
			note:   fmt.Sprintf(`From "%s" to "%s" NT$ %s`, from.Name, to.Name, req.Amount),
		})
		if err != nil {
			return err
		}
		rcpt = &Receipt{
			Transactions: []models.Transaction{t},
			SubAccounts:  []models.SubAccount{*from, *to},
		}
		return nil
	})
	if err != nil {
		e.reject("internal transfer", err, "user", req.UserID, "from", req.FromSubAccountID, "to", req.ToSubAccountID)
		return nil, err
	}
	e.log.Info("internal transfer", "user", req.UserID, "from", req.FromSubAccountID, "to", req.ToSubAccountID, "amount", req.Amount.String())
	e.afterCommit(ctx, req.UserID)
	return rcpt, nil
}
