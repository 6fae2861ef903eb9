package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure. Infrastructure errors never carry one.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindAccountFrozen        Kind = "account_frozen"
	KindInvalidAmount        Kind = "invalid_amount"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindSelfTransfer         Kind = "self_transfer_not_allowed"
	KindRecipientNotFound    Kind = "recipient_not_found"
	KindNoSourceAccount      Kind = "no_source_account"
	KindNoDestinationAccount Kind = "no_destination_account"
	KindLastAccountProtected Kind = "last_account_protected"
	KindNonZeroBalance       Kind = "non_zero_balance"
	KindSameSubAccount       Kind = "same_sub_account"
	KindLoginTaken           Kind = "login_taken"
	KindAdminProtected       Kind = "admin_protected"
	KindDuplicateReference   Kind = "duplicate_reference"
)

// Error is a business-rule violation detected before any write.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is matches on Kind so errors with a more specific message still satisfy
// errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{KindNotFound, "account not found"}
	ErrAccountFrozen        = &Error{KindAccountFrozen, "account is frozen"}
	ErrInvalidAmount        = &Error{KindInvalidAmount, "amount must be > 0"}
	ErrInsufficientFunds    = &Error{KindInsufficientFunds, "insufficient balance"}
	ErrSelfTransfer         = &Error{KindSelfTransfer, "cannot transfer to your own account"}
	ErrRecipientNotFound    = &Error{KindRecipientNotFound, "recipient account does not exist"}
	ErrNoSourceAccount      = &Error{KindNoSourceAccount, "no sub-account to pay from"}
	ErrNoDestinationAccount = &Error{KindNoDestinationAccount, "recipient has no sub-account to receive funds"}
	ErrLastAccountProtected = &Error{KindLastAccountProtected, "at least one sub-account must remain"}
	ErrNonZeroBalance       = &Error{KindNonZeroBalance, "move or withdraw the remaining balance first"}
	ErrSameSubAccount       = &Error{KindSameSubAccount, "source and destination sub-account are the same"}
	ErrLoginTaken           = &Error{KindLoginTaken, "login id already registered"}
	ErrAdminProtected       = &Error{KindAdminProtected, "admin accounts cannot be frozen or deleted"}
	ErrDuplicateReference   = &Error{KindDuplicateReference, "a deposit with this reference was already applied"}
)

func userNotFound(id string) error {
	return &Error{KindNotFound, fmt.Sprintf("user %s not found", id)}
}

func subAccountNotFound(id string) error {
	return &Error{KindNotFound, fmt.Sprintf("sub-account %s not found", id)}
}

// KindOf returns the business kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// errReplan aborts a transaction whose locked rows no longer match the plan
// made before locking.
var errReplan = errors.New("ledger: plan changed while locking")
