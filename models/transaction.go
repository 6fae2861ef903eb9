package models

// TxType tags a transaction log entry.
type TxType string

const (
	TxDeposit          TxType = "deposit"
	TxWithdrawal       TxType = "withdrawal"
	TxTransferOut      TxType = "transfer_out"
	TxTransferIn       TxType = "transfer_in"
	TxInternalTransfer TxType = "internal_transfer"
)

// Effect says whether an entry's amount mirrors a balance change.
type Effect string

const (
	EffectBearing       Effect = "bearing"
	EffectInformational Effect = "informational"
)

// Effect of an internal transfer is informational: its amount is always
// zero and the note carries the moved sum.
func (t TxType) Effect() Effect {
	if t == TxInternalTransfer {
		return EffectInformational
	}
	return EffectBearing
}

func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransferOut, TxTransferIn, TxInternalTransfer:
		return true
	}
	return false
}

// Transaction is an immutable log entry. UserID is a plain reference, not a
// foreign key, so entries can be written for any account number.
type Transaction struct {
	ID           string  `gorm:"primaryKey;size:50"`
	UserID       string  `gorm:"size:12;not null;index:idx_transactions_user_ts,priority:1"`
	Type         TxType  `gorm:"size:20;not null"`
	Amount       Amount  `gorm:"not null"` // signed: credit > 0, debit < 0
	Note         string  `gorm:"type:text"`
	Time         string  `gorm:"size:50;not null"`                                           // local, human-readable
	Timestamp    int64   `gorm:"not null;index:idx_transactions_user_ts,priority:2,sort:desc"` // unix millis
	SubAccountID *string `gorm:"size:50"`
	Reference    *string `gorm:"size:255;uniqueIndex"` // caller-supplied idempotency key, deposits only
}
