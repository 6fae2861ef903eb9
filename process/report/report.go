// Package report builds monthly account statements straight from the ledger tables.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"bankledger/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func mustDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set in env")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	return gdb
}

// Statement covers one calendar month of one account.
type Statement struct {
	User    models.User
	Month   string
	Opening models.Amount
	Closing models.Amount
	Credits models.Amount
	Debits  models.Amount // negative or zero
	Entries []models.Transaction
}

// Build derives the statement from the current balances and the log: every
// balance-bearing entry after a point in time is undone to get the balance at
// that point. Internal transfers are listed but never counted.
func Build(ctx context.Context, db *gorm.DB, accountNumber, month string, loc *time.Location) (*Statement, error) {
	t, err := time.ParseInLocation("2006-01", month, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q, expected YYYY-MM: %w", month, err)
	}
	start := t.UnixMilli()
	end := t.AddDate(0, 1, 0).UnixMilli()

	db = db.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ?", accountNumber).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s not found", accountNumber)
		}
		return nil, err
	}

	var sum int64
	if err := db.Model(&models.SubAccount{}).Where("user_id = ?", user.ID).
		Select("COALESCE(SUM(balance), 0)").Scan(&sum).Error; err != nil {
		return nil, fmt.Errorf("sum balances: %w", err)
	}
	current := models.Amount(sum)
	var later []models.Transaction
	err = db.Where("user_id = ?", user.ID).
		Where(clause.Gte{Column: clause.Column{Name: "timestamp"}, Value: start}).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "timestamp"}},
			{Column: clause.Column{Name: "id"}},
		}}).
		Find(&later).Error
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	st := &Statement{User: user, Month: month, Opening: current, Closing: current}
	for _, tx := range later {
		bearing := tx.Type.Effect() == models.EffectBearing
		if bearing {
			st.Opening -= tx.Amount
		}
		if tx.Timestamp >= end {
			if bearing {
				st.Closing -= tx.Amount
			}
			continue
		}
		st.Entries = append(st.Entries, tx)
		switch {
		case !bearing:
		case tx.Amount > 0:
			st.Credits += tx.Amount
		default:
			st.Debits += tx.Amount
		}
	}
	return st, nil
}

// Print writes the statement; list adds one line per entry.
func Print(w io.Writer, st *Statement, list bool) {
	fmt.Fprintf(w, "Statement for account=%s (%s) month=%s:\n", st.User.ID, st.User.RealName, st.Month)
	fmt.Fprintf(w, "  opening=%s credits=%s debits=%s closing=%s entries=%d\n",
		st.Opening, st.Credits, st.Debits, st.Closing, len(st.Entries))
	if !list {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range st.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Time, e.Type, e.Amount, e.Note)
	}
	tw.Flush()
}

// RunReport prints the statement of accountNumber for month (YYYY-MM) to stdout.
func RunReport(accountNumber, month string, loc *time.Location, list bool) {
	gdb := mustDBFromEnv()
	st, err := Build(context.Background(), gdb, accountNumber, month, loc)
	if err != nil {
		log.Fatal(err)
	}
	Print(os.Stdout, st, list)
}
