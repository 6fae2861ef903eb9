package report

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"bankledger/models"
	"bankledger/pkg/ledger"
	"bankledger/pkg/ledger/ledgertest"
)

func TestBuildStatement(t *testing.T) {
	ctx := context.Background()
	db := ledgertest.OpenDB(t)
	clock := ledgertest.NewClock(time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC))
	e := ledger.New(db, ledger.WithClock(clock.Now), ledger.WithLocation(time.UTC),
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	u, err := e.OpenUser(ctx, ledger.OpenUserRequest{LoginID: "alice", RealName: "Alice", HashedPassword: []byte("x"), InitialDeposit: models.MustAmount("100")})
	if err != nil {
		t.Fatal(err)
	}
	main := u.SubAccounts[0]
	savings, err := e.CreateSubAccount(ctx, u.ID, "Savings", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Withdraw(ctx, ledger.WithdrawRequest{UserID: u.ID, SubAccountID: main.ID, Amount: models.MustAmount("25")}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.TransferBetweenSubAccounts(ctx, ledger.InternalTransferRequest{UserID: u.ID, FromSubAccountID: main.ID, ToSubAccountID: savings.ID, Amount: models.MustAmount("10")}); err != nil {
		t.Fatal(err)
	}

	// jump into April
	clock = ledgertest.NewClock(time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC))
	e = ledger.New(db, ledger.WithClock(clock.Now), ledger.WithLocation(time.UTC),
		ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if _, err := e.Deposit(ctx, ledger.DepositRequest{UserID: u.ID, SubAccountID: savings.ID, Amount: models.MustAmount("5.50")}); err != nil {
		t.Fatal(err)
	}

	march, err := Build(ctx, db, u.ID, "2025-03", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if march.Opening != 0 || march.Credits != models.MustAmount("100") ||
		march.Debits != models.MustAmount("-25") || march.Closing != models.MustAmount("75") {
		t.Fatalf("unexpected march statement %+v", march)
	}
	if len(march.Entries) != 3 {
		t.Fatalf("march entries=%d want=3", len(march.Entries))
	}

	april, err := Build(ctx, db, u.ID, "2025-04", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if april.Opening != models.MustAmount("75") || april.Closing != models.MustAmount("80.50") || len(april.Entries) != 1 {
		t.Fatalf("unexpected april statement %+v", april)
	}

	var buf bytes.Buffer
	Print(&buf, april, true)
	if !strings.Contains(buf.String(), "closing=80.50") || !strings.Contains(buf.String(), `Deposit to "Savings"`) {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}

	if _, err := Build(ctx, db, "000000000000", "2025-03", time.UTC); err == nil {
		t.Fatal("unknown account should fail")
	}
	if _, err := Build(ctx, db, u.ID, "March", time.UTC); err == nil {
		t.Fatal("bad month should fail")
	}
}
