package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bankledger/models"
	"bankledger/pkg/ledger"
	"bankledger/pkg/ledger/ledgertest"
)

func setup(t *testing.T) (*Processor, *ledger.Engine, *models.User) {
	t.Helper()
	e := ledger.New(ledgertest.OpenDB(t), ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	u, err := e.OpenUser(context.Background(), ledger.OpenUserRequest{LoginID: "alice", HashedPassword: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	return &Processor{Dir: t.TempDir(), Ledger: e}, e, u
}

func writeBatch(t *testing.T, dir, name string, lines ...Line) {
	t.Helper()
	b, err := json.Marshal(Batch{Deposits: lines})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func balance(t *testing.T, e *ledger.Engine, userID string) models.Amount {
	t.Helper()
	subs, err := e.ListSubAccounts(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	var sum models.Amount
	for _, s := range subs {
		sum += s.Balance
	}
	return sum
}

func TestProcessFile(t *testing.T) {
	p, e, u := setup(t)
	writeBatch(t, p.Dir, "batch1.json",
		Line{AccountNumber: u.ID, Amount: models.MustAmount("10.25"), Reference: "r1"},
		Line{AccountNumber: "000000000000", Amount: models.MustAmount("1")},
		Line{AccountNumber: u.ID, Amount: 0},
		Line{AccountNumber: u.ID, Amount: models.MustAmount("4.75")},
	)

	res, err := p.ProcessFile(context.Background(), "batch1.json")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 || res.Rejected != 2 {
		t.Fatalf("applied=%d rejected=%d", res.Applied, res.Rejected)
	}
	if res.Lines[1].Code != ledger.KindNotFound || res.Lines[2].Code != ledger.KindInvalidAmount {
		t.Fatalf("codes=%q,%q", res.Lines[1].Code, res.Lines[2].Code)
	}
	if res.Lines[0].TransactionID == "" || res.Lines[0].SubAccountID == "" {
		t.Fatalf("applied line missing ids: %+v", res.Lines[0])
	}
	if got := balance(t, e, u.ID); got != models.MustAmount("15") {
		t.Fatalf("balance=%s want=15.00", got)
	}

	if _, err := os.Stat(filepath.Join(p.Dir, "batch1.json")); !os.IsNotExist(err) {
		t.Fatal("batch should have left the inbox")
	}
	raw, err := os.ReadFile(filepath.Join(p.Dir, ProcessedDir, "batch1.result.json"))
	if err != nil {
		t.Fatal(err)
	}
	var saved Result
	if err := json.Unmarshal(raw, &saved); err != nil || saved.Applied != 2 {
		t.Fatalf("result file %s: %v", raw, err)
	}
	if files := ListBatchFiles(filepath.Join(p.Dir, ProcessedDir)); len(files) != 1 || files[0] != "batch1.json" {
		t.Fatalf("processed dir holds %v", files)
	}
}

func TestProcessFileUnreadable(t *testing.T) {
	p, _, _ := setup(t)
	if err := os.WriteFile(filepath.Join(p.Dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ProcessFile(context.Background(), "broken.json"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := os.Stat(filepath.Join(p.Dir, FailedDir, "broken.json")); err != nil {
		t.Fatalf("broken batch not moved to %s: %v", FailedDir, err)
	}
}

func TestProcessFileFrozenAccount(t *testing.T) {
	p, e, u := setup(t)
	if _, err := e.ToggleStatus(context.Background(), u.ID); err != nil {
		t.Fatal(err)
	}
	writeBatch(t, p.Dir, "b.json", Line{AccountNumber: u.ID, Amount: 100})
	res, err := p.ProcessFile(context.Background(), "b.json")
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejected != 1 || !errors.Is(&ledger.Error{Kind: res.Lines[0].Code}, ledger.ErrAccountFrozen) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunWorkerPool(t *testing.T) {
	p, e, u := setup(t)
	for _, name := range []string{"a.json", "b.json", "c.json"} {
		writeBatch(t, p.Dir, name, Line{AccountNumber: u.ID, Amount: models.MustAmount("1")}, Line{AccountNumber: u.ID, Amount: models.MustAmount("2")})
	}
	if err := os.WriteFile(filepath.Join(p.Dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	files := ListBatchFiles(p.Dir)
	if len(files) != 3 {
		t.Fatalf("files=%v", files)
	}
	applied, rejected := p.Run(context.Background(), files, 3)
	if applied != 6 || rejected != 0 {
		t.Fatalf("applied=%d rejected=%d", applied, rejected)
	}
	if got := balance(t, e, u.ID); got != models.MustAmount("9") {
		t.Fatalf("balance=%s want=9.00", got)
	}
	if left := ListBatchFiles(p.Dir); len(left) != 0 {
		t.Fatalf("unprocessed: %v", left)
	}
}

func TestWatch(t *testing.T) {
	p, e, u := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Watch(ctx, 1) }()
	time.Sleep(100 * time.Millisecond) // let the watcher register

	// write under a non-batch name, then rename into place
	tmp := filepath.Join(p.Dir, "drop.tmp")
	b, _ := json.Marshal(Batch{Deposits: []Line{{AccountNumber: u.ID, Amount: models.MustAmount("3")}}})
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(p.Dir, "drop.json")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for balance(t, e, u.ID) != models.MustAmount("3") {
		if time.Now().After(deadline) {
			t.Fatal("watched batch was not applied")
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
}

func TestProcessFileReplayAfterCrash(t *testing.T) {
	p, e, u := setup(t)
	lines := []Line{
		{AccountNumber: u.ID, Amount: models.MustAmount("10"), Reference: "wire-1"},
		{AccountNumber: u.ID, Amount: models.MustAmount("2.50")},
	}
	writeBatch(t, p.Dir, "day1.json", lines...)
	if _, err := p.ProcessFile(context.Background(), "day1.json"); err != nil {
		t.Fatal(err)
	}

	// the process died before the file left the inbox: it shows up again
	writeBatch(t, p.Dir, "day1.json", append(lines, Line{AccountNumber: u.ID, Amount: models.MustAmount("1")})...)
	res, err := p.ProcessFile(context.Background(), "day1.json")
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 2 || res.Applied != 1 || res.Rejected != 0 {
		t.Fatalf("applied=%d skipped=%d rejected=%d", res.Applied, res.Skipped, res.Rejected)
	}
	if got := balance(t, e, u.ID); got != models.MustAmount("13.50") {
		t.Fatalf("balance=%s want=13.50", got)
	}

	// the same reference in another file is a different deposit
	writeBatch(t, p.Dir, "day2.json", lines[0])
	if res, err := p.ProcessFile(context.Background(), "day2.json"); err != nil || res.Applied != 1 {
		t.Fatalf("day2: %+v %v", res, err)
	}
}
