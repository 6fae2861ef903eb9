// Package inbox applies deposit batches dropped into a directory as
// JSON files. Each file is applied line by line through the ledger and then
// moved to processed/ next to a .result.json report, or to failed/ when it
// cannot be read at all.
//
// Every line is deposited under the reference "inbox:<file>:<reference>", or
// "inbox:<file>#<line>" when the line has none, so a file replayed after a
// crash skips the lines that already went through. Batch file names must
// therefore be unique over time.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"bankledger/models"
	"bankledger/pkg/ledger"

	"github.com/fsnotify/fsnotify"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
	resultSuffix = ".result.json"
)

// Line is one deposit. SubAccountID is optional; the account's primary
// sub-account is used when it is empty.
type Line struct {
	AccountNumber string        `json:"accountNumber"`
	SubAccountID  string        `json:"subAccountId,omitempty"`
	Amount        models.Amount `json:"amount"`
	Reference     string        `json:"reference,omitempty"`
}

type Batch struct {
	Deposits []Line `json:"deposits"`
}

type LineResult struct {
	Line
	TransactionID string      `json:"transactionId,omitempty"`
	Code          ledger.Kind `json:"code,omitempty"`
	Error         string      `json:"error,omitempty"`
}

type Result struct {
	File        string       `json:"file"`
	ProcessedAt time.Time    `json:"processedAt"`
	Applied     int          `json:"applied"`
	Skipped     int          `json:"skipped"` // applied by an earlier run
	Rejected    int          `json:"rejected"`
	Lines       []LineResult `json:"lines"`
}

// Depositor is the part of the ledger engine the inbox needs.
type Depositor interface {
	Deposit(ctx context.Context, req ledger.DepositRequest) (*ledger.Receipt, error)
	ListSubAccounts(ctx context.Context, userID string) ([]models.SubAccount, error)
}

type Processor struct {
	Dir     string
	Ledger  Depositor
	Verbose bool
}

func (p *Processor) logV(format string, args ...any) {
	if p.Verbose {
		log.Printf(format, args...)
	}
}

func isBatchFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, resultSuffix) && !strings.HasPrefix(name, ".")
}

// ListBatchFiles returns the pending batch files in dir, sorted by name.
func ListBatchFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isBatchFile(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

// ProcessFile applies one batch. Lines are applied in file order; a rejected
// line does not stop the ones after it.
func (p *Processor) ProcessFile(ctx context.Context, name string) (*Result, error) {
	src := filepath.Join(p.Dir, name)
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		if mvErr := p.moveTo(FailedDir, name); mvErr != nil {
			log.Printf("move %s to %s failed: %v", name, FailedDir, mvErr)
		}
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	res := &Result{File: name, Lines: make([]LineResult, 0, len(batch.Deposits))}
	for i, line := range batch.Deposits {
		lr := p.apply(ctx, line, lineReference(name, i, line))
		switch {
		case lr.Code == ledger.KindDuplicateReference:
			res.Skipped++
			p.logV("%s: line %d already applied, skipped", name, i+1)
		case lr.Error == "":
			res.Applied++
		default:
			res.Rejected++
			p.logV("%s: %s %s rejected: %s", name, line.AccountNumber, line.Amount, lr.Error)
		}
		res.Lines = append(res.Lines, lr)
	}
	res.ProcessedAt = time.Now()

	if err := p.writeResult(res); err != nil {
		return res, err
	}
	if err := p.moveTo(ProcessedDir, name); err != nil {
		return res, err
	}
	log.Printf("%s: applied=%d skipped=%d rejected=%d", name, res.Applied, res.Skipped, res.Rejected)
	return res, nil
}

func lineReference(file string, index int, line Line) string {
	if line.Reference != "" {
		return fmt.Sprintf("inbox:%s:%s", file, line.Reference)
	}
	return fmt.Sprintf("inbox:%s#%d", file, index+1)
}

func (p *Processor) apply(ctx context.Context, line Line, ref string) LineResult {
	lr := LineResult{Line: line}
	fail := func(err error) LineResult {
		lr.Code = ledger.KindOf(err)
		lr.Error = err.Error()
		return lr
	}
	userID := ledger.NormalizeAccountNumber(line.AccountNumber)
	subID := line.SubAccountID
	if subID == "" {
		subs, err := p.Ledger.ListSubAccounts(ctx, userID)
		if err != nil {
			return fail(err)
		}
		primary, ok := ledger.PrimarySubAccount(subs)
		if !ok {
			return fail(ledger.ErrNoDestinationAccount)
		}
		subID = primary.ID
	}
	rcpt, err := p.Ledger.Deposit(ctx, ledger.DepositRequest{UserID: userID, SubAccountID: subID, Amount: line.Amount, Reference: ref})
	if err != nil {
		return fail(err)
	}
	lr.SubAccountID = subID
	lr.TransactionID = rcpt.Transactions[0].ID
	return lr
}

func (p *Processor) writeResult(res *Result) error {
	dir := filepath.Join(p.Dir, ProcessedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, strings.TrimSuffix(res.File, ".json")+resultSuffix), b, 0o644)
}

// moveTo moves Dir/name into Dir/sub/name, with copy+remove as fallback when
// rename is not possible.
func (p *Processor) moveTo(sub, name string) error {
	dir := filepath.Join(p.Dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	src, dst := filepath.Join(p.Dir, name), filepath.Join(dir, name)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func EffectiveWorkers(w int) int {
	if w <= 0 {
		return runtime.NumCPU()
	}
	return w
}

// runWorkers drains fileCh until it is closed. A file already started is
// finished even if ctx is cancelled; files not yet started are skipped.
func (p *Processor) runWorkers(ctx context.Context, fileCh <-chan string, workers int) (applied, rejected int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < EffectiveWorkers(workers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				if ctx.Err() != nil {
					continue
				}
				res, err := p.ProcessFile(context.WithoutCancel(ctx), name)
				if err != nil {
					log.Printf("%s: %v", name, err)
				}
				if res == nil {
					continue
				}
				mu.Lock()
				applied += res.Applied
				rejected += res.Rejected
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return applied, rejected
}

// Run processes files with a pool of workers and returns the line totals.
func (p *Processor) Run(ctx context.Context, files []string, workers int) (applied, rejected int) {
	fileCh := make(chan string, len(files))
	for _, f := range files {
		fileCh <- f
	}
	close(fileCh)
	return p.runWorkers(ctx, fileCh, workers)
}

// settle is how long a file must stay unchanged before it is picked up.
const settle = 300 * time.Millisecond

// Watch processes batch files as they appear until ctx is cancelled.
func (p *Processor) Watch(ctx context.Context, workers int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(p.Dir); err != nil {
		return err
	}
	log.Printf("Watching %s (debounced) ...", p.Dir)

	fileCh := make(chan string, 256)
	done := make(chan struct{})
	go func() {
		p.runWorkers(ctx, fileCh, workers)
		close(done)
	}()
	stop := func() error {
		close(fileCh)
		<-done
		return nil
	}

	pending := map[string]time.Time{}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return stop()
		case ev, ok := <-w.Events:
			if !ok {
				return stop()
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				name := filepath.Base(ev.Name)
				if isBatchFile(name) {
					pending[name] = time.Now()
				}
			}
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > settle {
					fileCh <- name
					delete(pending, name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return stop()
			}
			log.Printf("watch error: %v", err)
		}
	}
}
