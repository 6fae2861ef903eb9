package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bankledger/pkg/ledger"
	"bankledger/process/inbox"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Main: applies every pending deposit batch in -dir, then optionally keeps
// watching the directory for new ones.
func main() {
	dir := flag.String("dir", "inbox/deposits", "directory holding deposit batch files")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	verbose := flag.Bool("verbose", false, "Verbose per-line logging")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatalf("DB_DSN must be set in environment to run this tool")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &inbox.Processor{Dir: *dir, Ledger: ledger.New(db), Verbose: *verbose}
	files := inbox.ListBatchFiles(*dir)
	log.Printf("Scanning %d files (workers=%d)", len(files), inbox.EffectiveWorkers(*workers))
	applied, rejected := p.Run(ctx, files, *workers)
	log.Printf("Scan done: applied=%d rejected=%d", applied, rejected)

	if *watch {
		if err := p.Watch(ctx, *workers); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	}
}
