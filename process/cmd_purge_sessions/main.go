package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Deletes refresh tokens that were revoked or expired more than -keep ago.
func main() {
	keep := flag.Duration("keep", 7*24*time.Hour, "keep dead sessions this long for auditing")
	dryRun := flag.Bool("dry-run", false, "only count what would be deleted")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-*keep)
	const where = `(revoked AND created_at < $1) OR expires_at < $1`
	if *dryRun {
		var n int64
		if err := db.QueryRow(`SELECT count(*) FROM refresh_tokens WHERE `+where, cutoff).Scan(&n); err != nil {
			log.Fatalf("count sessions: %v", err)
		}
		fmt.Printf("dry-run: %d session(s) would be deleted\n", n)
		return
	}
	res, err := db.Exec(`DELETE FROM refresh_tokens WHERE `+where, cutoff)
	if err != nil {
		log.Fatalf("delete sessions: %v", err)
	}
	n, _ := res.RowsAffected()
	fmt.Printf("purge done: sessions deleted=%d\n", n)
}
