package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"bankledger/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Prints the sub-account balances of an account. With -expect it polls until
// the total reaches that amount, e.g. after dropping a deposit batch.
func main() {
	account := flag.String("account", "", "12-digit account number")
	expect := flag.String("expect", "", "total to wait for (decimal)")
	wait := flag.Int("wait", 15, "seconds to wait/poll")
	flag.Parse()
	if *account == "" {
		log.Fatal("--account is required")
	}
	var want models.Amount
	if *expect != "" {
		var err error
		if want, err = models.ParseAmount(*expect); err != nil {
			log.Fatalf("invalid --expect: %v", err)
		}
	}
	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in env")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	deadline := time.Now().Add(time.Duration(*wait) * time.Second)
	for {
		var subs []models.SubAccount
		if err := db.Where("user_id = ?", *account).Order("created_at, id").Find(&subs).Error; err != nil {
			log.Fatalf("query failed: %v", err)
		}
		var total models.Amount
		for _, s := range subs {
			total += s.Balance
		}
		if *expect == "" || total == want {
			for _, s := range subs {
				fmt.Printf("%s|%s|%s\n", s.ID, s.Name, s.Balance)
			}
			fmt.Printf("TOTAL %s\n", total)
			return
		}
		if time.Now().After(deadline) {
			log.Fatalf("total is %s, still not %s after %ds", total, want, *wait)
		}
		time.Sleep(2 * time.Second)
	}
}
