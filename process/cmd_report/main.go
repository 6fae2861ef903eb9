package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"bankledger/process/report"
)

func main() {
	account := flag.String("account", "", "12-digit account number to report for")
	month := flag.String("month", time.Now().Format("2006-01"), "month to report (YYYY-MM)")
	tz := flag.String("tz", "Asia/Taipei", "time zone the month is read in")
	list := flag.Bool("list", false, "list the month's entries")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "-account is required")
		os.Exit(2)
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown time zone %q: %v\n", *tz, err)
		os.Exit(2)
	}

	report.RunReport(*account, *month, loc, *list)
}
