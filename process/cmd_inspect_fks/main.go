package main

import (
	"context"
	"log"
	"os"

	"bankledger/process/schema"
)

func main() {
	missing, err := schema.RunInspectFKs(context.Background(), os.Getenv("DB_DSN"), os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range missing {
		log.Printf("MISSING: %s -> %s (cascade=%v)", r.Table, r.ReferencedTable, r.Cascade)
	}
	if len(missing) > 0 {
		os.Exit(1)
	}
}
