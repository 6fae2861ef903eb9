package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bankledger/pkg/cache"
	"bankledger/pkg/ledger"

	"github.com/gin-gonic/gin"
)

var (
	jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)
	engine    *ledger.Engine
)

func main() {
	// Auto-load ./.env if present before reading vars
	loadDotEnv()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// `./bankledger migrate` runs AutoMigrate and seeding then exits.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB()
		initEngine(logger, nil)
		seedDB()
		fmt.Println("migration and seeding completed")
		return
	}

	initDB()
	ctx := context.Background()
	history, err := cache.Connect(ctx, os.Getenv("REDIS_ADDR"), logger)
	if err != nil {
		// the ledger works without the cache
		logger.Error("redis unavailable, history caching disabled", "error", err)
	}
	initEngine(logger, history)
	seedDB()

	r := gin.Default()
	setupRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}

func initEngine(logger *slog.Logger, history *cache.History) {
	opts := []ledger.Option{ledger.WithLogger(logger), ledger.WithLocation(ledgerLocation())}
	if history != nil {
		opts = append(opts, ledger.WithHistoryCache(history))
	}
	engine = ledger.New(db, opts...)
}

// ledgerLocation is the zone of human-readable transaction times (LEDGER_TZ,
// default Asia/Taipei).
func ledgerLocation() *time.Location {
	name := os.Getenv("LEDGER_TZ")
	if name == "" {
		name = "Asia/Taipei"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("unknown LEDGER_TZ %q, using UTC: %v", name, err)
		return time.UTC
	}
	return loc
}

// loadDotEnv loads key=value pairs from a local .env file into the environment
// without overwriting variables that are already set. Lines starting with # are ignored.
func loadDotEnv() {
	path := ".env"
	if _, err := os.Stat(path); err != nil {
		return // no .env file
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// split on first '='
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}
