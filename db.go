package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"

	"bankledger/models"
	"bankledger/pkg/ledger"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true).
	if autoMigrateEnabled() {
		migrate(db)
	}
}

func autoMigrateEnabled() bool {
	v := strings.ToLower(os.Getenv("DB_AUTO_MIGRATE"))
	return !(v == "false" || v == "0" || v == "no")
}

// migrate runs each model separately so a failure on one doesn't block the
// others; warnings are logged and ignored.
func migrate(db *gorm.DB) {
	for _, m := range models.All() {
		if err := db.AutoMigrate(m); err != nil {
			log.Printf("migration warning (%T): %v", m, err)
		}
	}
}

// seedDB creates the admin login on an empty database.
func seedDB() {
	ctx := context.Background()
	_, err := engine.GetUserByLogin(ctx, "admin")
	if err == nil {
		return
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		log.Printf("failed to look up admin user: %v", err)
		return
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	admin, err := engine.OpenUser(ctx, ledger.OpenUserRequest{
		LoginID:        "admin",
		RealName:       "Administrator",
		HashedPassword: hashedPassword,
		Role:           models.RoleAdmin,
	})
	if err != nil {
		log.Printf("failed to seed admin user: %v", err)
		return
	}
	log.Printf("Seeded admin user: login=admin account=%s", admin.ID)
}
