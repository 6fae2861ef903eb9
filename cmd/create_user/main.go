package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"bankledger/models"
	"bankledger/pkg/ledger"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	admin := flag.Bool("admin", false, "create an admin login")
	name := flag.String("name", "", "real name (defaults to the login id)")
	initial := flag.String("deposit", "0", "initial deposit credited to the main sub-account")
	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Println("usage: go run ./cmd/create_user [-admin] [-name N] [-deposit 100.00] <login> <password>")
		os.Exit(2)
	}
	loginID, password := flag.Arg(0), flag.Arg(1)

	amount, err := models.ParseAmount(*initial)
	if err != nil {
		log.Fatalf("invalid -deposit %q: %v", *initial, err)
	}

	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	engine := ledger.New(db)

	hpw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	role := models.RoleUser
	if *admin {
		role = models.RoleAdmin
	}
	if *name == "" {
		*name = loginID
	}
	user, err := engine.OpenUser(context.Background(), ledger.OpenUserRequest{
		LoginID:        loginID,
		RealName:       *name,
		HashedPassword: hpw,
		Role:           role,
		InitialDeposit: amount,
	})
	if errors.Is(err, ledger.ErrLoginTaken) {
		fmt.Printf("login %s already exists\n", loginID)
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created %s %s account=%s\n", role, loginID, user.ID)
}
