package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankledger/models"
	"bankledger/pkg/ledger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errLoginFrozen        = errors.New("account is frozen, contact the bank")
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// RegisterUser hashes the password and opens the account through the ledger.
func RegisterUser(ctx context.Context, loginID, realName, password string, initial models.Amount) (*models.User, error) {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" {
		return nil, fmt.Errorf("login id required")
	}
	if len(password) < 6 { // basic password policy
		return nil, fmt.Errorf("password too short (min 6)")
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return engine.OpenUser(ctx, ledger.OpenUserRequest{
		LoginID:        loginID,
		RealName:       realName,
		HashedPassword: hashedPassword,
		InitialDeposit: initial,
	})
}

// Authenticate checks the password. Frozen customers cannot log in; frozen
// admins still can.
func Authenticate(ctx context.Context, loginID, password string) (*models.User, error) {
	user, err := engine.GetUserByLogin(ctx, loginID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	if user.IsFrozen() && !user.IsAdmin() {
		return nil, errLoginFrozen
	}
	return user, nil
}

func issueAccessToken(user *models.User, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"login": user.LoginID,
		"role":  string(user.Role),
		"exp":   time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash
// with expiry and returns the raw token string.
func createAndStoreRefreshToken(ctx context.Context, userID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	rt := models.RefreshToken{UserID: userID, TokenHash: hashToken(token), ExpiresAt: time.Now().Add(refreshTokenTTL)}
	if err := db.WithContext(ctx).Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

func findRefreshTokenByRaw(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}
