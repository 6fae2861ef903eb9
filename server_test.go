package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"bankledger/pkg/ledger"
	"bankledger/pkg/ledger/ledgertest"

	"github.com/gin-gonic/gin"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewBuffer(b)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("test-secret")
	db = ledgertest.OpenDB(t)
	engine = ledger.New(db, ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	seedDB()
	r := gin.New()
	setupRoutes(r)
	return r
}

func mustStatus(t *testing.T, rec *httptest.ResponseRecorder, want int, what string) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("%s: status=%d want=%d body=%s", what, rec.Code, want, rec.Body.String())
	}
}

func register(t *testing.T, r http.Handler, login, initial string) string {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/register", jsonBody(map[string]string{
		"loginId": login, "password": "secret1", "realName": login, "initialDeposit": initial,
	}), "")
	mustStatus(t, resp, http.StatusOK, "register "+login)
	var out struct {
		AccountNumber string `json:"accountNumber"`
	}
	decode(t, resp, &out)
	return out.AccountNumber
}

func login(t *testing.T, r http.Handler, loginID, password string) string {
	t.Helper()
	resp := performRequest(r, http.MethodPost, "/login", jsonBody(map[string]string{"loginId": loginID, "password": password}), "")
	mustStatus(t, resp, http.StatusOK, "login "+loginID)
	var out struct {
		Token string `json:"token"`
	}
	decode(t, resp, &out)
	if out.Token == "" {
		t.Fatalf("empty token in login response: %s", resp.Body.String())
	}
	return out.Token
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)

	// 1. Register two customers; a second registration of the same login conflicts
	alice := register(t, r, "alice", "100")
	bob := register(t, r, "bob", "0")
	resp := performRequest(r, http.MethodPost, "/register", jsonBody(map[string]string{
		"loginId": "alice", "password": "secret1", "realName": "again",
	}), "")
	mustStatus(t, resp, http.StatusConflict, "duplicate register")

	// 2. Login
	resp = performRequest(r, http.MethodPost, "/login", jsonBody(map[string]string{"loginId": "alice", "password": "wrong!"}), "")
	mustStatus(t, resp, http.StatusUnauthorized, "bad password")
	token := login(t, r, "alice", "secret1")

	// 3. Overview
	resp = performRequest(r, http.MethodGet, "/me", nil, token)
	mustStatus(t, resp, http.StatusOK, "me")
	var me struct {
		TotalBalance string `json:"totalBalance"`
		SubAccounts  []struct {
			ID string
		} `json:"subAccounts"`
	}
	decode(t, resp, &me)
	if me.TotalBalance != "100.00" || len(me.SubAccounts) != 1 {
		t.Fatalf("unexpected overview %s", resp.Body.String())
	}
	mainSub := me.SubAccounts[0].ID

	// 4. Deposit; sub-cent precision is refused
	resp = performRequest(r, http.MethodPost, "/deposit", jsonBody(map[string]any{"subAccountId": mainSub, "amount": "50"}), token)
	mustStatus(t, resp, http.StatusOK, "deposit")
	resp = performRequest(r, http.MethodPost, "/deposit", jsonBody(map[string]any{"subAccountId": mainSub, "amount": "0.001"}), token)
	mustStatus(t, resp, http.StatusBadRequest, "deposit 0.001")
	resp = performRequest(r, http.MethodPost, "/withdraw", jsonBody(map[string]any{"subAccountId": mainSub, "amount": "1000"}), token)
	mustStatus(t, resp, http.StatusBadRequest, "overdraw")

	// 5. Transfer
	resp = performRequest(r, http.MethodPost, "/transfer", jsonBody(map[string]any{"toAccountNumber": "000000000000", "amount": "1"}), token)
	mustStatus(t, resp, http.StatusNotFound, "transfer to unknown")
	resp = performRequest(r, http.MethodPost, "/transfer", jsonBody(map[string]any{"toAccountNumber": bob, "amount": "30", "saveAsFavorite": true}), token)
	mustStatus(t, resp, http.StatusOK, "transfer")

	// 6. History, newest first
	resp = performRequest(r, http.MethodGet, "/transactions", nil, token)
	mustStatus(t, resp, http.StatusOK, "transactions")
	var txs []struct {
		Type   string
		Amount string
	}
	decode(t, resp, &txs)
	if len(txs) != 3 || txs[0].Type != "transfer_out" || txs[0].Amount != "-30.00" {
		t.Fatalf("unexpected history %s", resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/favorites", nil, token)
	mustStatus(t, resp, http.StatusOK, "favorites")
	var favs []map[string]any
	decode(t, resp, &favs)
	if len(favs) != 1 || favs[0]["accountNumber"] != bob {
		t.Fatalf("unexpected favorites %s", resp.Body.String())
	}

	// 7. Protected routes
	mustStatus(t, performRequest(r, http.MethodGet, "/me", nil, ""), http.StatusUnauthorized, "no token")
	mustStatus(t, performRequest(r, http.MethodGet, "/admin/users", nil, token), http.StatusForbidden, "customer on admin route")

	// 8. Admin freezes alice
	adminToken := login(t, r, "admin", "admin123")
	resp = performRequest(r, http.MethodGet, "/admin/users", nil, adminToken)
	mustStatus(t, resp, http.StatusOK, "admin users")
	var users []map[string]any
	decode(t, resp, &users)
	if len(users) != 2 {
		t.Fatalf("admin should see 2 customers: %s", resp.Body.String())
	}
	resp = performRequest(r, http.MethodPut, "/admin/users/"+alice+"/status", nil, adminToken)
	mustStatus(t, resp, http.StatusOK, "freeze")
	resp = performRequest(r, http.MethodPost, "/deposit", jsonBody(map[string]any{"subAccountId": mainSub, "amount": "1"}), token)
	mustStatus(t, resp, http.StatusForbidden, "frozen deposit")
	resp = performRequest(r, http.MethodPost, "/login", jsonBody(map[string]string{"loginId": "alice", "password": "secret1"}), "")
	mustStatus(t, resp, http.StatusForbidden, "frozen login")

	// 9. Customer removal
	resp = performRequest(r, http.MethodDelete, "/admin/users/"+bob, nil, adminToken)
	mustStatus(t, resp, http.StatusOK, "delete bob")
	resp = performRequest(r, http.MethodGet, "/admin/transactions?limit=2", nil, adminToken)
	mustStatus(t, resp, http.StatusOK, "admin transactions")
	decode(t, resp, &txs)
	if len(txs) != 2 || txs[0].Type != "transfer_out" {
		t.Fatalf("unexpected admin log %s", resp.Body.String())
	}
}

func TestSubAccountRoutes(t *testing.T) {
	r := setupTestServer(t)
	register(t, r, "carol", "20")
	token := login(t, r, "carol", "secret1")

	resp := performRequest(r, http.MethodPost, "/sub-accounts", jsonBody(map[string]string{"name": "Savings"}), token)
	mustStatus(t, resp, http.StatusOK, "create sub-account")
	var savings struct {
		ID    string
		Color string
	}
	decode(t, resp, &savings)
	if savings.Color != "#3b82f6" {
		t.Fatalf("default color not applied: %s", resp.Body.String())
	}

	resp = performRequest(r, http.MethodGet, "/me", nil, token)
	var me struct {
		SubAccounts []struct{ ID string } `json:"subAccounts"`
	}
	decode(t, resp, &me)
	mainSub := me.SubAccounts[0].ID

	resp = performRequest(r, http.MethodPost, "/sub-accounts/transfer", jsonBody(map[string]any{
		"fromSubAccountId": mainSub, "toSubAccountId": savings.ID, "amount": "20",
	}), token)
	mustStatus(t, resp, http.StatusOK, "internal transfer")

	resp = performRequest(r, http.MethodDelete, "/sub-accounts/"+savings.ID, nil, token)
	mustStatus(t, resp, http.StatusBadRequest, "delete non-empty")
	resp = performRequest(r, http.MethodDelete, "/sub-accounts/"+mainSub, nil, token)
	mustStatus(t, resp, http.StatusOK, "delete emptied main")
	resp = performRequest(r, http.MethodDelete, "/sub-accounts/"+savings.ID, nil, token)
	mustStatus(t, resp, http.StatusBadRequest, "delete last")
	var out struct {
		Code string `json:"code"`
	}
	decode(t, resp, &out)
	if out.Code != string(ledger.KindLastAccountProtected) {
		t.Fatalf("code=%q", out.Code)
	}
}

func TestRefreshRotation(t *testing.T) {
	r := setupTestServer(t)
	register(t, r, "carol", "0")

	resp := performRequest(r, http.MethodPost, "/login", jsonBody(map[string]string{"loginId": "carol", "password": "secret1"}), "")
	mustStatus(t, resp, http.StatusOK, "login")
	var tokens struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, resp, &tokens)
	first := tokens.RefreshToken

	resp = performRequest(r, http.MethodPost, "/refresh", jsonBody(map[string]string{"refresh_token": first}), "")
	mustStatus(t, resp, http.StatusOK, "refresh")
	decode(t, resp, &tokens)
	if tokens.RefreshToken == "" || tokens.RefreshToken == first {
		t.Fatalf("refresh token not rotated: %s", resp.Body.String())
	}
	mustStatus(t, performRequest(r, http.MethodGet, "/me", nil, tokens.Token), http.StatusOK, "me with refreshed token")

	// the rotated-out token is dead
	resp = performRequest(r, http.MethodPost, "/refresh", jsonBody(map[string]string{"refresh_token": first}), "")
	mustStatus(t, resp, http.StatusUnauthorized, "reuse old refresh token")

	resp = performRequest(r, http.MethodPost, "/revoke_refresh", jsonBody(map[string]string{"refresh_token": tokens.RefreshToken}), "")
	mustStatus(t, resp, http.StatusOK, "revoke")
	resp = performRequest(r, http.MethodPost, "/refresh", jsonBody(map[string]string{"refresh_token": tokens.RefreshToken}), "")
	mustStatus(t, resp, http.StatusUnauthorized, "refresh after revoke")
}
