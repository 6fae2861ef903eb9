package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"bankledger/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestConnectWithoutAddrDisablesCache(t *testing.T) {
	h, err := Connect(context.Background(), "", quiet)
	if err != nil || h != nil {
		t.Fatalf("Connect(\"\")=%v,%v want nil,nil", h, err)
	}
}

// Round trip against a real server; opt-in with REDIS_ADDR_TEST=host:port.
func TestHistoryRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("set REDIS_ADDR_TEST to run redis tests")
	}
	ctx := context.Background()
	h, err := Connect(ctx, addr, quiet)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	const user = "999988887777"
	_ = h.Invalidate(ctx, user)
	_, gen, ok := h.Get(ctx, user)
	if ok {
		t.Fatal("expected miss")
	}
	in := []models.Transaction{{ID: "t1", UserID: user, Type: models.TxDeposit, Amount: models.MustAmount("12.30"), Timestamp: 1}}
	h.Set(ctx, user, gen, in)
	out, _, ok := h.Get(ctx, user)
	if !ok || len(out) != 1 || out[0].Amount != in[0].Amount || out[0].Type != models.TxDeposit {
		t.Fatalf("got %+v,%v", out, ok)
	}
	if err := h.Invalidate(ctx, user); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := h.Get(ctx, user); ok {
		t.Fatal("expected miss after invalidate")
	}

	// a read that started before the invalidation must not be stored
	_, before, _ := h.Get(ctx, user)
	if err := h.Invalidate(ctx, user); err != nil {
		t.Fatal(err)
	}
	h.Set(ctx, user, before, in)
	if _, _, ok := h.Get(ctx, user); ok {
		t.Fatal("history from an older generation was cached")
	}
}
