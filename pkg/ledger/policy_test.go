package ledger

import (
	"sync"
	"testing"
	"time"

	"bankledger/models"
)

func TestMaskAccountNumber(t *testing.T) {
	tests := map[string]string{
		"123456781234": "1234****1234",
		"12345678":     "1234****5678",
		"1234567":      "****",
		"":             "****",
	}
	for in, want := range tests {
		if got := MaskAccountNumber(in); got != want {
			t.Errorf("MaskAccountNumber(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestNormalizeAccountNumber(t *testing.T) {
	if got := NormalizeAccountNumber(" 1234-5678 1234 "); got != "123456781234" {
		t.Fatalf("got %q", got)
	}
}

func TestPrimarySubAccount(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := PrimarySubAccount(nil); ok {
		t.Fatal("empty list should have no primary")
	}
	got, _ := PrimarySubAccount([]models.SubAccount{
		{ID: "c", CreatedAt: t0.Add(time.Second)},
		{ID: "b", CreatedAt: t0},
		{ID: "a", CreatedAt: t0},
	})
	if got.ID != "a" {
		t.Fatalf("primary=%s want=a", got.ID)
	}
}

func TestCanInitiateMoneyMovement(t *testing.T) {
	if CanInitiateMoneyMovement(nil) {
		t.Fatal("nil user")
	}
	if CanInitiateMoneyMovement(&models.User{Status: models.StatusFrozen}) {
		t.Fatal("frozen user")
	}
	if !CanInitiateMoneyMovement(&models.User{Status: models.StatusActive}) {
		t.Fatal("active user")
	}
}

func TestErrorKinds(t *testing.T) {
	err := subAccountNotFound("x")
	if KindOf(err) != KindNotFound {
		t.Fatalf("kind=%q", KindOf(err))
	}
	if KindOf(errReplan) != "" {
		t.Fatal("infrastructure errors carry no kind")
	}
}

func TestKeyedLocker(t *testing.T) {
	l := newKeyedLocker()
	unlock := l.lock("sub:b", "sub:a", "sub:a")
	if l.size() != 2 {
		t.Fatalf("size=%d want=2", l.size())
	}
	unlock()
	if l.size() != 0 {
		t.Fatalf("size=%d want=0", l.size())
	}

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"x", "y"}
			if i%2 == 1 {
				keys = []string{"y", "x"}
			}
			unlock := l.lock(keys...)
			counter++
			unlock()
		}(i)
	}
	wg.Wait()
	if counter != 100 || l.size() != 0 {
		t.Fatalf("counter=%d size=%d", counter, l.size())
	}
}
