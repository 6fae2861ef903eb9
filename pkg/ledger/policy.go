package ledger

import (
	"sort"
	"strings"

	"bankledger/models"
)

// CanInitiateMoneyMovement is the single status gate for deposit, withdraw,
// transfer and internal transfer.
func CanInitiateMoneyMovement(u *models.User) bool {
	return u != nil && u.Status == models.StatusActive
}

// PrimarySubAccount returns the user's earliest-created sub-account, which
// pays and receives inter-user transfers. Ties on CreatedAt go to the smaller id.
func PrimarySubAccount(subs []models.SubAccount) (models.SubAccount, bool) {
	if len(subs) == 0 {
		return models.SubAccount{}, false
	}
	best := subs[0]
	for _, s := range subs[1:] {
		if s.CreatedAt.Before(best.CreatedAt) || (s.CreatedAt.Equal(best.CreatedAt) && s.ID < best.ID) {
			best = s
		}
	}
	return best, true
}

var accountSeparators = strings.NewReplacer("-", "", " ", "")

// NormalizeAccountNumber strips the hyphens and spaces people type into account numbers.
func NormalizeAccountNumber(s string) string {
	return accountSeparators.Replace(strings.TrimSpace(s))
}

// MaskAccountNumber keeps the first and last four characters: 1234****5678.
// Numbers shorter than eight characters are fully masked.
func MaskAccountNumber(s string) string {
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// lockKeys sorts and dedupes keys so every caller acquires them in one global order.
func lockKeys(keys ...string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func subKey(id string) string  { return "sub:" + id }
func userKey(id string) string { return "user:" + id }
