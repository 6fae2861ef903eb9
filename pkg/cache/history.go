// Package cache keeps recently read transaction histories in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bankledger/models"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a history can be served after a missed invalidation.
const DefaultTTL = 30 * time.Second

// genTTL keeps a generation counter alive far longer than any read-then-set
// window, so an expired counter cannot resurrect an old generation mid-read.
const genTTL = 24 * time.Hour

// setIfCurrent stores the history only while the caller's generation is
// still the user's current one.
var setIfCurrent = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if (cur or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// History implements ledger.HistoryCache on a Redis client.
type History struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// Connect dials addr and pings it. An empty addr disables caching and returns
// a nil *History.
func Connect(ctx context.Context, addr string, log *slog.Logger) (*History, error) {
	if addr == "" {
		log.Warn("REDIS_ADDR is not set, history caching is disabled")
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	log.Info("connected to redis", "addr", addr)
	return NewHistory(rdb, DefaultTTL, log), nil
}

func NewHistory(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *History {
	return &History{rdb: rdb, ttl: ttl, log: log}
}

func key(userID string) string    { return "ledger:history:" + userID }
func genKey(userID string) string { return "ledger:history-gen:" + userID }

// Get returns the cached history, or on a miss the generation to hand back to Set.
func (h *History) Get(ctx context.Context, userID string) ([]models.Transaction, int64, bool) {
	vals, err := h.rdb.MGet(ctx, key(userID), genKey(userID)).Result()
	if err != nil {
		h.log.Error("redis MGET failed", "error", err, "user", userID)
		return nil, -1, false
	}
	var gen int64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			h.log.Warn("unreadable history generation", "user", userID, "error", err)
			return nil, -1, false
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}
	var txs []models.Transaction
	if err := json.Unmarshal([]byte(raw), &txs); err != nil {
		h.log.Warn("dropping unreadable cached history", "user", userID, "error", err)
		return nil, gen, false
	}
	return txs, gen, true
}

// Set stores txs unless the user was invalidated after gen was read. A
// negative gen never stores.
func (h *History) Set(ctx context.Context, userID string, gen int64, txs []models.Transaction) {
	if gen < 0 {
		return
	}
	raw, err := json.Marshal(txs)
	if err != nil {
		h.log.Error("encode history", "error", err, "user", userID)
		return
	}
	keys := []string{key(userID), genKey(userID)}
	stored, err := setIfCurrent.Run(ctx, h.rdb, keys, strconv.FormatInt(gen, 10), raw, h.ttl.Milliseconds()).Int()
	if err != nil {
		h.log.Error("redis history SET failed", "error", err, "user", userID)
		return
	}
	if stored == 0 {
		h.log.Debug("history changed while reading, not cached", "user", userID)
	}
}

// Invalidate drops the cached histories and bumps their generations in one
// MULTI, so an in-flight Set for the old generation is refused.
func (h *History) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range userIDs {
			p.Del(ctx, key(id))
			p.Incr(ctx, genKey(id))
			p.Expire(ctx, genKey(id), genTTL)
		}
		return nil
	})
	return err
}

func (h *History) Close() error { return h.rdb.Close() }
