package twofactor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the persisted 2FA configuration of one user.
type Record struct {
	UserID      int64
	Secret      string
	Enabled     bool
	CreatedAt   time.Time
	EnabledAt   time.Time
	LastUsed    time.Time
	LastCounter int64
}

// ConsumeResult is the outcome of a backup code consumption.
type ConsumeResult int

const (
	CodeNoMatch ConsumeResult = iota
	CodeConsumed
	CodeAlreadyUsed
)

// EnableResult is the outcome of a conditional enable.
type EnableResult int

const (
	EnableApplied EnableResult = iota
	EnableAlreadyEnabled
	EnableNotConfigured
	EnableSecretChanged
)

// Store persists 2FA state. Every mutating method must be atomic.
type Store interface {
	// Get returns ErrNotConfigured when no record exists.
	Get(ctx context.Context, userID int64) (Record, error)
	// SavePending replaces any disabled config. It reports false when
	// the user already has 2FA enabled.
	SavePending(ctx context.Context, userID int64, secret string, codeHashes []string, now time.Time) (bool, error)
	// MarkEnabled enables the config only while it still holds secret.
	MarkEnabled(ctx context.Context, userID int64, secret string, counter int64, now time.Time) (EnableResult, error)
	// Disable purges the secret and backup codes. It reports false when
	// 2FA was not enabled.
	Disable(ctx context.Context, userID int64) (bool, error)
	// AdvanceCounter records counter as used. It reports false when
	// counter is not newer than the last accepted step.
	AdvanceCounter(ctx context.Context, userID int64, counter int64, now time.Time) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID int64, codeHash string, now time.Time) (ConsumeResult, error)
	// ReplaceBackupCodes reports false when 2FA is not enabled.
	ReplaceBackupCodes(ctx context.Context, userID int64, codeHashes []string) (bool, error)
	BackupCodeCounts(ctx context.Context, userID int64) (remaining, used int, err error)
}

// RedisStore keeps each config in a hash and its backup code digests in
// a second hash mapping digest to "0" (unused) or "1" (used).
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses "a2f".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "a2f"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

var savePendingScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "enabled") == "1" then
	return 0
end
redis.call("DEL", KEYS[1], KEYS[2])
redis.call("HSET", KEYS[1], "secret", ARGV[1], "enabled", "0", "created_at", ARGV[2], "last_counter", "-1")
for i = 3, #ARGV do
	redis.call("HSET", KEYS[2], ARGV[i], "0")
end
return 1
`)

var markEnabledScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "secret", "enabled")
if not f[1] or f[1] == "" then
	return 2
end
if f[2] == "1" then
	return 1
end
if f[1] ~= ARGV[1] then
	return 3
end
redis.call("HSET", KEYS[1], "enabled", "1", "enabled_at", ARGV[3], "last_used", ARGV[3], "last_counter", ARGV[2])
return 0
`)

var disableScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "enabled") ~= "1" then
	return 0
end
redis.call("HSET", KEYS[1], "enabled", "0", "secret", "", "last_counter", "-1")
redis.call("HDEL", KEYS[1], "enabled_at")
redis.call("DEL", KEYS[2])
return 1
`)

var advanceCounterScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "enabled", "last_counter")
if f[1] ~= "1" then
	return 0
end
if tonumber(f[2] or "-1") >= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "last_counter", ARGV[1], "last_used", ARGV[2])
return 1
`)

var consumeBackupScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "enabled") ~= "1" then
	return 0
end
local v = redis.call("HGET", KEYS[2], ARGV[1])
if not v then
	return 0
end
if v == "1" then
	return 2
end
redis.call("HSET", KEYS[2], ARGV[1], "1")
redis.call("HSET", KEYS[1], "last_used", ARGV[2])
return 1
`)

var replaceCodesScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "enabled") ~= "1" then
	return 0
end
redis.call("DEL", KEYS[2])
for i = 1, #ARGV do
	redis.call("HSET", KEYS[2], ARGV[i], "0")
end
return 1
`)

func (s *RedisStore) Get(ctx context.Context, userID int64) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.configKey(userID)).Result()
	if err != nil {
		return Record{}, err
	}
	if len(fields) == 0 {
		return Record{}, ErrNotConfigured
	}

	rec := Record{
		UserID:      userID,
		Secret:      fields["secret"],
		Enabled:     fields["enabled"] == "1",
		CreatedAt:   parseMillis(fields["created_at"]),
		EnabledAt:   parseMillis(fields["enabled_at"]),
		LastUsed:    parseMillis(fields["last_used"]),
		LastCounter: -1,
	}
	if v, err := strconv.ParseInt(fields["last_counter"], 10, 64); err == nil {
		rec.LastCounter = v
	}
	return rec, nil
}

func (s *RedisStore) SavePending(ctx context.Context, userID int64, secret string, codeHashes []string, now time.Time) (bool, error) {
	args := make([]interface{}, 0, len(codeHashes)+2)
	args = append(args, secret, now.UnixMilli())
	for _, h := range codeHashes {
		args = append(args, h)
	}
	res, err := savePendingScript.Run(ctx, s.redis, []string{s.configKey(userID), s.codesKey(userID)}, args...).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) MarkEnabled(ctx context.Context, userID int64, secret string, counter int64, now time.Time) (EnableResult, error) {
	res, err := markEnabledScript.Run(ctx, s.redis, []string{s.configKey(userID)}, secret, counter, now.UnixMilli()).Int()
	if err != nil {
		return 0, err
	}
	return EnableResult(res), nil
}

func (s *RedisStore) Disable(ctx context.Context, userID int64) (bool, error) {
	res, err := disableScript.Run(ctx, s.redis, []string{s.configKey(userID), s.codesKey(userID)}).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) AdvanceCounter(ctx context.Context, userID int64, counter int64, now time.Time) (bool, error) {
	res, err := advanceCounterScript.Run(ctx, s.redis, []string{s.configKey(userID)}, counter, now.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) ConsumeBackupCode(ctx context.Context, userID int64, codeHash string, now time.Time) (ConsumeResult, error) {
	res, err := consumeBackupScript.Run(ctx, s.redis, []string{s.configKey(userID), s.codesKey(userID)}, codeHash, now.UnixMilli()).Int()
	if err != nil {
		return CodeNoMatch, err
	}
	switch res {
	case 1:
		return CodeConsumed, nil
	case 2:
		return CodeAlreadyUsed, nil
	default:
		return CodeNoMatch, nil
	}
}

func (s *RedisStore) ReplaceBackupCodes(ctx context.Context, userID int64, codeHashes []string) (bool, error) {
	args := make([]interface{}, len(codeHashes))
	for i, h := range codeHashes {
		args[i] = h
	}
	res, err := replaceCodesScript.Run(ctx, s.redis, []string{s.configKey(userID), s.codesKey(userID)}, args...).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) BackupCodeCounts(ctx context.Context, userID int64) (int, int, error) {
	vals, err := s.redis.HVals(ctx, s.codesKey(userID)).Result()
	if err != nil {
		return 0, 0, err
	}
	var remaining, used int
	for _, v := range vals {
		if v == "1" {
			used++
		} else {
			remaining++
		}
	}
	return remaining, used, nil
}

func (s *RedisStore) configKey(userID int64) string {
	return fmt.Sprintf("%s:cfg:%d", s.prefix, userID)
}

func (s *RedisStore) codesKey(userID int64) string {
	return fmt.Sprintf("%s:codes:%d", s.prefix, userID)
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
