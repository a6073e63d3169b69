package stores

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/internal"
)

// Purpose separates challenge namespaces.
type Purpose string

const (
	PurposeEmailVerification Purpose = "verify"
	PurposePasswordReset     Purpose = "reset"
)

var (
	// ErrChallengeInvalid is returned for unknown or already-consumed challenges.
	ErrChallengeInvalid = autherr.New(autherr.ErrUnauthorized, "invalid or used challenge")
	// ErrChallengeExpired is returned for challenges past their expiry.
	ErrChallengeExpired = autherr.New(autherr.ErrExpired, "challenge expired")
)

// ChallengeStore issues and redeems challenges.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *ChallengeStore {
	if now == nil {
		now = time.Now
	}
	if prefix == "" {
		prefix = "ach"
	}
	return &ChallengeStore{redis: redisClient, prefix: prefix, now: now}
}

// KEYS[1] record key, KEYS[2] per-user pointer, ARGV[1] user id,
// ARGV[2] expires at (unix ms), ARGV[3] ttl ms, ARGV[4] record key prefix,
// ARGV[5] digest of the new token.
var issueScript = redis.NewScript(`
local previous = redis.call("GET", KEYS[2])
if previous then
	redis.call("DEL", ARGV[4] .. previous)
end
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "expires_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("SET", KEYS[2], ARGV[5], "PX", ARGV[3])
return 1
`)

// KEYS[1] record key, ARGV[1] now (unix ms), ARGV[2] pointer key prefix.
// Returns user id, -1 when missing, -2 when expired.
var consumeScript = redis.NewScript(`
local fields = redis.call("HMGET", KEYS[1], "user_id", "expires_at")
if not fields[1] then
	return -1
end
redis.call("DEL", KEYS[1])
redis.call("DEL", ARGV[2] .. fields[1])
if tonumber(fields[2]) <= tonumber(ARGV[1]) then
	return -2
end
return tonumber(fields[1])
`)

// Issue creates a challenge for userID valid for ttl and returns the
// plaintext token.
func (s *ChallengeStore) Issue(ctx context.Context, purpose Purpose, userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("invalid challenge ttl %v", ttl)
	}
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return "", autherr.Internal("generate challenge", err)
	}
	digest := internal.HashToken(token)

	err = issueScript.Run(ctx, s.redis,
		[]string{s.recordKey(purpose, digest), s.userKey(purpose, userID)},
		userID,
		s.now().Add(ttl).UnixMilli(),
		ttl.Milliseconds(),
		s.recordPrefix(purpose),
		digest,
	).Err()
	if err != nil {
		return "", autherr.Internal("store challenge", err)
	}
	return token, nil
}

// Consume redeems token and returns the user it was issued for.
func (s *ChallengeStore) Consume(ctx context.Context, purpose Purpose, token string) (int64, error) {
	if !internal.ValidOpaqueToken(token) {
		return 0, ErrChallengeInvalid
	}

	res, err := consumeScript.Run(ctx, s.redis,
		[]string{s.recordKey(purpose, internal.HashToken(token))},
		s.now().UnixMilli(),
		s.userPrefix(purpose),
	).Int64()
	if err != nil {
		return 0, autherr.Internal("consume challenge", err)
	}

	switch res {
	case -1:
		return 0, ErrChallengeInvalid
	case -2:
		return 0, ErrChallengeExpired
	}
	return res, nil
}

// Revoke drops the outstanding challenge of userID for purpose, if any.
func (s *ChallengeStore) Revoke(ctx context.Context, purpose Purpose, userID int64) error {
	userKey := s.userKey(purpose, userID)
	digest, err := s.redis.Get(ctx, userKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return autherr.Internal("revoke challenge", err)
	}
	if err := s.redis.Del(ctx, s.recordKey(purpose, digest), userKey).Err(); err != nil {
		return autherr.Internal("revoke challenge", err)
	}
	return nil
}

func (s *ChallengeStore) recordPrefix(p Purpose) string {
	return s.prefix + ":" + string(p) + ":t:"
}

func (s *ChallengeStore) userPrefix(p Purpose) string {
	return s.prefix + ":" + string(p) + ":u:"
}

func (s *ChallengeStore) recordKey(p Purpose, digest string) string {
	return s.recordPrefix(p) + digest
}

func (s *ChallengeStore) userKey(p Purpose, userID int64) string {
	return s.userPrefix(p) + strconv.FormatInt(userID, 10)
}
