package refresh

import "github.com/redis/go-redis/v9"

// Token hash fields: id, user_id, lineage, created_at, expires_at,
// last_used, device, ip, revoked, revoked_at, revoke_reason, replaced_by.

// KEYS: user index, exp index, revoked index.
// ARGV: hash, id, user id, lineage, now, expires at, device, ip,
// max active, token prefix, lineage prefix, key ttl ms.
var createScript = redis.NewScript(`
local now = tonumber(ARGV[5])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now)
local evicted = 0
local max = tonumber(ARGV[9])
if max > 0 then
	while redis.call("ZCARD", KEYS[1]) >= max do
		local oldest = redis.call("ZPOPMIN", KEYS[1])
		local key = ARGV[10] .. oldest[1]
		if redis.call("HGET", key, "revoked") == "0" then
			redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[5], "revoke_reason", "evicted")
			redis.call("ZADD", KEYS[3], ARGV[5], oldest[1])
			evicted = evicted + 1
		end
	end
end

local key = ARGV[10] .. ARGV[1]
redis.call("HSET", key,
	"id", ARGV[2], "user_id", ARGV[3], "lineage", ARGV[4],
	"created_at", ARGV[5], "expires_at", ARGV[6], "last_used", ARGV[5],
	"device", ARGV[7], "ip", ARGV[8], "revoked", "0")
redis.call("PEXPIRE", key, ARGV[12])
redis.call("ZADD", KEYS[1], ARGV[6], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[6], ARGV[1])
local lineage = ARGV[11] .. ARGV[4]
redis.call("SADD", lineage, ARGV[1])
redis.call("PEXPIRE", lineage, ARGV[12])
return evicted
`)

// Result codes of rotateScript.
const (
	rotateNotFound = 0
	rotateInvalid  = 1
	rotateExpired  = 2
	rotateReuse    = 3
	rotateOK       = 4
)

// KEYS: old token, exp index, revoked index.
// ARGV: old hash, new hash, new id, now, new expires at, device, ip,
// token prefix, user prefix, lineage prefix, reuse grace ms, key ttl ms.
var rotateScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "user_id", "lineage", "expires_at", "revoked", "revoked_at", "revoke_reason", "device", "ip")
if not f[1] then
	return {0}
end
local now = tonumber(ARGV[4])
local user_key = ARGV[9] .. f[1]
local lineage_key = ARGV[10] .. f[2]

if f[4] == "1" then
	if f[6] == "rotated" and now - tonumber(f[5]) > tonumber(ARGV[11]) then
		local members = redis.call("SMEMBERS", lineage_key)
		local n = 0
		for _, h in ipairs(members) do
			local key = ARGV[8] .. h
			if redis.call("HGET", key, "revoked") == "0" then
				redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[4], "revoke_reason", "reuse")
				redis.call("ZREM", user_key, h)
				redis.call("ZADD", KEYS[3], ARGV[4], h)
				n = n + 1
			end
		end
		return {3, f[1], f[2], n}
	end
	return {1}
end
if tonumber(f[3]) <= now then
	return {2}
end

redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[4], "revoke_reason", "rotated", "replaced_by", ARGV[2], "last_used", ARGV[4])
redis.call("ZREM", user_key, ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])

local device = ARGV[6]
if device == "" then device = f[7] or "" end
local ip = ARGV[7]
if ip == "" then ip = f[8] or "" end

local key = ARGV[8] .. ARGV[2]
redis.call("HSET", key,
	"id", ARGV[3], "user_id", f[1], "lineage", f[2],
	"created_at", ARGV[4], "expires_at", ARGV[5], "last_used", ARGV[4],
	"device", device, "ip", ip, "revoked", "0")
redis.call("PEXPIRE", key, ARGV[12])
redis.call("ZADD", user_key, ARGV[5], ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[2])
redis.call("SADD", lineage_key, ARGV[2])
redis.call("PEXPIRE", lineage_key, ARGV[12])
return {4, f[1], f[2]}
`)

// KEYS: token, revoked index. ARGV: hash, now, user prefix.
var revokeScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "user_id", "revoked")
if not f[1] then
	return 0
end
if f[2] == "0" then
	redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[2], "revoke_reason", "revoked")
	redis.call("ZREM", ARGV[3] .. f[1], ARGV[1])
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
end
return 1
`)

// KEYS: user index, revoked index. ARGV: now, token prefix.
var revokeAllScript = redis.NewScript(`
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
local n = 0
for _, h in ipairs(members) do
	local key = ARGV[2] .. h
	if redis.call("HGET", key, "revoked") == "0" then
		redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[1], "revoke_reason", "revoked")
		redis.call("ZADD", KEYS[2], ARGV[1], h)
		n = n + 1
	end
end
redis.call("DEL", KEYS[1])
return n
`)

// KEYS: exp index, revoked index.
// ARGV: now, revoked cutoff, batch, token prefix, user prefix, lineage prefix.
var cleanupScript = redis.NewScript(`
local function purge(h)
	local key = ARGV[4] .. h
	local f = redis.call("HMGET", key, "user_id", "lineage")
	if f[1] then
		redis.call("ZREM", ARGV[5] .. f[1], h)
	end
	if f[2] then
		redis.call("SREM", ARGV[6] .. f[2], h)
	end
	redis.call("DEL", key)
	redis.call("ZREM", KEYS[1], h)
	redis.call("ZREM", KEYS[2], h)
end

local batch = tonumber(ARGV[3])
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, batch)
for _, h in ipairs(expired) do
	purge(h)
end
local stale = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", "(" .. ARGV[2], "LIMIT", 0, batch)
for _, h in ipairs(stale) do
	purge(h)
end
return #expired + #stale
`)
