package storage

import "github.com/redis/go-redis/v9"

// Scripts return integers only. Redis truncates Lua numbers in replies, so
// the oldest score is reported as -1 rather than nil when the record is empty.

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
  allowed = 1
end

local oldest = -1
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #first >= 2 then
  oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`)

var peekWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local oldest = -1
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #first >= 2 then
  oldest = tonumber(first[2])
end

return {count, oldest}
`)

// The node-local writes go through redis.pcall: an error there is dropped and
// the global decision stands.
var distributedScript = redis.NewScript(`
local global = KEYS[1]
local loc = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', global, '-inf', now - window)
local count = redis.call('ZCARD', global)

local allowed = 0
if count < limit then
  redis.call('ZADD', global, now, member)
  redis.call('PEXPIRE', global, window)
  allowed = 1

  redis.pcall('ZREMRANGEBYSCORE', loc, '-inf', now - window)
  redis.pcall('ZADD', loc, now, member)
  redis.pcall('PEXPIRE', loc, window)
end

local oldest = -1
local first = redis.call('ZRANGE', global, 0, 0, 'WITHSCORES')
if #first >= 2 then
  oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`)

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = burst
  last = now
end

local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
end
local refill = math.floor(elapsed * rate / window)
tokens = math.min(tokens + refill, burst)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last', ARGV[1])
redis.call('PEXPIRE', key, ttl)

return {allowed, tokens}
`)
