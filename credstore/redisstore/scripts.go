package redisstore

import "github.com/redis/go-redis/v9"

// KEYS[1] step key. ARGV[1] candidate step.
const advanceStepScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "-1")
local step = tonumber(ARGV[1])
if step > cur then
  redis.call("SET", KEYS[1], ARGV[1])
  return 1
end
return 0
`

// KEYS[1] passkey hash. ARGV: expected, next, backed_up, last_used.
const advanceCounterScript = `
local cur = redis.call("HGET", KEYS[1], "sign_count")
if not cur then
  return -1
end
if tonumber(cur) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "sign_count", ARGV[2], "backed_up", ARGV[3], "last_used", ARGV[4])
return 1
`

var (
	advanceStepLua    = redis.NewScript(advanceStepScript)
	advanceCounterLua = redis.NewScript(advanceCounterScript)
)
