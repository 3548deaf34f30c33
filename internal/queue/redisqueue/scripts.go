package redisqueue

import "github.com/redis/go-redis/v9"

// Every state change runs as one script so a job is never visible in two
// sets at once. Times are passed in from the caller as unix milliseconds.

// KEYS: job, waiting, delayed
// ARGV: id, order_id, max_attempts, now, process_at
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local now = tonumber(ARGV[4])
local process_at = tonumber(ARGV[5])
local state = "waiting"
if process_at > now then
  state = "delayed"
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "order_id", ARGV[2], "attempts_made", 0,
  "max_attempts", ARGV[3], "state", state,
  "created_at", now, "process_at", process_at)
if state == "delayed" then
  redis.call("ZADD", KEYS[3], process_at, ARGV[1])
else
  redis.call("LPUSH", KEYS[2], ARGV[1])
end
return 1
`)

// promoteLua moves due delayed jobs to waiting. Expects KEYS[1]=waiting,
// KEYS[2]=delayed and locals now, job_prefix.
const promoteLua = `
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[2], id)
  redis.call("HSET", job_prefix .. id, "state", "waiting")
  redis.call("LPUSH", KEYS[1], id)
end
`

// trimLua caps a finished list. Expects list_key, keep, job_prefix.
const trimLua = `
local function trim(list_key, keep)
  while redis.call("LLEN", list_key) > keep do
    local old = redis.call("RPOP", list_key)
    redis.call("DEL", job_prefix .. old)
  end
end
`

// KEYS: waiting, delayed, active
// ARGV: now, lease_ms, token, job_prefix
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local job_prefix = ARGV[4]
` + promoteLua + `
local id = redis.call("RPOP", KEYS[1])
if not id then
  return false
end
redis.call("HSET", job_prefix .. id, "state", "active", "token", ARGV[3])
redis.call("ZADD", KEYS[3], now + tonumber(ARGV[2]), id)
return id
`)

// KEYS: job, active, completed
// ARGV: id, token, now, keep, job_prefix
var completeScript = redis.NewScript(`
local job_prefix = ARGV[5]
` + trimLua + `
if redis.call("HGET", KEYS[1], "token") ~= ARGV[2] or not redis.call("ZSCORE", KEYS[2], ARGV[1]) then
  return -1
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[1], "token")
redis.call("HSET", KEYS[1], "state", "completed", "finished_at", ARGV[3])
redis.call("LPUSH", KEYS[3], ARGV[1])
trim(KEYS[3], tonumber(ARGV[4]))
return 1
`)

// failLua counts one attempt for id and moves it to delayed or failed.
// Returns 1 when the job ran out of attempts.
const failLua = `
local function fail(id, reason, now, backoff_ms, keep, delayed_key, failed_key)
  local key = job_prefix .. id
  local attempts = redis.call("HINCRBY", key, "attempts_made", 1)
  local max = tonumber(redis.call("HGET", key, "max_attempts"))
  redis.call("HDEL", key, "token")
  redis.call("HSET", key, "failed_reason", reason)
  if attempts < max then
    redis.call("HSET", key, "state", "delayed", "process_at", now + backoff_ms)
    redis.call("ZADD", delayed_key, now + backoff_ms, id)
    return 0
  end
  redis.call("HSET", key, "state", "failed", "finished_at", now)
  redis.call("LPUSH", failed_key, id)
  trim(failed_key, keep)
  return 1
end
`

// KEYS: job, active, delayed, failed
// ARGV: id, token, now, reason, backoff_ms, keep, job_prefix
var failScript = redis.NewScript(`
local job_prefix = ARGV[7]
` + trimLua + failLua + `
if redis.call("HGET", KEYS[1], "token") ~= ARGV[2] or not redis.call("ZSCORE", KEYS[2], ARGV[1]) then
  return -1
end
redis.call("ZREM", KEYS[2], ARGV[1])
return fail(ARGV[1], ARGV[4], tonumber(ARGV[3]), tonumber(ARGV[5]), tonumber(ARGV[6]), KEYS[3], KEYS[4])
`)

// A lost lease counts as an attempt and is retried without backoff.
//
// KEYS: waiting, delayed, active, failed
// ARGV: now, keep, job_prefix
// Returns the ids that ran out of attempts.
var maintainScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local job_prefix = ARGV[3]
` + trimLua + failLua + promoteLua + `
local exhausted = {}
local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", now)
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[3], id)
  if fail(id, "lease expired", now, 0, tonumber(ARGV[2]), KEYS[2], KEYS[4]) == 1 then
    table.insert(exhausted, id)
  else
    redis.call("ZREM", KEYS[2], id)
    redis.call("HSET", job_prefix .. id, "state", "waiting", "process_at", now)
    redis.call("LPUSH", KEYS[1], id)
  end
end
return exhausted
`)
