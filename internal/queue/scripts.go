// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import "github.com/redis/go-redis/v9"

// All state transitions run as Lua scripts so concurrent workers and a
// crashing process can never leave a job in two sets at once. Timestamps are
// always computed in Go and passed as ARGV; scripts never read the clock.

// scriptAdd inserts a job unless the id already exists in a non-terminal
// state. Terminal records are replaced (a rerun of the same id).
//
// KEYS: 1 job hash, 2 wait, 3 prioritized, 4 delayed, 5 completed, 6 failed, 7 seq
// ARGV: 1 id, 2 name, 3 data, 4 now ms, 5 maxAttempts, 6 priority, 7 delay ms
// Returns 1 when inserted, 0 on dedup no-op.
var scriptAdd = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state and state ~= 'complete' and state ~= 'failed' then
  return 0
end
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[6], ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'name', ARGV[2], 'data', ARGV[3], 'timestamp', ARGV[4],
  'attemptsMade', 0, 'maxAttempts', ARGV[5], 'priority', ARGV[6],
  'state', 'queued', 'progress', 0)
local delay = tonumber(ARGV[7])
local priority = tonumber(ARGV[6])
if delay > 0 then
  redis.call('ZADD', KEYS[4], tonumber(ARGV[4]) + delay, ARGV[1])
elseif priority > 0 then
  local seq = redis.call('INCR', KEYS[7])
  redis.call('ZADD', KEYS[3], priority * 4294967296 + seq, ARGV[1])
else
  redis.call('LPUSH', KEYS[2], ARGV[1])
end
return 1
`)

// scriptMoveToActive pops the next runnable job. Standard FIFO jobs go
// before prioritized ones; among prioritized, the lowest score wins.
//
// KEYS: 1 wait, 2 prioritized, 3 active
// ARGV: 1 key prefix, 2 now ms
// Returns the job id or nil.
var scriptMoveToActive = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
  local popped = redis.call('ZPOPMIN', KEYS[2])
  if popped and #popped > 0 then
    id = popped[1]
  end
end
if not id then
  return false
end
redis.call('LPUSH', KEYS[3], id)
redis.call('HSET', ARGV[1] .. id, 'state', 'processing', 'processedOn', ARGV[2])
return id
`)

// scriptPromoteDelayed moves due delayed jobs into their run set.
//
// KEYS: 1 delayed, 2 wait, 3 prioritized, 4 seq
// ARGV: 1 now ms, 2 key prefix
// Returns the number of promoted jobs.
var scriptPromoteDelayed = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  local priority = tonumber(redis.call('HGET', ARGV[2] .. id, 'priority') or '0')
  if priority > 0 then
    local seq = redis.call('INCR', KEYS[4])
    redis.call('ZADD', KEYS[3], priority * 4294967296 + seq, id)
  else
    redis.call('LPUSH', KEYS[2], id)
  end
  redis.call('HSET', ARGV[2] .. id, 'state', 'queued')
end
return #due
`)

// scriptMoveToCompleted records success and applies completed retention.
//
// KEYS: 1 active, 2 completed, 3 job hash
// ARGV: 1 id, 2 returnvalue, 3 now ms, 4 keep count, 5 keep age ms, 6 key prefix
var scriptMoveToCompleted = redis.NewScript(`
redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('HSET', KEYS[3], 'state', 'complete', 'returnvalue', ARGV[2],
  'finishedOn', ARGV[3], 'progress', 100)
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[1])
local maxAge = tonumber(ARGV[5])
if maxAge > 0 then
  local old = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', tonumber(ARGV[3]) - maxAge)
  for _, oid in ipairs(old) do
    redis.call('DEL', ARGV[6] .. oid)
    redis.call('ZREM', KEYS[2], oid)
  end
end
local maxCount = tonumber(ARGV[4])
if maxCount > 0 then
  local n = redis.call('ZCARD', KEYS[2])
  if n > maxCount then
    local drop = redis.call('ZRANGE', KEYS[2], 0, n - maxCount - 1)
    for _, oid in ipairs(drop) do
      redis.call('DEL', ARGV[6] .. oid)
      redis.call('ZREM', KEYS[2], oid)
    end
  end
end
return 1
`)

// scriptMoveToFailed retries with backoff while attempts remain, else
// records a terminal failure and applies failed retention. A force flag
// skips the retry branch for unrecoverable failures.
//
// KEYS: 1 active, 2 delayed, 3 failed, 4 job hash
// ARGV: 1 id, 2 failedReason, 3 now ms, 4 backoff base ms, 5 backoff type,
//       6 keep count, 7 keep age ms, 8 key prefix, 9 force terminal
// Returns 1 when the failure is terminal, 0 when the job will retry.
var scriptMoveToFailed = redis.NewScript(`
redis.call('LREM', KEYS[1], 1, ARGV[1])
local attempts = tonumber(redis.call('HINCRBY', KEYS[4], 'attemptsMade', 1))
local max = tonumber(redis.call('HGET', KEYS[4], 'maxAttempts') or '1')
redis.call('HSET', KEYS[4], 'failedReason', ARGV[2])
if attempts < max and tonumber(ARGV[9]) ~= 1 then
  local delay = tonumber(ARGV[4])
  if ARGV[5] == 'exponential' then
    delay = delay * 2 ^ (attempts - 1)
  end
  redis.call('HSET', KEYS[4], 'state', 'queued')
  redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + delay, ARGV[1])
  return 0
end
redis.call('HSET', KEYS[4], 'state', 'failed', 'finishedOn', ARGV[3])
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]), ARGV[1])
local maxAge = tonumber(ARGV[7])
if maxAge > 0 then
  local old = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', tonumber(ARGV[3]) - maxAge)
  for _, oid in ipairs(old) do
    redis.call('DEL', ARGV[8] .. oid)
    redis.call('ZREM', KEYS[3], oid)
  end
end
local maxCount = tonumber(ARGV[6])
if maxCount > 0 then
  local n = redis.call('ZCARD', KEYS[3])
  if n > maxCount then
    local drop = redis.call('ZRANGE', KEYS[3], 0, n - maxCount - 1)
    for _, oid in ipairs(drop) do
      redis.call('DEL', ARGV[8] .. oid)
      redis.call('ZREM', KEYS[3], oid)
    end
  end
end
return 1
`)

// scriptRecoverActive requeues jobs left in the active list by a previous
// process. Recovered jobs land at the tail of wait so they run next.
//
// KEYS: 1 active, 2 wait
// ARGV: 1 key prefix
// Returns the number of recovered jobs.
var scriptRecoverActive = redis.NewScript(`
local n = 0
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    break
  end
  redis.call('RPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[1] .. id, 'state', 'queued')
  n = n + 1
end
return n
`)

// scriptRemove deletes a job from every set it may live in.
//
// KEYS: 1 wait, 2 prioritized, 3 delayed, 4 active, 5 completed, 6 failed, 7 job hash
// ARGV: 1 id
var scriptRemove = redis.NewScript(`
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('LREM', KEYS[4], 0, ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[6], ARGV[1])
return redis.call('DEL', KEYS[7])
`)
