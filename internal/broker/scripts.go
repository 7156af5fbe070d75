package broker

import "github.com/redis/go-redis/v9"

// Lua scripts backing every multi-step transition in the message
// template. All of them are atomic at the Redis layer, following the
// pattern of the teacher's StartScheduler and Allow scripts: one
// redis.Script per operation, run with EVALSHA/EVAL under the hood.

// popReadyScript atomically pops the tail-most ready message and adds
// it to the processing set with a future visibility deadline. Returns
// the popped member, or false if the ready list was empty.
var popReadyScript = redis.NewScript(`
	local ready_key = KEYS[1]
	local processing_key = KEYS[2]
	local deadline = ARGV[1]

	local msg = redis.call('RPOP', ready_key)
	if not msg then
		return false
	end
	redis.call('ZADD', processing_key, deadline, msg)
	return msg
`)

// ackProcessingScript removes a message from the processing set.
// Idempotent: removing an absent member is a no-op.
var ackProcessingScript = redis.NewScript(`
	redis.call('ZREM', KEYS[1], ARGV[1])
	return 1
`)

// reEnqueueScript removes a message from the processing set and, based
// on whether a delay was requested, either pushes it to the ready list
// or schedules it on the delayed set. Tolerates the message already
// being absent from the processing set (e.g. the reaper raced it).
var reEnqueueScript = redis.NewScript(`
	local processing_key = KEYS[1]
	local ready_key = KEYS[2]
	local delayed_key = KEYS[3]
	local old_member = ARGV[1]
	local new_member = ARGV[2]
	local delay_ms = tonumber(ARGV[3])
	local process_at = tonumber(ARGV[4])

	redis.call('ZREM', processing_key, old_member)
	if delay_ms > 0 then
		redis.call('ZADD', delayed_key, process_at, new_member)
	else
		redis.call('LPUSH', ready_key, new_member)
	end
	return 1
`)

// moveToDLQScript removes a message from the processing set and pushes
// it onto the dead-letter list. Tolerates the message already being
// absent from the processing set.
var moveToDLQScript = redis.NewScript(`
	local processing_key = KEYS[1]
	local dlq_key = KEYS[2]
	local old_member = ARGV[1]
	local new_member = ARGV[2]

	redis.call('ZREM', processing_key, old_member)
	redis.call('RPUSH', dlq_key, new_member)
	return 1
`)

// promoteDelayedScript atomically moves every delayed-set entry due by
// now into the ready list, preserving score order.
var promoteDelayedScript = redis.NewScript(`
	local delayed_key = KEYS[1]
	local ready_key = KEYS[2]
	local now = ARGV[1]
	local limit = tonumber(ARGV[2])

	local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now, 'LIMIT', 0, limit)
	if #due == 0 then
		return 0
	end
	for _, member in ipairs(due) do
		redis.call('ZREM', delayed_key, member)
		redis.call('LPUSH', ready_key, member)
	end
	return #due
`)

// reapProcessingScript atomically moves every processing-set entry
// whose visibility deadline has passed back onto the ready list, and
// increments retryCount in each message's metadata hash in the same
// script invocation so the state machine's concurrent increments never
// race and no message can be acked between the read and the write. The
// message ID is pulled out of the serialized JSON by pattern rather
// than a full JSON decode, since Message always encodes "id" as its
// first field.
var reapProcessingScript = redis.NewScript(`
	local processing_key = KEYS[1]
	local ready_key = KEYS[2]
	local now = ARGV[1]
	local limit = tonumber(ARGV[2])

	local stale = redis.call('ZRANGEBYSCORE', processing_key, '-inf', now, 'LIMIT', 0, limit)
	if #stale == 0 then
		return 0
	end
	for _, member in ipairs(stale) do
		redis.call('ZREM', processing_key, member)
		redis.call('LPUSH', ready_key, member)
		local id = string.match(member, '"id":"([^"]+)"')
		if id then
			redis.call('HINCRBY', id .. ':meta', 'retry_count', 1)
		end
	end
	return #stale
`)

// incrRetryCountScript increments the retryCount field of a message
// metadata hash and returns the new value. Used by the retry/DLQ state
// machine; the reaper runs the same HINCRBY inside
// reapProcessingScript, so concurrent writers never lose an increment.
var incrRetryCountScript = redis.NewScript(`
	return redis.call('HINCRBY', KEYS[1], 'retry_count', 1)
`)

// tokenBucketScript implements a Lua token-bucket rate limiter,
// adapted from the teacher's Client.Allow.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(redis.call('HGET', key, 'tokens'))
	local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

	if not tokens then
		tokens = burst
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local new_tokens = math.min(burst, tokens + (delta * rate))

	if new_tokens >= requested then
		new_tokens = new_tokens - requested
		redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
		return 1
	else
		redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
		return 0
	end
`)

// bulkMoveZSetToZSetScript moves up to limit entries from one sorted
// set to another, optionally pinning a fixed score instead of
// preserving the source score. Backs the admin bulk-move contract of
// spec.md §4.1.
var bulkMoveZSetToZSetScript = redis.NewScript(`
	local src = KEYS[1]
	local dst = KEYS[2]
	local limit = tonumber(ARGV[1])
	local use_fixed_score = ARGV[2]
	local fixed_score = tonumber(ARGV[3])

	local entries = redis.call('ZRANGE', src, 0, limit - 1, 'WITHSCORES')
	local moved = 0
	for i = 1, #entries, 2 do
		local member = entries[i]
		local score = entries[i + 1]
		if use_fixed_score == '1' then
			score = fixed_score
		end
		redis.call('ZADD', dst, score, member)
		redis.call('ZREM', src, member)
		moved = moved + 1
	end
	return moved
`)

// bulkMoveZSetToListScript moves up to limit entries from a sorted set
// to a list, dropping the score.
var bulkMoveZSetToListScript = redis.NewScript(`
	local src = KEYS[1]
	local dst = KEYS[2]
	local limit = tonumber(ARGV[1])

	local entries = redis.call('ZRANGE', src, 0, limit - 1)
	local moved = 0
	for _, member in ipairs(entries) do
		redis.call('RPUSH', dst, member)
		redis.call('ZREM', src, member)
		moved = moved + 1
	end
	return moved
`)

// bulkMoveListToListScript moves up to limit entries between two
// lists, from the head of src to the tail of dst.
var bulkMoveListToListScript = redis.NewScript(`
	local src = KEYS[1]
	local dst = KEYS[2]
	local limit = tonumber(ARGV[1])

	local moved = 0
	for i = 1, limit do
		local v = redis.call('LPOP', src)
		if not v then
			break
		end
		redis.call('RPUSH', dst, v)
		moved = moved + 1
	end
	return moved
`)

// bulkMoveListToZSetScript moves up to limit entries from the head of
// a list into a sorted set with a fixed score.
var bulkMoveListToZSetScript = redis.NewScript(`
	local src = KEYS[1]
	local dst = KEYS[2]
	local limit = tonumber(ARGV[1])
	local fixed_score = tonumber(ARGV[2])

	local moved = 0
	for i = 1, limit do
		local v = redis.call('LPOP', src)
		if not v then
			break
		end
		redis.call('ZADD', dst, fixed_score, v)
		moved = moved + 1
	end
	return moved
`)
