package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Template is the sole owner of Redis key-layout knowledge. Every
// higher-level component (scheduler, reaper, poller, state machine)
// reaches Redis exclusively through a Template; none of them hold a
// *redis.Client of their own.
type Template struct {
	rdb *redis.Client
}

// NewTemplate wraps an existing Redis client. The broker never opens
// its own connection pool: the composition root owns and shares one
// pool across every loop and worker, per spec.md §5.
func NewTemplate(rdb *redis.Client) *Template {
	return &Template{rdb: rdb}
}

// Raw returns the underlying client for operations the template
// doesn't wrap (health checks, Close, etc).
func (t *Template) Raw() *redis.Client { return t.rdb }

func encodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Enqueue pushes an immediate message to the ready list, or schedules
// it on the delayed set if ProcessAt is in the future.
func (t *Template) Enqueue(ctx context.Context, queue string, m Message) error {
	data, err := encodeMessage(m)
	if err != nil {
		return newCodecError(err)
	}
	if m.ProcessAt <= nowMillis() {
		if err := t.rdb.LPush(ctx, readyKey(queue), data).Err(); err != nil {
			return newInfraError(err)
		}
		return nil
	}
	if err := t.rdb.ZAdd(ctx, delayedKey(queue), redis.Z{
		Score:  float64(m.ProcessAt),
		Member: data,
	}).Err(); err != nil {
		return newInfraError(err)
	}
	return nil
}

// PopReady atomically pops a ready message and places it into the
// processing set with a visibility deadline of now+visibility. It
// overlays the authoritative retry count from the message's metadata
// hash (the reaper's HINCRBY target) onto the returned Message. The
// raw return value is the exact serialized form the caller must pass
// back into AckProcessing/ReEnqueue/MoveToDLQ.
func (t *Template) PopReady(ctx context.Context, queue string, visibility time.Duration) (msg Message, raw string, ok bool, err error) {
	deadline := nowMillis() + visibility.Milliseconds()
	res, err := popReadyScript.Run(ctx, t.rdb,
		[]string{readyKey(queue), processingKey(queue)},
		deadline,
	).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, "", false, nil
	}
	if err != nil {
		return Message{}, "", false, newInfraError(err)
	}
	raw, isString := res.(string)
	if !isString {
		return Message{}, "", false, nil
	}
	m, decErr := decodeMessage([]byte(raw))
	if decErr != nil {
		return Message{}, raw, true, newCodecError(decErr)
	}
	if count, gerr := t.rdb.HGet(ctx, metaKey(m.ID), "retry_count").Int(); gerr == nil {
		m.RetryCount = count
	}
	return m, raw, true, nil
}

// AckProcessing removes a message from the processing set. Idempotent.
func (t *Template) AckProcessing(ctx context.Context, queue string, raw string) error {
	if err := ackProcessingScript.Run(ctx, t.rdb, []string{processingKey(queue)}, raw).Err(); err != nil {
		return newInfraError(err)
	}
	return nil
}

// ReEnqueue removes the message (identified by its old raw form) from
// the processing set and re-adds the (possibly updated) message either
// to the ready list (delay<=0) or the delayed set (delay>0). Tolerates
// the old raw form already being absent (e.g. the reaper raced it).
func (t *Template) ReEnqueue(ctx context.Context, queue string, oldRaw string, m Message, delay time.Duration) error {
	newData, err := encodeMessage(m)
	if err != nil {
		return newCodecError(err)
	}
	processAt := nowMillis() + delay.Milliseconds()
	err = reEnqueueScript.Run(ctx, t.rdb,
		[]string{processingKey(queue), readyKey(queue), delayedKey(queue)},
		oldRaw, string(newData), delay.Milliseconds(), processAt,
	).Err()
	if err != nil {
		return newInfraError(err)
	}
	return nil
}

// MoveToDLQ removes the message from the processing set, stamps
// ReEnqueuedAt, and pushes it onto the named dead-letter list.
func (t *Template) MoveToDLQ(ctx context.Context, queue, dlq string, oldRaw string, m Message) error {
	m.ReEnqueuedAt = nowMillis()
	newData, err := encodeMessage(m)
	if err != nil {
		return newCodecError(err)
	}
	err = moveToDLQScript.Run(ctx, t.rdb,
		[]string{processingKey(queue), dlq},
		oldRaw, string(newData),
	).Err()
	if err != nil {
		return newInfraError(err)
	}
	return nil
}

// PromoteDelayed moves every delayed-set entry due by now onto the
// ready list, up to limit entries, preserving score order. Returns the
// number of entries promoted.
func (t *Template) PromoteDelayed(ctx context.Context, queue string, limit int64) (int64, error) {
	n, err := promoteDelayedScript.Run(ctx, t.rdb,
		[]string{delayedKey(queue), readyKey(queue)},
		nowMillis(), limit,
	).Int64()
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}

// EarliestDelayed returns the score (ms epoch) of the soonest-due
// delayed entry, and whether any entry exists.
func (t *Template) EarliestDelayed(ctx context.Context, queue string) (int64, bool, error) {
	res, err := t.rdb.ZRangeWithScores(ctx, delayedKey(queue), 0, 0).Result()
	if err != nil {
		return 0, false, newInfraError(err)
	}
	if len(res) == 0 {
		return 0, false, nil
	}
	return int64(res[0].Score), true, nil
}

// ReapProcessing moves every visibility-expired processing-set entry
// back onto the ready list, up to limit entries, and increments
// retryCount in each message's metadata hash, all within a single
// script invocation. Returns the number of messages reaped.
func (t *Template) ReapProcessing(ctx context.Context, queue string, limit int64) (int64, error) {
	n, err := reapProcessingScript.Run(ctx, t.rdb,
		[]string{processingKey(queue), readyKey(queue)},
		nowMillis(), limit,
	).Int64()
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}

// IncrRetryCount atomically increments the authoritative retry count
// for a message ID; the new value is not returned (read it with
// RetryCount). Used by the retry/DLQ state machine; the reaper
// increments the same field inside reapProcessingScript, so concurrent
// increments never lose an update.
func (t *Template) IncrRetryCount(ctx context.Context, messageID string) error {
	if err := incrRetryCountScript.Run(ctx, t.rdb, []string{metaKey(messageID)}).Err(); err != nil {
		return newInfraError(err)
	}
	return nil
}

// RetryCount reads the authoritative retry count for a message ID.
func (t *Template) RetryCount(ctx context.Context, messageID string) (int, error) {
	n, err := t.rdb.HGet(ctx, metaKey(messageID), "retry_count").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}

// SetRetryBudget records a per-message override of the queue's default
// retry budget, consulted by the retry/DLQ state machine in place of
// the mapping's NumRetries when present. Backs Producer.EnqueueWithRetry.
func (t *Template) SetRetryBudget(ctx context.Context, messageID string, numRetries int) error {
	if err := t.rdb.HSet(ctx, metaKey(messageID), "max_retries", numRetries).Err(); err != nil {
		return newInfraError(err)
	}
	return nil
}

// RetryBudget reads a per-message retry-budget override, if any.
func (t *Template) RetryBudget(ctx context.Context, messageID string) (n int, ok bool, err error) {
	n, ferr := t.rdb.HGet(ctx, metaKey(messageID), "max_retries").Int()
	if errors.Is(ferr, redis.Nil) {
		return 0, false, nil
	}
	if ferr != nil {
		return 0, false, newInfraError(ferr)
	}
	return n, true, nil
}

// Size reports the number of entries in a list or sorted set key.
func (t *Template) Size(ctx context.Context, key string) (int64, error) {
	keyType, err := t.Type(ctx, key)
	if err != nil {
		return 0, err
	}
	switch keyType {
	case "zset":
		n, err := t.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return 0, newInfraError(err)
		}
		return n, nil
	case "list":
		n, err := t.rdb.LLen(ctx, key).Result()
		if err != nil {
			return 0, newInfraError(err)
		}
		return n, nil
	default:
		return 0, nil
	}
}

// SaveQueueConfig persists a queue descriptor's policy to its config
// hash, per spec.md §3: a descriptor is created on first registration
// and persists in Redis until explicitly deleted. Called once per
// queue when the container starts.
func (t *Template) SaveQueueConfig(ctx context.Context, desc QueueDescriptor) error {
	err := t.rdb.HSet(ctx, configKey(desc.Name),
		"delayed", desc.Delayed,
		"num_retries", desc.NumRetries,
		"dead_letter_queues", strings.Join(desc.DeadLetterQueues, ","),
		"max_job_execution_time_ms", desc.MaxJobExecutionTime.Milliseconds(),
	).Err()
	if err != nil {
		return newInfraError(err)
	}
	return nil
}

// LoadQueueConfig reads back a previously persisted queue descriptor.
// ok is false if the queue has no saved config.
func (t *Template) LoadQueueConfig(ctx context.Context, name string) (desc QueueDescriptor, ok bool, err error) {
	res, err := t.rdb.HGetAll(ctx, configKey(name)).Result()
	if err != nil {
		return QueueDescriptor{}, false, newInfraError(err)
	}
	if len(res) == 0 {
		return QueueDescriptor{}, false, nil
	}

	desc.Name = name
	desc.Delayed = res["delayed"] == "1"
	if n, perr := t.rdb.HGet(ctx, configKey(name), "num_retries").Int(); perr == nil {
		desc.NumRetries = n
	}
	if dlq := res["dead_letter_queues"]; dlq != "" {
		desc.DeadLetterQueues = strings.Split(dlq, ",")
	}
	if ms, perr := t.rdb.HGet(ctx, configKey(name), "max_job_execution_time_ms").Int64(); perr == nil {
		desc.MaxJobExecutionTime = time.Duration(ms) * time.Millisecond
	}
	return desc, true, nil
}

// QueueDepths reports the current size of a queue's ready list, delayed
// set, and processing set in one call, for metrics collection without
// leaking key-layout knowledge outside the package.
func (t *Template) QueueDepths(ctx context.Context, queue string) (ready, delayed, processing int64, err error) {
	ready, err = t.Size(ctx, readyKey(queue))
	if err != nil {
		return 0, 0, 0, err
	}
	delayed, err = t.Size(ctx, delayedKey(queue))
	if err != nil {
		return 0, 0, 0, err
	}
	processing, err = t.Size(ctx, processingKey(queue))
	if err != nil {
		return 0, 0, 0, err
	}
	return ready, delayed, processing, nil
}

// Type reports the Redis type of a key ("list", "zset", "none", ...).
func (t *Template) Type(ctx context.Context, key string) (string, error) {
	res, err := t.rdb.Type(ctx, key).Result()
	if err != nil {
		return "", newInfraError(err)
	}
	return res, nil
}

// ReadFromList is a read-only pagination window over a list key
// [start, end], used by the external admin/view collaborator.
func (t *Template) ReadFromList(ctx context.Context, key string, start, end int64) ([]string, error) {
	res, err := t.rdb.LRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, newInfraError(err)
	}
	return res, nil
}

// ReadFromZSet is a read-only pagination window over a sorted set key
// [start, end] by rank, lowest score first.
func (t *Template) ReadFromZSet(ctx context.Context, key string, start, end int64) ([]string, error) {
	res, err := t.rdb.ZRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, newInfraError(err)
	}
	return res, nil
}

// ZMember pairs a sorted-set entry with its score for ReadFromZSetWithScore.
type ZMember struct {
	Member string
	Score  float64
}

// ReadFromZSetWithScore is ReadFromZSet but also returns each member's
// score (e.g. the visibility deadline or scheduled-at timestamp).
func (t *Template) ReadFromZSetWithScore(ctx context.Context, key string, start, end int64) ([]ZMember, error) {
	res, err := t.rdb.ZRangeWithScores(ctx, key, start, end).Result()
	if err != nil {
		return nil, newInfraError(err)
	}
	out := make([]ZMember, 0, len(res))
	for _, z := range res {
		member, _ := z.Member.(string)
		out = append(out, ZMember{Member: member, Score: z.Score})
	}
	return out, nil
}

// validateBulkMove rejects malformed admin bulk-move requests before
// they ever reach Redis: spec.md §7 kind 5 (AdminError) covers exactly
// this, a bad request from the admin/read-path collaborator rather
// than an infrastructure failure.
func validateBulkMove(src, dst string, limit int64) error {
	if src == "" || dst == "" {
		return newAdminError("bulk move: src and dst keys must both be non-empty")
	}
	if src == dst {
		return newAdminError("bulk move: src and dst must differ, got %q for both", src)
	}
	if limit <= 0 {
		return newAdminError("bulk move: limit must be positive, got %d", limit)
	}
	return nil
}

// BulkMoveZSetToZSet moves up to limit entries from one sorted set to
// another. If useFixedScore is true, every moved entry is re-scored to
// fixedScore instead of keeping its source score. Used by the external
// admin move/explore collaborator; core defines only the contract.
func (t *Template) BulkMoveZSetToZSet(ctx context.Context, src, dst string, limit int64, useFixedScore bool, fixedScore float64) (int64, error) {
	if err := validateBulkMove(src, dst, limit); err != nil {
		return 0, err
	}
	flag := "0"
	if useFixedScore {
		flag = "1"
	}
	n, err := bulkMoveZSetToZSetScript.Run(ctx, t.rdb, []string{src, dst}, limit, flag, fixedScore).Int64()
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}

// BulkMoveZSetToList moves up to limit entries from a sorted set to a
// list, dropping each entry's score.
func (t *Template) BulkMoveZSetToList(ctx context.Context, src, dst string, limit int64) (int64, error) {
	if err := validateBulkMove(src, dst, limit); err != nil {
		return 0, err
	}
	n, err := bulkMoveZSetToListScript.Run(ctx, t.rdb, []string{src, dst}, limit).Int64()
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}

// BulkMoveListToList moves up to limit entries from the head of src to
// the tail of dst.
func (t *Template) BulkMoveListToList(ctx context.Context, src, dst string, limit int64) (int64, error) {
	if err := validateBulkMove(src, dst, limit); err != nil {
		return 0, err
	}
	n, err := bulkMoveListToListScript.Run(ctx, t.rdb, []string{src, dst}, limit).Int64()
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}

// BulkMoveListToZSet moves up to limit entries from the head of src
// into dst with a fixed score.
func (t *Template) BulkMoveListToZSet(ctx context.Context, src, dst string, limit int64, fixedScore float64) (int64, error) {
	if err := validateBulkMove(src, dst, limit); err != nil {
		return 0, err
	}
	n, err := bulkMoveListToZSetScript.Run(ctx, t.rdb, []string{src, dst}, limit, fixedScore).Int64()
	if err != nil {
		return 0, newInfraError(err)
	}
	return n, nil
}
