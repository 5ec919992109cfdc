package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimScript pops the oldest visible id and pushes its score to the end of
// the visibility timeout in one round trip.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
redis.call('ZADD', KEYS[1], ARGV[2], ids[1])
local body = redis.call('HGET', KEYS[2], ids[1])
if not body then
	redis.call('ZREM', KEYS[1], ids[1])
	return false
end
return {ids[1], body}
`)

// RedisQueue implements Queue on Redis. Each queue uses three keys:
// a sorted set of ids scored by visibility time in milliseconds, a hash of
// message bodies and a hash of dead messages.
type RedisQueue struct {
	client            redis.UniversalClient
	name              string
	prefix            string
	visibilityTimeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue) error

// WithKeyPrefix sets the prefix of every Redis key. Default is "strata".
func WithKeyPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) error {
		if prefix == "" {
			return errors.New("key prefix cannot be empty")
		}
		q.prefix = prefix
		return nil
	}
}

// WithRedisVisibilityTimeout sets how long received messages stay hidden.
func WithRedisVisibilityTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) error {
		if d <= 0 {
			return fmt.Errorf("visibility timeout must be positive, got %s", d)
		}
		q.visibilityTimeout = d
		return nil
	}
}

// NewRedisQueue creates a queue named name on client.
func NewRedisQueue(client redis.UniversalClient, name string, opts ...RedisOption) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		return nil, ErrQueueNameRequired
	}
	q := &RedisQueue{
		client:            client,
		name:              name,
		prefix:            "strata",
		visibilityTimeout: DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Name implements Queue.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) readyKey() string { return q.prefix + ":queue:" + q.name + ":ready" }
func (q *RedisQueue) msgsKey() string  { return q.prefix + ":queue:" + q.name + ":msgs" }
func (q *RedisQueue) deadKey() string  { return q.prefix + ":queue:" + q.name + ":dead" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, opts Options) (*Message, error) {
	if job.DocumentID == "" {
		return nil, ErrEmptyJob
	}
	now := time.Now().UTC()
	msg := &Message{
		ID:         uuid.NewString(),
		Queue:      q.name,
		Job:        job,
		Options:    opts,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue message: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.msgsKey(), msg.ID, data)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: score(now), Member: msg.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return msg, nil
}

// Receive implements Queue.
func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	now := time.Now().UTC()
	visibleAt := now.Add(q.visibilityTimeout)
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.msgsKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(visibleAt.UnixMilli(), 10),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("receive %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("receive %s: unexpected reply %v", q.name, res)
	}
	body, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("receive %s: unexpected body type %T", q.name, res[1])
	}
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	msg.Attempt++
	msg.VisibleAt = visibleAt
	if err := q.save(ctx, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (q *RedisQueue) save(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return q.client.HSet(ctx, q.msgsKey(), msg.ID, data).Err()
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.readyKey(), msg.ID)
		pipe.HDel(ctx, q.msgsKey(), msg.ID)
		return nil
	})
	return err
}

// Retry implements Queue.
func (q *RedisQueue) Retry(ctx context.Context, msg *Message, delay time.Duration, cause error) error {
	msg.VisibleAt = time.Now().UTC().Add(delay)
	if cause != nil {
		msg.LastError = cause.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.msgsKey(), msg.ID, data)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: score(msg.VisibleAt), Member: msg.ID})
		return nil
	})
	return err
}

// Fail implements Queue.
func (q *RedisQueue) Fail(ctx context.Context, msg *Message, cause error) error {
	if cause != nil {
		msg.LastError = cause.Error()
	}
	msg.FailedAt = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.readyKey(), msg.ID)
		pipe.HDel(ctx, q.msgsKey(), msg.ID)
		pipe.HSet(ctx, q.deadKey(), msg.ID, data)
		return nil
	})
	return err
}

// Dead implements Queue.
func (q *RedisQueue) Dead(ctx context.Context) ([]*Message, error) {
	bodies, err := q.client.HVals(ctx, q.deadKey()).Result()
	if err != nil {
		return nil, err
	}
	dead := make([]*Message, 0, len(bodies))
	for _, body := range bodies {
		var msg Message
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		dead = append(dead, &msg)
	}
	slices.SortFunc(dead, func(a, b *Message) int {
		return a.FailedAt.Compare(b.FailedAt)
	})
	return dead, nil
}

// Stats implements Queue.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Name: q.name}
	pending, err := q.client.ZCard(ctx, q.readyKey()).Result()
	if err != nil {
		return stats, err
	}
	dead, err := q.client.HLen(ctx, q.deadKey()).Result()
	if err != nil {
		return stats, err
	}
	stats.Pending = int(pending)
	stats.Dead = int(dead)
	return stats, nil
}
