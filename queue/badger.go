package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// DefaultVisibilityTimeout is how long a received message stays hidden
// before another consumer may claim it.
const DefaultVisibilityTimeout = 5 * time.Minute

// BadgerQueue implements Queue on a BadgerDB key space.
//
// Keys:
//
//	queue:{name}:msg:{id}               message JSON
//	queue:{name}:index:{visibleAt}:{id} empty, visibleAt is zero-padded unix nanos
//	queue:{name}:dead:{id}              message JSON
type BadgerQueue struct {
	db                *badger.DB
	name              string
	visibilityTimeout time.Duration
	now               func() time.Time
}

var _ Queue = (*BadgerQueue)(nil)

// BadgerOption configures a BadgerQueue.
type BadgerOption func(*BadgerQueue) error

// WithVisibilityTimeout sets how long received messages stay hidden.
func WithVisibilityTimeout(d time.Duration) BadgerOption {
	return func(q *BadgerQueue) error {
		if d <= 0 {
			return fmt.Errorf("visibility timeout must be positive, got %s", d)
		}
		q.visibilityTimeout = d
		return nil
	}
}

// NewBadgerQueue creates a queue named name in db.
func NewBadgerQueue(db *badger.DB, name string, opts ...BadgerOption) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, ErrQueueNameRequired
	}
	q := &BadgerQueue{
		db:                db,
		name:              name,
		visibilityTimeout: DefaultVisibilityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Name implements Queue.
func (q *BadgerQueue) Name() string {
	return q.name
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte("queue:" + q.name + ":msg:" + id)
}

func (q *BadgerQueue) deadKey(id string) []byte {
	return []byte("queue:" + q.name + ":dead:" + id)
}

func (q *BadgerQueue) indexPrefix() []byte {
	return []byte("queue:" + q.name + ":index:")
}

// indexKey sorts lexicographically by visibility time.
func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	return fmt.Appendf(q.indexPrefix(), "%020d:%s", visibleAt.UnixNano(), id)
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	rest, ok := bytes.CutPrefix(key, q.indexPrefix())
	if !ok {
		return time.Time{}, "", fmt.Errorf("key %q outside queue %s", key, q.name)
	}
	ts, id, ok := bytes.Cut(rest, []byte(":"))
	if !ok || len(id) == 0 {
		return time.Time{}, "", fmt.Errorf("malformed index key %q", key)
	}
	nanos, err := strconv.ParseInt(string(ts), 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed index key %q: %w", key, err)
	}
	return time.Unix(0, nanos).UTC(), string(id), nil
}

func putMessage(txn *badger.Txn, key []byte, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}
	return txn.Set(key, data)
}

func getMessage(txn *badger.Txn, key []byte) (*Message, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Enqueue implements Queue.
func (q *BadgerQueue) Enqueue(ctx context.Context, job Job, opts Options) (*Message, error) {
	if job.DocumentID == "" {
		return nil, ErrEmptyJob
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := q.now()
	msg := &Message{
		ID:         uuid.NewString(),
		Queue:      q.name,
		Job:        job,
		Options:    opts,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
	err := q.db.Update(func(txn *badger.Txn) error {
		if err := putMessage(txn, q.msgKey(msg.ID), msg); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return msg, nil
}

// Receive implements Queue.
func (q *BadgerQueue) Receive(ctx context.Context) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var claimed *Message
	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := q.now()
		var indexKey []byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// keys are time ordered, nothing later is ready either
				break
			}
			msg, err := getMessage(txn, q.msgKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			claimed = msg
			indexKey = key
			break
		}
		if claimed == nil {
			return ErrNoMessage
		}

		claimed.Attempt++
		claimed.VisibleAt = now.Add(q.visibilityTimeout)
		if err := putMessage(txn, q.msgKey(claimed.ID), claimed); err != nil {
			return err
		}
		if err := txn.Delete(indexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// current loads the stored copy of msg, whose VisibleAt locates its index key.
func (q *BadgerQueue) current(txn *badger.Txn, id string) (*Message, error) {
	msg, err := getMessage(txn, q.msgKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return msg, err
}

// Ack implements Queue.
func (q *BadgerQueue) Ack(_ context.Context, msg *Message) error {
	return q.db.Update(func(txn *badger.Txn) error {
		stored, err := q.current(txn, msg.ID)
		if err != nil || stored == nil {
			return err
		}
		if err := txn.Delete(q.indexKey(stored.VisibleAt, stored.ID)); err != nil {
			return err
		}
		return txn.Delete(q.msgKey(stored.ID))
	})
}

// Retry implements Queue.
func (q *BadgerQueue) Retry(_ context.Context, msg *Message, delay time.Duration, cause error) error {
	return q.db.Update(func(txn *badger.Txn) error {
		stored, err := q.current(txn, msg.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("message %s no longer in queue %s", msg.ID, q.name)
		}
		if err := txn.Delete(q.indexKey(stored.VisibleAt, stored.ID)); err != nil {
			return err
		}
		stored.VisibleAt = q.now().Add(delay)
		if cause != nil {
			stored.LastError = cause.Error()
		}
		if err := putMessage(txn, q.msgKey(stored.ID), stored); err != nil {
			return err
		}
		*msg = *stored
		return txn.Set(q.indexKey(stored.VisibleAt, stored.ID), []byte{})
	})
}

// Fail implements Queue.
func (q *BadgerQueue) Fail(_ context.Context, msg *Message, cause error) error {
	return q.db.Update(func(txn *badger.Txn) error {
		stored, err := q.current(txn, msg.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			stored = msg
		} else {
			if err := txn.Delete(q.indexKey(stored.VisibleAt, stored.ID)); err != nil {
				return err
			}
			if err := txn.Delete(q.msgKey(stored.ID)); err != nil {
				return err
			}
		}
		if cause != nil {
			stored.LastError = cause.Error()
		}
		stored.FailedAt = q.now()
		return putMessage(txn, q.deadKey(stored.ID), stored)
	})
}

// Dead implements Queue.
func (q *BadgerQueue) Dead(_ context.Context) ([]*Message, error) {
	var dead []*Message
	err := q.db.View(func(txn *badger.Txn) error {
		prefix := []byte("queue:" + q.name + ":dead:")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var msg Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			dead = append(dead, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(dead, func(a, b *Message) int {
		return a.FailedAt.Compare(b.FailedAt)
	})
	return dead, nil
}

// Stats implements Queue.
func (q *BadgerQueue) Stats(_ context.Context) (Stats, error) {
	stats := Stats{Name: q.name}
	err := q.db.View(func(txn *badger.Txn) error {
		stats.Pending = countPrefix(txn, q.indexPrefix())
		stats.Dead = countPrefix(txn, []byte("queue:"+q.name+":dead:"))
		return nil
	})
	return stats, err
}

func countPrefix(txn *badger.Txn, prefix []byte) int {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}
