package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Order lives in a list of clientEventIds, payloads in a hash keyed by the same id.
// Both keys share the queue id so one device never sees another device's queue.
var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 1 then
  redis.call('RPUSH', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

type Queue struct {
	c          *redis.Client
	orderKey   string
	entriesKey string
	now        func() time.Time
}

// New expects a Redis with AOF or RDB persistence; an ephemeral instance loses the queue.
func New(addr, queueID string) *Queue {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), queueID)
}

func NewWithClient(c *redis.Client, queueID string) *Queue {
	if queueID == "" {
		queueID = queue.DefaultQueueID
	}
	return &Queue{
		c:          c,
		orderKey:   fmt.Sprintf("custody:queue:%s:order", queueID),
		entriesKey: fmt.Sprintf("custody:queue:%s:entries", queueID),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) Close() error {
	return q.c.Close()
}

func (q *Queue) Enqueue(ctx context.Context, ev models.HandoverEvent) error {
	if ev.ClientEventID == "" {
		return errors.New("clientEventId is required")
	}
	b, err := json.Marshal(queue.Entry{Event: ev, EnqueuedAt: q.now()})
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}
	if err := enqueueScript.Run(ctx, q.c, []string{q.orderKey, q.entriesKey}, ev.ClientEventID, b).Err(); err != nil {
		return errors.Wrap(err, "redis enqueue")
	}
	return nil
}

func (q *Queue) PeekAll(ctx context.Context) ([]queue.Entry, error) {
	ids, err := q.c.LRange(ctx, q.orderKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis lrange")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := q.c.HMGet(ctx, q.entriesKey, ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis hmget")
	}

	out := make([]queue.Entry, 0, len(ids))
	var orphans []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Order and payload are written atomically, so an id without payload is garbage.
			orphans = append(orphans, ids[i])
			continue
		}
		var e queue.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, errors.Wrapf(err, "decode entry %s", ids[i])
		}
		out = append(out, e)
	}
	if err := q.dropOrphans(ctx, orphans); err != nil {
		return nil, err
	}
	return out, nil
}

// dropOrphans trims order-list ids whose payload is gone so that Len agrees with PeekAll.
func (q *Queue) dropOrphans(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := q.c.TxPipeline()
	for _, id := range ids {
		pipe.LRem(ctx, q.orderKey, 0, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis drop orphans")
	}
	return nil
}

func (q *Queue) RemoveApplied(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := q.c.TxPipeline()
	for _, id := range ids {
		pipe.LRem(ctx, q.orderKey, 0, id)
	}
	pipe.HDel(ctx, q.entriesKey, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis remove applied")
	}
	return nil
}

func (q *Queue) MarkFailed(ctx context.Context, reasons map[string]string) error {
	if len(reasons) == 0 {
		return nil
	}
	ids := make([]string, 0, len(reasons))
	for id := range reasons {
		ids = append(ids, id)
	}
	vals, err := q.c.HMGet(ctx, q.entriesKey, ids...).Result()
	if err != nil {
		return errors.Wrap(err, "redis hmget")
	}

	updates := make([]any, 0, 2*len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e queue.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return errors.Wrapf(err, "decode entry %s", ids[i])
		}
		e.Attempts++
		e.LastError = reasons[ids[i]]
		b, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "encode entry")
		}
		updates = append(updates, ids[i], b)
	}
	if len(updates) == 0 {
		return nil
	}
	return errors.Wrap(q.c.HSet(ctx, q.entriesKey, updates...).Err(), "redis hset")
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.c.LLen(ctx, q.orderKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis llen")
	}
	return int(n), nil
}
