// Package redisqueue implements queue.WorkQueue on Redis so several crawler
// processes can share one frontier.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/FranksOps/serpent/internal/queue"
	"github.com/FranksOps/serpent/internal/serp"
)

// pushScript adds the key to the seen set and appends the payload only when
// the key is new, in one round trip.
var pushScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[2])
  return 1
end
return 0
`)

// Queue keeps pending units in a list and seen URLs in a set, both under
// prefix.
type Queue struct {
	client  *redis.Client
	seenKey string
	listKey string
}

var _ queue.WorkQueue = (*Queue)(nil)

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr, prefix string) (*Queue, error) {
	if prefix == "" {
		prefix = "serpent:"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Queue{
		client:  client,
		seenKey: prefix + "seen",
		listKey: prefix + "pending",
	}, nil
}

func (q *Queue) Push(ctx context.Context, unit serp.UnitOfWork) (bool, error) {
	payload, err := json.Marshal(unit)
	if err != nil {
		return false, fmt.Errorf("encode unit: %w", err)
	}
	added, err := pushScript.Run(ctx, q.client, []string{q.seenKey, q.listKey}, queue.Key(unit.URL), payload).Int()
	if err != nil {
		return false, fmt.Errorf("redis push: %w", err)
	}
	return added == 1, nil
}

func (q *Queue) Claim(ctx context.Context) (serp.UnitOfWork, bool, error) {
	val, err := q.client.LPop(ctx, q.listKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return serp.UnitOfWork{}, false, nil
		}
		return serp.UnitOfWork{}, false, fmt.Errorf("redis claim: %w", err)
	}

	var unit serp.UnitOfWork
	if err := json.Unmarshal(val, &unit); err != nil {
		return serp.UnitOfWork{}, false, fmt.Errorf("decode unit: %w", err)
	}
	return unit, true, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis len: %w", err)
	}
	return int(n), nil
}

// Reset forgets all pending and seen units.
func (q *Queue) Reset(ctx context.Context) error {
	return q.client.Del(ctx, q.seenKey, q.listKey).Err()
}

// Close closes the Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}
