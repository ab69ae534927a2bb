package cmdqueue

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOverflowSink pushes command lines dropped by a full Queue onto a
// Redis list instead of discarding them outright, so an operator can
// inspect or replay commands the bridge could not absorb in time. It is
// optional: a Queue with no overflow handler installed simply counts and
// drops.
type RedisOverflowSink struct {
	client  *redis.Client
	listKey string
	timeout time.Duration
}

// NewRedisOverflowSink creates a sink that LPUSHes onto listKey.
func NewRedisOverflowSink(client *redis.Client, listKey string) *RedisOverflowSink {
	return &RedisOverflowSink{
		client:  client,
		listKey: listKey,
		timeout: 500 * time.Millisecond,
	}
}

// Push is the Queue overflow handler: it LPUSHes line onto the configured
// list, bounded by a short timeout so a stalled Redis connection can never
// back up into the command queue's hot path.
func (s *RedisOverflowSink) Push(line string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Best-effort: a failed push here means the command is lost, same as
	// if no sink were configured at all.
	s.client.LPush(ctx, s.listKey, line)
}
