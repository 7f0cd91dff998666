package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StatusQueued is the status a RedisQueue reports for an accepted intent.
const StatusQueued = "queued"

// Envelope is the queued form of an intent.
type Envelope struct {
	Reference string    `json:"reference"`
	Kind      Kind      `json:"kind"`
	Intent    Intent    `json:"intent"`
	QueuedAt  time.Time `json:"queued_at"`
}

// NewEnvelope wraps in with a fresh reference.
func NewEnvelope(in Intent, now time.Time) Envelope {
	return Envelope{
		Reference: uuid.New().String(),
		Kind:      in.IntentKind(),
		Intent:    in,
		QueuedAt:  now,
	}
}

// RedisQueue is a Submitter that pushes intents onto a Redis list for an
// external signer to pop. It never signs or broadcasts anything itself.
type RedisQueue struct {
	rdb *redis.Client
	key string
	now func() time.Time
}

// NewRedisQueue creates a queue writing to the list at key.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key, now: func() time.Time { return time.Now().UTC() }}
}

// Submit pushes in to the head of the list.
func (q *RedisQueue) Submit(ctx context.Context, in Intent) (Result, error) {
	env := NewEnvelope(in, q.now())
	data, err := json.Marshal(env)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s intent: %w", env.Kind, err)
	}
	if err := q.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return Result{}, fmt.Errorf("queue %s intent: %w", env.Kind, err)
	}
	return Result{Reference: env.Reference, Status: StatusQueued, SubmittedAt: env.QueuedAt}, nil
}
