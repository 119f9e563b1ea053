package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is a unit of deferred work. Messages sharing a Key are delivered in
// publish order by a single consumer goroutine.
type Message struct {
	Type string          `json:"type"`
	Key  string          `json:"key"`
	Body json.RawMessage `json:"body"`
}

// Handler processes one message. A returned error triggers redelivery up to
// the attempt limit.
type Handler func(ctx context.Context, msg Message) error

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Consume runs handler for every message until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error
}

const (
	maxAttempts  = 5
	retryBackoff = 200 * time.Millisecond
)

// Shard maps an ordering key onto one of n shards.
func Shard(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// deliver runs h with bounded retries. It reports whether the message was
// handled; ctx cancellation stops retrying.
func deliver(ctx context.Context, h Handler, msg Message, log *zap.Logger) bool {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = h(ctx, msg); err == nil {
			return true
		}
		log.Warn("message handler failed",
			zap.String("type", msg.Type), zap.String("key", msg.Key),
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	log.Error("message dropped after retries",
		zap.String("type", msg.Type), zap.String("key", msg.Key), zap.Error(err))
	return false
}

// InMemory is a sharded channel-backed queue for dev/testing.
type InMemory struct {
	shards []chan Message
	log    *zap.Logger
}

// NewInMemory creates a queue of n shards, each buffering size messages.
func NewInMemory(shards, size int, log *zap.Logger) *InMemory {
	if shards <= 0 {
		shards = 1
	}
	q := &InMemory{shards: make([]chan Message, shards), log: log}
	for i := range q.shards {
		q.shards[i] = make(chan Message, size)
	}
	return q
}

// Publish enqueues a message on its key's shard.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.shards[Shard(msg.Key, len(q.shards))] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume drains every shard with one goroutine each and blocks until ctx is done.
func (q *InMemory) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for _, ch := range q.shards {
		wg.Add(1)
		go func(ch chan Message) {
			defer wg.Done()
			for {
				select {
				case msg := <-ch:
					deliver(ctx, handler, msg, q.log)
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	wg.Wait()
	return ctx.Err()
}

// RedisQueue is a reliable sharded queue on Redis lists. Each shard is a pair
// of lists: messages move atomically from the pending list to a processing
// list and are removed only after the handler returns, so a crashed consumer
// leaves its in-flight message behind for the next start.
type RedisQueue struct {
	client *redis.Client
	key    string
	shards int
	log    *zap.Logger
}

// NewRedisQueue builds a queue over shards lists prefixed with key.
func NewRedisQueue(client *redis.Client, key string, shards int, log *zap.Logger) *RedisQueue {
	if key == "" {
		key = "attendance:queue"
	}
	if shards <= 0 {
		shards = 1
	}
	return &RedisQueue{client: client, key: key, shards: shards, log: log}
}

func (q *RedisQueue) pendingKey(shard int) string    { return fmt.Sprintf("%s:%d", q.key, shard) }
func (q *RedisQueue) processingKey(shard int) string { return fmt.Sprintf("%s:%d:processing", q.key, shard) }

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.pendingKey(Shard(msg.Key, q.shards)), raw).Err()
}

// Consume processes every shard until ctx is cancelled. Running more than one
// consumer process per key prefix breaks per-key ordering.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for shard := 0; shard < q.shards; shard++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			q.consumeShard(ctx, shard, handler)
		}(shard)
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RedisQueue) consumeShard(ctx context.Context, shard int, handler Handler) {
	pending, processing := q.pendingKey(shard), q.processingKey(shard)
	log := q.log.With(zap.Int("shard", shard))

	// Leftovers from a previous run are older than anything pending.
	leftovers, err := q.client.LRange(ctx, processing, 0, -1).Result()
	if err != nil && ctx.Err() == nil {
		log.Error("read processing list failed", zap.Error(err))
	}
	for i := len(leftovers) - 1; i >= 0; i-- {
		log.Info("recovering in-flight message")
		q.handle(ctx, processing, leftovers[i], handler, log)
	}

	for {
		raw, err := q.client.BLMove(ctx, pending, processing, "RIGHT", "LEFT", 5*time.Second).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				log.Warn("blmove failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		q.handle(ctx, processing, raw, handler, log)
	}
}

func (q *RedisQueue) handle(ctx context.Context, processing, raw string, handler Handler, log *zap.Logger) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		log.Error("discarding undecodable message", zap.Error(err))
	} else if !deliver(ctx, handler, msg, log) && ctx.Err() != nil {
		// shutting down: keep it for the next start
		return
	}
	if err := q.client.LRem(context.WithoutCancel(ctx), processing, 1, raw).Err(); err != nil {
		log.Error("ack failed", zap.Error(err))
	}
}
