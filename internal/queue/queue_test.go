package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestShardIsStable(t *testing.T) {
	for _, key := range []string{"dev-1", "dev-2", "lab-3"} {
		first := Shard(key, 8)
		if first < 0 || first >= 8 {
			t.Fatalf("shard %d out of range", first)
		}
		for i := 0; i < 10; i++ {
			if Shard(key, 8) != first {
				t.Fatalf("shard for %q changed", key)
			}
		}
	}
	if Shard("anything", 1) != 0 || Shard("anything", 0) != 0 {
		t.Fatal("single shard must be 0")
	}
}

func TestInMemoryPreservesPerKeyOrder(t *testing.T) {
	q := NewInMemory(4, 256, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const perKey = 50
	keys := []string{"dev-a", "dev-b", "dev-c", "dev-d", "dev-e"}

	var mu sync.Mutex
	seen := map[string][]int{}
	var wg sync.WaitGroup
	wg.Add(perKey * len(keys))

	go q.Consume(ctx, func(_ context.Context, msg Message) error {
		var n int
		if err := json.Unmarshal(msg.Body, &n); err != nil {
			return err
		}
		mu.Lock()
		seen[msg.Key] = append(seen[msg.Key], n)
		mu.Unlock()
		wg.Done()
		return nil
	})

	for i := 0; i < perKey; i++ {
		for _, k := range keys {
			body, _ := json.Marshal(i)
			if err := q.Publish(ctx, Message{Type: "t", Key: k, Body: body}); err != nil {
				t.Fatal(err)
			}
		}
	}

	waitOrFail(t, &wg)
	for _, k := range keys {
		got := seen[k]
		if len(got) != perKey {
			t.Fatalf("%s: got %d messages", k, len(got))
		}
		for i, n := range got {
			if n != i {
				t.Fatalf("%s: message %d delivered at position %d", k, n, i)
			}
		}
	}
}

func TestInMemoryRetriesFailedHandler(t *testing.T) {
	q := NewInMemory(1, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	go q.Consume(ctx, func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	if err := q.Publish(ctx, Message{Type: "t", Key: "k"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(2, 1, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Consume(ctx, func(context.Context, Message) error { return nil }) }()
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consume did not return")
	}
}

func TestRedisQueueKeys(t *testing.T) {
	q := NewRedisQueue(nil, "", 0, zap.NewNop())
	if q.shards != 1 {
		t.Fatalf("shards = %d", q.shards)
	}
	if got := q.pendingKey(0); got != "attendance:queue:0" {
		t.Errorf("pending key %q", got)
	}
	if got := q.processingKey(0); got != fmt.Sprintf("%s:processing", q.pendingKey(0)) {
		t.Errorf("processing key %q", got)
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
}
