package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/directory"
	"campusattend/internal/logger"
	"campusattend/internal/notify"
	"campusattend/internal/protocol"
	"campusattend/internal/queue"
	"campusattend/internal/realtime"
	"campusattend/internal/semester"
	"campusattend/internal/store"
)

// Worker consumes reconcile jobs and writes the attendance ledger.
func main() {
	cfg := config.Load()

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if cfg.QueueBackend == "memory" {
		l.Fatal("worker needs a shared queue; set QUEUE_BACKEND=redis or run the api with EMBEDDED_WORKER")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		l.Error("db connect failed", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		l.Warn("redis not reachable yet; consumers will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(rdb.Client, cfg.QueueKey, cfg.QueueShards, l)
	dir := directory.NewRepository(db.Client)
	rec := protocol.NewReconciler(
		attendance.NewRepository(db.Client),
		semester.NewRepository(db.Client),
		dir,
		notify.NewRepository(db.Client),
		realtime.NewRedisPublisher(rdb.Client, realtime.DefaultChannel),
		l,
	)

	l.Info("worker started", zap.String("queue", cfg.QueueKey), zap.Int("shards", cfg.QueueShards))
	if err := q.Consume(ctx, rec.Handle); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
	l.Info("worker stopped")
}
