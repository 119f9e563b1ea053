package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campusattend/internal/api"
	"campusattend/internal/attendance"
	"campusattend/internal/bus"
	"campusattend/internal/config"
	"campusattend/internal/device"
	"campusattend/internal/directory"
	"campusattend/internal/logger"
	"campusattend/internal/notify"
	"campusattend/internal/protocol"
	"campusattend/internal/queue"
	"campusattend/internal/realtime"
	"campusattend/internal/semester"
	"campusattend/internal/store"
)

func main() {
	cfg := config.Load()

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Error("api exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, l *zap.Logger) error {
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	defer db.Close()
	if err != nil {
		l.Warn("db not reachable", zap.Error(err))
	}

	if cfg.RunMigrations && err == nil {
		if err := store.RunMigrations(db.Client, l); err != nil {
			return err
		}
	}

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(cfg.QueueShards, 256, l)
	} else {
		q = queue.NewRedisQueue(rdb.Client, cfg.QueueKey, cfg.QueueShards, l)
	}

	devices := device.NewRepository(db.Client)
	dir := directory.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)
	semesters := semester.NewRepository(db.Client)
	notifications := notify.NewRepository(db.Client)

	broker, err := bus.NewMQTT(ctx, bus.MQTTConfig{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.BrokerClientID,
		Username:  cfg.BrokerUsername,
		Password:  cfg.BrokerPassword,
	}, l)
	if err != nil {
		return err
	}
	defer broker.Close()

	var opts []device.Option
	if cfg.AutoAbsent {
		opts = append(opts, device.WithCloseHook(device.AutoAbsentHook(ledger, time.Now, l)))
	}
	manager := device.NewManager(devices, dir, protocol.Control{Bus: broker}, l, opts...)

	if err := protocol.NewHandler(devices, dir, broker, q, cfg.AckBudget, l).Register(); err != nil {
		return err
	}

	hub := realtime.NewHub(l, nil)
	defer hub.Close()

	var events realtime.Publisher = hub
	if cfg.QueueBackend != "memory" {
		// Workers in other processes publish through redis; the relay fans
		// those events out to this process's websocket clients.
		events = realtime.NewRedisPublisher(rdb.Client, realtime.DefaultChannel)
		go func() {
			if err := realtime.Relay(ctx, rdb.Client, realtime.DefaultChannel, hub, l); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("realtime relay stopped", zap.Error(err))
			}
		}()
	}

	if cfg.EmbeddedWorker || cfg.QueueBackend == "memory" {
		rec := protocol.NewReconciler(ledger, semesters, dir, notifications, events, l)
		go func() {
			if err := q.Consume(ctx, rec.Handle); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("embedded worker stopped", zap.Error(err))
			}
		}()
		l.Info("embedded reconcile worker started", zap.Int("shards", cfg.QueueShards))
	}

	srv := api.NewServer(api.Deps{
		Sessions:      manager,
		Registry:      devices,
		Review:        attendance.NewService(ledger, dir, l),
		Semesters:     semesters,
		Notifications: notifications,
		Hub:           hub,
		Health: map[string]func(context.Context) bool{
			"db":     db.Healthy,
			"redis":  rdb.Healthy,
			"broker": func(context.Context) bool { return broker.Healthy() },
		},
	}, api.Options{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
	}, l)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("starting server", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	l.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		l.Warn("server forced shutdown", zap.Error(err))
	}
	l.Info("server exited")
	return nil
}
