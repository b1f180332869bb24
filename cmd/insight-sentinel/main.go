package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"insight-sentinel/internal/cache"
	"insight-sentinel/internal/clock"
	"insight-sentinel/internal/config"
	"insight-sentinel/internal/lock"
	"insight-sentinel/internal/scheduler"
	"insight-sentinel/internal/service"
	"insight-sentinel/pkg/database"
	"insight-sentinel/pkg/logger"
	"insight-sentinel/pkg/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "insight-sentinel")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redisx.NewClient(&cfg.Redis)
	defer redisClient.Close()
	if err := redisx.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}

	riskCache := cache.NewRiskCache(
		cache.NewRedisKV(redisClient),
		cfg.Cache.RiskKeyPrefix,
		time.Duration(cfg.Cache.RiskTTLSeconds)*time.Second,
		log,
	)

	core := service.New(db, cfg, riskCache, clock.System{}, log)

	var locker lock.Locker
	switch cfg.Scheduler.LockBackend {
	case "redis":
		// TTL covers a full tick so a crashed leader cannot block the next one.
		ttl := 2 * time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute
		locker = lock.NewRedisLock(redisClient, ttl)
	default:
		locker = lock.NewPostgresLock(db)
	}

	sched := scheduler.New(core.Pipeline(), core, locker, scheduler.Config{
		Interval:       time.Duration(cfg.Scheduler.IntervalMinutes) * time.Minute,
		DatasetTimeout: time.Duration(cfg.Scheduler.DatasetTimeoutSeconds) * time.Second,
		LockKey:        cfg.Scheduler.LockKey,
	}, log)

	if cfg.Scheduler.Enabled {
		sched.Start()
		defer sched.Stop()
	} else {
		log.Info("Scheduler disabled via config")
	}

	log.Info("insight-sentinel started",
		zap.String("lock_backend", cfg.Scheduler.LockBackend),
		zap.Int("interval_minutes", cfg.Scheduler.IntervalMinutes),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
}
