// dispatcherd is the dispatch service: it receives task messages from Redis
// and the HTTP API, and runs them on an autoscaling pool of taskworker
// subprocesses.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/art-tapin/dispatcher-fork/internal/broker"
	"github.com/art-tapin/dispatcher-fork/internal/config"
	"github.com/art-tapin/dispatcher-fork/internal/control"
	"github.com/art-tapin/dispatcher-fork/internal/events"
	"github.com/art-tapin/dispatcher-fork/internal/logger"
	"github.com/art-tapin/dispatcher-fork/internal/pool"
	"github.com/art-tapin/dispatcher-fork/internal/process"
	"github.com/art-tapin/dispatcher-fork/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Msg("Starting dispatcher...")

	// Redis carries task ingress, delayed messages and the event stream
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}()

	publisher := events.NewRedisPubSub(redisClient)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	// The worker pool over real subprocesses
	manager := process.NewManager(cfg.Pool.WorkerCommand)
	workerPool := pool.NewPool(&cfg.Pool, manager)
	workerPool.SetObserver(events.NewPoolObserver(publisher))

	// Producers share this lock with the pool so no subprocess is forked
	// while a connection is being established
	var forkingLock sync.Mutex
	fatalExit := pool.NewLatch()
	workerPool.StartWorking(&forkingLock, fatalExit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Task ingress: Redis channels plus the delayed-message scheduler
	listener := broker.NewListener(redisClient, &cfg.Broker, workerPool.Dispatch)
	if err := listener.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start broker listener")
	}

	// HTTP submissions with a delay go into the same delayed set, which the
	// listener's scheduler drains
	scheduler := broker.NewScheduler(redisClient, cfg.Broker.PollInterval, workerPool.Dispatch)
	submit := func(ctx context.Context, msg *task.Message) error {
		if err := publisher.Publish(ctx, events.NewEvent(events.EventTaskSubmitted,
			events.TaskEventData(msg.LogUUID(), msg.Task, nil))); err != nil {
			log.Debug().Err(err).Msg("submitted event publish failed")
		}
		if msg.Delay > 0 {
			return scheduler.Schedule(ctx, msg)
		}
		workerPool.Dispatch(msg)
		return nil
	}

	server := control.NewServer(cfg, workerPool, submit, publisher)
	server.Start(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Str("node_id", server.NodeID()).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Run until a shutdown signal or an internal fatal error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("Shutting down dispatcher...")
	case <-fatalExit.Chan():
		log.Error().Msg("Internal task died, shutting down dispatcher...")
	}

	// Stop ingress first so no new messages reach the pool
	listener.Stop()

	workerPool.Shutdown()

	server.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ReadTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Dispatcher stopped")
}
