package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vk/drivergrid/internal/ctxlog"
	"github.com/vk/drivergrid/internal/metrics"
	"github.com/vk/drivergrid/internal/worker"
)

// runWorkers is the queue mode: a pool of consumers sharing one redis
// client, running until the context is canceled.
func (a *App) runWorkers(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	client := redis.NewClient(&redis.Options{Addr: a.config.RedisAddr})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis at %s unreachable: %w", a.config.RedisAddr, err)
	}
	logger.Info("Connected to redis.", "addr", a.config.RedisAddr)

	jobs := metrics.NewJob(a.registry)
	cfg := worker.DefaultConfig()

	var wg sync.WaitGroup
	for i := 0; i < a.config.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wCtx := ctxlog.WithLogger(ctx, a.logger.With("worker", id))
			if err := worker.New(client, cfg, jobs).Run(wCtx); err != nil {
				logger.Error("Worker exited with error.", "worker", id, "error", err)
			}
		}(i)
	}
	logger.Info("Worker pool started.", "workers", a.config.WorkerCount)
	wg.Wait()
	logger.Info("Worker pool drained.")
	return nil
}
