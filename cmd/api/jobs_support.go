package main

import (
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jamestrichardson/recognize/internal/config"
	"github.com/jamestrichardson/recognize/internal/jobs"
)

// jobRuntime はジョブ基盤（ストア、スケジューラー、ワーカー）の組み合わせを保持します。
type jobRuntime struct {
	manager   *jobs.Manager
	scheduler jobs.Scheduler
	start     func(jobs.Executor)
	stop      func()
}

// setupJobs は設定に応じてジョブ基盤を組み立てます。
// sync モードではスケジューラーを持たず、検出リクエストはその場で処理されます。
// async モードで QUEUE_REDIS_URL が空の場合はプロセス内ワーカープールを、
// 指定されている場合は Redis + Asynq を使用します。
func setupJobs(cfg *config.Config, logger *logrus.Logger) (*jobRuntime, error) {
	if cfg.DetectMode == "sync" {
		manager := jobs.NewManager(jobs.NewMemoryStore())
		return &jobRuntime{
			manager: manager,
			start:   func(jobs.Executor) {},
			stop:    func() {},
		}, nil
	}

	if cfg.QueueRedisURL == "" {
		manager := jobs.NewManager(jobs.NewMemoryStore())
		pool := jobs.NewPool(manager, cfg.WorkerCount, logger)
		return &jobRuntime{
			manager:   manager,
			scheduler: pool,
			start:     pool.Start,
			stop:      pool.Stop,
		}, nil
	}

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse QUEUE_REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	store := jobs.NewRedisStore(rdb, time.Duration(cfg.JobTTLMinutes)*time.Minute)
	manager := jobs.NewManager(store)

	scheduler, err := jobs.NewAsynqScheduler(cfg.QueueRedisURL)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	worker, err := jobs.NewAsynqWorker(manager, cfg.QueueRedisURL, cfg.WorkerCount, logger)
	if err != nil {
		scheduler.Close()
		rdb.Close()
		return nil, err
	}

	return &jobRuntime{
		manager:   manager,
		scheduler: scheduler,
		start:     worker.Start,
		stop: func() {
			worker.Shutdown()
			scheduler.Close()
			rdb.Close()
		},
	}, nil
}
