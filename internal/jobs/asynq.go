package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	taskTypeDetect = "detect:media"
	detectQueue    = "detect"
)

// taskPayload は検出ジョブのキュー投入ペイロードです。
type taskPayload struct {
	JobID string `json:"job_id"`
}

// AsynqScheduler は Asynq 経由でジョブを配信します。
type AsynqScheduler struct {
	client *asynq.Client
}

// NewAsynqScheduler は Redis 接続URLから AsynqScheduler を作成します。
func NewAsynqScheduler(redisURL string) (*AsynqScheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &AsynqScheduler{client: asynq.NewClient(opt)}, nil
}

// Schedule はジョブをキューへ投入します。
func (s *AsynqScheduler) Schedule(ctx context.Context, job *Job) error {
	body, err := json.Marshal(taskPayload{JobID: job.ID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeDetect, body, asynq.Queue(detectQueue))
	_, err = s.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	return err
}

// Close はクライアント接続を閉じます。
func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}

// AsynqWorker は Asynq サーバーで検出ジョブを実行します。
type AsynqWorker struct {
	manager *Manager
	server  *asynq.Server
	mux     *asynq.ServeMux
	exec    Executor
	logger  *logrus.Logger
}

// NewAsynqWorker は AsynqWorker を作成します。
func NewAsynqWorker(manager *Manager, redisURL string, concurrency int, logger *logrus.Logger) (*AsynqWorker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			detectQueue: 1,
		},
		Logger: logger,
	})

	w := &AsynqWorker{
		manager: manager,
		server:  server,
		mux:     asynq.NewServeMux(),
		logger:  logger,
	}
	w.mux.HandleFunc(taskTypeDetect, w.handleDetectTask)
	return w, nil
}

// Start は exec を実行するワーカーをバックグラウンドで起動します。
func (w *AsynqWorker) Start(exec Executor) {
	w.exec = exec
	go func() {
		if err := w.server.Run(w.mux); err != nil && err != asynq.ErrServerClosed {
			w.logger.Errorf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はワーカーを停止します。
func (w *AsynqWorker) Shutdown() {
	w.server.Shutdown()
}

func (w *AsynqWorker) handleDetectTask(ctx context.Context, task *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing job_id in payload")
	}

	job, err := w.manager.MarkProcessing(ctx, payload.JobID, "")
	if err != nil {
		// 再配信で処理済みのジョブは読み飛ばす
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}

	result, err := runExecutor(ctx, w.exec, job, func(message string) {
		if _, uerr := w.manager.UpdateStatus(ctx, payload.JobID, message); uerr != nil {
			w.logger.WithField("job_id", payload.JobID).Warnf("failed to update status: %v", uerr)
		}
	})
	if err != nil {
		_, ferr := w.manager.Fail(ctx, payload.JobID, err)
		return ferr
	}
	_, cerr := w.manager.Complete(ctx, payload.JobID, result)
	return cerr
}
