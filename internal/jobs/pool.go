package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// StatusReporter は実行中ジョブの進捗メッセージを通知します。
type StatusReporter func(message string)

// Executor は1件のジョブを実行し、結果ペイロードを返します。
type Executor func(ctx context.Context, job *Job, report StatusReporter) (any, error)

// Scheduler はジョブを実行待ちへ投入します。
type Scheduler interface {
	Schedule(ctx context.Context, job *Job) error
}

// Pool は固定数のワーカーでジョブを投入順に実行します。
// Redis を使わない単一プロセス構成での実行基盤です。
type Pool struct {
	manager *Manager
	queue   *queue
	size    int
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

// NewPool は Pool を作成します。
func NewPool(manager *Manager, size int, logger *logrus.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pool{manager: manager, queue: newQueue(), size: size, logger: logger}
}

// Schedule はジョブを実行待ちキューへ追加します。
func (p *Pool) Schedule(ctx context.Context, job *Job) error {
	return p.queue.push(job.ID)
}

// Start は exec を実行するワーカーを起動します。
func (p *Pool) Start(exec Executor) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				id, ok := p.queue.pop()
				if !ok {
					return
				}
				p.runOne(id, exec)
			}
		}()
	}
}

// Stop は新規投入を止め、キューに残ったジョブの完了を待ちます。
func (p *Pool) Stop() {
	p.queue.close()
	p.wg.Wait()
}

func (p *Pool) runOne(id string, exec Executor) {
	ctx := context.Background()

	job, err := p.manager.MarkProcessing(ctx, id, "")
	if err != nil {
		p.logger.WithField("job_id", id).Warnf("skip job: %v", err)
		return
	}

	result, err := runExecutor(ctx, exec, job, func(message string) {
		if _, uerr := p.manager.UpdateStatus(ctx, id, message); uerr != nil {
			p.logger.WithField("job_id", id).Warnf("failed to update status: %v", uerr)
		}
	})
	if err != nil {
		if _, ferr := p.manager.Fail(ctx, id, err); ferr != nil {
			p.logger.WithField("job_id", id).Errorf("failed to mark failure: %v", ferr)
		}
		return
	}
	if _, cerr := p.manager.Complete(ctx, id, result); cerr != nil {
		p.logger.WithField("job_id", id).Errorf("failed to mark success: %v", cerr)
	}
}

// runExecutor は exec を実行し、パニックをジョブ失敗として回収します。
func runExecutor(ctx context.Context, exec Executor, job *Job, report StatusReporter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return exec(ctx, job, report)
}
