package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidParams はジョブパラメーターが不正なことを示します。
var ErrInvalidParams = errors.New("invalid job parameters")

// ErrFileUnavailable は入力ファイルへアクセスできないことを示します。
var ErrFileUnavailable = errors.New("input file is unavailable")

// Manager はジョブのライフサイクルを管理します。
// 状態は PENDING → PROCESSING → SUCCESS / FAILURE の順にのみ進み、後戻りしません。
type Manager struct {
	store Store
}

// NewManager は Manager を作成します。
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Submit は新しいジョブを PENDING 状態で登録します。
func (m *Manager) Submit(ctx context.Context, kind Kind, inputPath string, params Params) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidParams, kind)
	}
	if kind.IsVideo() {
		if params.FrameSkip < 1 {
			return nil, fmt.Errorf("%w: frame_skip must be at least 1, got %d", ErrInvalidParams, params.FrameSkip)
		}
	} else {
		// 静止画は全フレーム（1枚）を処理する
		params.FrameSkip = 1
	}
	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileUnavailable, inputPath)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		InputPath: inputPath,
		Params:    params,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// MarkProcessing はジョブを PROCESSING 状態へ進めます。
func (m *Manager) MarkProcessing(ctx context.Context, id, message string) (*Job, error) {
	return m.store.Transition(ctx, id, StatePending, func(j *Job) {
		j.State = StateProcessing
		j.StatusMessage = message
	})
}

// UpdateStatus は PROCESSING 中のジョブの進捗メッセージを更新します。
func (m *Manager) UpdateStatus(ctx context.Context, id, message string) (*Job, error) {
	return m.store.Transition(ctx, id, StateProcessing, func(j *Job) {
		j.StatusMessage = message
	})
}

// Complete はジョブを SUCCESS 状態で確定します。
func (m *Manager) Complete(ctx context.Context, id string, result any) (*Job, error) {
	return m.store.Transition(ctx, id, StateProcessing, func(j *Job) {
		j.State = StateSuccess
		j.Result = result
		j.StatusMessage = ""
	})
}

// Fail はジョブを FAILURE 状態で確定します。
func (m *Manager) Fail(ctx context.Context, id string, cause error) (*Job, error) {
	return m.store.Transition(ctx, id, StateProcessing, func(j *Job) {
		j.State = StateFailure
		j.Error = cause.Error()
		j.StatusMessage = ""
	})
}

// Get はジョブを取得します。
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// Discard は登録済みジョブを破棄します。キュー投入に失敗した場合の巻き戻しに使います。
func (m *Manager) Discard(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}
