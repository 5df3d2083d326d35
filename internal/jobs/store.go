package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound は指定されたジョブが存在しないことを示します。
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition はジョブ状態の不正な遷移を示します。
var ErrInvalidTransition = errors.New("invalid job state transition")

// Store はジョブ状態の保存先です。
type Store interface {
	// Create は新しいジョブを保存します。
	Create(ctx context.Context, job *Job) error
	// Get はジョブを取得します。存在しない場合は ErrNotFound を返します。
	Get(ctx context.Context, id string) (*Job, error)
	// Transition は現在の状態が from と一致する場合に限り mutate を適用して保存します。
	// 一致しない場合は ErrInvalidTransition を返します。
	Transition(ctx context.Context, id string, from State, mutate func(*Job)) (*Job, error)
	// Delete はジョブを削除します。
	Delete(ctx context.Context, id string) error
}

// MemoryStore はジョブ状態をプロセス内メモリーへ保存します。
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create はジョブを保存します。
func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get はジョブを取得します。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.Clone(), nil
}

// Transition は状態の比較と更新を1つのロック区間で行います。
func (s *MemoryStore) Transition(ctx context.Context, id string, from State, mutate func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if job.State != from {
		return nil, fmt.Errorf("%w: job %s is %s, want %s", ErrInvalidTransition, id, job.State, from)
	}

	next := job.Clone()
	mutate(next)
	next.UpdatedAt = time.Now().UTC()
	s.jobs[id] = next
	return next.Clone(), nil
}

// Delete はジョブを削除します。
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}
