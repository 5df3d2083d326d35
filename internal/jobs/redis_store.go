package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "job:"

// RedisStore はジョブ状態を Redis に保存します。
// 複数プロセスでワーカーを動かす構成では MemoryStore の代わりに使います。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。ttl が0の場合は期限を設定しません。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Create はジョブを保存します。
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

// Get はジョブを取得します。
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Transition は WATCH による楽観ロックで状態遷移を適用します。
// 競合した場合は再試行します。
func (s *RedisStore) Transition(ctx context.Context, id string, from State, mutate func(*Job)) (*Job, error) {
	key := jobKey(id)
	for {
		var updated *Job
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return fmt.Errorf("%w: %s", ErrNotFound, id)
				}
				return err
			}
			var job Job
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			if job.State != from {
				return fmt.Errorf("%w: job %s is %s, want %s", ErrInvalidTransition, id, job.State, from)
			}

			mutate(&job)
			job.UpdatedAt = time.Now().UTC()
			payload, err := json.Marshal(&job)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = &job
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
}

// Delete はジョブを削除します。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, jobKey(id)).Err()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
