package jobs

import (
	"errors"
	"sync"
)

// ErrQueueClosed は閉じられたキューへの投入を示します。
var ErrQueueClosed = errors.New("queue is closed")

// queue は投入順を保持するプロセス内FIFOキューです。
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push はIDをキュー末尾へ追加します。
func (q *queue) push(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, id)
	q.cond.Signal()
	return nil
}

// pop は先頭のIDを取り出します。キューが空の間はブロックします。
// クローズ後は残りを順に返し、空になったら false を返します。
func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// close は新規投入を禁止し、待機中の取り出しをすべて起こします。
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
