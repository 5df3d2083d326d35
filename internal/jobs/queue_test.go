package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.push(id); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.pop()
		if !ok || got != want {
			t.Fatalf("pop: got %q (%v), want %q", got, ok, want)
		}
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue()
	result := make(chan string, 1)

	go func() {
		id, ok := q.pop()
		if !ok {
			result <- ""
			return
		}
		result <- id
	}()

	// popをブロックさせてからpushする
	time.Sleep(10 * time.Millisecond)
	if err := q.push("x"); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-result:
		if got != "x" {
			t.Fatalf("pop: got %q, want %q", got, "x")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up after push")
	}
}

func TestQueueCloseDrainsRemaining(t *testing.T) {
	q := newQueue()
	_ = q.push("a")
	_ = q.push("b")
	q.close()

	if got, ok := q.pop(); !ok || got != "a" {
		t.Fatalf("first pop after close: got %q (%v)", got, ok)
	}
	if got, ok := q.pop(); !ok || got != "b" {
		t.Fatalf("second pop after close: got %q (%v)", got, ok)
	}
	if _, ok := q.pop(); ok {
		t.Fatal("pop on drained closed queue must return false")
	}
}

func TestQueuePushAfterClose(t *testing.T) {
	q := newQueue()
	q.close()

	if err := q.push("a"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("push after close: got %v, want ErrQueueClosed", err)
	}
}

func TestQueueCloseWakesBlockedPop(t *testing.T) {
	q := newQueue()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("pop on closed empty queue must return false")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up after close")
	}
}
