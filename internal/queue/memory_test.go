package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()

	for _, id := range []string{"o1", "o2", "o3"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s) returned error: %v", id, err)
		}
	}

	for _, want := range []string{"o1", "o2", "o3"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue returned error: %v", err)
		}
		if got != want {
			t.Errorf("dequeue order mismatch: got %s want %s", got, want)
		}
	}
}

func TestMemoryQueue_DequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueue_CloseReleasesBlockedEnqueue(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "o1"); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- q.Enqueue(ctx, "o2")
	}()

	// 等第二次入队真正阻塞在满缓冲上。
	time.Sleep(20 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed for enqueue pending at close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
}

func TestMemoryQueue_CloseDrainsRemaining(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "o1"); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if err := q.Enqueue(ctx, "o2"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on enqueue after close, got %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil || got != "o1" {
		t.Errorf("expected to drain o1, got %q err %v", got, err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after drain, got %v", err)
	}
}
