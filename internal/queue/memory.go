package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示队列已关闭。
var ErrClosed = errors.New("queue: 队列已关闭")

// MemoryQueue 是基于带缓冲 channel 的进程内队列，默认后端，也用于测试。
// 关闭通过独立的 done 信号广播，jobs 通道本身永不关闭，
// 并发中的 Enqueue 不会撞上向已关闭通道发送。
type MemoryQueue struct {
	jobs chan string
	done chan struct{}
	once sync.Once
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建进程内队列。
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{
		jobs: make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// Enqueue 投递一个订单任务，缓冲满时阻塞直到有空位、队列关闭或 ctx 取消。
func (q *MemoryQueue) Enqueue(ctx context.Context, orderID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.jobs <- orderID:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue 取出下一个订单任务，队列为空时阻塞直到有任务、队列关闭或 ctx 取消。
// 关闭前已入队的任务仍会被优先取完。
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case orderID := <-q.jobs:
		return orderID, nil
	default:
	}

	select {
	case orderID := <-q.jobs:
		return orderID, nil
	case <-q.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close 关闭队列。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.done)
	})
	return nil
}
