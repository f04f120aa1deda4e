package queue

import (
	"context"
	"fmt"
	"strings"

	"swap-router/internal/config"
)

// Queue 抽象订单任务的入队与出队。对核心管道而言，队列代理的
// 重试调度策略是不透明的，这里只承载 {orderId} 的投递。
type Queue interface {
	Enqueue(ctx context.Context, orderID string) error
	Dequeue(ctx context.Context) (string, error)
	Close() error
}

// New 按配置选择队列后端。
func New(cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return NewRedisQueue(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("queue: 不支持的后端 %q", cfg.Backend)
	}
}
