package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"swap-router/internal/config"
)

// pollTimeout 是单轮 BRPOP 的阻塞上限。
const pollTimeout = time.Second

// RedisQueue 以 Redis 列表承载订单任务（LPUSH 入队，BRPOP 出队），
// 与外部队列代理共享同一份投递语义。
type RedisQueue struct {
	client *redis.Client
	key    string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue 创建 Redis 队列后端。
func NewRedisQueue(cfg config.RedisConfig) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisQueue{
		client: client,
		key:    cfg.Key,
	}
}

// Enqueue 将订单任务压入列表头部。
func (q *RedisQueue) Enqueue(ctx context.Context, orderID string) error {
	if err := q.client.LPush(ctx, q.key, orderID).Err(); err != nil {
		return fmt.Errorf("queue: LPUSH 失败: %w", err)
	}
	return nil
}

// Dequeue 从列表尾部取出订单任务，ctx 取消时返回。
// BRPOP 在途中不响应取消，因此用有限超时轮询，每轮检查 ctx。
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		result, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("queue: BRPOP 失败: %w", err)
		}
		if len(result) != 2 {
			return "", fmt.Errorf("queue: BRPOP 返回了异常结果: %v", result)
		}
		return result[1], nil
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
