package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swap-router/internal/config"
)

// Runner 是工作池驱动的订单执行入口。
// 约定：返回 nil 即一次逻辑尝试完成，无论订单终态是 confirmed 还是 failed；
// 只有基础设施错误（管道在发出任何状态前就无法推进）才返回非 nil。
type Runner interface {
	Run(ctx context.Context, orderID string) error
}

// WorkerPool 以固定数量的 worker 消费队列，每个 worker 同一时刻只处理一个订单。
// 跨订单的并发仅受池大小限制。
type WorkerPool struct {
	queue   Queue
	runner  Runner
	workers int
	retry   config.RetryConfig
	logger  *zap.Logger
}

// NewWorkerPool 创建工作池。
func NewWorkerPool(queue Queue, runner Runner, cfg config.QueueConfig, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &WorkerPool{
		queue:   queue,
		runner:  runner,
		workers: workers,
		retry:   retry,
		logger:  logger,
	}
}

// Start 启动所有 worker 并阻塞直到 ctx 取消。
func (p *WorkerPool) Start(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		id := i
		group.Go(func() error {
			p.work(groupCtx, id)
			return nil
		})
	}

	return group.Wait()
}

func (p *WorkerPool) work(ctx context.Context, workerID int) {
	logger := p.logger.With(zap.Int("worker", workerID))

	for {
		orderID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				logger.Info("worker 退出")
				return
			}
			logger.Warn("出队失败", zap.Error(err))
			continue
		}

		p.process(ctx, logger, orderID)
	}
}

// process 执行一个订单任务。基础设施错误按重试配置做线性退避重试，
// 管道正常返回（含 failed 终态）不触发任何重试。
func (p *WorkerPool) process(ctx context.Context, logger *zap.Logger, orderID string) {
	var err error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		err = p.runner.Run(ctx, orderID)
		if err == nil {
			return
		}

		if attempt == p.retry.MaxAttempts {
			break
		}

		wait := time.Duration(attempt) * p.retry.MinDelay
		if wait > p.retry.MaxDelay {
			wait = p.retry.MaxDelay
		}
		logger.Warn("订单执行遇到基础设施错误，准备重试",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	logger.Error("订单执行重试耗尽，放弃本次任务",
		zap.String("order_id", orderID),
		zap.Int("attempts", p.retry.MaxAttempts),
		zap.Error(err),
	)
}
