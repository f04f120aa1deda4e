package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swap-router/internal/api"
	"swap-router/internal/config"
	"swap-router/internal/dex"
	"swap-router/internal/order"
	"swap-router/internal/pipeline"
	"swap-router/internal/queue"
	"swap-router/internal/status"
	"swap-router/internal/store"
	"swap-router/internal/stream"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件并阻塞运行，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	repo, err := order.NewRepository(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化订单仓储失败: %w", err)
	}

	adapters := dex.NewMockAdapters(a.cfg.Adapters, a.logger)
	hub := stream.NewHub(a.logger)
	publisher := status.NewPublisher(repo, hub, a.logger)
	pipe := pipeline.New(repo, publisher, adapters, a.logger)

	orderQueue, err := queue.New(a.cfg.Queue)
	if err != nil {
		return fmt.Errorf("初始化任务队列失败: %w", err)
	}
	defer func() {
		if closeErr := orderQueue.Close(); closeErr != nil {
			a.logger.Warn("关闭任务队列失败", zap.Error(closeErr))
		}
	}()

	server := api.NewServer(a.cfg.Server, repo, orderQueue, hub, a.logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("启动 API 服务失败: %w", err)
	}

	adapterNames := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		adapterNames = append(adapterNames, adapter.Name())
	}
	a.logger.Info("路由服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("adapters", adapterNames),
		zap.String("queue_backend", a.cfg.Queue.Backend),
		zap.Int("workers", a.cfg.Queue.Workers),
	)

	pool := queue.NewWorkerPool(orderQueue, pipe, a.cfg.Queue, a.logger)
	if err := pool.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("工作池异常退出: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
