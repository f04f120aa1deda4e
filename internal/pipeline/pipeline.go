package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swap-router/internal/dex"
	"swap-router/internal/order"
	"swap-router/internal/routing"
	"swap-router/internal/settlement"
	"swap-router/internal/status"
)

// Repository 抽象管道加载订单所需的读取操作。
type Repository interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Pipeline 按 加载→询价→选路→结算 的顺序驱动单个订单的完整执行，
// 并把每一步的结果翻译成状态事件。
type Pipeline struct {
	repo       Repository
	publisher  *status.Publisher
	adapters   []dex.Adapter
	aggregator *routing.Aggregator
	settler    *settlement.Executor
	logger     *zap.Logger
}

// New 创建订单执行管道，adapters 顺序即路由优先顺序。
func New(repo Repository, publisher *status.Publisher, adapters []dex.Adapter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		repo:       repo,
		publisher:  publisher,
		adapters:   adapters,
		aggregator: routing.NewAggregator(adapters, logger),
		settler:    settlement.NewExecutor(logger),
		logger:     logger,
	}
}

// Run 执行一次订单任务。返回 nil 即一次逻辑尝试完成（无论终态），
// 仅当订单在发出任何状态前就无法加载（基础设施错误）时返回非 nil。
// 订单不存在按无操作完成处理：记日志、不发任何状态。
// 其余所有内部错误都在此边界被一次性捕获并转化为唯一的 failed 事件。
func (p *Pipeline) Run(ctx context.Context, orderID string) (err error) {
	ord, loadErr := p.repo.Get(ctx, orderID)
	if errors.Is(loadErr, order.ErrNotFound) {
		p.logger.Error("订单不存在，按无操作完成", zap.String("order_id", orderID))
		return nil
	}
	if loadErr != nil {
		return fmt.Errorf("pipeline: 加载订单失败: %w", loadErr)
	}

	// 重复执行守卫缺口（见 DESIGN.md）：已有交易哈希说明此前某次尝试
	// 已经结算过，这里只告警，整条管道仍从 pending 重新跑。
	if ord.TxHash != "" {
		p.logger.Warn("订单已存在交易哈希，本次重跑将覆盖先前结果",
			zap.String("order_id", orderID),
			zap.String("tx_hash", ord.TxHash),
		)
	}

	run := p.publisher.NewRun(orderID)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("管道内部 panic，转化为 failed 事件",
				zap.String("order_id", orderID),
				zap.Any("panic", r),
			)
			p.fail(ctx, run, fmt.Sprintf("internal error: %v", r))
			err = nil
		}
	}()

	if emitErr := run.Pending(ctx); emitErr != nil {
		p.fail(ctx, run, emitErr.Error())
		return nil
	}
	if emitErr := run.Routing(ctx); emitErr != nil {
		p.fail(ctx, run, emitErr.Error())
		return nil
	}

	quotes, aggErr := p.aggregator.Aggregate(ctx, ord)
	if aggErr != nil {
		p.fail(ctx, run, aggErr.Error())
		return nil
	}

	sel := routing.SelectBest(ord, quotes)

	if emitErr := run.Building(ctx, quotes, sel); emitErr != nil {
		p.fail(ctx, run, emitErr.Error())
		return nil
	}
	if emitErr := run.Submitted(ctx, sel.Best.Dex); emitErr != nil {
		p.fail(ctx, run, emitErr.Error())
		return nil
	}

	result, settleErr := p.settler.Settle(ctx, ord, p.adapters[sel.ChosenIndex], sel.Best)
	if settleErr != nil {
		p.fail(ctx, run, settleErr.Error())
		return nil
	}

	if emitErr := run.Confirmed(ctx, result); emitErr != nil {
		p.fail(ctx, run, emitErr.Error())
		return nil
	}

	p.logger.Info("订单执行完成",
		zap.String("order_id", orderID),
		zap.String("dex", result.Dex),
		zap.String("tx_hash", result.TxHash),
		zap.Float64("amount_out", result.AmountOut),
	)

	return nil
}

// fail 发出终态 failed 事件；failed 自身再失败只能记日志。
func (p *Pipeline) fail(ctx context.Context, run *status.Run, reason string) {
	if err := run.Failed(ctx, reason); err != nil {
		p.logger.Error("发出 failed 事件失败", zap.String("reason", reason), zap.Error(err))
	}
}
