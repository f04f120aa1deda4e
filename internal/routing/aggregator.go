package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swap-router/internal/dex"
	"swap-router/internal/order"
)

// Aggregator 并发地向所有流动性来源询价并汇总结果。
type Aggregator struct {
	adapters []dex.Adapter
	logger   *zap.Logger
}

// NewAggregator 创建报价聚合器，adapters 顺序即配置顺序。
func NewAggregator(adapters []dex.Adapter, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		adapters: adapters,
		logger:   logger,
	}
}

// Adapters 返回按配置顺序排列的来源列表。
func (a *Aggregator) Adapters() []dex.Adapter {
	return a.adapters
}

// Aggregate 对所有来源并发询价。全有或全无：任一来源失败则整个询价阶段失败。
// 返回的切片下标与来源配置顺序一致，供选路时作平局裁决。
func (a *Aggregator) Aggregate(ctx context.Context, ord *order.Order) ([]order.Quote, error) {
	if len(a.adapters) == 0 {
		return nil, fmt.Errorf("routing: 未配置任何流动性来源")
	}

	quotes := make([]order.Quote, len(a.adapters))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, adapter := range a.adapters {
		idx, ad := i, adapter
		group.Go(func() error {
			quote, err := ad.Quote(groupCtx, ord)
			if err != nil {
				return fmt.Errorf("routing: %s 报价失败: %w", ad.Name(), err)
			}
			quotes[idx] = quote
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	a.logger.Debug("报价聚合完成",
		zap.String("order_id", ord.ID),
		zap.Int("quote_count", len(quotes)),
	)

	return quotes, nil
}
