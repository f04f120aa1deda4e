package dex

import (
	"context"

	"swap-router/internal/order"
)

// Adapter 抽象单个流动性来源的报价与执行能力。
type Adapter interface {
	// Name 返回来源标识，用于状态事件与成交记录。
	Name() string
	// Quote 针对订单生成一份临时报价。
	Quote(ctx context.Context, ord *order.Order) (order.Quote, error)
	// Execute 在该来源上执行选中的报价，仅表示场所接受与否，结算数额由结算层计算。
	Execute(ctx context.Context, ord *order.Order, quote order.Quote) error
}
