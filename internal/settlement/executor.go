package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swap-router/internal/dex"
	"swap-router/internal/order"
)

// ErrSlippageExceeded 表示结算产出低于订单允许的滑点下限。
var ErrSlippageExceeded = errors.New("settlement: 滑点超出允许范围")

// Executor 在选定来源上执行成交并应用滑点保护。
type Executor struct {
	logger *zap.Logger
}

// NewExecutor 创建结算执行器。
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// Settle 委托来源执行选中报价并计算结算结果。
// 来源侧失败不做本地重试，直接上抛；滑点越界时不产生任何结算副作用。
func (e *Executor) Settle(ctx context.Context, ord *order.Order, adapter dex.Adapter, quote order.Quote) (order.SettlementResult, error) {
	if err := adapter.Execute(ctx, ord, quote); err != nil {
		return order.SettlementResult{}, fmt.Errorf("settlement: %s 执行失败: %w", quote.Dex, err)
	}

	grossOut := ord.AmountIn * quote.QuoteVal
	feeAmount := grossOut * quote.Fee
	amountOut := grossOut - feeAmount

	if ord.SlippageBps != nil {
		maxSlippage := float64(*ord.SlippageBps) / 10_000
		minAllowedOut := grossOut * (1 - maxSlippage)
		if amountOut < minAllowedOut {
			return order.SettlementResult{}, ErrSlippageExceeded
		}
	}

	result := order.SettlementResult{
		Dex:           quote.Dex,
		TxHash:        newTxHash(quote.Dex),
		ExecutedPrice: quote.QuoteVal,
		AmountIn:      ord.AmountIn,
		AmountOut:     amountOut,
		FeePaid:       feeAmount,
	}

	e.logger.Debug("结算完成",
		zap.String("order_id", ord.ID),
		zap.String("dex", result.Dex),
		zap.String("tx_hash", result.TxHash),
		zap.Float64("amount_out", result.AmountOut),
	)

	return result, nil
}

// newTxHash 为本次执行生成唯一交易哈希。
func newTxHash(dex string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "MOCK_" + strings.ToUpper(dex) + "_" + raw
}
