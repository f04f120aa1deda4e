package dex

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/config"
	"swap-router/internal/order"
)

// MockAdapter 以可配置的价格区间、手续费与故障率模拟一个交易场所。
type MockAdapter struct {
	cfg    config.AdapterConfig
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Adapter = (*MockAdapter)(nil)

// NewMockAdapter 创建模拟流动性来源。Seed 为 0 时使用时间种子。
func NewMockAdapter(cfg config.AdapterConfig, logger *zap.Logger) *MockAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &MockAdapter{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// NewMockAdapters 按配置顺序批量创建模拟来源，顺序即路由优先顺序。
func NewMockAdapters(cfgs []config.AdapterConfig, logger *zap.Logger) []Adapter {
	adapters := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		adapters = append(adapters, NewMockAdapter(cfg, logger))
	}
	return adapters
}

// Name 返回来源标识。
func (a *MockAdapter) Name() string {
	return a.cfg.Name
}

// Quote 在配置区间内采样一个价格乘数。
func (a *MockAdapter) Quote(ctx context.Context, ord *order.Order) (order.Quote, error) {
	if err := a.sleep(ctx, a.cfg.QuoteLatency); err != nil {
		return order.Quote{}, err
	}

	quoteVal := a.cfg.MinQuote + a.random()*(a.cfg.MaxQuote-a.cfg.MinQuote)

	a.logger.Debug("生成模拟报价",
		zap.String("dex", a.cfg.Name),
		zap.String("order_id", ord.ID),
		zap.Float64("quote_val", quoteVal),
		zap.Float64("fee", a.cfg.Fee),
	)

	return order.Quote{
		Dex:      a.cfg.Name,
		QuoteVal: quoteVal,
		Fee:      a.cfg.Fee,
	}, nil
}

// Execute 按故障率模拟场所侧的执行结果。
func (a *MockAdapter) Execute(ctx context.Context, ord *order.Order, quote order.Quote) error {
	if err := a.sleep(ctx, a.cfg.ExecuteLatency); err != nil {
		return err
	}

	if a.cfg.FailureRate > 0 && a.random() < a.cfg.FailureRate {
		return fmt.Errorf("dex: %s 执行失败: 模拟网络超时", a.cfg.Name)
	}

	return nil
}

func (a *MockAdapter) random() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64()
}

func (a *MockAdapter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
