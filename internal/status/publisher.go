package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/order"
	"swap-router/internal/routing"
)

// Broadcaster 抽象面向订阅者的实时推送。实现必须非阻塞、尽力而为，
// 无订阅者时静默丢弃。
type Broadcaster interface {
	Publish(orderID string, event order.StatusEvent)
}

// Repository 抽象发布器依赖的持久化操作。
type Repository interface {
	Update(ctx context.Context, id string, upd order.Update) error
	AppendEvent(ctx context.Context, event order.StatusEvent) error
}

// Publisher 负责状态事件的落库与广播。
// 持久化失败只记日志不中断，广播照常进行——实时可见性优先于落库一致性。
type Publisher struct {
	repo   Repository
	stream Broadcaster
	logger *zap.Logger
}

// NewPublisher 创建状态发布器。
func NewPublisher(repo Repository, stream Broadcaster, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		repo:   repo,
		stream: stream,
		logger: logger,
	}
}

// NewRun 为一次订单执行创建状态推进上下文。
func (p *Publisher) NewRun(orderID string) *Run {
	return &Run{
		pub:     p,
		orderID: orderID,
	}
}

// Run 绑定单次订单执行，按状态机顺序发出生命周期事件。
type Run struct {
	pub     *Publisher
	orderID string
	machine Machine
}

// Pending 发出 pending 事件。
func (r *Run) Pending(ctx context.Context) error {
	st := order.StatusPending
	return r.emit(ctx, st, nil, order.Update{Status: &st})
}

// Routing 发出 routing 事件。
func (r *Run) Routing(ctx context.Context) error {
	st := order.StatusRouting
	return r.emit(ctx, st, nil, order.Update{Status: &st})
}

// Building 发出 building 事件，附带全部报价、净产出与选中来源。
func (r *Run) Building(ctx context.Context, quotes []order.Quote, sel routing.Selection) error {
	st := order.StatusBuilding
	chosen := sel.Best.Dex
	extra := map[string]interface{}{
		"chosenDex": chosen,
		"quotes":    quotes,
		"netOuts":   sel.NetOuts,
	}
	return r.emit(ctx, st, extra, order.Update{Status: &st, ChosenDex: &chosen})
}

// Submitted 发出 submitted 事件。
func (r *Run) Submitted(ctx context.Context, chosenDex string) error {
	st := order.StatusSubmitted
	extra := map[string]interface{}{
		"chosenDex": chosenDex,
	}
	return r.emit(ctx, st, extra, order.Update{Status: &st})
}

// Confirmed 发出终态 confirmed 事件，附带结算明细。
func (r *Run) Confirmed(ctx context.Context, result order.SettlementResult) error {
	st := order.StatusConfirmed
	extra := map[string]interface{}{
		"dex":           result.Dex,
		"txHash":        result.TxHash,
		"executedPrice": result.ExecutedPrice,
		"amountOut":     result.AmountOut,
		"feePaid":       result.FeePaid,
	}
	return r.emit(ctx, st, extra, order.Update{
		Status:        &st,
		ExecutedPrice: &result.ExecutedPrice,
		TxHash:        &result.TxHash,
		AmountOut:     &result.AmountOut,
		FeePaid:       &result.FeePaid,
	})
}

// Failed 发出终态 failed 事件，reason 为人类可读的失败原因。
func (r *Run) Failed(ctx context.Context, reason string) error {
	st := order.StatusFailed
	extra := map[string]interface{}{
		"error": reason,
	}
	return r.emit(ctx, st, extra, order.Update{Status: &st, FailureReason: &reason})
}

func (r *Run) emit(ctx context.Context, st order.Status, extra map[string]interface{}, upd order.Update) error {
	if err := r.machine.Advance(st); err != nil {
		return err
	}

	event := order.StatusEvent{
		OrderID:   r.orderID,
		Status:    st,
		Extra:     extra,
		Timestamp: time.Now().UTC(),
	}

	if err := r.pub.repo.Update(ctx, r.orderID, upd); err != nil {
		r.pub.logger.Warn("状态落库失败，继续广播",
			zap.String("order_id", r.orderID),
			zap.String("status", string(st)),
			zap.Error(err),
		)
	}
	if err := r.pub.repo.AppendEvent(ctx, event); err != nil {
		r.pub.logger.Warn("状态事件写入审计日志失败",
			zap.String("order_id", r.orderID),
			zap.String("status", string(st)),
			zap.Error(err),
		)
	}

	r.pub.stream.Publish(r.orderID, event)

	return nil
}
