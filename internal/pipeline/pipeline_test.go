package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"swap-router/internal/config"
	"swap-router/internal/dex"
	"swap-router/internal/order"
	"swap-router/internal/settlement"
	"swap-router/internal/status"
	"swap-router/internal/store"
)

type stubAdapter struct {
	name     string
	quoteVal float64
	fee      float64
	quoteErr error
	execErr  error
}

func (s *stubAdapter) Name() string {
	return s.name
}

func (s *stubAdapter) Quote(ctx context.Context, ord *order.Order) (order.Quote, error) {
	if s.quoteErr != nil {
		return order.Quote{}, s.quoteErr
	}
	return order.Quote{Dex: s.name, QuoteVal: s.quoteVal, Fee: s.fee}, nil
}

func (s *stubAdapter) Execute(ctx context.Context, ord *order.Order, quote order.Quote) error {
	return s.execErr
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events map[string][]order.StatusEvent
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{events: make(map[string][]order.StatusEvent)}
}

func (c *captureBroadcaster) Publish(orderID string, event order.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[orderID] = append(c.events[orderID], event)
}

func (c *captureBroadcaster) statuses(orderID string) []order.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]order.Status, 0, len(c.events[orderID]))
	for _, ev := range c.events[orderID] {
		out = append(out, ev.Status)
	}
	return out
}

type fixture struct {
	repo *order.Repository
	bc   *captureBroadcaster
	pipe *Pipeline
}

func newFixture(t *testing.T, adapters []dex.Adapter) *fixture {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	repo, err := order.NewRepository(st, nil)
	if err != nil {
		t.Fatalf("init repository failed: %v", err)
	}

	bc := newCaptureBroadcaster()
	publisher := status.NewPublisher(repo, bc, nil)

	return &fixture{
		repo: repo,
		bc:   bc,
		pipe: New(repo, publisher, adapters, nil),
	}
}

func (f *fixture) createOrder(t *testing.T, id string, amountIn float64, slippageBps *int) {
	t.Helper()
	now := time.Now().UTC()
	err := f.repo.Create(context.Background(), &order.Order{
		ID:          id,
		Type:        order.TypeMarket,
		TokenIn:     "SOL",
		TokenOut:    "USDC",
		AmountIn:    amountIn,
		SlippageBps: slippageBps,
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
}

var successSequence = []order.Status{
	order.StatusPending, order.StatusRouting, order.StatusBuilding,
	order.StatusSubmitted, order.StatusConfirmed,
}

func assertSequence(t *testing.T, got, want []order.Status) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRun_SuccessfulOrderEmitsFullSequence(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
		&stubAdapter{name: "meteora", quoteVal: 1.5, fee: 0.005},
	})
	f.createOrder(t, "o1", 100, nil)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	assertSequence(t, f.bc.statuses("o1"), successSequence)

	loaded, err := f.repo.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Status != order.StatusConfirmed {
		t.Errorf("expected confirmed, got %s", loaded.Status)
	}
	if loaded.ChosenDex != "raydium" {
		t.Errorf("expected raydium chosen, got %q", loaded.ChosenDex)
	}
	if loaded.TxHash == "" || loaded.ExecutedPrice != 2.0 {
		t.Errorf("settlement fields not persisted: %+v", loaded)
	}
	if diff := loaded.AmountOut - 198.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected amountOut=198.0, got %v", loaded.AmountOut)
	}
}

func TestRun_TieSelectsFirstConfiguredAdapter(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 1.5, fee: 0},
		&stubAdapter{name: "meteora", quoteVal: 1.5, fee: 0},
	})
	f.createOrder(t, "o1", 100, nil)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	loaded, err := f.repo.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.ChosenDex != "raydium" {
		t.Errorf("tie must resolve to first configured adapter, got %q", loaded.ChosenDex)
	}
}

func TestRun_QuoteFailureFailsWholePhase(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
		&stubAdapter{name: "meteora", quoteErr: errors.New("venue unavailable")},
	})
	f.createOrder(t, "o1", 100, nil)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run must report completion even on failed order, got %v", err)
	}

	assertSequence(t, f.bc.statuses("o1"), []order.Status{
		order.StatusPending, order.StatusRouting, order.StatusFailed,
	})

	loaded, err := f.repo.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Status != order.StatusFailed {
		t.Errorf("expected failed, got %s", loaded.Status)
	}
	if !strings.Contains(loaded.FailureReason, "meteora") {
		t.Errorf("failure reason should name the adapter, got %q", loaded.FailureReason)
	}
}

func TestRun_ExecutionFailureEmitsFailed(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01, execErr: errors.New("network timeout")},
		&stubAdapter{name: "meteora", quoteVal: 1.5, fee: 0.005},
	})
	f.createOrder(t, "o1", 100, nil)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	assertSequence(t, f.bc.statuses("o1"), []order.Status{
		order.StatusPending, order.StatusRouting, order.StatusBuilding,
		order.StatusSubmitted, order.StatusFailed,
	})
}

func TestRun_SlippageExceededFailsOrder(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
	})
	bps := 50
	f.createOrder(t, "o1", 100, &bps)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	assertSequence(t, f.bc.statuses("o1"), []order.Status{
		order.StatusPending, order.StatusRouting, order.StatusBuilding,
		order.StatusSubmitted, order.StatusFailed,
	})

	loaded, err := f.repo.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Status != order.StatusFailed {
		t.Errorf("expected failed, got %s", loaded.Status)
	}
	// 滑点失败不得留下成功结算的痕迹。
	if loaded.TxHash != "" {
		t.Errorf("no settlement must be persisted as successful, txHash=%q", loaded.TxHash)
	}
}

func TestRun_MissingOrderIsNoop(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
	})

	if err := f.pipe.Run(context.Background(), "missing"); err != nil {
		t.Fatalf("missing order must complete as a no-op, got %v", err)
	}
	if events := f.bc.statuses("missing"); len(events) != 0 {
		t.Errorf("no status must be emitted for a missing order, got %v", events)
	}
}

func TestRun_BuildingEventCarriesQuotesAndNetOuts(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
		&stubAdapter{name: "meteora", quoteVal: 1.5, fee: 0.005},
	})
	f.createOrder(t, "o1", 100, nil)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	f.bc.mu.Lock()
	building := f.bc.events["o1"][2]
	f.bc.mu.Unlock()

	if building.Extra["chosenDex"] != "raydium" {
		t.Errorf("building event chosenDex mismatch: %+v", building.Extra)
	}
	netOuts, ok := building.Extra["netOuts"].([]float64)
	if !ok || len(netOuts) != 2 {
		t.Fatalf("building event must carry both net outputs: %+v", building.Extra)
	}
	if diff := netOuts[0] - 198.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected netOuts[0]=198.0, got %v", netOuts[0])
	}
	if diff := netOuts[1] - 149.25; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected netOuts[1]=149.25, got %v", netOuts[1])
	}
}

func TestRun_ConcurrentOrdersProduceIndependentStreams(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
		&stubAdapter{name: "meteora", quoteVal: 1.5, fee: 0.005},
	})

	const n = 8
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("o%d", i)
		ids = append(ids, id)
		f.createOrder(t, id, 100, nil)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			if err := f.pipe.Run(context.Background(), orderID); err != nil {
				t.Errorf("Run(%s) returned error: %v", orderID, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		assertSequence(t, f.bc.statuses(id), successSequence)

		f.bc.mu.Lock()
		for _, ev := range f.bc.events[id] {
			if ev.OrderID != id {
				t.Errorf("event for %s leaked into stream %s", ev.OrderID, id)
			}
		}
		f.bc.mu.Unlock()
	}
}

// 结算失败必须包含可读原因，确认管道使用结算层的错误文本。
func TestRun_FailureReasonIsHumanReadable(t *testing.T) {
	f := newFixture(t, []dex.Adapter{
		&stubAdapter{name: "raydium", quoteVal: 2.0, fee: 0.01},
	})
	bps := 50
	f.createOrder(t, "o1", 100, &bps)

	if err := f.pipe.Run(context.Background(), "o1"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	loaded, err := f.repo.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.FailureReason != settlement.ErrSlippageExceeded.Error() {
		t.Errorf("expected slippage reason %q, got %q",
			settlement.ErrSlippageExceeded.Error(), loaded.FailureReason)
	}
}
