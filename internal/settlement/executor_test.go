package settlement

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"swap-router/internal/order"
)

type stubAdapter struct {
	name    string
	execErr error
	calls   int
}

func (s *stubAdapter) Name() string {
	return s.name
}

func (s *stubAdapter) Quote(ctx context.Context, ord *order.Order) (order.Quote, error) {
	return order.Quote{}, errors.New("not used")
}

func (s *stubAdapter) Execute(ctx context.Context, ord *order.Order, quote order.Quote) error {
	s.calls++
	return s.execErr
}

func TestSettle_ComputesFeeArithmetic(t *testing.T) {
	exec := NewExecutor(nil)
	ord := &order.Order{ID: "o1", AmountIn: 100}
	quote := order.Quote{Dex: "raydium", QuoteVal: 2.0, Fee: 0.01}

	result, err := exec.Settle(context.Background(), ord, &stubAdapter{name: "raydium"}, quote)
	if err != nil {
		t.Fatalf("Settle returned error: %v", err)
	}

	if diff := math.Abs(result.AmountOut - 198.0); diff > 1e-9 {
		t.Errorf("expected amountOut=198.0, diff=%g", diff)
	}
	if diff := math.Abs(result.FeePaid - 2.0); diff > 1e-9 {
		t.Errorf("expected feePaid=2.0, diff=%g", diff)
	}
	if result.ExecutedPrice != quote.QuoteVal {
		t.Errorf("executedPrice must equal quoteVal: %v vs %v", result.ExecutedPrice, quote.QuoteVal)
	}
	if result.AmountIn != ord.AmountIn {
		t.Errorf("amountIn mismatch: %v vs %v", result.AmountIn, ord.AmountIn)
	}
	if !strings.HasPrefix(result.TxHash, "MOCK_RAYDIUM_") {
		t.Errorf("unexpected txHash shape: %s", result.TxHash)
	}
}

func TestSettle_TxHashUniquePerAttempt(t *testing.T) {
	exec := NewExecutor(nil)
	ord := &order.Order{ID: "o2", AmountIn: 10}
	quote := order.Quote{Dex: "meteora", QuoteVal: 1.0, Fee: 0}
	adapter := &stubAdapter{name: "meteora"}

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		result, err := exec.Settle(context.Background(), ord, adapter, quote)
		if err != nil {
			t.Fatalf("Settle returned error: %v", err)
		}
		if _, dup := seen[result.TxHash]; dup {
			t.Fatalf("duplicate txHash across attempts: %s", result.TxHash)
		}
		seen[result.TxHash] = struct{}{}
	}
}

func TestSettle_SlippageExceeded(t *testing.T) {
	exec := NewExecutor(nil)
	bps := 50
	ord := &order.Order{ID: "o3", AmountIn: 100, SlippageBps: &bps}
	// fee 0.01 ⇒ amountOut = grossOut·0.99 < grossOut·0.995，必须触发滑点保护。
	quote := order.Quote{Dex: "raydium", QuoteVal: 2.0, Fee: 0.01}
	adapter := &stubAdapter{name: "raydium"}

	result, err := exec.Settle(context.Background(), ord, adapter, quote)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if result != (order.SettlementResult{}) {
		t.Errorf("no settlement result expected on slippage failure, got %+v", result)
	}
}

func TestSettle_SlippageWithinTolerance(t *testing.T) {
	exec := NewExecutor(nil)
	bps := 200
	ord := &order.Order{ID: "o4", AmountIn: 100, SlippageBps: &bps}
	// fee 0.01 ⇒ amountOut = grossOut·0.99 ≥ grossOut·0.98，应当放行。
	quote := order.Quote{Dex: "raydium", QuoteVal: 2.0, Fee: 0.01}

	if _, err := exec.Settle(context.Background(), ord, &stubAdapter{name: "raydium"}, quote); err != nil {
		t.Fatalf("expected success within tolerance, got %v", err)
	}
}

func TestSettle_AdapterFailureNotRetried(t *testing.T) {
	exec := NewExecutor(nil)
	ord := &order.Order{ID: "o5", AmountIn: 100}
	quote := order.Quote{Dex: "meteora", QuoteVal: 1.0, Fee: 0}
	adapter := &stubAdapter{name: "meteora", execErr: errors.New("network timeout")}

	_, err := exec.Settle(context.Background(), ord, adapter, quote)
	if err == nil {
		t.Fatal("expected adapter failure to surface")
	}
	if !strings.Contains(err.Error(), "network timeout") {
		t.Errorf("expected wrapped adapter error, got %v", err)
	}
	if adapter.calls != 1 {
		t.Errorf("adapter failure must not be retried locally, calls=%d", adapter.calls)
	}
}
