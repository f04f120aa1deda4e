package status

import (
	"fmt"

	"swap-router/internal/order"
)

// Machine 追踪单次执行内的状态推进，保证序列单调且终态唯一。
type Machine struct {
	current order.Status
	started bool
}

// Current 返回当前状态，尚未推进时 started 为 false。
func (m *Machine) Current() (order.Status, bool) {
	return m.current, m.started
}

// Advance 校验并记录一次状态推进。
// 成功路径必须严格按 pending→routing→building→submitted→confirmed 顺序推进；
// failed 可从任意非终态进入，且一旦进入终态不再接受任何推进。
func (m *Machine) Advance(next order.Status) error {
	if !next.Valid() {
		return fmt.Errorf("status: 非法状态 %q", next)
	}

	if m.started && m.current.Terminal() {
		return fmt.Errorf("status: 订单已处于终态 %q，拒绝推进到 %q", m.current, next)
	}

	if next == order.StatusFailed {
		m.current = next
		m.started = true
		return nil
	}

	if !m.started {
		if next != order.StatusPending {
			return fmt.Errorf("status: 首个状态必须为 %q，收到 %q", order.StatusPending, next)
		}
		m.current = next
		m.started = true
		return nil
	}

	nextRank, _ := next.Rank()
	currentRank, _ := m.current.Rank()
	if nextRank != currentRank+1 {
		return fmt.Errorf("status: 不允许从 %q 推进到 %q", m.current, next)
	}

	m.current = next
	return nil
}
