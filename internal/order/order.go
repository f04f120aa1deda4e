package order

import (
	"encoding/json"
	"time"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// TypeMarket 是当前唯一支持的订单类型。
const TypeMarket = "market"

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid 判断状态取值是否合法。
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Rank 返回成功路径上的状态序号，failed 不在序列内。
func (s Status) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// Order 表示一笔待路由的市价换币订单。
type Order struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	TokenIn       string     `json:"tokenIn"`
	TokenOut      string     `json:"tokenOut"`
	AmountIn      float64    `json:"amountIn"`
	SlippageBps   *int       `json:"slippageBps,omitempty"`
	Status        Status     `json:"status"`
	ChosenDex     string     `json:"chosenDex,omitempty"`
	ExecutedPrice float64    `json:"executedPrice,omitempty"`
	TxHash        string     `json:"txHash,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	AmountOut     float64    `json:"amountOut,omitempty"`
	FeePaid       float64    `json:"feePaid,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Quote 是单个流动性来源给出的临时报价，按订单现算现用，不落库。
type Quote struct {
	Dex      string  `json:"dex"`
	QuoteVal float64 `json:"quoteVal"`
	Fee      float64 `json:"fee"`
}

// NetOut 计算该报价的净产出。
func (q Quote) NetOut(amountIn float64) float64 {
	return amountIn * q.QuoteVal * (1 - q.Fee)
}

// SettlementResult 表示一次成交结算的结果。
type SettlementResult struct {
	Dex           string  `json:"dex"`
	TxHash        string  `json:"txHash"`
	ExecutedPrice float64 `json:"executedPrice"`
	AmountIn      float64 `json:"amountIn"`
	AmountOut     float64 `json:"amountOut"`
	FeePaid       float64 `json:"feePaid"`
}

// StatusEvent 表示一次状态广播，线上格式为扁平 JSON 对象。
type StatusEvent struct {
	OrderID   string
	Status    Status
	Extra     map[string]interface{}
	Timestamp time.Time
}

// MarshalJSON 将 Extra 展平到顶层，保持 {orderId, status, ...extras} 的线上格式。
func (e StatusEvent) MarshalJSON() ([]byte, error) {
	payload := make(map[string]interface{}, len(e.Extra)+2)
	for k, v := range e.Extra {
		payload[k] = v
	}
	payload["orderId"] = e.OrderID
	payload["status"] = e.Status
	return json.Marshal(payload)
}

// Update 表示一次局部字段更新，nil 字段不参与写入，后写覆盖先写。
type Update struct {
	Status        *Status
	ChosenDex     *string
	ExecutedPrice *float64
	TxHash        *string
	FailureReason *string
	AmountOut     *float64
	FeePaid       *float64
}

// Empty 判断更新是否不含任何字段。
func (u Update) Empty() bool {
	return u.Status == nil && u.ChosenDex == nil && u.ExecutedPrice == nil &&
		u.TxHash == nil && u.FailureReason == nil && u.AmountOut == nil && u.FeePaid == nil
}
