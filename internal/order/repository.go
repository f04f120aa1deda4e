package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/store"
)

// ErrNotFound 表示订单不存在。
var ErrNotFound = errors.New("order: 订单不存在")

// Repository 负责订单与状态事件的持久化。
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository 初始化订单仓储，创建所需表结构。
func NewRepository(store *store.Store, logger *zap.Logger) (*Repository, error) {
	if store == nil {
		return nil, fmt.Errorf("order: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Repository{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Repository) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	token_in TEXT NOT NULL,
	token_out TEXT NOT NULL,
	amount_in REAL NOT NULL,
	slippage_bps INTEGER,
	status TEXT NOT NULL,
	chosen_dex TEXT NOT NULL DEFAULT '',
	executed_price REAL NOT NULL DEFAULT 0,
	tx_hash TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	amount_out REAL NOT NULL DEFAULT 0,
	fee_paid REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS order_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("order: 初始化表失败: %w", err)
	}
	return nil
}

// Create 写入新订单。
func (r *Repository) Create(ctx context.Context, ord *Order) error {
	if ord == nil {
		return fmt.Errorf("order: 订单不能为空")
	}

	slippage := sql.NullInt64{}
	if ord.SlippageBps != nil {
		slippage = sql.NullInt64{Int64: int64(*ord.SlippageBps), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, type, token_in, token_out, amount_in, slippage_bps, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ord.ID, ord.Type, ord.TokenIn, ord.TokenOut, ord.AmountIn, slippage, string(ord.Status),
		ord.CreatedAt.UTC().Format(time.RFC3339Nano), ord.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("order: 写入订单失败: %w", err)
	}

	return nil
}

// Get 按 ID 读取订单，不存在时返回 ErrNotFound。
func (r *Repository) Get(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, type, token_in, token_out, amount_in, slippage_bps, status, chosen_dex,
		        executed_price, tx_hash, failure_reason, amount_out, fee_paid, created_at, updated_at
		 FROM orders WHERE id = ?`, id)

	var (
		ord       Order
		slippage  sql.NullInt64
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&ord.ID, &ord.Type, &ord.TokenIn, &ord.TokenOut, &ord.AmountIn, &slippage,
		&status, &ord.ChosenDex, &ord.ExecutedPrice, &ord.TxHash, &ord.FailureReason,
		&ord.AmountOut, &ord.FeePaid, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order: 读取订单失败: %w", err)
	}

	ord.Status = Status(status)
	if slippage.Valid {
		bps := int(slippage.Int64)
		ord.SlippageBps = &bps
	}
	if ord.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("order: 解析 created_at 失败: %w", err)
	}
	if ord.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("order: 解析 updated_at 失败: %w", err)
	}

	return &ord, nil
}

// Update 按字段合并更新订单，后写覆盖先写，重复应用同一更新结果不变。
func (r *Repository) Update(ctx context.Context, id string, upd Update) error {
	if upd.Empty() {
		return nil
	}

	sets := make([]string, 0, 8)
	args := make([]interface{}, 0, 9)

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.ChosenDex != nil {
		sets = append(sets, "chosen_dex = ?")
		args = append(args, *upd.ChosenDex)
	}
	if upd.ExecutedPrice != nil {
		sets = append(sets, "executed_price = ?")
		args = append(args, *upd.ExecutedPrice)
	}
	if upd.TxHash != nil {
		sets = append(sets, "tx_hash = ?")
		args = append(args, *upd.TxHash)
	}
	if upd.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, *upd.FailureReason)
	}
	if upd.AmountOut != nil {
		sets = append(sets, "amount_out = ?")
		args = append(args, *upd.AmountOut)
	}
	if upd.FeePaid != nil {
		sets = append(sets, "fee_paid = ?")
		args = append(args, *upd.FeePaid)
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE orders SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("order: 更新订单失败: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}

	return nil
}

// AppendEvent 追加状态事件到审计日志。
func (r *Repository) AppendEvent(ctx context.Context, event StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("order: 序列化事件失败: %w", err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO order_events (order_id, status, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.OrderID, string(event.Status), string(payload), ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("order: 写入事件失败: %w", err)
	}

	return nil
}

// EventRecord 是审计日志中的单条状态事件。
type EventRecord struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"orderId"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListEvents 按写入顺序返回某订单的状态事件。
func (r *Repository) ListEvents(ctx context.Context, orderID string) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, status, payload, created_at FROM order_events WHERE order_id = ? ORDER BY id ASC`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("order: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, 8)
	for rows.Next() {
		var (
			record    EventRecord
			status    string
			payload   string
			createdAt string
		)
		if err := rows.Scan(&record.ID, &record.OrderID, &status, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("order: 扫描事件失败: %w", err)
		}
		record.Status = Status(status)
		record.Payload = json.RawMessage(payload)
		if record.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("order: 解析事件时间失败: %w", err)
		}
		events = append(events, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: 遍历事件失败: %w", err)
	}

	return events, nil
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
