package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"order-exec/internal/order"
	"order-exec/internal/store"
)

// EventType 为订单流水事件类型。
type EventType string

const (
	EventSubmitted   EventType = "ORDER_SUBMITTED"
	EventFillUpdate  EventType = "FILL_UPDATE"
	EventCanceled    EventType = "ORDER_CANCELED"
	EventRejected    EventType = "ORDER_REJECTED"
	EventSliceFailed EventType = "TWAP_SLICE_FAILED"
	EventOcoRace     EventType = "OCO_RACE"
	EventTriggerRisk EventType = "TRIGGER_WINDOW_WARNING"
)

// Event 为一条订单流水记录, 携带与交易所历史人工对账所需的全部上下文。
type Event struct {
	Type            EventType
	Symbol          string
	ClientID        string
	ExchangeOrderID string
	Status          order.Status
	Quantity        string
	Filled          string
	Detail          string
	Simulated       bool
	Timestamp       time.Time
}

// Journal 将订单事件持久化到 SQLite, 作为本地意图与远端状态的对账依据。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 初始化流水存储并建表。
func New(st *store.Store, logger *zap.Logger) (*Journal, error) {
	if st == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     st.DB(),
		logger: logger,
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS order_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	client_id TEXT,
	exchange_order_id TEXT,
	status TEXT,
	quantity TEXT,
	filled TEXT,
	detail TEXT,
	simulated INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_client ON order_events(client_id);
CREATE INDEX IF NOT EXISTS idx_order_events_symbol ON order_events(symbol);
`
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单条事件。Journal 为 nil 时安全退化为空操作,
// 流水写入失败不应阻断订单流程, 仅记录日志。
func (j *Journal) Record(ctx context.Context, event Event) {
	if j == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	simulated := 0
	if event.Simulated {
		simulated = 1
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO order_events
			(event_type, symbol, client_id, exchange_order_id, status, quantity, filled, detail, simulated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(event.Type), event.Symbol, event.ClientID, event.ExchangeOrderID,
		string(event.Status), event.Quantity, event.Filled, event.Detail,
		simulated, event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		j.logger.Warn("写入订单流水失败",
			zap.String("event_type", string(event.Type)),
			zap.String("client_id", event.ClientID),
			zap.Error(err),
		)
	}
}

// RecordHandle 基于订单句柄写入事件, 补全公共字段。
func (j *Journal) RecordHandle(ctx context.Context, eventType EventType, h *order.Handle, detail string, simulated bool) {
	if j == nil || h == nil {
		return
	}
	j.Record(ctx, Event{
		Type:            eventType,
		Symbol:          h.Symbol,
		ClientID:        h.ClientID,
		ExchangeOrderID: h.ExchangeOrderID,
		Status:          h.Status(),
		Quantity:        h.Quantity.String(),
		Filled:          h.Filled().String(),
		Detail:          detail,
		Simulated:       simulated,
	})
}

// Tail 返回最近 n 条事件, 供人工对账时快速检视。
func (j *Journal) Tail(ctx context.Context, n int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	if n <= 0 {
		n = 20
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT event_type, symbol, client_id, exchange_order_id, status, quantity, filled, detail, simulated, created_at
		FROM order_events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询流水失败: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			simulated int
			createdAt string
		)
		if err := rows.Scan(&e.Type, &e.Symbol, &e.ClientID, &e.ExchangeOrderID,
			&e.Status, &e.Quantity, &e.Filled, &e.Detail, &simulated, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: 扫描流水失败: %w", err)
		}
		e.Simulated = simulated == 1
		if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			e.Timestamp = ts
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
