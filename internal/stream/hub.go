package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swap-router/internal/order"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Hub 维护 orderId 到单条活跃 WebSocket 连接的映射。
// 管道只通过 Register/Unregister/Publish 与之交互，不直接持有连接。
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	logger *zap.Logger
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewHub 创建订阅注册表。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]*connection),
		logger: logger,
	}
}

// Register 登记某订单的活跃连接，新连接替换旧连接。
func (h *Hub) Register(orderID string, ws *websocket.Conn) {
	conn := &connection{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	old, existed := h.conns[orderID]
	h.conns[orderID] = conn
	h.mu.Unlock()

	if existed {
		old.close()
	}

	go conn.writePump(h, orderID)
	go conn.readPump(h, orderID)

	h.logger.Debug("订阅连接已登记", zap.String("order_id", orderID), zap.Bool("replaced", existed))
}

// Unregister 移除某订单的连接登记。
func (h *Hub) Unregister(orderID string) {
	h.mu.Lock()
	conn, ok := h.conns[orderID]
	if ok {
		delete(h.conns, orderID)
	}
	h.mu.Unlock()

	if ok {
		conn.close()
		h.logger.Debug("订阅连接已移除", zap.String("order_id", orderID))
	}
}

// Publish 向订单的订阅者推送事件。尽力而为：无订阅者时静默忽略，
// 发送缓冲已满时丢弃本条，绝不阻塞调用方。
func (h *Hub) Publish(orderID string, event order.StatusEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("序列化状态事件失败", zap.String("order_id", orderID), zap.Error(err))
		return
	}

	h.mu.RLock()
	conn, ok := h.conns[orderID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case conn.send <- payload:
	default:
		h.logger.Warn("订阅者缓冲已满，丢弃事件",
			zap.String("order_id", orderID),
			zap.String("status", string(event.Status)),
		)
	}
}

// drop 在连接自身出错时移除登记，仅当登记的仍是该连接时生效。
func (h *Hub) drop(orderID string, conn *connection) {
	h.mu.Lock()
	if current, ok := h.conns[orderID]; ok && current == conn {
		delete(h.conns, orderID)
	}
	h.mu.Unlock()
	conn.close()
}

func (c *connection) writePump(h *Hub, orderID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("推送事件失败", zap.String("order_id", orderID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只负责探测对端断开，收到的消息一律忽略。
func (c *connection) readPump(h *Hub, orderID string) {
	defer h.drop(orderID, c)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
