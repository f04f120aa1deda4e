package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket 将连接升级后按 orderId 登记到订阅注册表。
// 每个订单同一时刻只保留一条活跃连接，新连接替换旧连接。
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	if orderID == "" {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "orderId query parameter required")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s.hub.Register(orderID, conn)
}
