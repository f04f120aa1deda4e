package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swap-router/internal/config"
	"swap-router/internal/order"
	"swap-router/internal/queue"
	"swap-router/internal/stream"
)

// Server 提供订单下发接口与订单状态的查询/订阅端点。
type Server struct {
	cfg    config.ServerConfig
	repo   *order.Repository
	queue  queue.Queue
	hub    *stream.Hub
	logger *zap.Logger
}

// NewServer 创建 API 服务。
func NewServer(cfg config.ServerConfig, repo *order.Repository, q queue.Queue, hub *stream.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		repo:   repo,
		queue:  q,
		hub:    hub,
		logger: logger,
	}
}

// Start 启动 HTTP 服务并在 ctx 取消时优雅关停。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders/execute", s.handleExecute)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /api/orders/{id}/events", s.handleListEvents)
	mux.HandleFunc("GET /ws/orders", s.handleWebSocket)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: 监听 %s 失败: %w", addr, err)
	}

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("关闭 API 服务失败", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("API 服务已启动", zap.String("addr", addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API 服务异常退出", zap.Error(err))
		}
	}()

	return nil
}

type executeRequest struct {
	Type        string  `json:"type"`
	TokenIn     string  `json:"tokenIn"`
	TokenOut    string  `json:"tokenOut"`
	AmountIn    float64 `json:"amountIn"`
	SlippageBps *int    `json:"slippageBps,omitempty"`
}

type executeResponse struct {
	OrderID string `json:"orderId"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Type == "" {
		req.Type = order.TypeMarket
	}
	if req.Type != order.TypeMarket {
		writeError(w, http.StatusBadRequest, "only market orders are supported")
		return
	}
	if strings.TrimSpace(req.TokenIn) == "" || strings.TrimSpace(req.TokenOut) == "" {
		writeError(w, http.StatusBadRequest, "tokenIn and tokenOut are required")
		return
	}
	if req.AmountIn <= 0 {
		writeError(w, http.StatusBadRequest, "amountIn must be positive")
		return
	}
	if req.SlippageBps != nil && (*req.SlippageBps < 0 || *req.SlippageBps > 10000) {
		writeError(w, http.StatusBadRequest, "slippageBps must be within [0,10000]")
		return
	}

	now := time.Now().UTC()
	ord := &order.Order{
		ID:          uuid.NewString(),
		Type:        order.TypeMarket,
		TokenIn:     strings.TrimSpace(req.TokenIn),
		TokenOut:    strings.TrimSpace(req.TokenOut),
		AmountIn:    req.AmountIn,
		SlippageBps: req.SlippageBps,
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(r.Context(), ord); err != nil {
		s.logger.Error("创建订单失败", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	if err := s.queue.Enqueue(r.Context(), ord.ID); err != nil {
		s.logger.Error("订单入队失败", zap.String("order_id", ord.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue order")
		return
	}

	s.logger.Info("订单已受理",
		zap.String("order_id", ord.ID),
		zap.String("token_in", ord.TokenIn),
		zap.String("token_out", ord.TokenOut),
		zap.Float64("amount_in", ord.AmountIn),
	)

	writeJSON(w, http.StatusOK, executeResponse{OrderID: ord.ID})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := s.repo.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, order.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.logger.Error("查询订单失败", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.repo.ListEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("查询订单事件失败", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
