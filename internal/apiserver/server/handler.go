// Package server 路由配置与核心基础设施
//
// 本文件定义 HTTP API 路由，业务接口由 conversation 包注册。
//   - websocket.go: WebSocket 事件网关
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"map-agent/internal/apiserver/conversation"
	"map-agent/internal/shared/eventbus"
)

// Handler 顶层 HTTP 处理器
type Handler struct {
	conversation   *conversation.Handler
	eventGateway   *EventGateway
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	allowedOrigins []string
}

// NewHandler 创建 Handler 实例
//
// gatherer 为 nil 时 /metrics 使用默认注册表。
func NewHandler(conv *conversation.Handler, events eventbus.Subscriber, metrics *Metrics, gatherer prometheus.Gatherer, allowedOrigins []string) *Handler {
	if metrics == nil {
		metrics = NewMetrics("map_agent", nil)
	}
	return &Handler{
		conversation:   conv,
		eventGateway:   NewEventGateway(events, metrics, allowedOrigins),
		metrics:        metrics,
		gatherer:       gatherer,
		allowedOrigins: allowedOrigins,
	}
}

// Gateway 返回事件网关
func (h *Handler) Gateway() *EventGateway {
	return h.eventGateway
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /health
//   - GET /metrics
//
// 地图会话:
//   - POST /api/v1/maps                        - 创建地图
//   - GET  /api/v1/maps/{id}                   - 获取地图
//   - POST /api/v1/maps/{id}/messages/send     - 发送消息并启动编排
//   - POST /api/v1/maps/{id}/messages/cancel   - 取消编排
//   - GET  /api/v1/maps/{id}/messages          - 会话记录
//   - GET  /api/v1/maps/{id}/layers            - 可见图层
//   - POST /api/v1/maps/{id}/layers            - 上传图层
//
// WebSocket:
//   - GET /ws/maps/{id}                        - 临时事件推送
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler(h.gatherer))

	if h.conversation != nil {
		h.conversation.RegisterRoutes(mux)
	}

	apiHandler := h.metrics.MetricsMiddleware(mux)
	corsHandler := corsMiddleware(h.allowedOrigins)(apiHandler)

	// WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/maps/{id}", h.eventGateway.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求；allowed 为空时允许所有来源
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := "*"
			if len(allowed) > 0 {
				origin = ""
				reqOrigin := r.Header.Get("Origin")
				for _, o := range allowed {
					if strings.EqualFold(o, reqOrigin) {
						origin = reqOrigin
						break
					}
				}
			}
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+conversation.UserHeader)
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
