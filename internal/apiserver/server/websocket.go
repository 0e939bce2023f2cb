// Package server WebSocket 事件网关
//
// 前端通过 /ws/maps/{id} 订阅地图的临时进度事件与新消息通知。
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"map-agent/internal/shared/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// EventGateway WebSocket 事件网关
//
// 每个连接独立订阅事件总线，事件总线关闭或客户端断开时连接结束。
type EventGateway struct {
	events   eventbus.Subscriber
	metrics  *Metrics
	upgrader websocket.Upgrader
	clients  map[string]map[*websocket.Conn]bool // 按 MapID 索引的客户端连接
	mu       sync.RWMutex                        // 保护 clients 映射
}

// NewEventGateway 创建事件网关实例
//
// allowedOrigins 为空时允许所有来源。
func NewEventGateway(events eventbus.Subscriber, metrics *Metrics, allowedOrigins []string) *EventGateway {
	g := &EventGateway{
		events:  events,
		metrics: metrics,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/maps/{id}
//
// 推送消息格式：
//
//	订阅确认：{"type": "subscribed", "data": {"map_id": "..."}}
//	事件消息：{"type": "event", "data": {...}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	mapID := r.PathValue("id")
	if mapID == "" {
		http.Error(w, "map_id required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws.upgrade.failed] map_id=%s error=%v", mapID, err)
		return
	}
	defer conn.Close()

	g.addClient(mapID, conn)
	defer g.removeClient(mapID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := g.events.Subscribe(ctx, mapID)
	if err != nil {
		log.Printf("[ws.subscribe.failed] map_id=%s error=%v", mapID, err)
		return
	}

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	log.Printf("[ws.client.connected] map_id=%s", mapID)
	if err := write(map[string]interface{}{"type": "subscribed", "data": map[string]string{"map_id": mapID}}); err != nil {
		return
	}

	go g.readPump(conn, cancel, write)
	g.writePump(ctx, conn, events, write, &writeMu)
	log.Printf("[ws.client.disconnected] map_id=%s", mapID)
}

// readPump 读取客户端消息，连接关闭时取消上下文
func (g *EventGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc, write func(interface{}) error) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws.read.failed] error=%v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil && req["type"] == "ping" {
			g.record("in", "ping")
			if err := write(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

// writePump 转发事件总线上的事件，并定期发送 ping 保持连接
func (g *EventGateway) writePump(ctx context.Context, conn *websocket.Conn, events <-chan *eventbus.Event, write func(interface{}) error, writeMu *sync.Mutex) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := write(map[string]interface{}{"type": "event", "data": ev}); err != nil {
				log.Printf("[ws.write.failed] map_id=%s error=%v", ev.MapID, err)
				return
			}
			g.record("out", string(ev.Kind))
		}
	}
}

func (g *EventGateway) record(direction, msgType string) {
	if g.metrics != nil {
		g.metrics.RecordWSMessage(direction, msgType)
	}
}

// addClient 添加客户端连接
func (g *EventGateway) addClient(mapID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.clients[mapID] == nil {
		g.clients[mapID] = make(map[*websocket.Conn]bool)
	}
	g.clients[mapID][conn] = true
	if g.metrics != nil {
		g.metrics.WSConnectionOpened()
	}
}

// removeClient 移除客户端连接，地图没有其他连接时清理整个条目
func (g *EventGateway) removeClient(mapID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clients, ok := g.clients[mapID]; ok {
		if clients[conn] && g.metrics != nil {
			g.metrics.WSConnectionClosed()
		}
		delete(clients, conn)
		if len(clients) == 0 {
			delete(g.clients, mapID)
		}
	}
}

// ClientCount 返回地图当前的连接数
func (g *EventGateway) ClientCount(mapID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[mapID])
}
