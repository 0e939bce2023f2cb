// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"

	"map-agent/internal/shared/model"
)

// ============================================================================
// 事件类型
// ============================================================================

// EventKind 事件类别
type EventKind string

const (
	KindEphemeral EventKind = "ephemeral" // 临时进度事件（不落库）
	KindMessage   EventKind = "message"   // 新的会话消息通知
)

// ActionStatus 临时动作状态
type ActionStatus string

const (
	StatusActive    ActionStatus = "active"
	StatusCompleted ActionStatus = "completed"
	StatusError     ActionStatus = "error"
)

// Event 推送给地图观察者的事件
//
// 临时事件格式：
//
//	{map_id, ephemeral: true, action_id, layer_id, action, status, timestamp, completed_at, updates}
//
// start / finish 两条事件共享同一个 action_id。
type Event struct {
	Kind         EventKind      `json:"kind"`
	MapID        string         `json:"map_id"`
	Ephemeral    bool           `json:"ephemeral"`
	ActionID     string         `json:"action_id,omitempty"`
	LayerID      string         `json:"layer_id,omitempty"`
	Action       string         `json:"action,omitempty"`
	Status       ActionStatus   `json:"status,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Updates      *Updates       `json:"updates,omitempty"`
	Bounds       []float64      `json:"bounds,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Message      *model.Message `json:"message,omitempty"`
}

// Updates 前端需要刷新的内容
type Updates struct {
	StyleJSON bool `json:"style_json"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// KeyMapEvents 地图事件 Pub/Sub 频道前缀，完整格式 map_events:{map_id}
	KeyMapEvents = "map_events:"

	// SubscriberBuffer 订阅通道缓冲大小
	SubscriberBuffer = 100
)

// Channel 返回地图事件频道名
func Channel(mapID string) string {
	return KeyMapEvents + mapID
}
