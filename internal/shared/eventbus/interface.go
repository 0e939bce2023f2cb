// Package eventbus 事件总线抽象接口
//
// 提供地图事件的发布/订阅能力，当前由 Redis Pub/Sub 实现。
// 投递为尽力而为：没有订阅者时事件直接丢弃。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Subscriber 事件订阅接口
//
// 返回的通道在 ctx 取消后关闭。
type Subscriber interface {
	Subscribe(ctx context.Context, mapID string) (<-chan *Event, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	Publisher
	Subscriber
	Close() error
}
