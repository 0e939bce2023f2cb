// Package eventbus 内存实现
package eventbus

import (
	"context"
	"sync"
)

// ============================================================================
// MemoryBus - 进程内 EventBus 实现（用于测试与单机模式）
// ============================================================================

// MemoryBus 进程内事件总线
//
// 订阅者通道写满时丢弃事件，不阻塞发布方。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan *Event]struct{}
	closed bool
}

// NewMemoryBus 创建 MemoryBus 实例
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan *Event]struct{})}
}

// Publish 发布事件
func (b *MemoryBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[event.MapID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe 订阅地图事件
func (b *MemoryBus) Subscribe(ctx context.Context, mapID string) (<-chan *Event, error) {
	ch := make(chan *Event, SubscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if b.subs[mapID] == nil {
		b.subs[mapID] = make(map[chan *Event]struct{})
	}
	b.subs[mapID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(mapID, ch)
	}()

	return ch, nil
}

func (b *MemoryBus) remove(mapID string, ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[mapID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subs, mapID)
		}
	}
}

// Close 关闭总线并关闭所有订阅通道
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for mapID, subs := range b.subs {
		for ch := range subs {
			close(ch)
		}
		delete(b.subs, mapID)
	}
	b.closed = true
	return nil
}

// 确保 MemoryBus 实现了 EventBus 接口
var _ EventBus = (*MemoryBus)(nil)
