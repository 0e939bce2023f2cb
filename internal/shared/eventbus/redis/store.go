// Package redis 地图事件总线 Redis Pub/Sub 实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"map-agent/internal/shared/eventbus"
)

// Store Redis 事件总线
type Store struct {
	client *redis.Client
}

// 确保 Store 实现了 eventbus.EventBus 接口
var _ eventbus.EventBus = (*Store)(nil)

// NewStoreFromClient 从现有 Redis 客户端创建事件总线
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Publish 发布地图事件（PUBLISH map_events:{map_id}）
func (s *Store) Publish(ctx context.Context, event *eventbus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, eventbus.Channel(event.MapID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe 订阅地图事件
func (s *Store) Subscribe(ctx context.Context, mapID string) (<-chan *eventbus.Event, error) {
	pubsub := s.client.Subscribe(ctx, eventbus.Channel(mapID))
	// 等待订阅确认，保证返回后发布的事件不会丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe map events: %w", err)
	}

	ch := make(chan *eventbus.Event, eventbus.SubscriberBuffer)
	go func() {
		defer close(ch)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event eventbus.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("[Redis/EventBus] Dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case ch <- &event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
