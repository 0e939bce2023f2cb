// Package storage 定义持久化存储层抽象接口
//
// 调用方只依赖接口，具体实现在 repository 子包中，
// 通过 dbutil.Dialect 同时支持 PostgreSQL 与 SQLite。
package storage

import (
	"context"

	"map-agent/internal/shared/model"
)

// ============================================================================
// 存储接口定义
// ============================================================================

// MessageStore 消息日志存储接口
//
// 只追加：不提供更新和删除。
type MessageStore interface {
	// AppendMessage 序列化载荷并追加一条消息，ID 与时间戳由存储层分配
	AppendMessage(ctx context.Context, mapID, senderID string, payload model.Payload) (*model.Message, error)
	// ListMessages 按 (created_at, id) 升序返回地图的全部消息
	ListMessages(ctx context.Context, mapID string) ([]*model.Message, error)
	// ListUserVisibleMessages 返回对用户展示的会话记录
	ListUserVisibleMessages(ctx context.Context, mapID string) ([]*model.Message, error)
}

// MapStore 地图存储接口
type MapStore interface {
	CreateMap(ctx context.Context, m *model.Map) error
	// GetMap 获取地图；软删除的地图视为不存在
	GetMap(ctx context.Context, mapID string) (*model.Map, error)
}

// LayerStore 图层存储接口
type LayerStore interface {
	CreateLayer(ctx context.Context, layer *model.Layer) error
	GetLayer(ctx context.Context, layerID string) (*model.Layer, error)
	// GetOwnedLayer 获取属于 ownerID 的图层，不存在或不属于该用户返回 ErrNotFound
	GetOwnedLayer(ctx context.Context, layerID, ownerID string) (*model.Layer, error)
	RenameLayer(ctx context.Context, layerID, name string) error
	// AttachLayer 将图层挂载到地图，重复挂载为空操作；返回是否新挂载
	AttachLayer(ctx context.Context, mapID, layerID string) (bool, error)
	// ListMapLayers 返回地图可见图层，按挂载顺序排列
	ListMapLayers(ctx context.Context, mapID string) ([]*model.Layer, error)
	// ListUnattachedLayers 返回用户拥有、且未挂载到其任何地图的图层，按创建时间倒序
	ListUnattachedLayers(ctx context.Context, ownerID string, limit int) ([]*model.Layer, error)
}

// ConnectionStore PostGIS 连接存储接口
type ConnectionStore interface {
	CreatePostgresConnection(ctx context.Context, conn *model.PostgresConnection) error
	// GetPostgresConnection 获取属于 ownerID 的连接
	GetPostgresConnection(ctx context.Context, id, ownerID string) (*model.PostgresConnection, error)
	ListPostgresConnections(ctx context.Context, ownerID string) ([]*model.PostgresConnection, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	MessageStore
	MapStore
	LayerStore
	ConnectionStore
	Close() error
}
