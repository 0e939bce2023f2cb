// Package cache 缓存层 Key 与默认值
package cache

import "time"

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// KeyMapLock 地图锁 Key 前缀，完整格式 map_lock:{map_id}
	KeyMapLock = "map_lock:"

	// TTLMapLock 地图锁默认过期时间
	TTLMapLock = 3 * time.Minute

	// TTLCancel 取消标记默认过期时间
	TTLCancel = 5 * time.Minute
)

// LockKey 返回地图锁的 Key
func LockKey(mapID string) string {
	return KeyMapLock + mapID
}

// CancelKey 返回取消标记的 Key，格式 messages:{map_id}:cancelled
func CancelKey(mapID string) string {
	return "messages:" + mapID + ":cancelled"
}
