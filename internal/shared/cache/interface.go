// Package cache 缓存层抽象接口
//
// 提供会话编排所需的临时状态：地图级互斥锁与取消标记。
// 生产环境由 Redis 实现，测试与单机模式使用 MemoryStore。
package cache

import (
	"context"
	"time"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// ResourceLock 地图级互斥锁接口
//
// 同一地图同时只允许一个编排循环运行。锁带有过期时间，
// 过期只是循环崩溃时的兜底，正常路径由持有者显式释放。
type ResourceLock interface {
	// AcquireLock 原子地"不存在则设置并附带过期时间"
	// ok=false 表示已有其他循环持有锁
	AcquireLock(ctx context.Context, mapID string, ttl time.Duration) (token string, ok bool, err error)
	// RefreshLock 仅当锁仍由 token 持有时延长过期时间
	RefreshLock(ctx context.Context, mapID, token string, ttl time.Duration) (bool, error)
	// ReleaseLock 释放锁；锁已过期或被他人持有时为空操作
	ReleaseLock(ctx context.Context, mapID, token string) error
	// LockHeld 锁当前是否被持有
	LockHeld(ctx context.Context, mapID string) (bool, error)
}

// CancelSignal 协作式取消标记接口
type CancelSignal interface {
	// RequestCancel 设置取消标记（带独立的过期时间）
	RequestCancel(ctx context.Context, mapID string, ttl time.Duration) error
	// ConsumeCancel 原子地读取并清除取消标记
	ConsumeCancel(ctx context.Context, mapID string) (bool, error)
	// ClearCancel 清除残留的取消标记
	ClearCancel(ctx context.Context, mapID string) error
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	ResourceLock
	CancelSignal
	Close() error
}
