// Package cache 内存实现
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// MemoryStore - 进程内 Cache 实现（用于测试与单机模式）
// ============================================================================

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore 进程内 Cache 实现
//
// 语义与 Redis 实现一致：SET NX PX / 比较后删除 / GETDEL。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore 实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock 替换时钟（测试过期逻辑用）
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close 关闭缓存
func (s *MemoryStore) Close() error {
	return nil
}

// get 读取未过期的条目，调用方持有锁
func (s *MemoryStore) get(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// ResourceLock 方法

func (s *MemoryStore) AcquireLock(ctx context.Context, mapID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := LockKey(mapID)
	if _, held := s.get(key); held {
		return "", false, nil
	}
	token := uuid.NewString()
	s.entries[key] = memoryEntry{value: token, expiresAt: s.now().Add(ttl)}
	return token, true, nil
}

func (s *MemoryStore) RefreshLock(ctx context.Context, mapID, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := LockKey(mapID)
	e, held := s.get(key)
	if !held || e.value != token {
		return false, nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, mapID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := LockKey(mapID)
	if e, held := s.get(key); held && e.value == token {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) LockHeld(ctx context.Context, mapID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, held := s.get(LockKey(mapID))
	return held, nil
}

// CancelSignal 方法

func (s *MemoryStore) RequestCancel(ctx context.Context, mapID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[CancelKey(mapID)] = memoryEntry{value: "1", expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) ConsumeCancel(ctx context.Context, mapID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := CancelKey(mapID)
	_, ok := s.get(key)
	delete(s.entries, key)
	return ok, nil
}

func (s *MemoryStore) ClearCancel(ctx context.Context, mapID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, CancelKey(mapID))
	return nil
}

// 确保 MemoryStore 实现了 Cache 接口
var _ Cache = (*MemoryStore)(nil)
