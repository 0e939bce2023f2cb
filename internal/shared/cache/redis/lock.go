// Package redis 地图锁与取消标记操作
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"map-agent/internal/shared/cache"
)

// releaseScript 仅当 value 与 token 一致时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript 仅当 value 与 token 一致时续期
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// AcquireLock 获取地图锁（SET NX PX）
func (s *Store) AcquireLock(ctx context.Context, mapID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, cache.LockKey(mapID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock for map %s: %w", mapID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// RefreshLock 续期地图锁
func (s *Store) RefreshLock(ctx context.Context, mapID, token string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, s.client, []string{cache.LockKey(mapID)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("refresh lock for map %s: %w", mapID, err)
	}
	return n == 1, nil
}

// ReleaseLock 释放地图锁
func (s *Store) ReleaseLock(ctx context.Context, mapID, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{cache.LockKey(mapID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock for map %s: %w", mapID, err)
	}
	return nil
}

// LockHeld 查询地图锁是否被持有
func (s *Store) LockHeld(ctx context.Context, mapID string) (bool, error) {
	n, err := s.client.Exists(ctx, cache.LockKey(mapID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RequestCancel 设置取消标记
func (s *Store) RequestCancel(ctx context.Context, mapID string, ttl time.Duration) error {
	return s.client.Set(ctx, cache.CancelKey(mapID), "1", ttl).Err()
}

// ConsumeCancel 读取并清除取消标记（GETDEL，需要 Redis 6.2+）
func (s *Store) ConsumeCancel(ctx context.Context, mapID string) (bool, error) {
	_, err := s.client.GetDel(ctx, cache.CancelKey(mapID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume cancel flag for map %s: %w", mapID, err)
	}
	return true, nil
}

// ClearCancel 清除取消标记
func (s *Store) ClearCancel(ctx context.Context, mapID string) error {
	return s.client.Del(ctx, cache.CancelKey(mapID)).Err()
}
