// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：持久化存储（PostgreSQL / SQLite）
//   - Cache：地图锁与取消标记（Redis，未配置时使用内存实现）
//   - EventBus：地图事件总线（Redis Pub/Sub，未配置时使用内存实现）
//   - Objects：对象存储（MinIO，未配置凭据时使用内存实现）
package infra

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"

	"map-agent/internal/config"
	"map-agent/internal/shared/cache"
	"map-agent/internal/shared/eventbus"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.PersistentStore

	// Cache 地图锁与取消标记
	Cache cache.Cache

	// EventBus 地图事件总线
	EventBus eventbus.EventBus

	// Objects 对象存储
	Objects objstore.Store

	// redis 非空时 Cache 与 EventBus 共享同一连接，由它统一关闭
	redis *RedisInfra
}

// Open 按配置初始化所有基础设施，任一环节失败时关闭已创建的连接
func Open(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{}

	store, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	infra.Storage = store

	if cfg.RedisURL != "" {
		r, err := NewRedisInfra(cfg.RedisURL)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.redis = r
		infra.Cache = r.Cache()
		infra.EventBus = r.EventBus()
	} else {
		log.Printf("[infra.redis.disabled] using in-process lock and event bus")
		infra.Cache = cache.NewMemoryStore()
		infra.EventBus = eventbus.NewMemoryBus()
	}

	objects, err := OpenObjectStore(ctx, cfg.MinIO)
	if err != nil {
		infra.Close()
		return nil, err
	}
	infra.Objects = objects

	return infra, nil
}

// OpenObjectStore 创建对象存储；未配置凭据时退化为内存存储
func OpenObjectStore(ctx context.Context, cfg config.MinIOConfig) (objstore.Store, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		log.Printf("[infra.minio.disabled] no credentials, using in-memory object store")
		return objstore.NewMemoryStore(cfg.Bucket), nil
	}
	client, err := objstore.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", client.Bucket(), err)
	}
	log.Printf("[infra.minio.connected] endpoint=%s bucket=%s", cfg.Endpoint, client.Bucket())
	return client, nil
}

// Close 关闭所有基础设施连接，汇总全部错误
func (i *Infrastructure) Close() error {
	var result *multierror.Error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close storage: %w", err))
		}
	}

	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
	} else {
		if i.Cache != nil {
			if err := i.Cache.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close cache: %w", err))
			}
		}
		if i.EventBus != nil {
			if err := i.EventBus.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close event bus: %w", err))
			}
		}
	}

	return result.ErrorOrNil()
}

// NewMemoryInfrastructure 创建全内存的基础设施（用于测试与单机演示）
func NewMemoryInfrastructure(store storage.PersistentStore) *Infrastructure {
	return &Infrastructure{
		Storage:  store,
		Cache:    cache.NewMemoryStore(),
		EventBus: eventbus.NewMemoryBus(),
		Objects:  objstore.NewMemoryStore(config.DefaultBucket),
	}
}
