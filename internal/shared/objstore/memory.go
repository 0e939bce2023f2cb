package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// MemoryScheme 内存存储签发 URL 使用的 scheme
const MemoryScheme = "memory"

// MemoryStore 进程内对象存储（用于测试与单机模式）
//
// 预签名 URL 形如 memory://{bucket}/{key}?op=get|put，
// 测试中的远程服务通过 KeyFromURL 还原 key 后调用 Put。
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

// 确保 MemoryStore 实现了 Store 接口
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存对象存储
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *MemoryStore) presign(key, op string) string {
	u := url.URL{Scheme: MemoryScheme, Host: m.bucket, Path: "/" + key, RawQuery: "op=" + op}
	return u.String()
}

// PresignedGet 签发下载 URL
func (m *MemoryStore) PresignedGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return m.presign(key, "get"), nil
}

// PresignedPut 签发上传 URL
func (m *MemoryStore) PresignedPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return m.presign(key, "put"), nil
}

// KeyFromURL 从内存存储签发的 URL 中解析对象 key
func KeyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != MemoryScheme {
		return "", fmt.Errorf("not a memory object url: %s", raw)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}

// Put 直接写入对象
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Upload 上传对象
func (m *MemoryStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.Put(key, data)
	return nil
}

// Download 下载对象
func (m *MemoryStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat 返回对象大小
func (m *MemoryStore) Stat(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("stat %s: %w", key, ErrNotFound)
	}
	return int64(len(data)), nil
}

// Delete 删除对象
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Keys 返回所有对象 key（测试用）
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
