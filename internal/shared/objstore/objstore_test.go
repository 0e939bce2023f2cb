package objstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"map-agent/internal/config"
)

func TestLayerKey(t *testing.T) {
	assert.Equal(t, "uploads/u1/M1/L1.fgb", LayerKey("u1", "M1", "L1", ".fgb"))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("maps")

	putURL, err := s.PresignedPut(ctx, "uploads/u1/M1/L1.tif", time.Hour)
	require.NoError(t, err)
	key, err := KeyFromURL(putURL)
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/M1/L1.tif", key)

	s.Put(key, []byte("raster"))
	size, err := s.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	rc, err := s.Download(ctx, key)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "raster", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Stat(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyFromURLRejectsForeignScheme(t *testing.T) {
	_, err := KeyFromURL("https://s3.example.com/bucket/key")
	assert.Error(t, err)
}

// TestMinIOClient 需要可用的 MinIO（MINIO_ENDPOINT / MINIO_ROOT_USER / MINIO_ROOT_PASSWORD）
func TestMinIOClient(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MinIO not available: MINIO_ENDPOINT not set")
	}
	c, err := NewClient(config.MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ROOT_USER"),
		SecretKey: os.Getenv("MINIO_ROOT_PASSWORD"),
		Bucket:    "map-agent-test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.EnsureBucket(ctx))

	key := LayerKey("test", "MTEST", "LTEST", ".txt")
	require.NoError(t, c.Upload(ctx, key, bytes.NewReader([]byte("hello")), 5, "text/plain"))
	defer c.Delete(ctx, key)

	size, err := c.Stat(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	u, err := c.PresignedGet(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.Contains(u, "X-Amz-Signature"))

	_, err = c.Stat(ctx, key+".missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.MinIOConfig{})
	assert.Error(t, err)
	_, err = NewClient(config.MinIOConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
