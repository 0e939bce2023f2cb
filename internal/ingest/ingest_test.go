package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"map-agent/internal/shared/model"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage/storagetest"
	"map-agent/pkg/logging"
)

func TestUploadCreatesAndAttaches(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewStore(t)
	storagetest.SeedMap(t, store, "M1", "u1")
	objects := objstore.NewMemoryStore("maps")
	ing := New(store, objects, logging.Discard("ingest"))

	data := []byte("fake geotiff")
	layer, err := ing.Upload(ctx, UploadRequest{
		UserID: "u1", MapID: "M1", Filename: "elevation.TIF",
		Reader: bytes.NewReader(data), Size: int64(len(data)),
	})
	require.NoError(t, err)

	assert.True(t, model.IsLayerID(layer.LayerID))
	assert.Equal(t, "elevation", layer.Name)
	assert.Equal(t, model.LayerTypeRaster, layer.Type)
	assert.Equal(t, objstore.LayerKey("u1", "M1", layer.LayerID, ".tif"), layer.S3Key)

	size, err := objects.Stat(ctx, layer.S3Key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	visible, err := store.ListMapLayers(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, layer.LayerID, visible[0].LayerID)
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	store := storagetest.NewStore(t)
	ing := New(store, objstore.NewMemoryStore("maps"), logging.Discard("ingest"))

	_, err := ing.Upload(context.Background(), UploadRequest{UserID: "u1", MapID: "M1", Filename: "a.geojson", Reader: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestRegisterRequiresObject(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewStore(t)
	storagetest.SeedMap(t, store, "M1", "u1")
	objects := objstore.NewMemoryStore("maps")
	ing := New(store, objects, logging.Discard("ingest"))

	layerID := model.NewLayerID()
	key := objstore.LayerKey("u1", "M1", layerID, ".fgb")

	_, err := ing.Register(ctx, RegisterRequest{UserID: "u1", MapID: "M1", LayerID: layerID, Key: key, Name: "buffered"})
	assert.ErrorIs(t, err, objstore.ErrNotFound)

	visible, err := store.ListMapLayers(ctx, "M1")
	require.NoError(t, err)
	assert.Empty(t, visible, "no layer may become visible without its object")

	objects.Put(key, []byte("fgb"))
	layer, err := ing.Register(ctx, RegisterRequest{UserID: "u1", MapID: "M1", LayerID: layerID, Key: key, Name: "buffered"})
	require.NoError(t, err)
	assert.Equal(t, model.LayerTypeVector, layer.Type)
	assert.Equal(t, int64(3), layer.SizeBytes)
	require.NotNil(t, layer.SourceMapID)
	assert.Equal(t, "M1", *layer.SourceMapID)
}

func TestAttachFailureAfterMetadata(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewStore(t)
	objects := objstore.NewMemoryStore("maps")
	ing := New(store, objects, logging.Discard("ingest"))

	// 地图不存在时挂载失败，但元数据已写入
	data := []byte("x")
	_, err := ing.Upload(ctx, UploadRequest{UserID: "u1", MapID: "MMISSING", Filename: "a.fgb", Reader: bytes.NewReader(data), Size: 1})
	assert.Error(t, err)
}
