// Package storagetest 提供基于 SQLite 内存数据库的测试存储
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"map-agent/internal/shared/model"
	sqlitedriver "map-agent/internal/shared/storage/driver/sqlite"
	"map-agent/internal/shared/storage/repository"
)

// NewStore 创建已建表的 SQLite 内存 Store，测试结束自动关闭
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

// SeedMap 创建地图
func SeedMap(t testing.TB, s *repository.Store, mapID, ownerID string) *model.Map {
	t.Helper()
	m := &model.Map{MapID: mapID, OwnerID: ownerID, Title: "Test map"}
	require.NoError(t, s.CreateMap(context.Background(), m))
	return m
}

// SeedLayer 创建图层（不挂载）
func SeedLayer(t testing.TB, s *repository.Store, ownerID, name string, typ model.LayerType) *model.Layer {
	t.Helper()
	ext := ".fgb"
	if typ == model.LayerTypeRaster {
		ext = ".tif"
	}
	id := model.NewLayerID()
	l := &model.Layer{
		LayerID: id,
		OwnerID: ownerID,
		Name:    name,
		Type:    typ,
		S3Key:   "uploads/" + ownerID + "/seed/" + id + ext,
	}
	require.NoError(t, s.CreateLayer(context.Background(), l))
	return l
}
