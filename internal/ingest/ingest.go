// Package ingest 图层导入
//
// 直接上传与地理处理输出共用同一条导入路径：
// 对象写入存储 → 图层元数据入库 → 挂载到地图。
// 挂载永远在元数据写入成功之后发生。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"map-agent/internal/shared/model"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage"
	"map-agent/pkg/logging"
)

// ErrEmptyFile 上传文件为空
var ErrEmptyFile = errors.New("uploaded file is empty")

// Ingester 图层导入器
type Ingester struct {
	layers  storage.LayerStore
	objects objstore.Store
	log     *logging.Logger
}

// New 创建 Ingester
func New(layers storage.LayerStore, objects objstore.Store, log *logging.Logger) *Ingester {
	if log == nil {
		log = logging.Default("ingest")
	}
	return &Ingester{layers: layers, objects: objects, log: log}
}

// UploadRequest 直接上传请求
type UploadRequest struct {
	UserID   string
	MapID    string
	Filename string
	Reader   io.Reader
	Size     int64
}

// Upload 上传文件并创建、挂载新图层
func (i *Ingester) Upload(ctx context.Context, req UploadRequest) (*model.Layer, error) {
	if req.Size == 0 {
		return nil, ErrEmptyFile
	}
	layerID := model.NewLayerID()
	ext := strings.ToLower(filepath.Ext(req.Filename))
	key := objstore.LayerKey(req.UserID, req.MapID, layerID, ext)

	if err := i.objects.Upload(ctx, key, req.Reader, req.Size, ""); err != nil {
		return nil, fmt.Errorf("store layer object: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	return i.create(ctx, req.UserID, req.MapID, &model.Layer{
		LayerID:   layerID,
		Name:      name,
		Type:      model.LayerTypeFromFilename(req.Filename),
		S3Key:     key,
		SizeBytes: req.Size,
	})
}

// RegisterRequest 登记已写入对象存储的输出
type RegisterRequest struct {
	UserID  string
	MapID   string
	LayerID string
	Key     string
	Name    string
}

// Register 为已存在的对象创建并挂载图层
func (i *Ingester) Register(ctx context.Context, req RegisterRequest) (*model.Layer, error) {
	size, err := i.objects.Stat(ctx, req.Key)
	if err != nil {
		return nil, fmt.Errorf("output object %s: %w", req.Key, err)
	}
	return i.create(ctx, req.UserID, req.MapID, &model.Layer{
		LayerID:   req.LayerID,
		Name:      req.Name,
		Type:      model.LayerTypeFromFilename(req.Key),
		S3Key:     req.Key,
		SizeBytes: size,
	})
}

func (i *Ingester) create(ctx context.Context, userID, mapID string, layer *model.Layer) (*model.Layer, error) {
	layer.OwnerID = userID
	source := mapID
	layer.SourceMapID = &source

	if err := i.layers.CreateLayer(ctx, layer); err != nil {
		return nil, err
	}
	if _, err := i.layers.AttachLayer(ctx, mapID, layer.LayerID); err != nil {
		return nil, fmt.Errorf("attach layer %s: %w", layer.LayerID, err)
	}

	i.log.WithMapID(mapID).Info(fmt.Sprintf("[ingest.layer.created] layer_id=%s type=%s size=%d",
		layer.LayerID, layer.Type, layer.SizeBytes))
	return layer, nil
}
