// Package repository 地图与图层相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"map-agent/internal/shared/model"
	"map-agent/internal/shared/storage"
)

const layerColumns = `l.layer_id, l.owner_id, l.name, l.type, l.s3_key, l.size_bytes, l.source_map_id, l.created_at, l.last_edited`

// ============================================================================
// Map
// ============================================================================

// CreateMap 创建地图
func (s *Store) CreateMap(ctx context.Context, m *model.Map) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	query := s.rebind(`INSERT INTO maps (map_id, owner_id, title, description, created_at) VALUES ($1, $2, $3, $4, $5)`)
	_, err := s.db.ExecContext(ctx, query, m.MapID, m.OwnerID, m.Title, m.Description, m.CreatedAt)
	return translateError(err)
}

// GetMap 获取未软删除的地图
func (s *Store) GetMap(ctx context.Context, mapID string) (*model.Map, error) {
	query := s.rebind(`SELECT map_id, owner_id, title, description, created_at
		FROM maps WHERE map_id = $1 AND soft_deleted_at IS NULL`)
	m := &model.Map{}
	err := s.db.QueryRowContext(ctx, query, mapID).Scan(&m.MapID, &m.OwnerID, &m.Title, &m.Description, &m.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return m, nil
}

// ============================================================================
// Layer
// ============================================================================

// CreateLayer 写入图层元数据
func (s *Store) CreateLayer(ctx context.Context, layer *model.Layer) error {
	now := s.now()
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = now
	}
	if layer.LastEdited.IsZero() {
		layer.LastEdited = layer.CreatedAt
	}
	query := s.rebind(`INSERT INTO layers (layer_id, owner_id, name, type, s3_key, size_bytes, source_map_id, created_at, last_edited)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	_, err := s.db.ExecContext(ctx, query,
		layer.LayerID, layer.OwnerID, layer.Name, string(layer.Type), layer.S3Key, layer.SizeBytes,
		layer.SourceMapID, layer.CreatedAt, layer.LastEdited)
	if err != nil {
		return fmt.Errorf("create layer %s: %w", layer.LayerID, translateError(err))
	}
	return nil
}

// GetLayer 获取图层
func (s *Store) GetLayer(ctx context.Context, layerID string) (*model.Layer, error) {
	query := s.rebind(`SELECT ` + layerColumns + ` FROM layers l WHERE l.layer_id = $1`)
	return scanLayer(s.db.QueryRowContext(ctx, query, layerID))
}

// GetOwnedLayer 获取属于 ownerID 的图层
func (s *Store) GetOwnedLayer(ctx context.Context, layerID, ownerID string) (*model.Layer, error) {
	query := s.rebind(`SELECT ` + layerColumns + ` FROM layers l WHERE l.layer_id = $1 AND l.owner_id = $2`)
	return scanLayer(s.db.QueryRowContext(ctx, query, layerID, ownerID))
}

// RenameLayer 重命名图层
func (s *Store) RenameLayer(ctx context.Context, layerID, name string) error {
	query := s.rebind(`UPDATE layers SET name = $1, last_edited = $2 WHERE layer_id = $3`)
	res, err := s.db.ExecContext(ctx, query, name, s.now(), layerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AttachLayer 将图层挂载到地图
//
// 以 (map_id, layer_id) 主键保证幂等：重复挂载不报错，返回 false。
// 外键约束保证图层元数据先于挂载存在。
func (s *Store) AttachLayer(ctx context.Context, mapID, layerID string) (bool, error) {
	query := s.rebind(`INSERT INTO map_layers (map_id, layer_id, attached_at) VALUES ($1, $2, $3) ` +
		s.dialect.OnConflictDoNothing("map_id", "layer_id"))
	res, err := s.db.ExecContext(ctx, query, mapID, layerID, s.now())
	if err != nil {
		return false, fmt.Errorf("attach layer %s to map %s: %w", layerID, mapID, translateError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMapLayers 返回地图可见图层
func (s *Store) ListMapLayers(ctx context.Context, mapID string) ([]*model.Layer, error) {
	query := s.rebind(`SELECT ` + layerColumns + `
		FROM map_layers ml JOIN layers l ON l.layer_id = ml.layer_id
		WHERE ml.map_id = $1 ORDER BY ml.attached_at ASC, l.layer_id ASC`)
	rows, err := s.db.QueryContext(ctx, query, mapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLayers(rows)
}

// ListUnattachedLayers 返回用户未挂载到其任何地图的图层
func (s *Store) ListUnattachedLayers(ctx context.Context, ownerID string, limit int) ([]*model.Layer, error) {
	query := s.rebind(`SELECT ` + layerColumns + `
		FROM layers l
		WHERE l.owner_id = $1
		  AND NOT EXISTS (
		    SELECT 1 FROM map_layers ml JOIN maps m ON m.map_id = ml.map_id
		    WHERE ml.layer_id = l.layer_id AND m.owner_id = $2 AND m.soft_deleted_at IS NULL
		  )
		ORDER BY l.created_at DESC
		LIMIT $3`)
	rows, err := s.db.QueryContext(ctx, query, ownerID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLayers(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLayer(row rowScanner) (*model.Layer, error) {
	l := &model.Layer{}
	var layerType string
	var sourceMapID sql.NullString
	err := row.Scan(&l.LayerID, &l.OwnerID, &l.Name, &layerType, &l.S3Key, &l.SizeBytes,
		&sourceMapID, &l.CreatedAt, &l.LastEdited)
	if err != nil {
		return nil, translateError(err)
	}
	l.Type = model.LayerType(layerType)
	if sourceMapID.Valid {
		l.SourceMapID = &sourceMapID.String
	}
	return l, nil
}

func scanLayers(rows *sql.Rows) ([]*model.Layer, error) {
	var layers []*model.Layer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}
