// Package mapstate 生成地图当前状态的文字描述
//
// 每条用户消息之前追加一条 <MapState> 系统消息，让模型看到最新的图层与数据源。
package mapstate

import (
	"context"
	"fmt"
	"strings"

	"map-agent/internal/shared/model"
)

// Store Describer 依赖的存储能力
type Store interface {
	GetMap(ctx context.Context, mapID string) (*model.Map, error)
	ListMapLayers(ctx context.Context, mapID string) ([]*model.Layer, error)
	ListPostgresConnections(ctx context.Context, ownerID string) ([]*model.PostgresConnection, error)
}

// Describer 地图状态描述器
type Describer struct {
	store Store
}

// NewDescriber 创建 Describer
func NewDescriber(store Store) *Describer {
	return &Describer{store: store}
}

// Describe 返回地图描述文本
func (d *Describer) Describe(ctx context.Context, mapID, userID string) (string, error) {
	m, err := d.store.GetMap(ctx, mapID)
	if err != nil {
		return "", fmt.Errorf("get map: %w", err)
	}
	conns, err := d.store.ListPostgresConnections(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list postgis connections: %w", err)
	}
	layers, err := d.store.ListMapLayers(ctx, mapID)
	if err != nil {
		return "", fmt.Errorf("list layers: %w", err)
	}

	var content []string
	for _, c := range conns {
		name := c.FriendlyName
		if name == "" {
			name = c.ID
		}
		content = append(content,
			fmt.Sprintf("<PostGISConnection id=%s>", c.ID),
			fmt.Sprintf("\n## PostGIS %q (ID %s)\n", name, c.ID),
			"Query it with the query_postgis_database tool.",
			fmt.Sprintf("</PostGISConnection id=%s>", c.ID),
		)
	}

	content = append(content, fmt.Sprintf("# Map: %s\n", m.Title))
	if m.Description != "" {
		content = append(content, m.Description+"\n")
	}
	for _, l := range layers {
		content = append(content,
			fmt.Sprintf("<%s>", l.LayerID),
			describeLayer(l),
			fmt.Sprintf("</%s>", l.LayerID),
		)
	}

	return strings.Join(content, "\n"), nil
}

// SystemPayload 生成 <MapState> 系统消息
func (d *Describer) SystemPayload(ctx context.Context, mapID, userID string) (model.Payload, error) {
	desc, err := d.Describe(ctx, mapID, userID)
	if err != nil {
		return model.Payload{}, err
	}
	return model.SystemPayload(Wrap(desc)), nil
}

// Wrap 用 <MapState> 标签包裹描述
func Wrap(description string) string {
	return "<MapState>\n" + description + "\n</MapState>"
}

func describeLayer(l *model.Layer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", l.DisplayName())
	fmt.Fprintf(&sb, "Type: %s\n", l.Type)
	fmt.Fprintf(&sb, "Size: %s\n", humanSize(l.SizeBytes))
	fmt.Fprintf(&sb, "Created: %s", l.CreatedAt.Format("2006-01-02"))
	return sb.String()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
