// Package osm 从 OpenStreetMap（Overpass API）导入要素为图层
//
// 查询结果转换为 GeoJSON 后走与直接上传相同的导入路径。
package osm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"map-agent/internal/ingest"
	"map-agent/internal/shared/model"
	"map-agent/internal/tools"
	"map-agent/pkg/logging"
)

// Uploader 导入路径
type Uploader interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (*model.Layer, error)
}

// Importer Overpass 导入器，实现 tools.OSMImporter
type Importer struct {
	endpoint   string
	httpClient *http.Client
	uploader   Uploader
	log        *logging.Logger
}

// 确保 Importer 实现了 tools.OSMImporter 接口
var _ tools.OSMImporter = (*Importer)(nil)

// NewImporter 创建导入器
func NewImporter(endpoint string, timeout time.Duration, uploader Uploader, log *logging.Logger) *Importer {
	if log == nil {
		log = logging.Default("osm")
	}
	return &Importer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		uploader:   uploader,
		log:        log,
	}
}

// Import 下载要素并创建、挂载新图层
func (i *Importer) Import(ctx context.Context, req tools.OSMRequest) (*model.Layer, error) {
	query, err := BuildQuery(req.Tags, req.BBox)
	if err != nil {
		return nil, err
	}

	elements, err := i.fetch(ctx, query)
	if err != nil {
		return nil, err
	}

	fc := ToFeatureCollection(elements)
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("no OpenStreetMap features matched %s in the given bbox", req.Tags)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}

	name := strings.TrimSpace(req.LayerName)
	if name == "" {
		name = req.Tags
	}
	layer, err := i.uploader.Upload(ctx, ingest.UploadRequest{
		UserID:   req.UserID,
		MapID:    req.MapID,
		Filename: name + ".geojson",
		Reader:   bytes.NewReader(data),
		Size:     int64(len(data)),
	})
	if err != nil {
		return nil, err
	}

	i.log.WithMapID(req.MapID).Info(fmt.Sprintf("[osm.import.completed] layer_id=%s features=%d", layer.LayerID, len(fc.Features)))
	return layer, nil
}

func (i *Importer) fetch(ctx context.Context, query string) ([]Element, error) {
	form := url.Values{"data": {query}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("overpass returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Elements []Element `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}
	return out.Elements, nil
}

// ============================================================================
// 查询构造
// ============================================================================

// BuildQuery 构造 Overpass QL
//
// tags 形如 "highway=footway&name=*"，值为 * 表示只要求键存在。
// bbox 为 [west, south, east, north]，Overpass 要求 (south, west, north, east)。
func BuildQuery(tags string, bbox [4]float64) (string, error) {
	var filters strings.Builder
	for _, part := range strings.Split(tags, "&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.ContainsAny(part, "\"[](),;") {
			return "", fmt.Errorf("invalid tag filter %q", part)
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return "", fmt.Errorf("invalid tag filter %q", part)
		}
		if !ok || value == "*" {
			fmt.Fprintf(&filters, "[%q]", key)
		} else {
			fmt.Fprintf(&filters, "[%q=%q]", key, value)
		}
	}
	if filters.Len() == 0 {
		return "", fmt.Errorf("at least one tag filter is required")
	}

	box := fmt.Sprintf("(%g,%g,%g,%g)", bbox[1], bbox[0], bbox[3], bbox[2])
	return fmt.Sprintf("[out:json][timeout:25];(node%[1]s%[2]s;way%[1]s%[2]s;);out geom;", filters.String(), box), nil
}

// ============================================================================
// GeoJSON 转换
// ============================================================================

// Element Overpass 返回的元素（out geom）
type Element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Geometry []LatLon          `json:"geometry"`
}

// LatLon 坐标点
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FeatureCollection GeoJSON 要素集合
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature GeoJSON 要素
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry GeoJSON 几何
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// ToFeatureCollection 将 node 转为 Point，闭合 way 转为 Polygon，其余 way 转为 LineString
func ToFeatureCollection(elements []Element) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, el := range elements {
		geom, ok := toGeometry(el)
		if !ok {
			continue
		}
		props := map[string]any{"osm_id": el.ID, "osm_type": el.Type}
		for k, v := range el.Tags {
			props[k] = v
		}
		fc.Features = append(fc.Features, Feature{Type: "Feature", Geometry: geom, Properties: props})
	}
	return fc
}

func toGeometry(el Element) (Geometry, bool) {
	switch el.Type {
	case "node":
		return Geometry{Type: "Point", Coordinates: []float64{el.Lon, el.Lat}}, true
	case "way":
		if len(el.Geometry) < 2 {
			return Geometry{}, false
		}
		line := make([][]float64, len(el.Geometry))
		for i, p := range el.Geometry {
			line[i] = []float64{p.Lon, p.Lat}
		}
		first, last := el.Geometry[0], el.Geometry[len(el.Geometry)-1]
		if len(el.Geometry) >= 4 && first == last {
			return Geometry{Type: "Polygon", Coordinates: [][][]float64{line}}, true
		}
		return Geometry{Type: "LineString", Coordinates: line}, true
	default:
		return Geometry{}, false
	}
}
