// Package model 地图与图层相关的数据模型
package model

import (
	"crypto/rand"
	"math/big"
	"path/filepath"
	"strings"
	"time"
)

// ============================================================================
// Layer - 图层（生成资源）
// ============================================================================

// LayerType 图层类型
type LayerType string

const (
	LayerTypeVector LayerType = "vector"
	LayerTypeRaster LayerType = "raster"
)

// Layer 图层元数据
//
// 图层可以由用户直接上传创建，也可以由地理处理任务的输出导入创建。
// 对用户可见需同时满足：
//  1. 图层元数据已写入数据库
//  2. 图层已挂载到地图（map_layers 中存在对应记录）
//
// 挂载永远发生在元数据写入之后。
type Layer struct {
	LayerID     string    `json:"layer_id" db:"layer_id"`
	OwnerID     string    `json:"owner_uuid" db:"owner_id"`
	Name        string    `json:"name" db:"name"`
	Type        LayerType `json:"type" db:"type"`
	S3Key       string    `json:"s3_key,omitempty" db:"s3_key"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	SourceMapID *string   `json:"source_map_id,omitempty" db:"source_map_id"`
	CreatedAt   time.Time `json:"created_on" db:"created_at"`
	LastEdited  time.Time `json:"last_edited" db:"last_edited"`
}

// DisplayName 用于模型提示的图层名称，未命名图层回退为 ID 前缀
func (l *Layer) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	id := l.LayerID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Unnamed Layer (" + id + ")"
}

// LayerTypeFromFilename 根据文件扩展名推断图层类型
func LayerTypeFromFilename(filename string) LayerType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff", ".jpg", ".jpeg", ".png", ".dem":
		return LayerTypeRaster
	default:
		return LayerTypeVector
	}
}

// ============================================================================
// Map - 地图（会话所属资源）
// ============================================================================

// Map 地图
//
// 地图拥有一个会话（消息日志）和一组已挂载的图层。
type Map struct {
	MapID       string    `json:"id" db:"map_id"`
	OwnerID     string    `json:"owner_uuid" db:"owner_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_on" db:"created_at"`
}

// ============================================================================
// PostgresConnection - 用户注册的 PostGIS 数据库连接
// ============================================================================

// PostgresConnection 用户注册的 PostGIS 连接
type PostgresConnection struct {
	ID            string    `json:"id" db:"id"`
	OwnerID       string    `json:"owner_uuid" db:"owner_id"`
	FriendlyName  string    `json:"friendly_name" db:"friendly_name"`
	ConnectionURI string    `json:"-" db:"connection_uri"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ============================================================================
// ID 生成
// ============================================================================

// idAlphabet 去除了易混淆字符（0 O I l）的字母表
const idAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// IDLength 带前缀的 ID 总长度
const IDLength = 12

// GenerateID 生成带单字符前缀的 ID，如 "L" 前缀生成图层 ID
func GenerateID(prefix string) string {
	n := IDLength - len(prefix)
	var sb strings.Builder
	sb.Grow(IDLength)
	sb.WriteString(prefix)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("model: crypto/rand unavailable: " + err.Error())
		}
		sb.WriteByte(idAlphabet[idx.Int64()])
	}
	return sb.String()
}

// NewLayerID 生成图层 ID
func NewLayerID() string {
	return GenerateID("L")
}

// NewMapID 生成地图 ID
func NewMapID() string {
	return GenerateID("M")
}

// IsLayerID 判断字符串是否形如图层 ID
func IsLayerID(s string) bool {
	return len(s) == IDLength && s[0] == 'L'
}
