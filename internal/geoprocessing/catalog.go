// Package geoprocessing 远程地理处理桥接
//
// 服务端不执行任何计算：输入图层以预签名 GET URL 交给远程 QGIS 服务，
// 每个输出预先分配图层 ID 与预签名 PUT URL，远程服务写入对象存储后，
// 由导入流程创建并挂载新图层。
package geoprocessing

import (
	"fmt"
	"strings"
)

// OutputKind 输出类型
type OutputKind string

const (
	OutputVector OutputKind = "vector"
	OutputRaster OutputKind = "raster"
)

// Ext 输出文件扩展名
func (k OutputKind) Ext() string {
	if k == OutputRaster {
		return ".tif"
	}
	return ".fgb"
}

// Output 算法声明的输出参数
type Output struct {
	Param string
	Kind  OutputKind
}

// Algorithm 可供模型调用的处理算法
type Algorithm struct {
	ID          string
	Description string
	// Parameters 输入参数的 JSON Schema properties，不包含输出参数
	Parameters map[string]any
	Required   []string
	Outputs    []Output
}

// ToolName 工具名：native:buffer → native_buffer
func (a Algorithm) ToolName() string {
	return ToolName(a.ID)
}

// ToolName 将算法 ID 转换为工具名
func ToolName(algorithmID string) string {
	return strings.ReplaceAll(algorithmID, ":", "_")
}

// Schema 工具参数的完整 JSON Schema
func (a Algorithm) Schema() map[string]any {
	required := a.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": a.Parameters,
		"required":   required,
	}
}

func layerParam(kind OutputKind) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": fmt.Sprintf("Layer ID of the input %s layer", kind),
	}
}

func numberParam(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func integerParam(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolParam(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// ============================================================================
// 内置算法
// ============================================================================

var builtin = []Algorithm{
	{
		ID:          "native:buffer",
		Description: "Computes a buffer area for all the features in an input vector layer, using a fixed distance. Output is a vector polygon layer.",
		Parameters: map[string]any{
			"INPUT":    layerParam(OutputVector),
			"DISTANCE": numberParam("Buffer distance in the units of the layer CRS"),
			"SEGMENTS": integerParam("Number of segments used to approximate a quarter circle"),
			"DISSOLVE": boolParam("Dissolve the final buffer result"),
		},
		Required: []string{"INPUT", "DISTANCE"},
		Outputs:  []Output{{Param: "OUTPUT", Kind: OutputVector}},
	},
	{
		ID:          "native:centroids",
		Description: "Creates a new vector point layer with points representing the centroids of the geometries of the input vector layer.",
		Parameters: map[string]any{
			"INPUT":     layerParam(OutputVector),
			"ALL_PARTS": boolParam("Create a centroid for each part of multipart geometries"),
		},
		Required: []string{"INPUT"},
		Outputs:  []Output{{Param: "OUTPUT", Kind: OutputVector}},
	},
	{
		ID:          "native:dissolve",
		Description: "Takes a vector layer and combines its features into new features. One or more attributes can be specified to dissolve features belonging to the same class.",
		Parameters: map[string]any{
			"INPUT": layerParam(OutputVector),
			"FIELD": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Attribute fields to dissolve by",
			},
		},
		Required: []string{"INPUT"},
		Outputs:  []Output{{Param: "OUTPUT", Kind: OutputVector}},
	},
	{
		ID:          "native:reprojectlayer",
		Description: "Reprojects a vector layer in a different CRS. The reprojected vector layer will have the same features and attributes of the input layer.",
		Parameters: map[string]any{
			"INPUT": layerParam(OutputVector),
			"TARGET_CRS": map[string]any{
				"type":        "string",
				"description": "Destination coordinate reference system, e.g. EPSG:3857",
			},
		},
		Required: []string{"INPUT", "TARGET_CRS"},
		Outputs:  []Output{{Param: "OUTPUT", Kind: OutputVector}},
	},
	{
		ID:          "gdal:hillshade",
		Description: "Outputs a raster with a nice shaded relief effect from an input elevation raster.",
		Parameters: map[string]any{
			"INPUT":    layerParam(OutputRaster),
			"BAND":     integerParam("Band containing the elevation information"),
			"Z_FACTOR": numberParam("Vertical exaggeration"),
			"AZIMUTH":  numberParam("Azimuth of the light in degrees"),
			"ALTITUDE": numberParam("Altitude of the light in degrees"),
		},
		Required: []string{"INPUT"},
		Outputs:  []Output{{Param: "OUTPUT", Kind: OutputRaster}},
	},
	{
		ID:          "gdal:slope",
		Description: "Generates a slope map from any GDAL-supported elevation raster.",
		Parameters: map[string]any{
			"INPUT":      layerParam(OutputRaster),
			"BAND":       integerParam("Band containing the elevation information"),
			"SCALE":      numberParam("Ratio of vertical units to horizontal"),
			"AS_PERCENT": boolParam("Express slope as percent instead of degrees"),
		},
		Required: []string{"INPUT"},
		Outputs:  []Output{{Param: "OUTPUT", Kind: OutputRaster}},
	},
}

// Builtin 返回全部内置算法
func Builtin() []Algorithm {
	return append([]Algorithm(nil), builtin...)
}

// Select 按 ID 选择算法，ids 为空时返回全部内置算法
func Select(ids []string) ([]Algorithm, error) {
	if len(ids) == 0 {
		return Builtin(), nil
	}
	byID := make(map[string]Algorithm, len(builtin))
	for _, a := range builtin {
		byID[a.ID] = a
	}
	selected := make([]Algorithm, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unsupported geoprocessing algorithm %q", id)
		}
		selected = append(selected, a)
	}
	return selected, nil
}
