package tools

import (
	"context"
	"fmt"

	"map-agent/internal/notify"
	"map-agent/internal/shared/model"
)

const ToolDownloadOSM = "download_from_openstreetmap"

// OSMRequest OpenStreetMap 导入请求
type OSMRequest struct {
	MapID     string
	UserID    string
	Tags      string
	BBox      [4]float64
	LayerName string
}

// OSMImporter 下载 OSM 要素并创建、挂载图层
type OSMImporter interface {
	Import(ctx context.Context, req OSMRequest) (*model.Layer, error)
}

// OSMTools 仅在配置了导入器时提供 download_from_openstreetmap
type OSMTools struct {
	importer OSMImporter
	notifier *notify.Notifier
}

// NewOSMTools 创建 OSM 工具 Provider，importer 可以为 nil
func NewOSMTools(importer OSMImporter, notifier *notify.Notifier) *OSMTools {
	return &OSMTools{importer: importer, notifier: notifier}
}

// Tools 实现 Provider
func (o *OSMTools) Tools(context.Context, Scope) ([]Tool, error) {
	if o.importer == nil {
		return nil, nil
	}
	return []Tool{&Func{ToolSpec: osmSpec(), Fn: o.download}}, nil
}

func osmSpec() model.ToolSpec {
	return model.ToolSpec{
		Name:        ToolDownloadOSM,
		Description: "Download features from OSM and add to project as a cloud FlatGeobuf layer",
		Strict:      true,
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"tags", "bbox", "new_layer_name"},
			"properties": map[string]any{
				"tags": map[string]any{
					"type":        "string",
					"description": "Tags to filter for e.g. leisure=park, use & to AND tags together e.g. highway=footway&name=*, no commas",
				},
				"bbox": map[string]any{
					"type":        "array",
					"description": "Bounding box in [xmin, ymin, xmax, ymax] format e.g. [9.023802,39.172149,9.280779,39.275211] for Cagliari, Italy",
					"items":       map[string]any{"type": "number"},
				},
				"new_layer_name": map[string]any{
					"type":        "string",
					"description": "Human-friendly name e.g. Walking paths or Liquor stores in Seattle",
				},
			},
			"additionalProperties": false,
		},
	}
}

type osmArgs struct {
	Tags         string `json:"tags"`
	BBox         []any  `json:"bbox"`
	NewLayerName string `json:"new_layer_name"`
}

func (o *OSMTools) download(ctx context.Context, call Call) (model.ToolResult, error) {
	var args osmArgs
	if err := call.Decode(&args); err != nil {
		return model.ToolResult{}, err
	}
	if args.Tags == "" {
		return model.ToolResult{}, call.Errorf("tags is required")
	}
	bbox, err := ValidateBounds(args.BBox)
	if err != nil {
		return model.ToolResult{}, call.Errorf("%s", err.Error())
	}

	var layer *model.Layer
	err = o.notifier.Track(ctx, call.MapID, "Downloading from OpenStreetMap...", func(ctx context.Context) error {
		var err error
		layer, err = o.importer.Import(ctx, OSMRequest{
			MapID:     call.MapID,
			UserID:    call.UserID,
			Tags:      args.Tags,
			BBox:      bbox,
			LayerName: args.NewLayerName,
		})
		return err
	}, notify.WithStyleUpdate(true))
	if err != nil {
		return model.ToolResult{}, fmt.Errorf("openstreetmap import: %w", err)
	}

	return model.SuccessResult(map[string]any{
		"message":  fmt.Sprintf("Downloaded OpenStreetMap features for %q into layer %s", args.Tags, layer.LayerID),
		"layer_id": layer.LayerID,
		"name":     layer.Name,
	}), nil
}
