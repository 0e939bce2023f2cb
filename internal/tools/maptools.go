package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"map-agent/internal/notify"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/storage"
)

// UnattachedLayerLimit add_layer_to_map 枚举的最大图层数
const UnattachedLayerLimit = 10

const (
	ToolAddLayerToMap = "add_layer_to_map"
	ToolZoomToBounds  = "zoom_to_bounds"
)

// LayerStore 地图工具依赖的图层存储能力
type LayerStore interface {
	GetOwnedLayer(ctx context.Context, layerID, ownerID string) (*model.Layer, error)
	RenameLayer(ctx context.Context, layerID, name string) error
	AttachLayer(ctx context.Context, mapID, layerID string) (bool, error)
	ListUnattachedLayers(ctx context.Context, ownerID string, limit int) ([]*model.Layer, error)
}

// MapTools 直接修改地图的工具：add_layer_to_map、zoom_to_bounds
type MapTools struct {
	layers   LayerStore
	notifier *notify.Notifier
}

// NewMapTools 创建地图工具 Provider
func NewMapTools(layers LayerStore, notifier *notify.Notifier) *MapTools {
	return &MapTools{layers: layers, notifier: notifier}
}

// Tools 返回本轮的地图工具
func (m *MapTools) Tools(ctx context.Context, scope Scope) ([]Tool, error) {
	unattached, err := m.layers.ListUnattachedLayers(ctx, scope.UserID, UnattachedLayerLimit)
	if err != nil {
		return nil, fmt.Errorf("list unattached layers: %w", err)
	}
	return []Tool{
		&Func{ToolSpec: addLayerSpec(unattached), Fn: m.addLayer},
		&Func{ToolSpec: zoomSpec(), Fn: m.zoomToBounds},
	}, nil
}

// ============================================================================
// add_layer_to_map
// ============================================================================

func addLayerSpec(unattached []*model.Layer) model.ToolSpec {
	layerID := map[string]any{
		"type":        "string",
		"description": "The ID of the layer to add to the map. Choose from available unattached layers.",
	}
	if len(unattached) > 0 {
		ids := make([]string, 0, len(unattached))
		labels := make([]string, 0, len(unattached))
		for _, l := range unattached {
			ids = append(ids, l.LayerID)
			labels = append(labels, fmt.Sprintf("%s: %s", l.LayerID, LayerLabel(l)))
		}
		layerID["enum"] = ids
		layerID["description"] = layerID["description"].(string) + " Available: " + strings.Join(labels, "; ")
	}

	return model.ToolSpec{
		Name:        ToolAddLayerToMap,
		Description: "Shows a newly created or existing unattached layer on the user's current map and layer list. Use this after a geoprocessing step that creates a layer, or if the user asks to see an existing layer that isn't currently on their map.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"layer_id": layerID,
				"new_name": map[string]any{
					"type":        "string",
					"description": "Sets a new human-readable name for this layer. This name will appear in the layer list/legend for the user.",
				},
			},
			"required": []string{"layer_id"},
		},
	}
}

// LayerLabel 枚举项说明：{name} (type: {type}, created: {date})
func LayerLabel(l *model.Layer) string {
	return fmt.Sprintf("%s (type: %s, created: %s)", l.DisplayName(), l.Type, l.CreatedAt.Format("2006-01-02 15:04:05"))
}

type addLayerArgs struct {
	LayerID string `json:"layer_id"`
	NewName string `json:"new_name"`
}

func (m *MapTools) addLayer(ctx context.Context, call Call) (model.ToolResult, error) {
	var args addLayerArgs
	if err := call.Decode(&args); err != nil {
		return model.ToolResult{}, err
	}
	if args.LayerID == "" {
		return model.ToolResult{}, call.Errorf("layer_id is required")
	}

	var result model.ToolResult
	err := m.notifier.Track(ctx, call.MapID, "Adding layer to map...", func(ctx context.Context) error {
		layer, err := m.layers.GetOwnedLayer(ctx, args.LayerID, call.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return call.Errorf("Layer ID '%s' not found or you do not have permission to use it.", args.LayerID)
		}
		if err != nil {
			return err
		}

		name := layer.Name
		if args.NewName != "" && args.NewName != layer.Name {
			if err := m.layers.RenameLayer(ctx, layer.LayerID, args.NewName); err != nil {
				return err
			}
			name = args.NewName
		}

		added, err := m.layers.AttachLayer(ctx, call.MapID, layer.LayerID)
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Layer '%s' (ID: %s) added to map '%s'.", name, layer.LayerID, call.MapID)
		if !added {
			msg = fmt.Sprintf("Layer '%s' (ID: %s) is already on map '%s'.", name, layer.LayerID, call.MapID)
		}
		result = model.SuccessResult(map[string]any{
			"message":  msg,
			"layer_id": layer.LayerID,
			"name":     name,
			"added":    added,
		})
		return nil
	}, notify.WithLayer(args.LayerID), notify.WithStyleUpdate(true))

	return result, err
}

// ============================================================================
// zoom_to_bounds
// ============================================================================

func zoomSpec() model.ToolSpec {
	return model.ToolSpec{
		Name:        ToolZoomToBounds,
		Description: "Zoom the map to a specific bounding box in WGS84 coordinates. This will save the user's current zoom location to history and navigate to the new bounds.",
		Strict:      true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bounds": map[string]any{
					"type":        "array",
					"description": "Bounding box in WGS84 format [xmin, ymin, xmax, ymax]",
					"items":       map[string]any{"type": "number"},
					"minItems":    4,
					"maxItems":    4,
				},
				"zoom_description": map[string]any{
					"type":        "string",
					"description": `Complete message to display to the user while zooming, e.g. "Zooming to 39 selected parcels near Ohio"`,
				},
			},
			"required":             []string{"bounds", "zoom_description"},
			"additionalProperties": false,
		},
	}
}

type zoomArgs struct {
	Bounds          []any  `json:"bounds"`
	ZoomDescription string `json:"zoom_description"`
}

func (m *MapTools) zoomToBounds(ctx context.Context, call Call) (model.ToolResult, error) {
	var args zoomArgs
	if err := call.Decode(&args); err != nil {
		return model.ToolResult{}, err
	}
	bounds, err := ValidateBounds(args.Bounds)
	if err != nil {
		return model.ToolResult{}, call.Errorf("%s", err.Error())
	}

	action := args.ZoomDescription
	if action == "" {
		action = "Zooming to bounds..."
	}
	m.notifier.Announce(ctx, call.MapID, action, notify.WithBounds(bounds)).End(ctx)

	return model.SuccessResult(map[string]any{"bounds": bounds[:]}), nil
}

// ValidateBounds 校验 WGS84 范围 [west, south, east, north]
func ValidateBounds(raw []any) ([4]float64, error) {
	var b [4]float64
	if len(raw) != 4 {
		return b, errors.New("Invalid bounds. Must be an array of 4 numbers [west, south, east, north]")
	}
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return b, errors.New("All bounds coordinates must be numbers")
		}
		b[i] = f
	}
	west, south, east, north := b[0], b[1], b[2], b[3]
	if west >= east || south >= north {
		return b, errors.New("Invalid bounds: west must be < east and south must be < north")
	}
	if west < -180 || east > 180 || south < -90 || north > 90 {
		return b, errors.New("Bounds must be in valid WGS84 range")
	}
	return b, nil
}
