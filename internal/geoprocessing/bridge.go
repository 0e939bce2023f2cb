package geoprocessing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"map-agent/internal/ingest"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage"
	"map-agent/pkg/logging"
)

// LayerLookup 解析输入图层
type LayerLookup interface {
	GetOwnedLayer(ctx context.Context, layerID, ownerID string) (*model.Layer, error)
}

// Registrar 将远程服务写入的对象登记为新图层
type Registrar interface {
	Register(ctx context.Context, req ingest.RegisterRequest) (*model.Layer, error)
}

// Bridge 地理处理桥接
type Bridge struct {
	client     *Client
	layers     LayerLookup
	objects    objstore.Store
	registrar  Registrar
	presignTTL time.Duration
	log        *logging.Logger
}

// NewBridge 创建 Bridge
func NewBridge(client *Client, layers LayerLookup, objects objstore.Store, registrar Registrar, presignTTL time.Duration, log *logging.Logger) *Bridge {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	if log == nil {
		log = logging.Default("geoprocessing")
	}
	return &Bridge{
		client:     client,
		layers:     layers,
		objects:    objects,
		registrar:  registrar,
		presignTTL: presignTTL,
		log:        log,
	}
}

// RunRequest 一次算法调用
type RunRequest struct {
	Algorithm Algorithm
	MapID     string
	UserID    string
	// Args 模型给出的参数，值为原始 JSON
	Args map[string]json.RawMessage
}

// CreatedLayer 算法输出创建的图层
type CreatedLayer struct {
	ParamName string          `json:"param_name"`
	LayerID   string          `json:"layer_id"`
	LayerName string          `json:"layer_name"`
	LayerType model.LayerType `json:"layer_type"`
}

// RunResult 成功执行的结果
type RunResult struct {
	AlgorithmID string
	Remote      map[string]any
	Created     []CreatedLayer
}

type plannedOutput struct {
	param   string
	layerID string
	key     string
	kind    OutputKind
}

// Run 执行算法：签发输入/输出 URL，调用远程服务，导入全部输出
//
// 任一输出未上传或在对象存储中不存在时不创建任何图层。导入中途失败时，
// 已创建的图层随错误一并返回，模型看到的结果与地图上的图层一致。
func (b *Bridge) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	algID := req.Algorithm.ID
	log := b.log.WithMapID(req.MapID)
	start := time.Now()

	procReq := &ProcessRequest{
		AlgorithmID:            algID,
		QGISInputs:             make(map[string]string),
		InputURLs:              make(map[string]string),
		OutputPresignedPutURLs: make(map[string]string),
	}
	if err := b.resolveInputs(ctx, req, procReq); err != nil {
		return nil, err
	}

	outputs := make([]plannedOutput, 0, len(req.Algorithm.Outputs))
	for _, out := range req.Algorithm.Outputs {
		layerID := model.NewLayerID()
		key := objstore.LayerKey(req.UserID, req.MapID, layerID, out.Kind.Ext())
		url, err := b.objects.PresignedPut(ctx, key, b.presignTTL)
		if err != nil {
			return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("presign output %s", out.Param), Err: err}
		}
		procReq.OutputPresignedPutURLs[out.Param] = url
		outputs = append(outputs, plannedOutput{param: out.Param, layerID: layerID, key: key, kind: out.Kind})
	}

	resp, err := b.client.Process(ctx, procReq)
	if err != nil {
		log.WithError(err).Warn(fmt.Sprintf("[geoprocessing.run.failed] algorithm=%s", algID))
		return nil, err
	}

	for _, out := range outputs {
		if r, ok := resp.UploadResults[out.param]; !ok || !r.Uploaded {
			return nil, &Error{
				Kind:    KindOutputMissing,
				Message: fmt.Sprintf("QGIS processing completed but output file %s was not uploaded successfully", out.param),
				Remote:  resp.Raw,
			}
		}
	}

	for _, out := range outputs {
		if _, err := b.objects.Stat(ctx, out.key); err != nil {
			kind := KindTransport
			if errors.Is(err, objstore.ErrNotFound) {
				kind = KindOutputMissing
			}
			return nil, &Error{Kind: kind, Message: fmt.Sprintf("output %s reported uploaded but is not readable", out.param), Remote: resp.Raw, Err: err}
		}
	}

	result := &RunResult{AlgorithmID: algID, Remote: resp.Raw}
	for _, out := range outputs {
		name := out.layerID + out.kind.Ext()
		layer, err := b.registrar.Register(ctx, ingest.RegisterRequest{
			UserID:  req.UserID,
			MapID:   req.MapID,
			LayerID: out.layerID,
			Key:     out.key,
			Name:    name,
		})
		if err != nil {
			log.WithError(err).Error(fmt.Sprintf("[geoprocessing.ingest.failed] algorithm=%s output=%s created=%d",
				algID, out.param, len(result.Created)))
			return nil, &Error{
				Kind:    KindIngest,
				Message: fmt.Sprintf("import output %s", out.param),
				Remote:  resp.Raw,
				Created: result.Created,
				Err:     err,
			}
		}
		result.Created = append(result.Created, CreatedLayer{
			ParamName: out.param,
			LayerID:   layer.LayerID,
			LayerName: name,
			LayerType: layer.Type,
		})
	}

	log.WithDuration(time.Since(start)).Info(fmt.Sprintf("[geoprocessing.run.completed] algorithm=%s outputs=%d",
		algID, len(result.Created)))
	return result, nil
}

// resolveInputs 图层 ID 参数转换为预签名 URL，其余参数转换为字符串
func (b *Bridge) resolveInputs(ctx context.Context, req RunRequest, procReq *ProcessRequest) error {
	declared := make(map[string]bool, len(req.Algorithm.Outputs))
	for _, out := range req.Algorithm.Outputs {
		declared[out.Param] = true
	}

	keys := make([]string, 0, len(req.Args))
	for k := range req.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if declared[key] {
			continue
		}
		raw := req.Args[key]

		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			procReq.QGISInputs[key] = string(raw)
			continue
		}
		if !model.IsLayerID(s) {
			procReq.QGISInputs[key] = s
			continue
		}

		layer, err := b.layers.GetOwnedLayer(ctx, s, req.UserID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && layer.S3Key == "") {
			return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf("Layer %s not found or has no S3 key", s)}
		}
		if err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("look up layer %s", s), Err: err}
		}
		url, err := b.objects.PresignedGet(ctx, layer.S3Key, b.presignTTL)
		if err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("presign input %s", key), Err: err}
		}
		procReq.InputURLs[key] = url
	}
	return nil
}
