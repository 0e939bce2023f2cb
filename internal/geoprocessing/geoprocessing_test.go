package geoprocessing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"map-agent/internal/ingest"
	"map-agent/internal/notify"
	"map-agent/internal/shared/eventbus"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage/repository"
	"map-agent/internal/shared/storage/storagetest"
	"map-agent/internal/tools"
	"map-agent/pkg/logging"
)

func TestSelectAlgorithms(t *testing.T) {
	all, err := Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	some, err := Select([]string{"gdal:slope", "native:buffer"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "gdal_slope", some[0].ToolName())
	assert.Equal(t, OutputRaster, some[0].Outputs[0].Kind)
	assert.Equal(t, ".fgb", some[1].Outputs[0].Kind.Ext())

	_, err = Select([]string{"native:nope"})
	assert.ErrorContains(t, err, "unsupported")
}

// ============================================================================
// fake QGIS 服务
// ============================================================================

type fakeQGIS struct {
	t        *testing.T
	objects  *objstore.MemoryStore
	calls    atomic.Int32
	mu       sync.Mutex
	last     ProcessRequest
	uploaded bool
	// phantom 报告已上传但不写入对象
	phantom bool
	status  int
	block   bool
}

func (f *fakeQGIS) handler(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.URL.Path != "/run_qgis_process" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if f.block {
		<-r.Context().Done()
		return
	}
	var req ProcessRequest
	assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()

	if f.status != 0 && f.status != http.StatusOK {
		http.Error(w, "algorithm crashed", f.status)
		return
	}

	results := map[string]any{}
	for param, url := range req.OutputPresignedPutURLs {
		if f.uploaded && !f.phantom {
			key, err := objstore.KeyFromURL(url)
			assert.NoError(f.t, err)
			f.objects.Put(key, []byte("output-bytes"))
		}
		results[param] = map[string]any{"uploaded": f.uploaded}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"upload_results": results, "log": "done"})
}

func (f *fakeQGIS) lastRequest() ProcessRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fixture struct {
	store   *repository.Store
	objects *objstore.MemoryStore
	qgis    *fakeQGIS
	bridge  *Bridge
	input   *model.Layer
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	store := storagetest.NewStore(t)
	storagetest.SeedMap(t, store, "M1", "u1")
	input := storagetest.SeedLayer(t, store, "u1", "roads", model.LayerTypeVector)

	objects := objstore.NewMemoryStore("test")
	objects.Put(input.S3Key, []byte("input-bytes"))

	qgis := &fakeQGIS{t: t, objects: objects, uploaded: true}
	srv := httptest.NewServer(http.HandlerFunc(qgis.handler))
	t.Cleanup(srv.Close)

	log := logging.Discard("geoprocessing")
	bridge := NewBridge(NewClient(srv.URL, timeout), store, objects, ingest.New(store, objects, log), time.Hour, log)
	return &fixture{store: store, objects: objects, qgis: qgis, bridge: bridge, input: input}
}

func buffer(t *testing.T) Algorithm {
	algs, err := Select([]string{"native:buffer"})
	require.NoError(t, err)
	return algs[0]
}

func args(t *testing.T, v map[string]any) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(v))
	for k, val := range v {
		data, err := json.Marshal(val)
		require.NoError(t, err)
		out[k] = data
	}
	return out
}

func TestBridgeRunCreatesAndAttachesOutputs(t *testing.T) {
	f := newFixture(t, time.Second)

	res, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: buffer(t),
		MapID:     "M1",
		UserID:    "u1",
		Args:      args(t, map[string]any{"INPUT": f.input.LayerID, "DISTANCE": 10, "DISSOLVE": true}),
	})
	require.NoError(t, err)

	last := f.qgis.lastRequest()
	assert.Equal(t, "native:buffer", last.AlgorithmID)
	assert.Equal(t, map[string]string{"DISTANCE": "10", "DISSOLVE": "true"}, last.QGISInputs)
	require.Contains(t, last.InputURLs, "INPUT")
	inKey, err := objstore.KeyFromURL(last.InputURLs["INPUT"])
	require.NoError(t, err)
	assert.Equal(t, f.input.S3Key, inKey)
	outKey, err := objstore.KeyFromURL(last.OutputPresignedPutURLs["OUTPUT"])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(outKey, "uploads/u1/M1/L"))
	assert.True(t, strings.HasSuffix(outKey, ".fgb"))

	require.Len(t, res.Created, 1)
	created := res.Created[0]
	assert.Equal(t, "OUTPUT", created.ParamName)
	assert.Equal(t, model.LayerTypeVector, created.LayerType)
	assert.Equal(t, "done", res.Remote["log"])

	visible, err := f.store.ListMapLayers(context.Background(), "M1")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, created.LayerID, visible[0].LayerID)
	assert.Equal(t, outKey, visible[0].S3Key)
	assert.Equal(t, int64(len("output-bytes")), visible[0].SizeBytes)
}

func TestBridgeRunMissingUploadCreatesNothing(t *testing.T) {
	f := newFixture(t, time.Second)
	f.qgis.uploaded = false

	_, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: buffer(t), MapID: "M1", UserID: "u1",
		Args: args(t, map[string]any{"INPUT": f.input.LayerID, "DISTANCE": 5}),
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOutputMissing))
	assert.Contains(t, err.Error(), "output file OUTPUT was not uploaded successfully")

	visible, _ := f.store.ListMapLayers(context.Background(), "M1")
	assert.Empty(t, visible)
}

func TestBridgeRunRemoteFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.qgis.status = http.StatusInternalServerError

	_, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: buffer(t), MapID: "M1", UserID: "u1",
		Args: args(t, map[string]any{"INPUT": f.input.LayerID, "DISTANCE": 5}),
	})
	assert.True(t, IsKind(err, KindRemoteFailure))
	assert.Contains(t, err.Error(), "QGIS processing failed: 500 - algorithm crashed")
}

func TestBridgeRunRejectsForeignInput(t *testing.T) {
	f := newFixture(t, time.Second)
	foreign := storagetest.SeedLayer(t, f.store, "u2", "secret", model.LayerTypeVector)

	_, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: buffer(t), MapID: "M1", UserID: "u1",
		Args: args(t, map[string]any{"INPUT": foreign.LayerID, "DISTANCE": 5}),
	})
	assert.True(t, IsKind(err, KindInvalidInput))
	assert.Contains(t, err.Error(), "not found or has no S3 key")
	assert.Zero(t, f.qgis.calls.Load(), "remote service not called")
}

func TestBridgeRunTimeout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.qgis.block = true

	_, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: buffer(t), MapID: "M1", UserID: "u1",
		Args: args(t, map[string]any{"INPUT": f.input.LayerID, "DISTANCE": 5}),
	})
	assert.True(t, IsKind(err, KindTransport))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// twoOutputs 同时产出矢量与栅格的算法
func twoOutputs() Algorithm {
	return Algorithm{
		ID:      "test:split",
		Outputs: []Output{{Param: "OUTPUT", Kind: OutputVector}, {Param: "MASK", Kind: OutputRaster}},
	}
}

// flakyRegistrar 第 failOn 次登记失败
type flakyRegistrar struct {
	next   Registrar
	failOn int
	calls  int
}

func (r *flakyRegistrar) Register(ctx context.Context, req ingest.RegisterRequest) (*model.Layer, error) {
	r.calls++
	if r.calls == r.failOn {
		return nil, errors.New("database is locked")
	}
	return r.next.Register(ctx, req)
}

func TestBridgeRunPartialIngestReportsCreatedLayers(t *testing.T) {
	f := newFixture(t, time.Second)
	reg := &flakyRegistrar{next: f.bridge.registrar, failOn: 2}
	f.bridge.registrar = reg

	_, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: twoOutputs(), MapID: "M1", UserID: "u1",
		Args: args(t, map[string]any{"INPUT": f.input.LayerID}),
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIngest))

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	require.Len(t, gerr.Created, 1)
	assert.Equal(t, "OUTPUT", gerr.Created[0].ParamName)

	visible, err := f.store.ListMapLayers(context.Background(), "M1")
	require.NoError(t, err)
	require.Len(t, visible, 1, "reported layers match what the map shows")
	assert.Equal(t, gerr.Created[0].LayerID, visible[0].LayerID)

	res := errorResult("test:split", gerr)
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "1 output layers were already added to the map")
	assert.Equal(t, gerr.Created, res.Data["created_layers"])
}

func TestBridgeRunUnreadableOutputCreatesNothing(t *testing.T) {
	f := newFixture(t, time.Second)
	f.qgis.phantom = true
	reg := &flakyRegistrar{next: f.bridge.registrar}
	f.bridge.registrar = reg

	_, err := f.bridge.Run(context.Background(), RunRequest{
		Algorithm: twoOutputs(), MapID: "M1", UserID: "u1",
		Args: args(t, map[string]any{"INPUT": f.input.LayerID}),
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOutputMissing))
	assert.ErrorIs(t, err, objstore.ErrNotFound)
	assert.Zero(t, reg.calls, "no output is registered before all are verified")

	visible, _ := f.store.ListMapLayers(context.Background(), "M1")
	assert.Empty(t, visible)
}

// ============================================================================
// Provider
// ============================================================================

type recorder struct {
	mu     sync.Mutex
	events []*eventbus.Event
}

func (r *recorder) Publish(_ context.Context, ev *eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type runnerFunc func(ctx context.Context, req RunRequest) (*RunResult, error)

func (f runnerFunc) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	return f(ctx, req)
}

func TestProviderWrapsRunInEphemeralScope(t *testing.T) {
	rec := &recorder{}
	n := notify.New(rec, logging.Discard("notify"))
	runner := runnerFunc(func(_ context.Context, req RunRequest) (*RunResult, error) {
		return &RunResult{
			AlgorithmID: req.Algorithm.ID,
			Created:     []CreatedLayer{{ParamName: "OUTPUT", LayerID: "LABCDEFGHJKM", LayerType: model.LayerTypeVector}},
		}, nil
	})
	p := NewProvider([]Algorithm{buffer(t)}, runner, n)

	ts, err := p.Tools(context.Background(), tools.Scope{MapID: "M1", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "native_buffer", ts[0].Spec().Name)

	res := tools.Dispatch(context.Background(), ts[0], tools.Call{
		MapID: "M1", UserID: "u1", InvocationID: "c1",
		Args: json.RawMessage(`{"INPUT":"LABCDEFGHJKL","DISTANCE":3}`),
	})
	require.False(t, res.IsError(), res.Error)
	assert.Equal(t, "native_buffer completed successfully", res.Data["message"])

	require.Len(t, rec.events, 2)
	assert.Equal(t, "Running native:buffer...", rec.events[0].Action)
	assert.Equal(t, rec.events[0].ActionID, rec.events[1].ActionID)
	assert.Equal(t, eventbus.StatusCompleted, rec.events[1].Status)
}

func TestProviderConvertsFailuresToErrorResults(t *testing.T) {
	rec := &recorder{}
	n := notify.New(rec, logging.Discard("notify"))

	tests := []struct {
		name    string
		err     error
		wantErr string
		kind    any
	}{
		{
			name:    "bridge error",
			err:     &Error{Kind: KindRemoteFailure, Message: "QGIS processing failed: 500 - boom"},
			wantErr: "QGIS processing failed: 500 - boom",
			kind:    "remote_failure",
		},
		{
			name:    "unexpected error",
			err:     errors.New("disk full"),
			wantErr: `Unexpected error running geoprocessing: "disk full"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider([]Algorithm{buffer(t)}, runnerFunc(func(context.Context, RunRequest) (*RunResult, error) {
				return nil, tt.err
			}), n)
			ts, err := p.Tools(context.Background(), tools.Scope{})
			require.NoError(t, err)

			res := tools.Dispatch(context.Background(), ts[0], tools.Call{
				MapID: "M1", UserID: "u1", InvocationID: "c1",
				Args: json.RawMessage(`{"INPUT":"LABCDEFGHJKL","DISTANCE":3}`),
			})
			assert.True(t, res.IsError())
			assert.Equal(t, tt.wantErr, res.Error)
			assert.Equal(t, "native:buffer", res.Data["algorithm_id"])
			if tt.kind != nil {
				assert.Equal(t, tt.kind, res.Data["error_kind"])
			}
		})
	}
}

func TestProviderRequiresDeclaredParameters(t *testing.T) {
	called := false
	p := NewProvider([]Algorithm{buffer(t)}, runnerFunc(func(context.Context, RunRequest) (*RunResult, error) {
		called = true
		return &RunResult{}, nil
	}), notify.New(nil, logging.Discard("notify")))
	ts, err := p.Tools(context.Background(), tools.Scope{})
	require.NoError(t, err)

	res := tools.Dispatch(context.Background(), ts[0], tools.Call{InvocationID: "c1", Args: json.RawMessage(`{"INPUT":"LABCDEFGHJKL"}`)})
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "DISTANCE")
	assert.False(t, called)
}
