package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"map-agent/internal/ingest"
	"map-agent/internal/orchestrator"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage/storagetest"
	"map-agent/pkg/logging"
)

type fakeOrchestrator struct {
	sendErr   error
	sent      []string
	cancelled []string
	messages  []*model.Message
}

func (f *fakeOrchestrator) Send(_ context.Context, mapID, userID, content string) (*model.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, content)
	return &model.Message{ID: 1, MapID: mapID, SenderID: userID, Payload: model.UserPayload(content)}, nil
}

func (f *fakeOrchestrator) RequestCancel(_ context.Context, mapID string) error {
	f.cancelled = append(f.cancelled, mapID)
	return nil
}

func (f *fakeOrchestrator) ReadTranscript(context.Context, string) ([]*model.Message, error) {
	return f.messages, nil
}

func newTestServer(t *testing.T, orch *fakeOrchestrator) *httptest.Server {
	t.Helper()
	store := storagetest.NewStore(t)
	storagetest.SeedMap(t, store, "M1", "u1")
	objects := objstore.NewMemoryStore("test")
	h := NewHandler(orch, store, ingest.New(store, objects, logging.Discard("ingest")))

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, user, contentType string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSendStartsProcessing(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, orch)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/maps/M1/messages/send", "u1", "application/json", []byte(`{"content":"buffer roads"}`))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "processing_started", body["status"])
	assert.Equal(t, []string{"buffer roads"}, orch.sent)
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name    string
		mapID   string
		user    string
		body    string
		sendErr error
		want    int
		wantMsg string
	}{
		{"missing user", "M1", "", `{"content":"x"}`, nil, http.StatusUnauthorized, "missing X-User-ID header"},
		{"foreign map", "M1", "u2", `{"content":"x"}`, nil, http.StatusNotFound, "map not found"},
		{"unknown map", "M404", "u1", `{"content":"x"}`, nil, http.StatusNotFound, "map not found"},
		{"empty content", "M1", "u1", `{"content":"  "}`, nil, http.StatusBadRequest, "content is required"},
		{"bad json", "M1", "u1", `{`, nil, http.StatusBadRequest, "invalid request body"},
		{"conflict", "M1", "u1", `{"content":"x"}`, orchestrator.ErrConflict, http.StatusConflict, ConflictMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeOrchestrator{sendErr: tt.sendErr})
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/maps/"+tt.mapID+"/messages/send", tt.user, "application/json", []byte(tt.body))
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}

func TestCancelAndMessages(t *testing.T) {
	orch := &fakeOrchestrator{messages: []*model.Message{
		{ID: 1, MapID: "M1", SenderID: "u1", Payload: model.UserPayload("hi")},
		{ID: 3, MapID: "M1", SenderID: model.SenderAssistant, Payload: model.AssistantPayload("hello")},
	}}
	srv := newTestServer(t, orch)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/maps/M1/messages/cancel", "u1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancel_requested", body["status"])
	assert.Equal(t, []string{"M1"}, orch.cancelled)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/maps/M1/messages", "u1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].(map[string]any)["message_json"].(map[string]any)["content"])
}

func TestUploadLayerAndList(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "Parcels.GeoJSON")
	require.NoError(t, err)
	_, err = fw.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/maps/M1/layers", "u1", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Parcels", body["name"])
	assert.Equal(t, "vector", body["type"])
	assert.True(t, strings.HasSuffix(body["s3_key"].(string), ".geojson"))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/maps/M1/layers", "u1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["layers"], 1)
}

func TestUploadRequiresFile(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{})
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/maps/M1/layers", "u1", "application/json", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "file is required", body["error"])
}

func TestCreateAndGetMap(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/maps", "u9", "application/json", []byte(`{"title":"Flood risk"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.True(t, strings.HasPrefix(id, "M"))

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/maps/"+id, "u9", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Flood risk", body["title"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/maps/"+id, "u1", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
