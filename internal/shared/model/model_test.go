package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolResultJSONIsFlat(t *testing.T) {
	data, err := json.Marshal(SuccessResult(map[string]any{"layer_id": "L123"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","layer_id":"L123"}`, string(data))

	data, err = json.Marshal(ErrorResult("bad bounds"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":"bad bounds"}`, string(data))

	var got ToolResult
	require.NoError(t, json.Unmarshal([]byte(`{"status":"error","error":"boom","query":"SELECT 1"}`), &got))
	assert.True(t, got.IsError())
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, "SELECT 1", got.Data["query"])
}

func TestToolPayloadCarriesInvocationID(t *testing.T) {
	p := ToolPayload("call_1", ErrorResult("nope"))
	assert.Equal(t, RoleTool, p.Role)
	assert.Equal(t, "call_1", p.ToolCallID)
	assert.JSONEq(t, `{"status":"error","error":"nope"}`, p.Content)
}

func TestPayloadUserVisible(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    bool
	}{
		{"user", UserPayload("hi"), true},
		{"assistant text", AssistantPayload("done"), true},
		{"assistant with calls", AssistantPayload("", NewToolInvocation("c1", "zoom_to_bounds", "{}")), false},
		{"tool", ToolPayload("c1", SuccessResult(nil)), false},
		{"system", SystemPayload("<MapState></MapState>"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.payload.UserVisible())
		})
	}
}

func TestFilterUserVisibleKeepsOrder(t *testing.T) {
	msgs := []*Message{
		{ID: 1, Payload: SystemPayload("state")},
		{ID: 2, Payload: UserPayload("buffer the roads")},
		{ID: 3, Payload: AssistantPayload("", NewToolInvocation("c1", "native_buffer", "{}"))},
		{ID: 4, Payload: ToolPayload("c1", SuccessResult(nil))},
		{ID: 5, Payload: AssistantPayload("Done.")},
	}
	got := FilterUserVisible(msgs)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(5), got[1].ID)
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewLayerID()
		require.Len(t, id, IDLength)
		assert.True(t, IsLayerID(id))
		assert.False(t, strings.ContainsAny(id[1:], "0OIl"), "ambiguous character in %s", id)
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.False(t, IsLayerID(NewMapID()))
	assert.False(t, IsLayerID("L123"))
	assert.False(t, IsLayerID("roads layer!"))
}

func TestLayerDisplayName(t *testing.T) {
	assert.Equal(t, "Roads", (&Layer{LayerID: "LABCDEFGHJKM", Name: "Roads"}).DisplayName())
	assert.Equal(t, "Unnamed Layer (LABCDEFG)", (&Layer{LayerID: "LABCDEFGHJKM"}).DisplayName())
}

func TestLayerTypeFromFilename(t *testing.T) {
	assert.Equal(t, LayerTypeRaster, LayerTypeFromFilename("dem.TIF"))
	assert.Equal(t, LayerTypeVector, LayerTypeFromFilename("roads.fgb"))
	assert.Equal(t, LayerTypeVector, LayerTypeFromFilename("roads.geojson"))
}
