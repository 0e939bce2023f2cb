package osm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"map-agent/internal/ingest"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/objstore"
	"map-agent/internal/shared/storage/storagetest"
	"map-agent/internal/tools"
	"map-agent/pkg/logging"
)

func TestBuildQuery(t *testing.T) {
	bbox := [4]float64{9.02, 39.17, 9.28, 39.27}

	q, err := BuildQuery("highway=footway&name=*", bbox)
	require.NoError(t, err)
	assert.Equal(t,
		`[out:json][timeout:25];(node["highway"="footway"]["name"](39.17,9.02,39.27,9.28);way["highway"="footway"]["name"](39.17,9.02,39.27,9.28););out geom;`,
		q)

	q, err = BuildQuery("leisure", bbox)
	require.NoError(t, err)
	assert.Contains(t, q, `node["leisure"](`)

	for _, bad := range []string{"", "&", "=park", `name="x"`, "a=b;out"} {
		_, err := BuildQuery(bad, bbox)
		assert.Error(t, err, bad)
	}
}

func TestToFeatureCollection(t *testing.T) {
	square := []LatLon{{0, 0}, {0, 1}, {1, 1}, {0, 0}}
	fc := ToFeatureCollection([]Element{
		{Type: "node", ID: 1, Lat: 39.2, Lon: 9.1, Tags: map[string]string{"amenity": "cafe"}},
		{Type: "way", ID: 2, Geometry: []LatLon{{0, 0}, {1, 1}}},
		{Type: "way", ID: 3, Geometry: square},
		{Type: "way", ID: 4, Geometry: []LatLon{{0, 0}}},
		{Type: "relation", ID: 5},
	})

	require.Len(t, fc.Features, 3)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{9.1, 39.2}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "cafe", fc.Features[0].Properties["amenity"])
	assert.Equal(t, int64(1), fc.Features[0].Properties["osm_id"])
	assert.Equal(t, "LineString", fc.Features[1].Geometry.Type)
	assert.Equal(t, "Polygon", fc.Features[2].Geometry.Type)
}

type fixture struct {
	importer *Importer
	objects  *objstore.MemoryStore
	mapID    string

	mu       sync.Mutex
	lastForm string
	calls    int
}

func (f *fixture) form() (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm, f.calls
}

func newFixture(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fixture {
	t.Helper()
	f := &fixture{mapID: model.NewMapID()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.lastForm = r.PostForm.Get("data")
		f.calls++
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	store := storagetest.NewStore(t)
	storagetest.SeedMap(t, store, f.mapID, "u1")
	f.objects = objstore.NewMemoryStore("test")
	uploader := ingest.New(store, f.objects, logging.Discard("ingest"))
	f.importer = NewImporter(srv.URL, 5*time.Second, uploader, logging.Discard("osm"))
	return f
}

func TestImportCreatesGeoJSONLayer(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"elements": []map[string]any{
			{"type": "node", "id": 42, "lat": 39.2, "lon": 9.1, "tags": map[string]string{"leisure": "park"}},
		}})
	})

	layer, err := f.importer.Import(context.Background(), tools.OSMRequest{
		MapID:     f.mapID,
		UserID:    "u1",
		Tags:      "leisure=park",
		BBox:      [4]float64{9.02, 39.17, 9.28, 39.27},
		LayerName: "Parks",
	})
	require.NoError(t, err)
	assert.Equal(t, "Parks", layer.Name)
	assert.Equal(t, model.LayerTypeVector, layer.Type)
	query, _ := f.form()
	assert.Contains(t, query, `["leisure"="park"]`)

	rc, err := f.objects.Download(context.Background(), layer.S3Key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)

	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(body, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "park", fc.Features[0].Properties["leisure"])
}

func TestImportFailures(t *testing.T) {
	req := tools.OSMRequest{UserID: "u1", Tags: "leisure=park", BBox: [4]float64{0, 0, 1, 1}, LayerName: "Parks"}

	t.Run("no features", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"elements":[]}`))
		})
		req := req
		req.MapID = f.mapID
		_, err := f.importer.Import(context.Background(), req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no OpenStreetMap features matched leisure=park")
		assert.Empty(t, f.objects.Keys())
	})

	t.Run("remote error", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		})
		req := req
		req.MapID = f.mapID
		_, err := f.importer.Import(context.Background(), req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overpass returned 429: rate limited")
	})

	t.Run("invalid tags never reach the server", func(t *testing.T) {
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
		req := req
		req.MapID = f.mapID
		req.Tags = `name="x"`
		_, err := f.importer.Import(context.Background(), req)
		require.Error(t, err)
		_, calls := f.form()
		assert.Zero(t, calls)
	})
}
