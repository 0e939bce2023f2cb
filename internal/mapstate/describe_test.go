package mapstate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"map-agent/internal/shared/model"
	"map-agent/internal/shared/storage"
	"map-agent/internal/shared/storage/storagetest"
)

func TestDescribeListsAttachedLayers(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewStore(t)
	storagetest.SeedMap(t, store, "M1", "u1")
	roads := storagetest.SeedLayer(t, store, "u1", "roads", model.LayerTypeVector)
	unattached := storagetest.SeedLayer(t, store, "u1", "hidden", model.LayerTypeRaster)
	_, err := store.AttachLayer(ctx, "M1", roads.LayerID)
	require.NoError(t, err)
	require.NoError(t, store.CreatePostgresConnection(ctx, &model.PostgresConnection{
		ID: "pg-1", OwnerID: "u1", FriendlyName: "parcels", ConnectionURI: "postgres://x",
	}))

	d := NewDescriber(store)
	desc, err := d.Describe(ctx, "M1", "u1")
	require.NoError(t, err)

	assert.Contains(t, desc, "# Map: Test map")
	assert.Contains(t, desc, "<"+roads.LayerID+">")
	assert.Contains(t, desc, "Name: roads")
	assert.NotContains(t, desc, unattached.LayerID)
	assert.Contains(t, desc, `## PostGIS "parcels" (ID pg-1)`)
	assert.NotContains(t, desc, "postgres://x", "connection URI must not leak into the prompt")

	p, err := d.SystemPayload(ctx, "M1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSystem, p.Role)
	assert.True(t, strings.HasPrefix(p.Content, "<MapState>\n"))
	assert.True(t, strings.HasSuffix(p.Content, "\n</MapState>"))
}

func TestDescribeMissingMap(t *testing.T) {
	d := NewDescriber(storagetest.NewStore(t))
	_, err := d.Describe(context.Background(), "MNOPE", "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2*1024*1024))
}
