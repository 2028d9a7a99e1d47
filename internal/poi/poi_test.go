package poi

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ar-engine/internal/projector"
	"ar-engine/internal/scene"
)

func TestBuildDSNFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_USER", "ar")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_PORT", "")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	assert.Equal(t, "postgres://ar:secret@db:5432/arview?sslmode=disable", BuildDSNFromEnv())

	t.Setenv("DATABASE_URL", "postgres://elsewhere/x")
	assert.Equal(t, "postgres://elsewhere/x", BuildDSNFromEnv())
}

func TestAttachDBRejectsBadTable(t *testing.T) {
	_, err := AttachDB(nil, "poi; DROP TABLE poi")
	assert.Error(t, err)
	s, err := AttachDB(nil, "public.places")
	require.NoError(t, err)
	assert.Equal(t, "public.places", s.table)
	s, err = AttachDB(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "poi", s.table)
}

func TestPopulate(t *testing.T) {
	w := scene.NewWorld()
	objs, err := Populate(w, []Place{
		{ID: 1, Name: "Tower", Group: "landmarks", Position: projector.GeoPosition{Lat: 48.8584, Lon: 2.2945}, ImageURI: "assets://tower.png"},
		{ID: 2, Name: "Cafe", Position: projector.GeoPosition{Lat: 48.86, Lon: 2.29}},
	})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "landmarks", objs[0].Group())
	assert.Equal(t, DefaultGroup, objs[1].Group())
	pos, ok := objs[0].Geo()
	require.True(t, ok)
	assert.Equal(t, 48.8584, pos.Lat)
	assert.Equal(t, "assets://tower.png", objs[0].ImageURI())
	assert.Equal(t, 2, w.Len())
}

// TestLoadPostgres runs against a live database named by POI_TEST_DSN.
func TestLoadPostgres(t *testing.T) {
	dsn := os.Getenv("POI_TEST_DSN")
	if dsn == "" {
		t.Skip("POI_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TEMP TABLE poi_test (id bigint, name text, grp text, lat float8, lon float8, alt float8, image_uri text)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO poi_test VALUES (2, 'b', 'g', 1, 2, NULL, NULL), (1, 'a', 'g', 3, 4, 5, 'res://x')`)
	require.NoError(t, err)

	s, err := AttachDB(db, "poi_test")
	require.NoError(t, err)
	places, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, int64(1), places[0].ID)
	assert.Equal(t, "res://x", places[0].ImageURI)
	assert.Equal(t, 0.0, places[1].Position.Alt)
}
