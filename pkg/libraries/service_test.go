package libraries

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/migrations"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestCreateLibrary_ConfigRoundTrip(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	library := &models.Library{
		Name: "Comics",
		Path: "/data/comics/",
		ConfigParsed: &models.LibraryConfig{
			ConvertRarToZip: true,
			IgnoreRules:     []string{"*.pdf"},
			Thumbnails:      &models.ThumbnailConfig{Enabled: true, Width: 300, Quality: 80, Format: "jpeg", MaxConcurrency: 2},
		},
	}
	require.NoError(t, svc.CreateLibrary(ctx, library))
	assert.Equal(t, "/data/comics", library.Path)
	assert.Equal(t, models.LibraryStatusReady, library.Status)
	assert.Equal(t, models.LibraryPatternSeriesBased, library.Pattern)

	path := "/data/comics"
	got, err := svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{Path: &path})
	require.NoError(t, err)
	assert.Equal(t, library.ID, got.ID)
	require.NotNil(t, got.ConfigParsed)
	assert.True(t, got.Settings().ConvertRarToZip)
	assert.Equal(t, []string{"*.pdf"}, got.Settings().IgnoreRules)
	require.NotNil(t, got.Settings().Thumbnails)
	assert.Equal(t, 300, got.Settings().Thumbnails.Width)

	_, err = svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &[]int{999}[0]})
	assert.ErrorIs(t, err, errcodes.NotFound("Library"))
}

func TestUpdateLibrary(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	library := &models.Library{Name: "Comics", Path: "/data/comics"}
	require.NoError(t, svc.CreateLibrary(ctx, library))

	library.Name = "Renamed"
	library.ConfigParsed = &models.LibraryConfig{GenerateKoreaderHashes: true}
	require.NoError(t, svc.UpdateLibrary(ctx, library, UpdateLibraryOptions{Columns: []string{"name", "config"}}))

	got, err := svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.Settings().GenerateKoreaderHashes)

	require.NoError(t, svc.MarkScanned(ctx, got, models.LibraryStatusMissing))
	got, err = svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	assert.Equal(t, models.LibraryStatusMissing, got.Status)
	assert.NotNil(t, got.LastScannedAt)

	missing := &models.Library{ID: 999, Name: "x"}
	err = svc.UpdateLibrary(ctx, missing, UpdateLibraryOptions{Columns: []string{"name"}})
	assert.ErrorIs(t, err, errcodes.NotFound("Library"))
}

func TestListLibraries(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	require.NoError(t, svc.CreateLibrary(ctx, &models.Library{Name: "B", Path: "/b"}))
	require.NoError(t, svc.CreateLibrary(ctx, &models.Library{Name: "A", Path: "/a"}))

	limit := 1
	list, total, err := svc.ListLibrariesWithTotal(ctx, ListLibrariesOptions{Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, "A", list[0].Name)
	assert.NotNil(t, list[0].ConfigParsed)
}

func TestDeleteLibrary(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	library := &models.Library{Name: "Comics", Path: "/lib"}
	require.NoError(t, svc.CreateLibrary(ctx, library))
	s := &models.Series{LibraryID: library.ID, Path: "/lib/a", Name: "a", Status: models.SeriesStatusReady, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(s).Exec(ctx)
	require.NoError(t, err)
	m := &models.Media{LibraryID: library.ID, SeriesID: s.ID, Path: "/lib/a/1.cbz", Name: "1.cbz", Extension: "cbz", Status: models.MediaStatusReady, ModifiedAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err = db.NewInsert().Model(m).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&models.MediaMetadata{MediaID: m.ID}).Exec(ctx)
	require.NoError(t, err)

	ids, err := svc.DeleteLibrary(ctx, library.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{m.ID}, ids)

	for _, model := range []interface{}{(*models.Library)(nil), (*models.Series)(nil), (*models.Media)(nil), (*models.MediaMetadata)(nil)} {
		count, err := db.NewSelect().Model(model).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	}

	_, err = svc.DeleteLibrary(ctx, library.ID)
	assert.ErrorIs(t, err, errcodes.NotFound("Library"))
}
