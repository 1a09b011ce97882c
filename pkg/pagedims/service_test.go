package pagedims

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stacksapp/stacks/internal/testgen"
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

func createMedia(t *testing.T, db *bun.DB, path string) *models.Media {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	library := &models.Library{Name: "L", Path: t.TempDir(), Status: models.LibraryStatusReady, Pattern: models.LibraryPatternSeriesBased, CreatedAt: now, UpdatedAt: now}
	_, err := db.NewInsert().Model(library).Exec(ctx)
	require.NoError(t, err)

	series := &models.Series{LibraryID: library.ID, Path: library.Path, Name: "S", Status: models.SeriesStatusReady, CreatedAt: now, UpdatedAt: now}
	_, err = db.NewInsert().Model(series).Exec(ctx)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	media := &models.Media{
		LibraryID:  library.ID,
		SeriesID:   series.ID,
		Path:       path,
		Name:       "m",
		Extension:  "cbz",
		Size:       info.Size(),
		Status:     models.MediaStatusReady,
		ModifiedAt: info.ModTime(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = db.NewInsert().Model(media).Exec(ctx)
	require.NoError(t, err)
	return media
}

func TestRetrieveOrAnalyze(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	path := testgen.GenerateCBZ(t, t.TempDir(), "book.cbz", testgen.CBZOptions{PageCount: 3, PageWidth: 80, PageHeight: 120})
	media := createMedia(t, db, path)

	_, err := svc.RetrieveDimensions(ctx, media.ID)
	assert.ErrorIs(t, err, errcodes.NotFound("Page dimensions"))

	dims, err := svc.RetrieveOrAnalyze(ctx, media)
	require.NoError(t, err)
	assert.Equal(t, []Dimension{{120, 80}, {120, 80}, {120, 80}}, dims)

	row := &models.PageDimensions{}
	require.NoError(t, db.NewSelect().Model(row).Where("media_id = ?", media.ID).Scan(ctx))
	assert.Equal(t, "3>120,80", row.Dimensions)

	// once stored, the file is no longer consulted
	require.NoError(t, os.Remove(path))
	dims, err = svc.RetrieveOrAnalyze(ctx, media)
	require.NoError(t, err)
	assert.Len(t, dims, 3)
}

func TestSaveDimensions_Upserts(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	path := testgen.GenerateCBZ(t, t.TempDir(), "book.cbz", testgen.CBZOptions{})
	media := createMedia(t, db, path)

	require.NoError(t, svc.SaveDimensions(ctx, media.ID, []Dimension{{1, 2}}))
	require.NoError(t, svc.SaveDimensions(ctx, media.ID, []Dimension{{3, 4}, {3, 4}}))

	dims, err := svc.RetrieveDimensions(ctx, media.ID)
	require.NoError(t, err)
	assert.Equal(t, []Dimension{{3, 4}, {3, 4}}, dims)

	count, err := db.NewSelect().Model((*models.PageDimensions)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
