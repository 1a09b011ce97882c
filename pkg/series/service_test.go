package series

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

func seedLibrary(t *testing.T, db *bun.DB) *models.Library {
	t.Helper()
	library := &models.Library{Name: "Comics", Path: "/lib", Status: models.LibraryStatusReady, Pattern: models.LibraryPatternSeriesBased, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(library).Exec(context.Background())
	require.NoError(t, err)
	return library
}

func seedMedia(t *testing.T, db *bun.DB, s *models.Series, name string) *models.Media {
	t.Helper()
	m := &models.Media{LibraryID: s.LibraryID, SeriesID: s.ID, Path: s.Path + "/" + name, Name: name, Extension: "cbz", Status: models.MediaStatusReady, ModifiedAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(m).Exec(context.Background())
	require.NoError(t, err)
	return m
}

func TestCreateAndRetrieveSeries(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := seedLibrary(t, db)

	s := &models.Series{LibraryID: library.ID, Path: "/lib/saga/"}
	require.NoError(t, svc.CreateSeries(ctx, s))
	assert.Equal(t, "/lib/saga", s.Path)
	assert.Equal(t, "saga", s.Name)
	assert.Equal(t, models.SeriesStatusReady, s.Status)

	got, err := svc.RetrieveSeriesByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Library)
	assert.Equal(t, library.ID, got.Library.ID)

	_, err = svc.RetrieveSeriesByID(ctx, 999)
	assert.ErrorIs(t, err, errcodes.NotFound("Series"))

	// paths are unique
	err = svc.CreateSeries(ctx, &models.Series{LibraryID: library.ID, Path: "/lib/saga"})
	assert.Error(t, err)
}

func TestFindSeriesByPaths(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := seedLibrary(t, db)

	for _, p := range []string{"/lib/a", "/lib/b", "/lib/c"} {
		require.NoError(t, svc.CreateSeries(ctx, &models.Series{LibraryID: library.ID, Path: p}))
	}

	found, err := svc.FindSeriesByPaths(ctx, []string{"/lib/c/", "/lib/a", "/lib/missing"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "/lib/a", found[0].Path)
	assert.Equal(t, "/lib/c", found[1].Path)

	found, err = svc.FindSeriesByPaths(ctx, []string{})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSetStatus_CascadesToMedia(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := seedLibrary(t, db)

	a := &models.Series{LibraryID: library.ID, Path: "/lib/a"}
	b := &models.Series{LibraryID: library.ID, Path: "/lib/b"}
	require.NoError(t, svc.CreateSeries(ctx, a))
	require.NoError(t, svc.CreateSeries(ctx, b))
	ma := seedMedia(t, db, a, "1.cbz")
	mb := seedMedia(t, db, b, "1.cbz")

	n, err := svc.SetStatus(ctx, library.ID, []string{"/lib/a"}, models.SeriesStatusMissing)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status := func(id int) string {
		m := &models.Media{}
		require.NoError(t, db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx))
		return m.Status
	}
	assert.Equal(t, models.MediaStatusMissing, status(ma.ID))
	assert.Equal(t, models.MediaStatusReady, status(mb.ID))

	list, err := svc.ListSeries(ctx, ListSeriesOptions{LibraryID: &library.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.SeriesStatusMissing, list[0].Status)
	assert.Equal(t, 1, list[0].MediaCount)

	// recovering the series leaves media status to the media walk
	n, err = svc.SetStatus(ctx, library.ID, []string{"/lib/a"}, models.SeriesStatusReady)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.MediaStatusMissing, status(ma.ID))
}

func TestDeleteSeries(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	library := seedLibrary(t, db)

	s := &models.Series{LibraryID: library.ID, Path: "/lib/a"}
	require.NoError(t, svc.CreateSeries(ctx, s))
	m1 := seedMedia(t, db, s, "1.cbz")
	m2 := seedMedia(t, db, s, "2.cbz")

	ids, err := svc.DeleteSeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{m1.ID, m2.ID}, ids)

	count, err := db.NewSelect().Model((*models.Media)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = svc.DeleteSeries(ctx, s.ID)
	assert.ErrorIs(t, err, errcodes.NotFound("Series"))
}
