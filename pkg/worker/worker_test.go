package worker

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stacksapp/stacks/internal/testgen"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/jobs"
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

type testContext struct {
	ctx    context.Context
	db     *bun.DB
	cfg    *config.Config
	worker *Worker
}

func newTestContext(t *testing.T, schedule string) *testContext {
	t.Helper()
	db := newTestDB(t)
	cfg := config.NewForTest()
	cfg.ThumbnailDir = filepath.Join(t.TempDir(), "thumbs")
	cfg.ScratchDir = t.TempDir()
	cfg.TrashDir = t.TempDir()
	cfg.ScanSchedule = schedule

	bus := events.New(64)
	w := New(cfg, db, bus)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(func() {
		_ = w.Shutdown(ctx)
		bus.Close()
		cancel()
	})
	return &testContext{ctx: ctx, db: db, cfg: cfg, worker: w}
}

func (tc *testContext) createLibrary(t *testing.T, path string, cfg *models.LibraryConfig) *models.Library {
	t.Helper()
	library := &models.Library{Name: filepath.Base(path), Path: path, Pattern: models.LibraryPatternSeriesBased, ConfigParsed: cfg}
	require.NoError(t, tc.worker.libraryService.CreateLibrary(tc.ctx, library))
	return library
}

func TestWorker_StartRecoversInterruptedJobs(t *testing.T) {
	tc := newTestContext(t, "")
	stale := &models.Job{ID: "stale", Kind: models.JobKindLibraryScan, Name: "Scan", Status: models.JobStatusRunning}
	require.NoError(t, tc.worker.jobService.CreateJob(tc.ctx, stale))

	require.NoError(t, tc.worker.Start(tc.ctx))

	row, err := tc.worker.jobService.RetrieveJob(tc.ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, row.Status)
}

func TestWorker_StartRejectsBadSchedule(t *testing.T) {
	tc := newTestContext(t, "every tuesday")
	assert.Error(t, tc.worker.Start(tc.ctx))
}

func TestWorker_StartWithSchedule(t *testing.T) {
	tc := newTestContext(t, "@every 1h")
	require.NoError(t, tc.worker.Start(tc.ctx))
	require.NotNil(t, tc.worker.cron)
	assert.Len(t, tc.worker.cron.Entries(), 1)
}

func TestWorker_EnqueueLibraryScanConflict(t *testing.T) {
	tc := newTestContext(t, "")
	library := tc.createLibrary(t, t.TempDir(), nil)
	paused := &models.Job{ID: "held", Kind: models.JobKindLibraryScan, Name: "Scan", Status: models.JobStatusPaused, LibraryID: &library.ID}
	require.NoError(t, tc.worker.jobService.CreateJob(tc.ctx, paused))

	_, err := tc.worker.EnqueueLibraryScan(tc.ctx, library, false)
	assert.ErrorIs(t, err, errcodes.Conflict(""))
}

func TestWorker_ScanAllSkipsActiveLibraries(t *testing.T) {
	tc := newTestContext(t, "")
	busy := tc.createLibrary(t, t.TempDir(), nil)
	idle := tc.createLibrary(t, t.TempDir(), nil)
	held := &models.Job{ID: "held", Kind: models.JobKindLibraryScan, Name: "Scan", Status: models.JobStatusPaused, LibraryID: &busy.ID}
	require.NoError(t, tc.worker.jobService.CreateJob(tc.ctx, held))

	assert.Equal(t, 1, tc.worker.scanAll(tc.ctx))

	queued, err := tc.worker.jobService.ListJobs(tc.ctx, jobs.ListJobsOptions{
		Kind:      pointerutil.String(models.JobKindLibraryScan),
		LibraryID: &idle.ID,
	})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	row, err := tc.worker.engine.Wait(tc.ctx, queued[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, row.Status)
}

func TestWorker_ScanQueuesThumbnails(t *testing.T) {
	tc := newTestContext(t, "")
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "saga"), "1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "saga"), "2.cbz", testgen.CBZOptions{})
	library := tc.createLibrary(t, root, &models.LibraryConfig{
		Thumbnails: &models.ThumbnailConfig{Enabled: true, Width: 32, Quality: 80, Format: "jpeg", MaxConcurrency: 2},
	})

	scan, err := tc.worker.EnqueueLibraryScan(tc.ctx, library, false)
	require.NoError(t, err)
	row, err := tc.worker.engine.Wait(tc.ctx, scan.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, row.Status)

	thumbJobs, err := tc.worker.jobService.ListJobs(tc.ctx, jobs.ListJobsOptions{Kind: pointerutil.String(models.JobKindThumbnails)})
	require.NoError(t, err)
	require.Len(t, thumbJobs, 1)
	row, err = tc.worker.engine.Wait(tc.ctx, thumbJobs[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, row.Status)

	mediaIDs := []int{}
	require.NoError(t, tc.db.NewSelect().Model((*models.Media)(nil)).Column("id").Scan(tc.ctx, &mediaIDs))
	require.Len(t, mediaIDs, 2)
	for _, id := range mediaIDs {
		_, ok := tc.worker.ThumbnailPath(id)
		assert.True(t, ok)
	}

	require.NoError(t, tc.worker.RemoveThumbnails(tc.ctx, mediaIDs))
	for _, id := range mediaIDs {
		_, ok := tc.worker.ThumbnailPath(id)
		assert.False(t, ok)
	}
}
