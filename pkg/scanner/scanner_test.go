package scanner

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/internal/testgen"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/jobs"
	"github.com/stacksapp/stacks/pkg/libraries"
	"github.com/stacksapp/stacks/pkg/media"
	"github.com/stacksapp/stacks/pkg/migrations"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/series"
	"github.com/stacksapp/stacks/pkg/sidecar"
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

type fakeThumbnails struct {
	mu    sync.Mutex
	calls [][]int
}

func (f *fakeThumbnails) ScheduleThumbnails(_ context.Context, _ *models.Library, ids []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	return nil
}

type testContext struct {
	ctx       context.Context
	db        *bun.DB
	engine    *jobs.Engine
	deps      *Deps
	thumbs    *fakeThumbnails
	libraries *libraries.Service
	series    *series.Service
	media     *media.Service
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	db := newTestDB(t)

	cfg := config.NewForTest()
	cfg.ScratchDir = t.TempDir()
	cfg.TrashDir = t.TempDir()
	cfg.ScanBatchSize = 2

	bus := events.New(64)
	engine := jobs.NewEngine(db, bus)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(func() {
		_ = engine.Shutdown(ctx)
		bus.Close()
		cancel()
	})

	thumbs := &fakeThumbnails{}
	tc := &testContext{
		ctx:       ctx,
		db:        db,
		engine:    engine,
		thumbs:    thumbs,
		libraries: libraries.NewService(db),
		series:    series.NewService(db),
		media:     media.NewService(db),
	}
	tc.deps = &Deps{
		Config:     cfg,
		Libraries:  tc.libraries,
		Storage:    NewStorage(db),
		Thumbnails: thumbs,
	}
	engine.Register(models.JobKindLibraryScan, tc.deps.Factory)
	engine.Register(models.JobKindSeriesScan, tc.deps.Factory)
	return tc
}

func (tc *testContext) createLibrary(t *testing.T, path, pattern string, cfg *models.LibraryConfig) *models.Library {
	t.Helper()
	library := &models.Library{
		Name:         "Comics",
		Path:         path,
		Pattern:      pattern,
		ConfigParsed: cfg,
	}
	require.NoError(t, tc.libraries.CreateLibrary(tc.ctx, library))
	return library
}

// scan runs a full library scan to completion and returns the job row and
// its output.
func (tc *testContext) scan(t *testing.T, library *models.Library, force bool) (*models.Job, Output) {
	t.Helper()
	job := NewLibraryScanJob(tc.deps, library, force)
	_, err := tc.engine.Enqueue(tc.ctx, job)
	require.NoError(t, err)
	row, err := tc.engine.Wait(tc.ctx, job.ID())
	require.NoError(t, err)

	out := Output{}
	if row.Output != "" {
		require.NoError(t, json.Unmarshal([]byte(row.Output), &out))
	}
	return row, out
}

func (tc *testContext) listMedia(t *testing.T, library *models.Library) []*models.Media {
	t.Helper()
	m, err := tc.media.ListMedia(tc.ctx, media.ListMediaOptions{LibraryID: &library.ID})
	require.NoError(t, err)
	return m
}

func (tc *testContext) listSeries(t *testing.T, library *models.Library) []*models.Series {
	t.Helper()
	s, err := tc.series.ListSeries(tc.ctx, series.ListSeriesOptions{LibraryID: &library.ID})
	require.NoError(t, err)
	return s
}

func TestLibraryScan_TwoSeries(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, root, "book.zip", testgen.CBZOptions{PageCount: 4})
	testgen.GenerateCBZ(t, filepath.Join(root, "series-1"), "space-book.cbz", testgen.CBZOptions{
		PageCount:    2,
		HasComicInfo: true,
		Title:        "Space Book",
		Writers:      []string{"Ursula"},
	})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	row, out := tc.scan(t, library, false)

	require.Equal(t, models.JobStatusCompleted, row.Status)
	assert.Equal(t, 2, out.SeriesSeen)
	assert.Equal(t, 2, out.SeriesCreated)
	assert.Equal(t, 2, out.MediaCreated)
	assert.Equal(t, 0, out.MediaFailed)

	allSeries := tc.listSeries(t, library)
	require.Len(t, allSeries, 2)
	paths := []string{allSeries[0].Path, allSeries[1].Path}
	assert.ElementsMatch(t, []string{root, filepath.Join(root, "series-1")}, paths)

	allMedia := tc.listMedia(t, library)
	require.Len(t, allMedia, 2)
	byName := map[string]*models.Media{}
	for _, m := range allMedia {
		byName[m.Name] = m
		assert.NotZero(t, m.PageCount)
		assert.NotNil(t, m.Hash)
		assert.Equal(t, models.MediaStatusReady, m.Status)
	}
	require.Contains(t, byName, "book")
	require.Contains(t, byName, "space-book")
	assert.Equal(t, 4, byName["book"].PageCount)
	assert.Equal(t, "zip", byName["book"].Extension)
	assert.Equal(t, 2, byName["space-book"].PageCount)
	require.NotNil(t, byName["space-book"].Metadata)
	require.NotNil(t, byName["space-book"].Metadata.Title)
	assert.Equal(t, "Space Book", *byName["space-book"].Metadata.Title)
	assert.Equal(t, []string{"Ursula"}, byName["space-book"].Metadata.Writers)

	library, err := tc.libraries.RetrieveLibrary(tc.ctx, libraries.RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	assert.Equal(t, models.LibraryStatusReady, library.Status)
	assert.NotNil(t, library.LastScannedAt)
}

func TestLibraryScan_Idempotent(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "2.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "3.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "1.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	_, first := tc.scan(t, library, false)
	assert.Equal(t, 4, first.MediaCreated)
	before := tc.listMedia(t, library)

	row, second := tc.scan(t, library, false)
	require.Equal(t, models.JobStatusCompleted, row.Status)
	assert.Equal(t, 0, second.SeriesCreated)
	assert.Equal(t, 0, second.MediaCreated)
	assert.Equal(t, 0, second.MediaUpdated)
	assert.Equal(t, 0, second.MediaMissing)
	assert.Equal(t, 4, second.MediaUnchanged)

	after := tc.listMedia(t, library)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Hash, after[i].Hash)
		assert.True(t, before[i].UpdatedAt.Equal(after[i].UpdatedAt))
	}
}

func TestLibraryScan_ForceRebuild(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "1.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	tc.scan(t, library, false)

	row, out := tc.scan(t, library, true)
	require.Equal(t, models.JobStatusCompleted, row.Status)
	assert.Equal(t, 0, out.MediaCreated)
	// Rebuilding an unchanged file changes nothing.
	assert.Equal(t, 0, out.MediaUpdated)
	assert.Equal(t, 1, out.MediaUnchanged)
}

func TestLibraryScan_MissingLibrary(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "1.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	tc.scan(t, library, false)

	require.NoError(t, os.RemoveAll(root))
	row, out := tc.scan(t, library, false)

	assert.Equal(t, models.JobStatusFailed, row.Status)
	require.NotNil(t, row.Message)
	assert.Contains(t, *row.Message, "path not found")
	assert.Equal(t, Output{}, out)

	library, err := tc.libraries.RetrieveLibrary(tc.ctx, libraries.RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	assert.Equal(t, models.LibraryStatusMissing, library.Status)
	for _, s := range tc.listSeries(t, library) {
		assert.Equal(t, models.SeriesStatusMissing, s.Status)
	}
	for _, m := range tc.listMedia(t, library) {
		assert.Equal(t, models.MediaStatusMissing, m.Status)
	}
}

func TestLibraryScan_MissingAndRecovered(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	keep := testgen.GenerateCBZ(t, filepath.Join(root, "a"), "keep.cbz", testgen.CBZOptions{})
	gone := testgen.GenerateCBZ(t, filepath.Join(root, "a"), "gone.cbz", testgen.CBZOptions{PageCount: 5})
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "only.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	tc.scan(t, library, false)

	data, err := os.ReadFile(gone)
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "b")))

	_, out := tc.scan(t, library, false)
	assert.Equal(t, 1, out.SeriesMissing)
	assert.Equal(t, 1, out.MediaMissing)

	statuses := map[string]string{}
	for _, m := range tc.listMedia(t, library) {
		statuses[m.Name] = m.Status
	}
	assert.Equal(t, models.MediaStatusReady, statuses["keep"])
	assert.Equal(t, models.MediaStatusMissing, statuses["gone"])
	assert.Equal(t, models.MediaStatusMissing, statuses["only"])

	// Already missing files are not reported again.
	_, out = tc.scan(t, library, false)
	assert.Equal(t, 0, out.SeriesMissing)
	assert.Equal(t, 0, out.MediaMissing)

	require.NoError(t, os.WriteFile(gone, data, 0600))
	_, out = tc.scan(t, library, false)
	assert.Equal(t, 1, out.MediaUpdated)
	assert.Equal(t, 0, out.MediaCreated)

	for _, m := range tc.listMedia(t, library) {
		if m.Path == gone || m.Path == keep {
			assert.Equal(t, models.MediaStatusReady, m.Status, m.Path)
		}
	}
}

func TestLibraryScan_ModifiedFileIsUpdated(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	dir := filepath.Join(root, "a")
	path := testgen.GenerateCBZ(t, dir, "1.cbz", testgen.CBZOptions{PageCount: 2})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	tc.scan(t, library, false)

	testgen.GenerateCBZ(t, dir, "1.cbz", testgen.CBZOptions{PageCount: 6})
	testgen.Touch(t, path, time.Hour)

	_, out := tc.scan(t, library, false)
	assert.Equal(t, 1, out.MediaUpdated)

	allMedia := tc.listMedia(t, library)
	require.Len(t, allMedia, 1)
	assert.Equal(t, 6, allMedia[0].PageCount)
}

func TestLibraryScan_CollectionBased(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "saga", "volume 1"), "1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "saga", "volume 2"), "2.cbz", testgen.CBZOptions{})
	testgen.WriteFile(t, filepath.Join(root, "empty", "nothing"), "notes.txt", []byte("no comics here"))

	library := tc.createLibrary(t, root, models.LibraryPatternCollectionBased, nil)
	_, out := tc.scan(t, library, false)

	assert.Equal(t, 1, out.SeriesCreated)
	assert.Equal(t, 2, out.MediaCreated)
	allSeries := tc.listSeries(t, library)
	require.Len(t, allSeries, 1)
	assert.Equal(t, "saga", allSeries[0].Name)
}

func TestLibraryScan_IgnoreRules(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "keep.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "skip-me.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, &models.LibraryConfig{
		IgnoreRules: []string{"skip-*"},
	})
	_, out := tc.scan(t, library, false)

	assert.Equal(t, 1, out.MediaCreated)
	assert.Equal(t, 1, out.MediaIgnored)
}

func TestLibraryScan_CorruptFileIsSkipped(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "good.cbz", testgen.CBZOptions{})
	testgen.WriteFile(t, filepath.Join(root, "a"), "bad.cbz", []byte("PK\x03\x04 definitely not a zip"))

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	row, out := tc.scan(t, library, false)

	require.Equal(t, models.JobStatusCompleted, row.Status)
	assert.Equal(t, 1, out.MediaCreated)
	assert.Equal(t, 1, out.MediaFailed)
	require.Len(t, tc.listMedia(t, library), 1)
}

func TestLibraryScan_Duplicates(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	opts := testgen.CBZOptions{PageCount: 3, Title: "Same", HasComicInfo: true}
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "copy.cbz", opts)
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "copy.cbz", opts)
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "other.cbz", testgen.CBZOptions{PageCount: 7})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	tc.scan(t, library, false)

	groups, err := tc.media.ListDuplicates(tc.ctx, media.ListDuplicatesOptions{LibraryID: &library.ID})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Media, 2)
	for _, m := range groups[0].Media {
		assert.Equal(t, "copy", m.Name)
	}
}

func TestLibraryScan_SeriesSidecar(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	dir := filepath.Join(root, "saga")
	testgen.GenerateCBZ(t, dir, "1.cbz", testgen.CBZOptions{})
	summary := "Space opera"
	require.NoError(t, sidecar.WriteSeriesSidecar(dir, &sidecar.SeriesSidecar{Name: "Saga", Summary: &summary}))

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	_, out := tc.scan(t, library, false)
	assert.Equal(t, 1, out.MediaCreated)

	allSeries := tc.listSeries(t, library)
	require.Len(t, allSeries, 1)
	assert.Equal(t, "Saga", allSeries[0].Name)
	require.NotNil(t, allSeries[0].Summary)
	assert.Equal(t, summary, *allSeries[0].Summary)
}

func TestLibraryScan_SchedulesThumbnails(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "2.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, &models.LibraryConfig{
		Thumbnails: &models.ThumbnailConfig{Enabled: true, Width: 100, Quality: 80, Format: "jpeg", MaxConcurrency: 2},
	})
	_, out := tc.scan(t, library, false)

	require.Len(t, tc.thumbs.calls, 1)
	assert.ElementsMatch(t, out.CreatedMedia, tc.thumbs.calls[0])
	assert.Len(t, tc.thumbs.calls[0], 2)

	// Nothing changed, nothing to render.
	tc.scan(t, library, false)
	assert.Len(t, tc.thumbs.calls, 1)
}

func TestLibraryScan_DepthFirstTasks(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	testgen.GenerateCBZ(t, filepath.Join(root, "a"), "1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "1.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	h := &recorder{Storage: tc.deps.Storage}
	job := newScanJob(&Deps{Config: tc.deps.Config, Libraries: tc.libraries, Storage: h}, models.JobKindLibraryScan, "Scan", Params{
		LibraryID: library.ID,
		Path:      library.Path,
		Pattern:   library.Pattern,
	})
	_, err := tc.engine.Enqueue(tc.ctx, job)
	require.NoError(t, err)
	row, err := tc.engine.Wait(tc.ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, row.Status)

	// Each series is created and its media ingested before the next series.
	assert.Equal(t, []string{
		"series " + filepath.Join(root, "a"),
		"media " + filepath.Join(root, "a", "1.cbz"),
		"series " + filepath.Join(root, "b"),
		"media " + filepath.Join(root, "b", "1.cbz"),
	}, h.creates)
	// 2 create_series, 2 walk_series, 2 create_media
	assert.Equal(t, 6, row.CompletedTasks)
}

type recorder struct {
	Storage
	creates []string
}

func (r *recorder) CreateSeries(ctx context.Context, s *models.Series) error {
	r.creates = append(r.creates, "series "+s.Path)
	return r.Storage.CreateSeries(ctx, s)
}

func (r *recorder) CreateMedia(ctx context.Context, m ...*models.Media) error {
	for _, item := range m {
		r.creates = append(r.creates, "media "+item.Path)
	}
	return r.Storage.CreateMedia(ctx, m...)
}

func TestSeriesScan(t *testing.T) {
	tc := newTestContext(t)
	root := t.TempDir()
	dir := filepath.Join(root, "a")
	testgen.GenerateCBZ(t, dir, "1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "1.cbz", testgen.CBZOptions{})

	library := tc.createLibrary(t, root, models.LibraryPatternSeriesBased, nil)
	tc.scan(t, library, false)
	found, err := tc.series.FindSeriesByPaths(tc.ctx, []string{dir})
	require.NoError(t, err)
	require.Len(t, found, 1)

	testgen.GenerateCBZ(t, dir, "2.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, filepath.Join(root, "b"), "2.cbz", testgen.CBZOptions{})

	job := NewSeriesScanJob(tc.deps, library, found[0], false)
	_, err = tc.engine.Enqueue(tc.ctx, job)
	require.NoError(t, err)
	row, err := tc.engine.Wait(tc.ctx, job.ID())
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, row.Status)
	assert.Equal(t, models.JobKindSeriesScan, row.Kind)

	out := Output{}
	require.NoError(t, json.Unmarshal([]byte(row.Output), &out))
	assert.Equal(t, 1, out.MediaCreated)
	// Only the scanned series picked up its new file.
	assert.Len(t, tc.listMedia(t, library), 3)
}

func TestFactory_RebuildsJob(t *testing.T) {
	tc := newTestContext(t)
	library := tc.createLibrary(t, t.TempDir(), models.LibraryPatternSeriesBased, nil)
	job := NewLibraryScanJob(tc.deps, library, true)

	params, err := job.Params()
	require.NoError(t, err)
	rebuilt, err := tc.deps.Factory(&models.Job{
		ID:     job.ID(),
		Kind:   job.Kind(),
		Name:   job.Name(),
		Params: string(params),
	})
	require.NoError(t, err)

	assert.Equal(t, job.ID(), rebuilt.ID())
	assert.Equal(t, models.JobKindLibraryScan, rebuilt.Kind())
	require.NotNil(t, rebuilt.LibraryID())
	assert.Equal(t, library.ID, *rebuilt.LibraryID())
	rebuiltParams, err := rebuilt.Params()
	require.NoError(t, err)
	assert.JSONEq(t, string(params), string(rebuiltParams))

	_, err = tc.deps.Factory(&models.Job{Kind: models.JobKindLibraryScan, Params: "{"})
	assert.Error(t, err)
}
