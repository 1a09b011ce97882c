package scanner

import (
	"context"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/jobs"
	"github.com/stacksapp/stacks/pkg/libraries"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/sidecar"
	"github.com/stacksapp/stacks/pkg/walker"
)

// version must change whenever Output or Task change shape.
const version = 1

const (
	TaskMarkMissingSeries = "mark_missing_series"
	TaskCreateSeries      = "create_series"
	TaskWalkSeries        = "walk_series"
	TaskMarkMissingMedia  = "mark_missing_media"
	TaskCreateMedia       = "create_media"
	TaskUpdateMedia       = "update_media"
)

// ThumbnailScheduler queues thumbnail generation for media a scan touched.
type ThumbnailScheduler interface {
	ScheduleThumbnails(ctx context.Context, library *models.Library, mediaIDs []int) error
}

// Deps are shared by every scan job.
type Deps struct {
	Config     *config.Config
	Libraries  *libraries.Service
	Storage    Storage
	Thumbnails ThumbnailScheduler
}

// Params identify what a scan covers. They are persisted with the job so it
// can be rebuilt after a restart.
type Params struct {
	LibraryID int    `json:"library_id"`
	Path      string `json:"path"`
	Pattern   string `json:"pattern"`
	SeriesID  *int   `json:"series_id,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

type Output struct {
	SeriesSeen      int   `json:"series_seen"`
	SeriesCreated   int   `json:"series_created"`
	SeriesMissing   int   `json:"series_missing"`
	SeriesRecovered int   `json:"series_recovered"`
	MediaSeen       int   `json:"media_seen"`
	MediaIgnored    int   `json:"media_ignored"`
	MediaCreated    int   `json:"media_created"`
	MediaUpdated    int   `json:"media_updated"`
	MediaUnchanged  int   `json:"media_unchanged"`
	MediaMissing    int   `json:"media_missing"`
	MediaFailed     int   `json:"media_failed"`
	Converted       int   `json:"converted"`
	BytesIngested   int64 `json:"bytes_ingested"`
	CreatedMedia    []int `json:"created_media,omitempty"`
	UpdatedMedia    []int `json:"updated_media,omitempty"`
}

type Task struct {
	Kind     string   `json:"kind"`
	SeriesID int      `json:"series_id,omitempty"`
	Path     string   `json:"path,omitempty"`
	Paths    []string `json:"paths,omitempty"`
}

// NewLibraryScanJob scans every series of library.
func NewLibraryScanJob(deps *Deps, library *models.Library, force bool) *jobs.Typed[Output, Task] {
	params := Params{
		LibraryID: library.ID,
		Path:      library.Path,
		Pattern:   library.Pattern,
		Force:     force,
	}
	return newScanJob(deps, models.JobKindLibraryScan, fmt.Sprintf("Scan %s", library.Name), params)
}

// NewSeriesScanJob scans the media of a single series.
func NewSeriesScanJob(deps *Deps, library *models.Library, series *models.Series, force bool) *jobs.Typed[Output, Task] {
	params := Params{
		LibraryID: library.ID,
		Path:      library.Path,
		Pattern:   library.Pattern,
		SeriesID:  &series.ID,
		Force:     force,
	}
	return newScanJob(deps, models.JobKindSeriesScan, fmt.Sprintf("Scan %s", series.Name), params)
}

func newScanJob(deps *Deps, kind, name string, params Params) *jobs.Typed[Output, Task] {
	h := &handler{deps: deps, params: params}
	return jobs.New[Output, Task](kind, version, name, params, h).WithLibrary(params.LibraryID)
}

// Factory rebuilds a persisted scan job of either kind.
func (d *Deps) Factory(row *models.Job) (jobs.Job, error) {
	params := Params{}
	if err := json.Unmarshal([]byte(row.Params), &params); err != nil {
		return nil, errors.Wrap(err, "unreadable scan params")
	}
	return newScanJob(d, row.Kind, row.Name, params).WithID(row.ID), nil
}

type handler struct {
	deps   *Deps
	params Params

	// Loaded on first use so that restored jobs get them too.
	library    *models.Library
	rules      *walker.Rules
	reconciler *Reconciler
}

func (h *handler) prepare(ctx context.Context) error {
	if h.library != nil {
		return nil
	}
	library, err := h.deps.Libraries.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: &h.params.LibraryID})
	if err != nil {
		return err
	}
	settings := library.Settings()
	rules, err := walker.NewRules(h.params.Path, settings.IgnoreRules, settings.IgnoreFiles)
	if err != nil {
		return errors.Wrap(err, "invalid ignore rules")
	}
	h.library = library
	h.rules = rules
	h.reconciler = NewReconciler(h.deps.Storage, h.deps.Config.ScanBatchSize)
	return nil
}

func (h *handler) buildOptions(seriesID int) BuildOptions {
	settings := h.library.Settings()
	return BuildOptions{
		LibraryID:    h.library.ID,
		SeriesID:     seriesID,
		ConvertRar:   settings.ConvertRarToZip,
		HardDelete:   settings.HardDeleteConversions,
		KoreaderHash: settings.GenerateKoreaderHashes || h.deps.Config.GenerateKoreaderHashes,
		ScratchDir:   h.deps.Config.ScratchDir,
		TrashDir:     h.deps.Config.TrashDir,
	}
}

func (h *handler) Init(ctx context.Context, run *jobs.Run) (Output, []Task, error) {
	out := Output{}
	if err := h.prepare(ctx); err != nil {
		return out, nil, err
	}

	if h.params.SeriesID != nil {
		series, err := h.deps.Storage.RetrieveSeries(ctx, *h.params.SeriesID)
		if err != nil {
			return out, nil, err
		}
		out.SeriesSeen = 1
		return out, []Task{{Kind: TaskWalkSeries, SeriesID: series.ID, Path: series.Path}}, nil
	}

	existing, err := h.deps.Storage.ListSeriesByLibrary(ctx, h.library.ID)
	if err != nil {
		return out, nil, err
	}
	snapshots := make([]walker.SeriesSnapshot, 0, len(existing))
	ids := make(map[string]int, len(existing))
	for _, s := range existing {
		snapshots = append(snapshots, walker.SeriesSnapshot{ID: s.ID, Path: s.Path, Status: s.Status})
		ids[s.Path] = s.ID
	}

	result, err := walker.WalkLibrary(ctx, walker.LibraryOptions{
		Path:    h.params.Path,
		Pattern: h.params.Pattern,
		Rules:   h.rules,
	}, snapshots)
	if err != nil {
		return out, nil, err
	}

	if result.IsMissing {
		run.Log.Warn("library path not found", logger.Data{"path": h.params.Path})
		if err := h.deps.Storage.MarkLibraryMissing(ctx, h.library.ID); err != nil {
			return out, nil, err
		}
		if err := h.deps.Libraries.MarkScanned(ctx, h.library, models.LibraryStatusMissing); err != nil {
			return out, nil, err
		}
		return out, nil, errors.Errorf("path not found: %s", h.params.Path)
	}

	out.SeriesSeen = len(result.ToCreate) + len(result.ToUpdate) + len(result.Visited)
	run.Log.Info("library walked", logger.Data{
		"series":    out.SeriesSeen,
		"to_create": len(result.ToCreate),
		"missing":   len(result.Missing),
	})

	tasks := []Task{}
	if len(result.Missing) > 0 {
		tasks = append(tasks, Task{Kind: TaskMarkMissingSeries, Paths: result.Missing})
	}
	for _, p := range result.ToCreate {
		tasks = append(tasks, Task{Kind: TaskCreateSeries, Path: p})
	}
	for _, p := range append(result.ToUpdate, result.Visited...) {
		tasks = append(tasks, Task{Kind: TaskWalkSeries, SeriesID: ids[p], Path: p})
	}
	return out, tasks, nil
}

func (h *handler) ExecuteTask(ctx context.Context, run *jobs.Run, out *Output, task Task) ([]Task, error) {
	if err := h.prepare(ctx); err != nil {
		return nil, err
	}

	switch task.Kind {
	case TaskMarkMissingSeries:
		n, err := h.deps.Storage.MarkMissing(ctx, EntitySeries, h.library.ID, task.Paths)
		if err != nil {
			return nil, err
		}
		out.SeriesMissing += n
		return nil, nil
	case TaskCreateSeries:
		return h.createSeries(ctx, run, out, task)
	case TaskWalkSeries:
		return h.walkSeries(ctx, run, out, task)
	case TaskMarkMissingMedia:
		outcome, err := h.reconciler.Apply(ctx, Plan{LibraryID: h.library.ID, Missing: task.Paths})
		if err != nil {
			return nil, err
		}
		out.MediaMissing += outcome.Missing
		return nil, nil
	case TaskCreateMedia, TaskUpdateMedia:
		return nil, h.ingest(ctx, run, out, task)
	}
	return nil, errors.Errorf("unknown scan task %q", task.Kind)
}

func (h *handler) createSeries(ctx context.Context, run *jobs.Run, out *Output, task Task) ([]Task, error) {
	series := &models.Series{
		LibraryID: h.library.ID,
		Path:      task.Path,
		Status:    models.SeriesStatusReady,
	}
	if sc, err := sidecar.ReadSeriesSidecar(task.Path); err != nil {
		run.Fail("failed to read series sidecar", err, logger.Data{"path": task.Path})
	} else if sc != nil {
		sc.Apply(series)
	}

	if err := h.deps.Storage.CreateSeries(ctx, series); err != nil {
		run.Fail("failed to create series", err, logger.Data{"path": task.Path})
		return nil, nil
	}
	out.SeriesCreated++
	return []Task{{Kind: TaskWalkSeries, SeriesID: series.ID, Path: series.Path}}, nil
}

func (h *handler) walkSeries(ctx context.Context, run *jobs.Run, out *Output, task Task) ([]Task, error) {
	series, err := h.deps.Storage.RetrieveSeries(ctx, task.SeriesID)
	if err != nil {
		return nil, err
	}
	stored, err := h.deps.Storage.FindMediaBySeries(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	snapshots := make([]walker.MediaSnapshot, 0, len(stored))
	for _, m := range stored {
		snapshots = append(snapshots, walker.MediaSnapshot{ID: m.ID, Path: m.Path, Status: m.Status, ModifiedAt: m.ModifiedAt})
	}

	result, err := walker.WalkSeries(ctx, walker.SeriesOptions{
		Path:         series.Path,
		LibraryPath:  h.params.Path,
		Pattern:      h.params.Pattern,
		Rules:        h.rules,
		ForceRebuild: h.params.Force,
	}, snapshots)
	if err != nil {
		return nil, err
	}

	if result.IsMissing {
		n, err := h.deps.Storage.MarkMissing(ctx, EntitySeries, h.library.ID, []string{series.Path})
		if err != nil {
			return nil, err
		}
		out.SeriesMissing += n
		return nil, nil
	}

	if series.Status == models.SeriesStatusMissing {
		if _, err := h.deps.Storage.MarkPresent(ctx, EntitySeries, h.library.ID, []string{series.Path}); err != nil {
			return nil, err
		}
		out.SeriesRecovered++
	}
	if sc, err := sidecar.ReadSeriesSidecar(series.Path); err != nil {
		run.Fail("failed to read series sidecar", err, logger.Data{"path": series.Path})
	} else if sc != nil {
		if columns := sc.Apply(series); len(columns) > 0 {
			if err := h.deps.Storage.UpdateSeries(ctx, series, columns); err != nil {
				return nil, err
			}
		}
	}

	out.MediaSeen += result.Seen
	out.MediaIgnored += result.Ignored
	out.MediaUnchanged += len(result.Visited)

	tasks := []Task{}
	if len(result.Missing) > 0 {
		tasks = append(tasks, Task{Kind: TaskMarkMissingMedia, SeriesID: series.ID, Paths: result.Missing})
	}
	for chunk := range slices.Chunk(result.ToCreate, h.reconciler.batchSize) {
		tasks = append(tasks, Task{Kind: TaskCreateMedia, SeriesID: series.ID, Paths: chunk})
	}
	for chunk := range slices.Chunk(result.ToUpdate, h.reconciler.batchSize) {
		tasks = append(tasks, Task{Kind: TaskUpdateMedia, SeriesID: series.ID, Paths: chunk})
	}
	return tasks, nil
}

// ingest builds the files of a create_media or update_media task and writes
// them.
func (h *handler) ingest(ctx context.Context, run *jobs.Run, out *Output, task Task) error {
	built, failures, err := BuildAll(ctx, task.Paths, h.buildOptions(task.SeriesID))
	if err != nil {
		return err
	}

	plan := Plan{LibraryID: h.library.ID}
	for _, b := range built {
		if b.Converted {
			out.Converted++
		}
		if task.Kind == TaskCreateMedia {
			plan.Create = append(plan.Create, b.Media)
		} else {
			plan.Update = append(plan.Update, Update{Path: b.Source, Media: b.Media})
		}
	}

	outcome, err := h.reconciler.Apply(ctx, plan)
	if err != nil {
		return err
	}
	failures = append(failures, outcome.Failed...)

	for _, f := range failures {
		run.Fail("failed to process file", f.Err, logger.Data{"path": f.Path})
	}
	out.MediaFailed += len(failures)
	out.MediaCreated += len(outcome.Created)
	out.MediaUpdated += len(outcome.Updated)
	out.MediaUnchanged += outcome.Unchanged
	for _, m := range outcome.Created {
		out.CreatedMedia = append(out.CreatedMedia, m.ID)
		out.BytesIngested += m.Size
	}
	for _, m := range outcome.Updated {
		out.UpdatedMedia = append(out.UpdatedMedia, m.ID)
		out.BytesIngested += m.Size
	}
	return nil
}

func (h *handler) Finish(ctx context.Context, run *jobs.Run, out *Output) error {
	if err := h.prepare(ctx); err != nil {
		return err
	}
	if h.params.SeriesID == nil {
		if err := h.deps.Libraries.MarkScanned(ctx, h.library, models.LibraryStatusReady); err != nil {
			return err
		}
	}

	recordOutput(out)
	run.Log.Info("scan finished", logger.Data{
		"series_seen":    out.SeriesSeen,
		"series_created": out.SeriesCreated,
		"series_missing": out.SeriesMissing,
		"media_seen":     out.MediaSeen,
		"media_created":  out.MediaCreated,
		"media_updated":  out.MediaUpdated,
		"media_missing":  out.MediaMissing,
		"media_failed":   out.MediaFailed,
		"ingested":       humanize.Bytes(uint64(out.BytesIngested)),
	})

	thumbs := h.library.Settings().Thumbnails
	if h.deps.Thumbnails == nil || thumbs == nil || !thumbs.Enabled {
		return nil
	}
	ids := append(slices.Clone(out.CreatedMedia), out.UpdatedMedia...)
	if len(ids) == 0 {
		return nil
	}
	if err := h.deps.Thumbnails.ScheduleThumbnails(ctx, h.library, ids); err != nil {
		run.Fail("failed to schedule thumbnails", err, logger.Data{"media": len(ids)})
	}
	return nil
}
