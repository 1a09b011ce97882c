// Package worker owns the job engine for a running process: it registers the
// job kinds, recovers jobs left behind by a previous process, schedules
// periodic scans and enqueues work on behalf of the HTTP handlers.
package worker

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/jobs"
	"github.com/stacksapp/stacks/pkg/libraries"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/scanner"
	"github.com/stacksapp/stacks/pkg/thumbnails"
	"github.com/uptrace/bun"
)

type Worker struct {
	config *config.Config
	log    logger.Logger

	engine         *jobs.Engine
	jobService     *jobs.Service
	libraryService *libraries.Service

	scanDeps      *scanner.Deps
	thumbnailDeps *thumbnails.Deps

	cron *cron.Cron
}

func New(cfg *config.Config, db *bun.DB, bus *events.Bus) *Worker {
	libraryService := libraries.NewService(db)

	w := &Worker{
		config:         cfg,
		log:            logger.New(),
		engine:         jobs.NewEngine(db, bus),
		jobService:     jobs.NewService(db),
		libraryService: libraryService,
		thumbnailDeps:  thumbnails.NewDeps(db, cfg.ThumbnailDir),
	}
	w.scanDeps = &scanner.Deps{
		Config:     cfg,
		Libraries:  libraryService,
		Storage:    scanner.NewStorage(db),
		Thumbnails: w,
	}

	w.engine.Register(models.JobKindLibraryScan, w.scanDeps.Factory)
	w.engine.Register(models.JobKindSeriesScan, w.scanDeps.Factory)
	w.engine.Register(models.JobKindThumbnails, w.thumbnailDeps.Factory)

	return w
}

func (w *Worker) Engine() *jobs.Engine {
	return w.engine
}

// Start recovers jobs interrupted by a previous process and starts the scan
// schedule, if one is configured.
func (w *Worker) Start(ctx context.Context) error {
	n, err := w.engine.Recover(ctx)
	if err != nil {
		return errors.Wrap(err, "recover jobs")
	}
	if n > 0 {
		w.log.Info("cancelled interrupted jobs", logger.Data{"count": n})
	}

	if w.config.ScanSchedule == "" {
		return nil
	}
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(w.config.ScanSchedule, w.scheduledScan); err != nil {
		return errors.Wrapf(err, "invalid scan schedule %q", w.config.ScanSchedule)
	}
	w.cron.Start()
	w.log.Info("scan schedule started", logger.Data{"schedule": w.config.ScanSchedule})
	return nil
}

// Shutdown stops the schedule and cancels every queued and running job.
func (w *Worker) Shutdown(ctx context.Context) error {
	if w.cron != nil {
		stopped := w.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	return w.engine.Shutdown(ctx)
}

// EnqueueLibraryScan queues a scan of library unless one is already queued,
// running or paused.
func (w *Worker) EnqueueLibraryScan(ctx context.Context, library *models.Library, force bool) (*models.Job, error) {
	row, err := w.engine.EnqueueExclusive(ctx, scanner.NewLibraryScanJob(w.scanDeps, library, force))
	if errors.Is(err, errcodes.Conflict("")) {
		return nil, errcodes.Conflict("A scan of this library is already in progress.")
	}
	return row, err
}

func (w *Worker) EnqueueSeriesScan(ctx context.Context, library *models.Library, series *models.Series, force bool) (*models.Job, error) {
	return w.engine.Enqueue(ctx, scanner.NewSeriesScanJob(w.scanDeps, library, series, force))
}

// EnqueueThumbnails queues thumbnail generation for target using the
// library's thumbnail settings.
func (w *Worker) EnqueueThumbnails(ctx context.Context, library *models.Library, target thumbnails.Target, force bool) (*models.Job, error) {
	target.LibraryID = library.ID
	opts := thumbnails.OptionsFromConfig(library.Settings().Thumbnails, w.config.ThumbnailConcurrency)
	name := fmt.Sprintf("Thumbnails for %s", library.Name)
	return w.engine.Enqueue(ctx, thumbnails.NewJob(w.thumbnailDeps, name, target, opts, force))
}

// ScheduleThumbnails is called by scans for the media they created or
// updated.
func (w *Worker) ScheduleThumbnails(ctx context.Context, library *models.Library, mediaIDs []int) error {
	_, err := w.EnqueueThumbnails(ctx, library, thumbnails.Target{Kind: thumbnails.TargetMediaGroup, MediaIDs: mediaIDs}, true)
	return err
}

// RemoveThumbnails deletes the generated thumbnails of deleted media.
func (w *Worker) RemoveThumbnails(_ context.Context, mediaIDs []int) error {
	return w.thumbnailDeps.Generator.Remove(mediaIDs)
}

// ThumbnailPath returns the thumbnail of a media file if one was generated.
func (w *Worker) ThumbnailPath(mediaID int) (string, bool) {
	return w.thumbnailDeps.Generator.Find(mediaID)
}
