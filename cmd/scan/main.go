package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/database"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/jobs"
	"github.com/stacksapp/stacks/pkg/libraries"
	"github.com/stacksapp/stacks/pkg/migrations"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/scanner"
	"github.com/stacksapp/stacks/pkg/worker"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	app := &cli.App{
		Name:      "scan",
		Usage:     "scan a library directory once and exit",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "library name when the library is created (defaults to the directory name)"},
			&cli.StringFlag{Name: "pattern", Value: models.LibraryPatternSeriesBased, Usage: "series_based or collection_based"},
			&cli.BoolFlag{Name: "force", Usage: "rebuild every file even when unchanged"},
			&cli.BoolFlag{Name: "progress", Value: true, Usage: "print job progress"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("scan error")
	}
}

func run(c *cli.Context) error {
	ctx := c.Context
	log := logger.FromContext(ctx)

	if c.NArg() != 1 {
		return cli.Exit("exactly one library path is required", 2)
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return errors.WithStack(err)
	}
	pattern := c.String("pattern")
	if pattern != models.LibraryPatternSeriesBased && pattern != models.LibraryPatternCollectionBased {
		return cli.Exit(fmt.Sprintf("unknown pattern %q", pattern), 2)
	}

	cfg, err := config.New()
	if err != nil {
		return err
	}
	// The schedule belongs to the long running server.
	cfg.ScanSchedule = ""

	db, err := database.New(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := migrations.BringUpToDate(ctx, db); err != nil {
		return err
	}

	library, err := findOrCreateLibrary(ctx, db, path, c.String("name"), pattern)
	if err != nil {
		return err
	}

	bus := events.New(cfg.JobEventBuffer)
	defer bus.Close()
	wrkr := worker.New(cfg, db, bus)
	if err := wrkr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := wrkr.Shutdown(context.Background()); err != nil {
			log.Err(err).Error("worker shutdown error")
		}
	}()

	if c.Bool("progress") {
		evs, err := wrkr.Engine().Events(ctx)
		if err != nil {
			return err
		}
		go func() {
			for ev := range evs {
				log.Info(ev.Message, logger.Data{
					"job":       ev.Name,
					"status":    ev.Status,
					"completed": ev.CompletedTasks,
					"total":     ev.TotalTasks,
				})
			}
		}()
	}

	job, err := wrkr.EnqueueLibraryScan(ctx, library, c.Bool("force"))
	if err != nil {
		return err
	}
	row, err := wrkr.Engine().Wait(ctx, job.ID)
	if err != nil {
		return err
	}

	// Thumbnail jobs are queued when the scan finishes.
	if err := waitForLibraryJobs(ctx, db, wrkr, library.ID); err != nil {
		return err
	}

	if row.Status != models.JobStatusCompleted {
		msg := row.Status
		if row.Message != nil {
			msg = fmt.Sprintf("%s: %s", row.Status, *row.Message)
		}
		return cli.Exit(fmt.Sprintf("scan of %s %s", library.Path, msg), 1)
	}

	out := scanner.Output{}
	if len(row.Output) > 0 {
		if err := json.Unmarshal([]byte(row.Output), &out); err != nil {
			return errors.WithStack(err)
		}
	}
	printOutput(library, &out)
	return nil
}

func findOrCreateLibrary(ctx context.Context, db *bun.DB, path, name, pattern string) (*models.Library, error) {
	svc := libraries.NewService(db)
	library, err := svc.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{Path: &path})
	if err == nil {
		return library, nil
	}
	if !errors.Is(err, errcodes.NotFound("")) {
		return nil, err
	}

	if name == "" {
		name = filepath.Base(path)
	}
	library = &models.Library{Name: name, Path: path, Pattern: pattern}
	if err := svc.CreateLibrary(ctx, library); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("library created", logger.Data{"library_id": library.ID, "path": path})
	return library, nil
}

func waitForLibraryJobs(ctx context.Context, db *bun.DB, wrkr *worker.Worker, libraryID int) error {
	active, err := jobs.NewService(db).ListJobs(ctx, jobs.ListJobsOptions{
		LibraryID: &libraryID,
		Statuses:  []string{models.JobStatusQueued, models.JobStatusRunning},
	})
	if err != nil {
		return err
	}
	for _, job := range active {
		if _, err := wrkr.Engine().Wait(ctx, job.ID); err != nil {
			return err
		}
	}
	return nil
}

func printOutput(library *models.Library, out *scanner.Output) {
	fmt.Printf("Scanned %s (library %d)\n", library.Path, library.ID)
	fmt.Printf("  series:  %d seen, %d created, %d missing, %d recovered\n",
		out.SeriesSeen, out.SeriesCreated, out.SeriesMissing, out.SeriesRecovered)
	fmt.Printf("  media:   %d seen, %d created, %d updated, %d unchanged, %d missing, %d failed, %d ignored\n",
		out.MediaSeen, out.MediaCreated, out.MediaUpdated, out.MediaUnchanged, out.MediaMissing, out.MediaFailed, out.MediaIgnored)
	fmt.Printf("  converted: %d\n", out.Converted)
	fmt.Printf("  ingested:  %s\n", humanize.Bytes(uint64(out.BytesIngested)))
}
