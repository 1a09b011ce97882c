package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/libraries"
)

// scheduledScan queues a scan of every library that has none in progress.
func (w *Worker) scheduledScan() {
	ctx, cancel := context.WithTimeout(w.log.WithContext(context.Background()), time.Minute)
	defer cancel()
	w.scanAll(ctx)
}

func (w *Worker) scanAll(ctx context.Context) int {
	log := logger.FromContext(ctx)

	all, err := w.libraryService.ListLibraries(ctx, libraries.ListLibrariesOptions{})
	if err != nil {
		log.Err(err).Error("list libraries error")
		return 0
	}

	queued := 0
	for _, library := range all {
		job, err := w.EnqueueLibraryScan(ctx, library, false)
		if err != nil {
			if errors.Is(err, errcodes.Conflict("")) {
				log.Info("skipping library with an active scan", logger.Data{"library_id": library.ID})
				continue
			}
			log.Err(err).Error("enqueue scan error", logger.Data{"library_id": library.ID})
			continue
		}
		log.Info("scheduled library scan", logger.Data{"library_id": library.ID, "job_id": job.ID})
		queued++
	}
	return queued
}
