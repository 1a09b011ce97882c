package libraries

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/series"
	"github.com/stacksapp/stacks/pkg/thumbnails"
	"github.com/uptrace/bun"
)

// JobScheduler queues the background work library routes trigger.
type JobScheduler interface {
	EnqueueLibraryScan(ctx context.Context, library *models.Library, force bool) (*models.Job, error)
	EnqueueSeriesScan(ctx context.Context, library *models.Library, series *models.Series, force bool) (*models.Job, error)
	EnqueueThumbnails(ctx context.Context, library *models.Library, target thumbnails.Target, force bool) (*models.Job, error)
	RemoveThumbnails(ctx context.Context, mediaIDs []int) error
}

// RegisterRoutesWithGroup registers library routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, scheduler JobScheduler) {
	h := &handler{
		libraryService: NewService(db),
		seriesService:  series.NewService(db),
		scheduler:      scheduler,
	}

	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
	g.POST("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/scan", h.scan)
	g.POST("/:id/thumbnails", h.thumbnails)
}
