package jobs

import (
	"github.com/labstack/echo/v4"
	"github.com/stacksapp/stacks/pkg/joblogs"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers job routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, engine *Engine) {
	h := &handler{
		engine:        engine,
		jobService:    NewService(db),
		jobLogService: joblogs.NewService(db),
	}

	g.GET("", h.list)
	g.GET("/events", h.events)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/logs", h.logs)
	g.POST("/:id/pause", h.pause)
	g.POST("/:id/resume", h.resume)
	g.POST("/:id/cancel", h.cancel)
}
