package media

import (
	"github.com/labstack/echo/v4"
	"github.com/stacksapp/stacks/pkg/pagedims"
	"github.com/uptrace/bun"
)

// ThumbnailFinder locates generated thumbnails.
type ThumbnailFinder interface {
	ThumbnailPath(mediaID int) (string, bool)
}

// RegisterRoutesWithGroup registers media routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB, thumbs ThumbnailFinder) {
	h := &handler{
		mediaService:    NewService(db),
		pageDimsService: pagedims.NewService(db),
		thumbs:          thumbs,
	}

	g.GET("", h.list)
	g.GET("/duplicates", h.duplicates)
	g.GET("/:id", h.retrieve)
	g.GET("/:id/pages/:page", h.page)
	g.GET("/:id/dimensions", h.dimensions)
	g.GET("/:id/thumbnail", h.thumbnail)
}
