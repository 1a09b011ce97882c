package libraries

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	echologger "github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/series"
	"github.com/stacksapp/stacks/pkg/thumbnails"
)

type handler struct {
	libraryService *Service
	seriesService  *series.Service
	scheduler      JobScheduler
}

func (h *handler) load(c echo.Context) (*models.Library, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return nil, errcodes.NotFound("Library")
	}
	return h.libraryService.RetrieveLibrary(c.Request().Context(), RetrieveLibraryOptions{ID: &id})
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()
	log := echologger.FromEchoContext(c)

	// Bind params.
	params := CreateLibraryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	_, err := h.libraryService.RetrieveLibrary(ctx, RetrieveLibraryOptions{Path: &params.Path})
	if err == nil {
		return errcodes.Conflict("A library already exists at this path.")
	}
	if !errors.Is(err, errcodes.NotFound("")) {
		return errors.WithStack(err)
	}

	library := &models.Library{
		Name:         params.Name,
		Path:         params.Path,
		Pattern:      params.Pattern,
		ConfigParsed: params.Config,
	}
	if err := h.libraryService.CreateLibrary(ctx, library); err != nil {
		return errors.WithStack(err)
	}

	if params.Scan == nil || *params.Scan {
		// A failed enqueue leaves the library unscanned until the next scan.
		if _, err := h.scheduler.EnqueueLibraryScan(ctx, library, false); err != nil {
			log.Err(err).Error("enqueue scan after library creation error", logger.Data{"library_id": library.ID})
		}
	}

	return errors.WithStack(c.JSON(http.StatusCreated, library))
}

func (h *handler) retrieve(c echo.Context) error {
	library, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, library))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListLibrariesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	libraries, total, err := h.libraryService.ListLibrariesWithTotal(ctx, ListLibrariesOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Libraries []*models.Library `json:"libraries"`
		Total     int               `json:"total"`
	}{libraries, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) update(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := UpdateLibraryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	library, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	// Keep track of what's been changed.
	opts := UpdateLibraryOptions{Columns: []string{}}

	if params.Name != nil && *params.Name != library.Name {
		library.Name = *params.Name
		opts.Columns = append(opts.Columns, "name")
	}
	if params.Pattern != nil && *params.Pattern != library.Pattern {
		library.Pattern = *params.Pattern
		opts.Columns = append(opts.Columns, "pattern")
	}
	if params.Config != nil {
		library.ConfigParsed = params.Config
		opts.Columns = append(opts.Columns, "config")
	}

	// Update the model.
	if err := h.libraryService.UpdateLibrary(ctx, library, opts); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, library))
}

func (h *handler) delete(c echo.Context) error {
	ctx := c.Request().Context()
	log := echologger.FromEchoContext(c)

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Library")
	}

	mediaIDs, err := h.libraryService.DeleteLibrary(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	if err := h.scheduler.RemoveThumbnails(ctx, mediaIDs); err != nil {
		log.Err(err).Warn("remove thumbnails error", logger.Data{"library_id": id})
	}

	return errors.WithStack(c.NoContent(http.StatusNoContent))
}

func (h *handler) scan(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	c.Set("disallow_empty_body", false)
	params := ScanLibraryPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	library, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	var job *models.Job
	if params.SeriesID != nil {
		s, err := h.seriesService.RetrieveSeriesByID(ctx, *params.SeriesID)
		if err != nil {
			return errors.WithStack(err)
		}
		if s.LibraryID != library.ID {
			return errcodes.NotFound("Series")
		}
		job, err = h.scheduler.EnqueueSeriesScan(ctx, library, s, params.Force)
		if err != nil {
			return errors.WithStack(err)
		}
	} else {
		job, err = h.scheduler.EnqueueLibraryScan(ctx, library, params.Force)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(c.JSON(http.StatusAccepted, job))
}

func (h *handler) thumbnails(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	c.Set("disallow_empty_body", false)
	params := ThumbnailsPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	library, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	target := thumbnails.Target{Kind: thumbnails.TargetLibrary}
	switch {
	case params.SeriesID != nil:
		s, err := h.seriesService.RetrieveSeriesByID(ctx, *params.SeriesID)
		if err != nil {
			return errors.WithStack(err)
		}
		if s.LibraryID != library.ID {
			return errcodes.NotFound("Series")
		}
		target = thumbnails.Target{Kind: thumbnails.TargetSeries, SeriesID: &s.ID}
	case len(params.MediaIDs) > 0:
		target = thumbnails.Target{Kind: thumbnails.TargetMediaGroup, MediaIDs: params.MediaIDs}
	}

	job, err := h.scheduler.EnqueueThumbnails(ctx, library, target, params.Force)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusAccepted, job))
}
