package media

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/archive"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/pagedims"
)

type handler struct {
	mediaService    *Service
	pageDimsService *pagedims.Service
	thumbs          ThumbnailFinder
}

func (h *handler) load(c echo.Context) (*models.Media, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return nil, errcodes.NotFound("Media")
	}
	return h.mediaService.RetrieveMediaByID(c.Request().Context(), id)
}

func (h *handler) retrieve(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, m))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListMediaQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	media, total, err := h.mediaService.ListMediaWithTotal(ctx, ListMediaOptions{
		Limit:     &params.Limit,
		Offset:    &params.Offset,
		LibraryID: params.LibraryID,
		SeriesID:  params.SeriesID,
		Status:    params.Status,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Media []*models.Media `json:"media"`
		Total int             `json:"total"`
	}{media, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) duplicates(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListDuplicatesQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	groups, err := h.mediaService.ListDuplicates(ctx, ListDuplicatesOptions{LibraryID: params.LibraryID})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Duplicates []*DuplicateGroup `json:"duplicates"`
	}{groups}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) page(c echo.Context) error {
	n, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return errcodes.NotFound("Page")
	}

	m, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}
	if m.Status == models.MediaStatusMissing {
		return errcodes.NotFound("Media file")
	}

	p, err := archive.Open(m.Path, archive.OpenOptions{})
	if err != nil {
		return errors.WithStack(err)
	}
	contentType, data, err := p.Page(n)
	if err != nil {
		return errors.WithStack(err)
	}

	c.Response().Header().Set("Cache-Control", "private, max-age=3600")
	return errors.WithStack(c.Blob(http.StatusOK, contentType, data))
}

func (h *handler) dimensions(c echo.Context) error {
	ctx := c.Request().Context()

	m, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	dims, err := h.pageDimsService.RetrieveOrAnalyze(ctx, m)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Dimensions []pagedims.Dimension `json:"dimensions"`
		Encoded    string               `json:"encoded"`
	}{dims, pagedims.Encode(dims)}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) thumbnail(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return errors.WithStack(err)
	}

	path, ok := h.thumbs.ThumbnailPath(m.ID)
	if !ok {
		return errcodes.NotFound("Thumbnail")
	}

	return errors.WithStack(c.File(path))
}
