package jobs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/joblogs"
	"github.com/stacksapp/stacks/pkg/models"
)

const keepaliveInterval = 15 * time.Second

type handler struct {
	engine        *Engine
	jobService    *Service
	jobLogService *joblogs.Service
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	job, err := h.jobService.RetrieveJob(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.jobService.ListJobsWithTotal(ctx, ListJobsOptions{
		Limit:     &params.Limit,
		Offset:    &params.Offset,
		Statuses:  params.Status,
		Kind:      params.Kind,
		LibraryID: params.LibraryID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Jobs  []*models.Job `json:"jobs"`
		Total int           `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) logs(c echo.Context) error {
	ctx := c.Request().Context()

	params := ListJobLogsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job, err := h.jobService.RetrieveJob(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	logs, err := h.jobLogService.ListJobLogs(ctx, joblogs.ListJobLogsOptions{
		JobID:   job.ID,
		AfterID: params.AfterID,
		Levels:  params.Level,
		Limit:   &params.Limit,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Logs []*models.JobLog `json:"logs"`
	}{logs}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) pause(c echo.Context) error {
	return h.command(c, h.engine.Pause)
}

func (h *handler) resume(c echo.Context) error {
	return h.command(c, h.engine.Resume)
}

func (h *handler) cancel(c echo.Context) error {
	return h.command(c, h.engine.Cancel)
}

func (h *handler) command(c echo.Context, fn func(ctx context.Context, id string) error) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := fn(ctx, id); err != nil {
		return errors.WithStack(err)
	}

	job, err := h.jobService.RetrieveJob(ctx, id)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

// events streams job events as server-sent events until the client goes away.
func (h *handler) events(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromEchoContext(c)

	ch, err := h.engine.Events(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Err(err).Warn("marshal event error")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: job\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
