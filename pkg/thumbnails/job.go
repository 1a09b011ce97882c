package thumbnails

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/jobs"
	"github.com/stacksapp/stacks/pkg/media"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/uptrace/bun"
	"golang.org/x/sync/semaphore"
)

const version = 1

// chunkSize is how many media one task renders.
const chunkSize = 50

const (
	TargetLibrary    = "single_library"
	TargetSeries     = "single_series"
	TargetMediaGroup = "media_group"
)

// Target selects the media a job renders.
type Target struct {
	Kind      string `json:"kind" validate:"oneof=single_library single_series media_group"`
	LibraryID int    `json:"library_id"`
	SeriesID  *int   `json:"series_id,omitempty"`
	MediaIDs  []int  `json:"media_ids,omitempty"`
}

type Params struct {
	Target  Target  `json:"target"`
	Options Options `json:"options"`
	// Force re-renders thumbnails that are already up to date.
	Force bool `json:"force,omitempty"`
}

type Output struct {
	Total     int `json:"total"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Task struct {
	MediaIDs []int `json:"media_ids"`
}

type Deps struct {
	Generator *Generator
	Media     *media.Service

	// render replaces Generator.Generate when set.
	render func(ctx context.Context, m *models.Media, opts Options) (string, error)
}

func (d *Deps) generate(ctx context.Context, m *models.Media, opts Options) (string, error) {
	if d.render != nil {
		return d.render(ctx, m, opts)
	}
	return d.Generator.Generate(ctx, m, opts)
}

func NewDeps(db *bun.DB, dir string) *Deps {
	return &Deps{
		Generator: NewGenerator(dir),
		Media:     media.NewService(db),
	}
}

// NewJob renders the thumbnails of target.
func NewJob(deps *Deps, name string, target Target, opts Options, force bool) *jobs.Typed[Output, Task] {
	params := Params{Target: target, Options: opts, Force: force}
	h := &handler{deps: deps, params: params}
	return jobs.New[Output, Task](models.JobKindThumbnails, version, name, params, h).WithLibrary(target.LibraryID)
}

// Factory rebuilds a persisted thumbnail job.
func (d *Deps) Factory(row *models.Job) (jobs.Job, error) {
	params := Params{}
	if err := json.Unmarshal([]byte(row.Params), &params); err != nil {
		return nil, errors.Wrap(err, "unreadable thumbnail params")
	}
	return NewJob(d, row.Name, params.Target, params.Options, params.Force).WithID(row.ID), nil
}

type handler struct {
	deps   *Deps
	params Params

	done atomic.Int64
}

func (h *handler) Init(ctx context.Context, run *jobs.Run) (Output, []Task, error) {
	out := Output{}
	t := h.params.Target
	opts := media.ListMediaOptions{Status: pointerutil.String(models.MediaStatusReady)}
	switch t.Kind {
	case TargetLibrary:
		opts.LibraryID = &t.LibraryID
	case TargetSeries:
		if t.SeriesID == nil {
			return out, nil, errors.New("series target without a series")
		}
		opts.SeriesID = t.SeriesID
	case TargetMediaGroup:
		opts.IDs = t.MediaIDs
		if opts.IDs == nil {
			opts.IDs = []int{}
		}
	default:
		return out, nil, errors.Errorf("unknown thumbnail target %q", t.Kind)
	}

	found, err := h.deps.Media.ListMedia(ctx, opts)
	if err != nil {
		return out, nil, err
	}
	ids := make([]int, 0, len(found))
	for _, m := range found {
		ids = append(ids, m.ID)
	}
	out.Total = len(ids)
	run.Log.Info("thumbnails planned", logger.Data{"target": t.Kind, "media": len(ids)})

	tasks := []Task{}
	for chunk := range slices.Chunk(ids, chunkSize) {
		tasks = append(tasks, Task{MediaIDs: chunk})
	}
	return out, tasks, nil
}

func (h *handler) ExecuteTask(ctx context.Context, run *jobs.Run, out *Output, task Task) ([]Task, error) {
	found, err := h.deps.Media.ListMedia(ctx, media.ListMediaOptions{IDs: task.MediaIDs})
	if err != nil {
		return nil, err
	}
	// Files removed since planning still count towards progress.
	out.Skipped += len(task.MediaIDs) - len(found)
	h.done.Store(int64(out.Generated + out.Skipped + out.Failed))

	opts := h.params.Options
	limit := int64(max(opts.MaxConcurrency, 1))
	sem := semaphore.NewWeighted(limit)

	var mu sync.Mutex
	for _, m := range found {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func() {
			defer sem.Release(1)
			generated, skipped, failed := 0, 0, 0
			switch {
			case !h.params.Force && h.deps.Generator.Fresh(m, opts.Format):
				skipped = 1
			default:
				start := time.Now()
				if _, err := h.deps.generate(ctx, m, opts); err != nil {
					run.Fail("failed to generate thumbnail", err, logger.Data{"media_id": m.ID, "path": m.Path})
					failed = 1
				} else {
					renderDuration.Observe(time.Since(start).Seconds())
					generated = 1
				}
			}
			thumbnailsTotal.WithLabelValues(result(generated, skipped)).Inc()
			mu.Lock()
			out.Generated += generated
			out.Skipped += skipped
			out.Failed += failed
			mu.Unlock()
			n := h.done.Add(1)
			run.Report(ctx, fmt.Sprintf("%d of %d thumbnails", n, out.Total), int(n), out.Total)
		}()
	}
	// Wait for everything in flight, even after cancellation.
	if err := sem.Acquire(context.Background(), limit); err != nil {
		return nil, errors.WithStack(err)
	}
	sem.Release(limit)

	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return nil, nil
}

func (h *handler) Finish(_ context.Context, run *jobs.Run, out *Output) error {
	run.Log.Info("thumbnails finished", logger.Data{
		"total":     out.Total,
		"generated": out.Generated,
		"skipped":   out.Skipped,
		"failed":    out.Failed,
	})
	return nil
}

func result(generated, skipped int) string {
	switch {
	case generated > 0:
		return "generated"
	case skipped > 0:
		return "skipped"
	}
	return "failed"
}
