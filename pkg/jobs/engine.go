package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/joblogs"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/uptrace/bun"
)

const interruptedMessage = "Interrupted by a restart."

// Factory rebuilds a job from its persisted row so that a paused job can be
// resumed by a new process.
type Factory func(row *models.Job) (Job, error)

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdCancel
)

type request struct {
	cmd command
	ack chan struct{}
}

type entry struct {
	job Job
	row *models.Job
	// resume restores from the row's save state instead of calling Init.
	resume   bool
	pausing  bool
	commands chan request
}

// Engine runs jobs one at a time in FIFO order.
type Engine struct {
	svc  *Service
	logs *joblogs.Service
	bus  *events.Bus
	log  logger.Logger

	mu        sync.Mutex
	factories map[string]Factory
	queue     []*entry
	active    *entry
	paused    map[string]*entry
	waiters   map[string][]chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

func NewEngine(db *bun.DB, bus *events.Bus) *Engine {
	return &Engine{
		svc:       NewService(db),
		logs:      joblogs.NewService(db),
		bus:       bus,
		log:       logger.New(),
		factories: map[string]Factory{},
		paused:    map[string]*entry{},
		waiters:   map[string][]chan struct{}{},
	}
}

// Register sets the factory used to rebuild jobs of kind.
func (e *Engine) Register(kind string, f Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[kind] = f
}

// Events streams progress events until ctx is done.
func (e *Engine) Events(ctx context.Context) (<-chan events.JobEvent, error) {
	return e.bus.SubscribeJobs(ctx)
}

// Enqueue persists job as queued and starts it if the worker is idle.
func (e *Engine) Enqueue(ctx context.Context, job Job) (*models.Job, error) {
	return e.enqueue(ctx, job, false)
}

// EnqueueExclusive is Enqueue, but fails with a conflict while another job of
// the same kind and library is queued, running or paused.
func (e *Engine) EnqueueExclusive(ctx context.Context, job Job) (*models.Job, error) {
	return e.enqueue(ctx, job, true)
}

func (e *Engine) enqueue(ctx context.Context, job Job, exclusive bool) (*models.Job, error) {
	params, err := job.Params()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.New("job engine is shut down")
	}
	if e.find(job.ID()) != nil {
		return nil, errcodes.Conflict("Job is already queued or running.")
	}
	if exclusive && job.LibraryID() != nil {
		active, err := e.svc.HasActiveJob(ctx, job.Kind(), *job.LibraryID())
		if err != nil {
			return nil, err
		}
		if active {
			return nil, errcodes.Conflict("A job of this kind is already in progress for the library.")
		}
	}

	row := &models.Job{
		ID:        job.ID(),
		Kind:      job.Kind(),
		Name:      job.Name(),
		Status:    models.JobStatusQueued,
		LibraryID: job.LibraryID(),
		Params:    string(params),
	}
	if err := e.svc.CreateJob(ctx, row); err != nil {
		return nil, err
	}

	e.push(ctx, &entry{job: job, row: row, commands: make(chan request, 8)})
	return row, nil
}

// Pause asks a running job to stop after its current task, persisting its
// state so it can be resumed later. A queued job is simply held back.
func (e *Engine) Pause(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.active != nil && e.active.job.ID() == id {
		ack, err := e.post(e.active, cmdPause)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		return awaitAck(ctx, ack)
	}
	defer e.mu.Unlock()

	for i, en := range e.queue {
		if en.job.ID() != id {
			continue
		}
		e.queue = append(e.queue[:i], e.queue[i+1:]...)
		jobsQueued.Set(float64(len(e.queue)))
		en.row.Status = models.JobStatusPaused
		if err := e.svc.UpdateJob(ctx, en.row, UpdateJobOptions{Columns: []string{"status"}}); err != nil {
			return err
		}
		e.paused[id] = en
		e.notify(id)
		e.publish(ctx, en, "")
		return nil
	}

	if _, ok := e.paused[id]; ok {
		return nil
	}
	return e.conflictFor(ctx, id, "Job is not running.")
}

// Resume puts a paused job back on the queue. Jobs paused by a previous
// process are rebuilt with their registered factory.
func (e *Engine) Resume(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.active != nil && e.active.job.ID() == id {
		ack, err := e.post(e.active, cmdResume)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		return awaitAck(ctx, ack)
	}
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("job engine is shut down")
	}
	if e.find(id) != nil {
		// already queued
		return nil
	}

	en, ok := e.paused[id]
	if ok {
		delete(e.paused, id)
	} else {
		row, err := e.svc.RetrieveJob(ctx, id)
		if err != nil {
			return err
		}
		if row.Status != models.JobStatusPaused {
			return errcodes.Conflict("Job is not paused.")
		}
		factory, ok := e.factories[row.Kind]
		if !ok {
			return errcodes.BadRequest(fmt.Sprintf("Jobs of kind %q can't be resumed.", row.Kind))
		}
		job, err := factory(row)
		if err != nil {
			return err
		}
		en = &entry{job: job, row: row, commands: make(chan request, 8)}
	}

	en.resume = en.row.StartedAt != nil
	en.pausing = false
	en.row.Status = models.JobStatusQueued
	if err := e.svc.UpdateJob(ctx, en.row, UpdateJobOptions{Columns: []string{"status"}}); err != nil {
		return err
	}
	e.push(ctx, en)
	return nil
}

// Cancel stops a job. A running job's in-flight task is abandoned, so its
// partial side effects are kept. It returns once the cancellation has been
// persisted.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.active != nil && e.active.job.ID() == id {
		ack, err := e.post(e.active, cmdCancel)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		return awaitAck(ctx, ack)
	}
	defer e.mu.Unlock()

	var en *entry
	for i, q := range e.queue {
		if q.job.ID() == id {
			en = q
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			jobsQueued.Set(float64(len(e.queue)))
			break
		}
	}
	if en == nil {
		if p, ok := e.paused[id]; ok {
			en = p
			delete(e.paused, id)
		}
	}
	if en != nil {
		e.markCancelled(ctx, en, "Cancelled.")
		e.notify(id)
		return nil
	}

	row, err := e.svc.RetrieveJob(ctx, id)
	if err != nil {
		return err
	}
	if row.Terminal() {
		return errcodes.Conflict("Job has already finished.")
	}
	// paused by a previous process, or never recovered
	now := time.Now()
	msg := "Cancelled."
	row.Status = models.JobStatusCancelled
	row.Message = &msg
	row.CompletedAt = &now
	return e.svc.UpdateJob(ctx, row, UpdateJobOptions{Columns: []string{"status", "message", "completed_at"}})
}

// Recover cancels jobs that a previous process left queued or running. Their
// side effects can't be replayed safely, so they are never resumed. It must
// run before anything is enqueued.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil || len(e.queue) > 0 {
		return 0, errors.New("recover must run before jobs are enqueued")
	}

	rows, err := e.svc.CancelInterrupted(ctx, interruptedMessage)
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx)
	for _, row := range rows {
		log.Warn("cancelled interrupted job", logger.Data{"job_id": row.ID, "kind": row.Kind})
		jobsFinishedTotal.WithLabelValues(row.Kind, models.JobStatusCancelled).Inc()
	}
	return len(rows), nil
}

// Shutdown cancels the running job and everything queued, then waits for the
// worker to stop or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, en := range e.queue {
		e.markCancelled(ctx, en, "Cancelled by shutdown.")
		e.notify(en.job.ID())
	}
	e.queue = nil
	jobsQueued.Set(0)
	if e.active != nil {
		select {
		case e.active.commands <- request{cmd: cmdCancel, ack: make(chan struct{})}:
		default:
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Wait blocks until the job stops running, by finishing or pausing, and
// returns its row.
func (e *Engine) Wait(ctx context.Context, id string) (*models.Job, error) {
	e.mu.Lock()
	if e.find(id) != nil {
		ch := make(chan struct{})
		e.waiters[id] = append(e.waiters[id], ch)
		e.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	} else {
		e.mu.Unlock()
	}
	return e.svc.RetrieveJob(ctx, id)
}

// find returns the active or queued entry for id. Callers hold e.mu.
func (e *Engine) find(id string) *entry {
	if e.active != nil && e.active.job.ID() == id {
		return e.active
	}
	for _, en := range e.queue {
		if en.job.ID() == id {
			return en
		}
	}
	return nil
}

// push starts en if the worker is idle and queues it otherwise. Callers hold
// e.mu.
func (e *Engine) push(ctx context.Context, en *entry) {
	e.publish(ctx, en, "")
	if e.active == nil {
		e.active = en
		e.wg.Add(1)
		go e.work(en)
		return
	}
	e.queue = append(e.queue, en)
	jobsQueued.Set(float64(len(e.queue)))
}

// post hands cmd to the active entry. Callers hold e.mu, so the request lands
// before advance can retire en and is answered by either the job or the drain.
func (e *Engine) post(en *entry, cmd command) (<-chan struct{}, error) {
	req := request{cmd: cmd, ack: make(chan struct{})}
	select {
	case en.commands <- req:
		return req.ack, nil
	default:
		return nil, errcodes.Conflict("Job is busy, try again.")
	}
}

func awaitAck(ctx context.Context, ack <-chan struct{}) error {
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

func (e *Engine) conflictFor(ctx context.Context, id, msg string) error {
	if _, err := e.svc.RetrieveJob(ctx, id); err != nil {
		return err
	}
	return errcodes.Conflict(msg)
}

// notify wakes Wait callers. Callers hold e.mu.
func (e *Engine) notify(id string) {
	for _, ch := range e.waiters[id] {
		close(ch)
	}
	delete(e.waiters, id)
}

func (e *Engine) work(en *entry) {
	defer e.wg.Done()
	for en != nil {
		e.execute(en)
		en = e.advance(en)
	}
}

// advance retires prev and promotes the next queued job.
func (e *Engine) advance(prev *entry) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := context.Background()

	// Nobody can send to prev once it's no longer active, so answer whatever
	// arrived after its last task.
	resume, cancel := false, false
drain:
	for {
		select {
		case req := <-prev.commands:
			switch req.cmd {
			case cmdPause:
				resume = false
			case cmdResume:
				resume = true
			case cmdCancel:
				cancel = true
			}
			close(req.ack)
		default:
			break drain
		}
	}

	if prev.row.Status == models.JobStatusPaused {
		switch {
		case cancel:
			e.markCancelled(ctx, prev, "Cancelled.")
		case resume && !e.closed:
			prev.resume = true
			prev.pausing = false
			prev.row.Status = models.JobStatusQueued
			e.persist(ctx, prev, "status")
			e.queue = append(e.queue, prev)
		default:
			e.paused[prev.job.ID()] = prev
		}
	}
	if prev.row.Status != models.JobStatusQueued {
		e.notify(prev.job.ID())
	}

	if len(e.queue) == 0 {
		e.active = nil
		jobsQueued.Set(0)
		return nil
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	jobsQueued.Set(float64(len(e.queue)))
	e.active = next
	return next
}

func (e *Engine) execute(en *entry) {
	job := en.job
	log := e.log.Root(logger.Data{"job_id": job.ID(), "kind": job.Kind()})
	ctx := log.WithContext(context.Background())
	jl := e.logs.NewJobLogger(ctx, job.ID(), log)

	run := &Run{JobID: job.ID(), Log: jl}
	run.publish = func(ctx context.Context, message string, completed, total int) {
		e.bus.PublishJob(ctx, eventFor(job, models.JobStatusRunning, message, completed, total))
	}

	started := time.Now()
	defer func() {
		jobDuration.WithLabelValues(job.Kind()).Observe(time.Since(started).Seconds())
	}()

	en.row.Status = models.JobStatusRunning
	en.row.Message = nil
	if en.row.StartedAt == nil {
		en.row.StartedAt = &started
	}
	e.persist(ctx, en, "status", "message", "started_at")
	log.Info("job started", logger.Data{"resume": en.resume})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if en.resume {
		if en.row.SaveState == nil {
			e.fail(ctx, en, jl, errors.New("job was started before but has no save state to resume from"))
			return
		}
		if err := job.restore([]byte(*en.row.SaveState)); err != nil {
			e.fail(ctx, en, jl, err)
			return
		}
	} else {
		req, err := e.await(runCtx, cancel, en, func(ctx context.Context) error {
			return job.init(ctx, run)
		})
		if req != nil {
			e.cancelled(ctx, en, req)
			return
		}
		if err != nil {
			e.fail(ctx, en, jl, err)
			return
		}
	}
	e.progress(ctx, en)

	for !job.done() {
		if req := e.poll(en); req != nil {
			e.cancelled(ctx, en, req)
			return
		}
		if en.pausing {
			e.pause(ctx, en, jl)
			return
		}

		req, err := e.await(runCtx, cancel, en, func(ctx context.Context) error {
			return job.step(ctx, run)
		})
		if req != nil {
			e.cancelled(ctx, en, req)
			return
		}
		if err != nil {
			e.fail(ctx, en, jl, err)
			return
		}
		jobTasksTotal.WithLabelValues(job.Kind()).Inc()
		e.progress(ctx, en)
	}

	req, err := e.await(runCtx, cancel, en, func(ctx context.Context) error {
		return job.finish(ctx, run)
	})
	if req != nil {
		e.cancelled(ctx, en, req)
		return
	}
	if err != nil {
		e.fail(ctx, en, jl, err)
		return
	}

	now := time.Now()
	en.row.Status = models.JobStatusCompleted
	en.row.CompletedAt = &now
	en.row.SaveState = nil
	e.storeOutput(ctx, en)
	e.persist(ctx, en, "status", "completed_at", "save_state", "output")
	jobsFinishedTotal.WithLabelValues(job.Kind(), models.JobStatusCompleted).Inc()
	log.Info("job completed", logger.Data{"tasks": en.row.CompletedTasks, "duration": time.Since(started).String()})
}

// await runs fn while serving commands. A cancel abandons fn and is returned
// unacknowledged.
func (e *Engine) await(ctx context.Context, cancel context.CancelFunc, en *entry, fn func(context.Context) error) (*request, error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("job panic", logger.Data{"panic": fmt.Sprint(r), "stack": string(debug.Stack())})
				done <- errors.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	for {
		select {
		case err := <-done:
			return nil, err
		case req := <-en.commands:
			switch req.cmd {
			case cmdPause:
				en.pausing = true
				close(req.ack)
			case cmdResume:
				en.pausing = false
				close(req.ack)
			case cmdCancel:
				cancel()
				return &req, nil
			}
		}
	}
}

// poll serves commands that arrived between tasks.
func (e *Engine) poll(en *entry) *request {
	for {
		select {
		case req := <-en.commands:
			switch req.cmd {
			case cmdPause:
				en.pausing = true
				close(req.ack)
			case cmdResume:
				en.pausing = false
				close(req.ack)
			case cmdCancel:
				return &req
			}
		default:
			return nil
		}
	}
}

func (e *Engine) progress(ctx context.Context, en *entry) {
	en.row.CompletedTasks, en.row.TotalTasks = en.job.progress()
	e.persist(ctx, en, "completed_tasks", "total_tasks")
	e.publish(ctx, en, "")
}

func (e *Engine) pause(ctx context.Context, en *entry, jl *joblogs.JobLogger) {
	state, err := en.job.snapshot()
	if err != nil {
		e.fail(ctx, en, jl, err)
		return
	}
	s := string(state)
	en.row.SaveState = &s
	en.row.Status = models.JobStatusPaused
	e.storeOutput(ctx, en)
	e.persist(ctx, en, "status", "save_state", "output")
	jobsFinishedTotal.WithLabelValues(en.job.Kind(), models.JobStatusPaused).Inc()
	jl.Info("job paused", logger.Data{"completed_tasks": en.row.CompletedTasks, "total_tasks": en.row.TotalTasks})
}

func (e *Engine) cancelled(ctx context.Context, en *entry, req *request) {
	e.markCancelled(ctx, en, "Cancelled.")
	logger.FromContext(ctx).Info("job cancelled")
	close(req.ack)
}

// markCancelled persists the cancellation. The in-memory job state is not
// read, since an abandoned task may still be writing to it.
func (e *Engine) markCancelled(ctx context.Context, en *entry, msg string) {
	now := time.Now()
	en.row.Status = models.JobStatusCancelled
	en.row.Message = &msg
	en.row.CompletedAt = &now
	e.persist(ctx, en, "status", "message", "completed_at")
	jobsFinishedTotal.WithLabelValues(en.job.Kind(), models.JobStatusCancelled).Inc()
}

func (e *Engine) fail(ctx context.Context, en *entry, jl *joblogs.JobLogger, err error) {
	jl.Fatal("job failed", err, nil)
	now := time.Now()
	msg := err.Error()
	en.row.Status = models.JobStatusFailed
	en.row.Message = &msg
	en.row.CompletedAt = &now
	e.persist(ctx, en, "status", "message", "completed_at")
	jobsFinishedTotal.WithLabelValues(en.job.Kind(), models.JobStatusFailed).Inc()
}

func (e *Engine) storeOutput(ctx context.Context, en *entry) {
	out, err := en.job.output()
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("marshal output error")
		return
	}
	en.row.Output = string(out)
}

// persist writes columns of the job row and publishes the change. Failures are
// logged since the worker has nobody to return them to.
func (e *Engine) persist(ctx context.Context, en *entry, columns ...string) {
	if err := e.svc.UpdateJob(ctx, en.row, UpdateJobOptions{Columns: columns}); err != nil {
		logger.FromContext(ctx).Err(err).Error("update job error", logger.Data{"columns": columns})
	}
	if en.row.Status != models.JobStatusRunning {
		e.publish(ctx, en, "")
	}
}

func (e *Engine) publish(ctx context.Context, en *entry, message string) {
	if message == "" && en.row.Message != nil {
		message = *en.row.Message
	}
	e.bus.PublishJob(ctx, eventFor(en.job, en.row.Status, message, en.row.CompletedTasks, en.row.TotalTasks))
}
