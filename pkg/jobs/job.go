package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/joblogs"
)

// maxErrors bounds how many non-fatal errors a job keeps in its state. Every
// error is still written to the job logs.
const maxErrors = 100

// Handler implements a job kind. O is the output accumulated across tasks and
// T is the task type. Both must round trip through JSON so that a paused job
// can be restored.
type Handler[O, T any] interface {
	// Init computes the initial output and task queue. It's called once per
	// job lifetime and skipped when the job is restored from a save state.
	Init(ctx context.Context, run *Run) (O, []T, error)
	// ExecuteTask runs one task, updating output in place. Returned tasks run
	// before anything already queued.
	ExecuteTask(ctx context.Context, run *Run, output *O, task T) ([]T, error)
	// Finish runs once after the queue drains.
	Finish(ctx context.Context, run *Run, output *O) error
}

// State is the working state of a job.
type State[O, T any] struct {
	Output         O        `json:"output"`
	Tasks          []T      `json:"tasks"`
	CompletedTasks int      `json:"completed_tasks"`
	Errors         []string `json:"errors,omitempty"`
}

type snapshot struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

// Job is a unit the engine can run. The only implementation is *Typed.
type Job interface {
	ID() string
	Kind() string
	Name() string
	LibraryID() *int
	Params() ([]byte, error)

	init(ctx context.Context, run *Run) error
	restore(data []byte) error
	snapshot() ([]byte, error)
	done() bool
	step(ctx context.Context, run *Run) error
	finish(ctx context.Context, run *Run) error
	progress() (completed, total int)
	output() ([]byte, error)
}

type Typed[O, T any] struct {
	id        string
	kind      string
	version   int
	name      string
	libraryID *int
	params    interface{}
	handler   Handler[O, T]

	state State[O, T]
}

// New creates a job of kind backed by handler. version must be bumped when
// the shape of O or T changes, so that stale save states are rejected.
func New[O, T any](kind string, version int, name string, params interface{}, handler Handler[O, T]) *Typed[O, T] {
	return &Typed[O, T]{
		id:      uuid.New().String(),
		kind:    kind,
		version: version,
		name:    name,
		params:  params,
		handler: handler,
	}
}

// WithID replaces the generated id, which is how a persisted job is rebuilt.
func (t *Typed[O, T]) WithID(id string) *Typed[O, T] {
	t.id = id
	return t
}

func (t *Typed[O, T]) WithLibrary(libraryID int) *Typed[O, T] {
	t.libraryID = &libraryID
	return t
}

func (t *Typed[O, T]) ID() string      { return t.id }
func (t *Typed[O, T]) Kind() string    { return t.kind }
func (t *Typed[O, T]) Name() string    { return t.name }
func (t *Typed[O, T]) LibraryID() *int { return t.libraryID }

func (t *Typed[O, T]) Params() ([]byte, error) {
	if t.params == nil {
		return nil, nil
	}
	b, err := json.Marshal(t.params)
	return b, errors.WithStack(err)
}

// State returns the current working state. It must not be called while the
// job is running.
func (t *Typed[O, T]) State() State[O, T] {
	return t.state
}

func (t *Typed[O, T]) init(ctx context.Context, run *Run) error {
	output, tasks, err := t.handler.Init(ctx, run)
	if err != nil {
		return err
	}
	t.state = State[O, T]{Output: output, Tasks: tasks}
	t.collect(run)
	return nil
}

func (t *Typed[O, T]) restore(data []byte) error {
	s := snapshot{}
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "unreadable save state")
	}
	if s.Kind != t.kind || s.Version != t.version {
		return errors.Errorf("save state is for %s v%d, expected %s v%d", s.Kind, s.Version, t.kind, t.version)
	}
	state := State[O, T]{}
	if err := json.Unmarshal(s.State, &state); err != nil {
		return errors.Wrap(err, "unreadable save state")
	}
	t.state = state
	return nil
}

func (t *Typed[O, T]) snapshot() ([]byte, error) {
	state, err := json.Marshal(t.state)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	b, err := json.Marshal(snapshot{Kind: t.kind, Version: t.version, State: state})
	return b, errors.WithStack(err)
}

func (t *Typed[O, T]) done() bool {
	return len(t.state.Tasks) == 0
}

func (t *Typed[O, T]) step(ctx context.Context, run *Run) error {
	task := t.state.Tasks[0]
	subtasks, err := t.handler.ExecuteTask(ctx, run, &t.state.Output, task)
	t.collect(run)
	if err != nil {
		return err
	}

	rest := t.state.Tasks[1:]
	queue := make([]T, 0, len(subtasks)+len(rest))
	queue = append(queue, subtasks...)
	t.state.Tasks = append(queue, rest...)
	t.state.CompletedTasks++
	return nil
}

func (t *Typed[O, T]) finish(ctx context.Context, run *Run) error {
	err := t.handler.Finish(ctx, run, &t.state.Output)
	t.collect(run)
	return err
}

func (t *Typed[O, T]) progress() (int, int) {
	return t.state.CompletedTasks, t.state.CompletedTasks + len(t.state.Tasks)
}

func (t *Typed[O, T]) output() ([]byte, error) {
	b, err := json.Marshal(t.state.Output)
	return b, errors.WithStack(err)
}

func (t *Typed[O, T]) collect(run *Run) {
	for _, msg := range run.drain() {
		if len(t.state.Errors) >= maxErrors {
			break
		}
		t.state.Errors = append(t.state.Errors, msg)
	}
}

// Run is handed to handlers for the lifetime of one execution.
type Run struct {
	JobID string
	Log   *joblogs.JobLogger

	publish func(ctx context.Context, message string, completed, total int)

	mu   sync.Mutex
	errs []string
}

// Fail records a non-fatal error. The job keeps going.
func (r *Run) Fail(msg string, err error, data logger.Data) {
	r.Log.Error(msg, err, data)
	line := msg
	if err != nil {
		line = msg + ": " + err.Error()
	}
	r.mu.Lock()
	r.errs = append(r.errs, line)
	r.mu.Unlock()
}

// Report publishes a progress event without touching the job state, for work
// that completes out of order inside a single task.
func (r *Run) Report(ctx context.Context, message string, completed, total int) {
	if r.publish != nil {
		r.publish(ctx, message, completed, total)
	}
}

func (r *Run) drain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := r.errs
	r.errs = nil
	return errs
}

// eventFor builds the progress event of a job.
func eventFor(job Job, status, message string, completed, total int) events.JobEvent {
	return events.JobEvent{
		JobID:          job.ID(),
		Kind:           job.Kind(),
		Name:           job.Name(),
		Status:         status,
		Message:        message,
		LibraryID:      job.LibraryID(),
		CompletedTasks: completed,
		TotalTasks:     total,
	}
}
