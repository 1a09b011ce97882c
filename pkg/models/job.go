package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCancelled = "cancelled"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const (
	JobKindLibraryScan = "library_scan"
	JobKindSeriesScan  = "series_scan"
	JobKindThumbnails  = "thumbnails"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID             string     `bun:",pk" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Kind           string     `bun:",nullzero" json:"kind"`
	Name           string     `bun:",nullzero" json:"name"`
	Status         string     `bun:",nullzero" json:"status"`
	LibraryID      *int       `json:"library_id,omitempty"`
	Params         string     `bun:",nullzero" json:"-"`
	Output         string     `bun:",nullzero" json:"-"`
	SaveState      *string    `json:"-"`
	CompletedTasks int        `json:"completed_tasks"`
	TotalTasks     int        `json:"total_tasks"`
	Message        *string    `json:"message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (job *Job) Terminal() bool {
	switch job.Status {
	case JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Active reports whether the job is queued or occupying the worker.
func (job *Job) Active() bool {
	return job.Status == JobStatusQueued || job.Status == JobStatusRunning || job.Status == JobStatusPaused
}
