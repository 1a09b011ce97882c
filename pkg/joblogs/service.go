package joblogs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/uptrace/bun"
)

type ListJobLogsOptions struct {
	JobID   string
	AfterID *int
	Levels  []string
	Limit   *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJobLog(ctx context.Context, log *models.JobLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err := svc.db.
		NewInsert().
		Model(log).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) ListJobLogs(ctx context.Context, opts ListJobLogsOptions) ([]*models.JobLog, error) {
	logs := []*models.JobLog{}

	q := svc.db.
		NewSelect().
		Model(&logs).
		Where("jl.job_id = ?", opts.JobID).
		Order("jl.id ASC")

	if opts.AfterID != nil {
		q = q.Where("jl.id > ?", *opts.AfterID)
	}
	if len(opts.Levels) > 0 {
		q = q.Where("jl.level IN (?)", bun.In(opts.Levels))
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return logs, nil
}

// CountJobLogs returns the number of rows per level for a job.
func (svc *Service) CountJobLogs(ctx context.Context, jobID string) (map[string]int, error) {
	var rows []struct {
		Level string `bun:"level"`
		Count int    `bun:"count"`
	}
	err := svc.db.
		NewSelect().
		Model((*models.JobLog)(nil)).
		Column("jl.level").
		ColumnExpr("COUNT(*) AS count").
		Where("jl.job_id = ?", jobID).
		Group("jl.level").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Level] = r.Count
	}
	return counts, nil
}
