package joblogs

import (
	"context"
	"runtime/debug"

	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/models"
)

const maxDataValueLen = 1024

// JobLogger writes to the process log and to the job_logs table.
type JobLogger struct {
	jobID   string
	service *Service
	log     logger.Logger
	ctx     context.Context
	fields  logger.Data
}

// NewJobLogger creates a JobLogger for jobID. Rows are written even after ctx
// is cancelled so that a cancelled job still records why it stopped.
func (svc *Service) NewJobLogger(ctx context.Context, jobID string, log logger.Logger) *JobLogger {
	return &JobLogger{
		jobID:   jobID,
		service: svc,
		log:     log.Data(logger.Data{"job_id": jobID}),
		ctx:     context.WithoutCancel(ctx),
	}
}

// With returns a logger that adds fields to every line.
func (l *JobLogger) With(fields logger.Data) *JobLogger {
	merged := logger.Data{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &JobLogger{
		jobID:   l.jobID,
		service: l.service,
		log:     l.log,
		ctx:     l.ctx,
		fields:  merged,
	}
}

// Logger exposes the underlying process logger.
func (l *JobLogger) Logger() logger.Logger {
	return l.log
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	data = l.merge(data)
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data, nil)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	data = l.merge(data)
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data, nil)
}

// Error logs err along with the current stack.
func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	data = l.merge(data)
	l.log.Err(err).Error(msg, data)
	if err != nil {
		data["error"] = err.Error()
	}
	stack := string(debug.Stack())
	l.persist(models.JobLogLevelError, msg, data, &stack)
}

// Fatal records the error that ended the job.
func (l *JobLogger) Fatal(msg string, err error, data logger.Data) {
	data = l.merge(data)
	if err != nil {
		data["error"] = err.Error()
	}
	l.log.Error(msg, data)
	stack := string(debug.Stack())
	l.persist(models.JobLogLevelFatal, msg, data, &stack)
}

func (l *JobLogger) merge(data logger.Data) logger.Data {
	merged := logger.Data{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	return merged
}

func (l *JobLogger) persist(level, msg string, data logger.Data, stackTrace *string) {
	var dataStr *string
	if len(data) > 0 {
		truncated := make(logger.Data, len(data))
		for k, v := range data {
			if s, ok := v.(string); ok && len(s) > maxDataValueLen {
				v = truncateMiddle(s, maxDataValueLen)
			}
			truncated[k] = v
		}
		if b, err := json.Marshal(truncated); err == nil {
			s := string(b)
			dataStr = &s
		}
	}

	err := l.service.CreateJobLog(l.ctx, &models.JobLog{
		JobID:      l.jobID,
		Level:      level,
		Message:    msg,
		Data:       dataStr,
		StackTrace: stackTrace,
	})
	if err != nil {
		l.log.Err(err).Warn("failed to persist job log")
	}
}

func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	half := (maxLen - 5) / 2
	return s[:half] + " ... " + s[len(s)-half:]
}
