package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		return execAll(db,
			`CREATE TABLE jobs (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				kind TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				library_id INTEGER REFERENCES libraries(id) ON DELETE SET NULL,
				params TEXT,
				output TEXT,
				save_state TEXT,
				completed_tasks INTEGER NOT NULL DEFAULT 0,
				total_tasks INTEGER NOT NULL DEFAULT 0,
				message TEXT,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ
			)`,
			`CREATE INDEX ix_jobs_status_created_at ON jobs(status, created_at)`,
			`CREATE INDEX ix_jobs_kind_library_id ON jobs(kind, library_id)`,
			`CREATE TABLE job_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				data TEXT,
				stack_trace TEXT
			)`,
			`CREATE INDEX ix_job_logs_job_id ON job_logs(job_id)`,
		)
	}

	down := func(_ context.Context, db *bun.DB) error {
		return execAll(db,
			`DROP TABLE IF EXISTS job_logs`,
			`DROP TABLE IF EXISTS jobs`,
		)
	}

	Migrations.MustRegister(up, down)
}
