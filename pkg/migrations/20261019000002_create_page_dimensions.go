package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		return execAll(db,
			`CREATE TABLE page_dimensions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				media_id INTEGER NOT NULL REFERENCES media(id) ON DELETE CASCADE,
				dimensions TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_page_dimensions_media_id ON page_dimensions(media_id)`,
		)
	}

	down := func(_ context.Context, db *bun.DB) error {
		return execAll(db, `DROP TABLE IF EXISTS page_dimensions`)
	}

	Migrations.MustRegister(up, down)
}
