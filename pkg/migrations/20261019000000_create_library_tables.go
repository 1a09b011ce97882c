package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		return execAll(db,
			`CREATE TABLE libraries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				path TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'ready',
				pattern TEXT NOT NULL DEFAULT 'series_based',
				config TEXT,
				last_scanned_at TIMESTAMPTZ
			)`,
			`CREATE UNIQUE INDEX ux_libraries_path ON libraries(path)`,
			`CREATE TABLE series (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
				path TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'ready',
				summary TEXT,
				publisher TEXT,
				age_rating INTEGER
			)`,
			`CREATE UNIQUE INDEX ux_series_path ON series(path)`,
			`CREATE INDEX ix_series_library_id ON series(library_id)`,
			`CREATE TABLE media (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
				series_id INTEGER NOT NULL REFERENCES series(id) ON DELETE CASCADE,
				path TEXT NOT NULL,
				name TEXT NOT NULL,
				extension TEXT NOT NULL,
				size INTEGER NOT NULL DEFAULT 0,
				page_count INTEGER NOT NULL DEFAULT 0,
				hash TEXT,
				koreader_hash TEXT,
				status TEXT NOT NULL DEFAULT 'ready',
				modified_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE UNIQUE INDEX ux_media_path ON media(path)`,
			`CREATE INDEX ix_media_series_id ON media(series_id)`,
			`CREATE INDEX ix_media_library_id ON media(library_id)`,
			`CREATE INDEX ix_media_hash ON media(hash)`,
			`CREATE TABLE media_metadata (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				media_id INTEGER NOT NULL REFERENCES media(id) ON DELETE CASCADE,
				title TEXT,
				series TEXT,
				number REAL,
				volume INTEGER,
				summary TEXT,
				notes TEXT,
				publisher TEXT,
				imprint TEXT,
				language TEXT,
				format TEXT,
				web TEXT,
				age_rating INTEGER,
				year INTEGER,
				month INTEGER,
				day INTEGER,
				page_count INTEGER,
				writers TEXT,
				pencillers TEXT,
				inkers TEXT,
				colorists TEXT,
				letterers TEXT,
				cover_artists TEXT,
				editors TEXT,
				genres TEXT,
				tags TEXT,
				characters TEXT,
				teams TEXT
			)`,
			`CREATE UNIQUE INDEX ux_media_metadata_media_id ON media_metadata(media_id)`,
		)
	}

	down := func(_ context.Context, db *bun.DB) error {
		return execAll(db,
			`DROP TABLE IF EXISTS media_metadata`,
			`DROP TABLE IF EXISTS media`,
			`DROP TABLE IF EXISTS series`,
			`DROP TABLE IF EXISTS libraries`,
		)
	}

	Migrations.MustRegister(up, down)
}
