package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

// BringUpToDate creates the migration tables if needed and applies every
// pending migration as one group.
func BringUpToDate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	err := migrator.Init(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return group, nil
}

// Status summarizes which migrations a database has applied.
type Status struct {
	Applied   []string
	Pending   []string
	LastGroup int64
}

// CurrentStatus creates the migration tables if needed and reports the
// applied and pending migrations by name.
func CurrentStatus(ctx context.Context, db *bun.DB) (*Status, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	status := &Status{Applied: []string{}, Pending: []string{}, LastGroup: ms.LastGroupID()}
	for _, m := range ms {
		if m.IsApplied() {
			status.Applied = append(status.Applied, m.Name)
		} else {
			status.Pending = append(status.Pending, m.Name)
		}
	}
	return status, nil
}

// execAll runs each statement in order and stops at the first failure.
func execAll(db *bun.DB, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "executing %q", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' && i > 0 {
			return stmt[:i]
		}
	}
	return stmt
}
