package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/database"
	"github.com/stacksapp/stacks/pkg/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	var db *bun.DB
	app := &cli.App{
		Name:  "migrations",
		Usage: "manage the library database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database", EnvVars: []string{"DATABASE_FILE_PATH"}, Usage: "database file"},
		},
		// The database is opened lazily so that help and create work without
		// a configured environment.
		Before: func(c *cli.Context) error {
			switch c.Args().First() {
			case "", "create", "help", "h":
				return nil
			}
			if path := c.String("database"); path != "" {
				if err := os.Setenv("DATABASE_FILE_PATH", path); err != nil {
					return err
				}
			}
			cfg, err := config.New()
			if err != nil {
				return err
			}
			db, err = database.New(cfg)
			return err
		},
		After: func(_ *cli.Context) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "create the migration tables and apply every pending migration",
				Action: func(c *cli.Context) error {
					group, err := migrations.BringUpToDate(c.Context, db)
					if err != nil {
						return err
					}
					if group.ID == 0 {
						fmt.Println("Database is up to date")
						return nil
					}
					fmt.Printf("Migrated to %s\n", group)
					return nil
				},
			},
			{
				Name:  "rollback",
				Usage: "roll back the last migration group",
				Action: func(c *cli.Context) error {
					migrator := migrate.NewMigrator(db, migrations.Migrations)
					group, err := migrator.Rollback(c.Context)
					if err != nil {
						return err
					}
					if group.ID == 0 {
						fmt.Println("There are no groups to roll back")
						return nil
					}
					fmt.Printf("Rolled back %s\n", group)
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "list applied and pending migrations",
				Action: func(c *cli.Context) error {
					status, err := migrations.CurrentStatus(c.Context, db)
					if err != nil {
						return err
					}
					printStatus(status)
					return nil
				},
			},
			{
				Name:  "check",
				Usage: "exit non-zero when migrations are pending",
				Action: func(c *cli.Context) error {
					status, err := migrations.CurrentStatus(c.Context, db)
					if err != nil {
						return err
					}
					if len(status.Pending) > 0 {
						printStatus(status)
						return cli.Exit(fmt.Sprintf("%d pending migrations", len(status.Pending)), 1)
					}
					return nil
				},
			},
			{
				Name:      "create",
				Usage:     "write a new migration file into pkg/migrations",
				ArgsUsage: "<name words>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return cli.Exit("a migration name is required", 2)
					}
					migrator := migrate.NewMigrator(nil, migrations.Migrations)
					name := strings.Join(c.Args().Slice(), "_")
					mf, err := migrator.CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
					if err != nil {
						return err
					}
					fmt.Printf("Created migration %s (%s)\n", mf.Name, mf.Path)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("migrations error")
	}
}

func printStatus(status *migrations.Status) {
	fmt.Printf("Last group: %d\n", status.LastGroup)
	fmt.Printf("Applied (%d):\n", len(status.Applied))
	for _, name := range status.Applied {
		fmt.Printf("  %s\n", name)
	}
	fmt.Printf("Pending (%d):\n", len(status.Pending))
	for _, name := range status.Pending {
		fmt.Printf("  %s\n", name)
	}
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		return execAll(db, ` + "``" + `)
	}

	down := func(_ context.Context, db *bun.DB) error {
		return execAll(db, ` + "``" + `)
	}

	Migrations.MustRegister(up, down)
}
`
