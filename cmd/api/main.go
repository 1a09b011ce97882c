package main

import (
	"context"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/stacksapp/stacks/pkg/config"
	"github.com/stacksapp/stacks/pkg/database"
	"github.com/stacksapp/stacks/pkg/events"
	"github.com/stacksapp/stacks/pkg/migrations"
	"github.com/stacksapp/stacks/pkg/server"
	"github.com/stacksapp/stacks/pkg/version"
	"github.com/stacksapp/stacks/pkg/worker"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting stacks", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	for _, dir := range []string{cfg.ThumbnailDir, cfg.TrashDir, cfg.ScratchDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Err(err).Fatal("data directory error", logger.Data{"path": dir})
		}
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	bus := events.New(cfg.JobEventBuffer)
	wrkr := worker.New(cfg, db, bus)

	srv, err := server.New(cfg, db, wrkr)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		log.Info("server started", logger.Data{"addr": srv.Addr})
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	if err := wrkr.Start(ctx); err != nil {
		log.Err(err).Fatal("worker error")
	}
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.JobShutdownGracePeriod)
	err = wrkr.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		log.Err(err).Error("worker shutdown error")
	}
	log.Info("worker shutdown")

	err = bus.Close()
	if err != nil {
		log.Err(err).Error("event bus close error")
	}

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
