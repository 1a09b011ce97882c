// Package scanner reconciles the contents of a library directory with the
// series and media stored for it.
package scanner

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/media"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stacksapp/stacks/pkg/series"
	"github.com/uptrace/bun"
)

// Entity names the kind of record a status change applies to.
type Entity string

const (
	EntitySeries Entity = "series"
	EntityMedia  Entity = "media"
)

// Storage is everything a scan reads and writes.
type Storage interface {
	RetrieveSeries(ctx context.Context, id int) (*models.Series, error)
	FindSeriesByPaths(ctx context.Context, paths []string) ([]*models.Series, error)
	ListSeriesByLibrary(ctx context.Context, libraryID int) ([]*models.Series, error)
	FindMediaBySeries(ctx context.Context, seriesID int) ([]*models.Media, error)
	FindMediaByPaths(ctx context.Context, paths []string) ([]*models.Media, error)
	CreateSeries(ctx context.Context, series *models.Series) error
	UpdateSeries(ctx context.Context, series *models.Series, columns []string) error
	// CreateMedia inserts every record or none of them.
	CreateMedia(ctx context.Context, media ...*models.Media) error
	UpdateMedia(ctx context.Context, media *models.Media, columns []string, withMetadata bool) error
	// MarkMissing flags the records at paths missing and returns how many
	// changed. Missing series take their media with them.
	MarkMissing(ctx context.Context, entity Entity, libraryID int, paths []string) (int, error)
	MarkPresent(ctx context.Context, entity Entity, libraryID int, paths []string) (int, error)
	MarkLibraryMissing(ctx context.Context, libraryID int) error
}

type dbStorage struct {
	series *series.Service
	media  *media.Service
}

// NewStorage returns the database backed Storage.
func NewStorage(db *bun.DB) Storage {
	return &dbStorage{
		series: series.NewService(db),
		media:  media.NewService(db),
	}
}

func (s *dbStorage) RetrieveSeries(ctx context.Context, id int) (*models.Series, error) {
	return s.series.RetrieveSeriesByID(ctx, id)
}

func (s *dbStorage) FindSeriesByPaths(ctx context.Context, paths []string) ([]*models.Series, error) {
	return s.series.FindSeriesByPaths(ctx, paths)
}

func (s *dbStorage) ListSeriesByLibrary(ctx context.Context, libraryID int) ([]*models.Series, error) {
	return s.series.ListSeries(ctx, series.ListSeriesOptions{LibraryID: &libraryID})
}

func (s *dbStorage) FindMediaBySeries(ctx context.Context, seriesID int) ([]*models.Media, error) {
	return s.media.FindMediaBySeries(ctx, seriesID)
}

func (s *dbStorage) FindMediaByPaths(ctx context.Context, paths []string) ([]*models.Media, error) {
	if paths == nil {
		paths = []string{}
	}
	return s.media.ListMedia(ctx, media.ListMediaOptions{Paths: paths})
}

func (s *dbStorage) CreateSeries(ctx context.Context, series *models.Series) error {
	return s.series.CreateSeries(ctx, series)
}

func (s *dbStorage) UpdateSeries(ctx context.Context, m *models.Series, columns []string) error {
	return s.series.UpdateSeries(ctx, m, series.UpdateSeriesOptions{Columns: columns})
}

func (s *dbStorage) CreateMedia(ctx context.Context, m ...*models.Media) error {
	return s.media.CreateMedia(ctx, m...)
}

func (s *dbStorage) UpdateMedia(ctx context.Context, m *models.Media, columns []string, withMetadata bool) error {
	return s.media.UpdateMedia(ctx, m, media.UpdateMediaOptions{Columns: columns, Metadata: withMetadata})
}

func (s *dbStorage) MarkMissing(ctx context.Context, entity Entity, libraryID int, paths []string) (int, error) {
	switch entity {
	case EntitySeries:
		return s.series.SetStatus(ctx, libraryID, paths, models.SeriesStatusMissing)
	case EntityMedia:
		return s.media.SetStatus(ctx, paths, models.MediaStatusMissing)
	}
	return 0, errors.Errorf("unknown entity %q", entity)
}

func (s *dbStorage) MarkPresent(ctx context.Context, entity Entity, libraryID int, paths []string) (int, error) {
	switch entity {
	case EntitySeries:
		return s.series.SetStatus(ctx, libraryID, paths, models.SeriesStatusReady)
	case EntityMedia:
		return s.media.SetStatus(ctx, paths, models.MediaStatusReady)
	}
	return 0, errors.Errorf("unknown entity %q", entity)
}

func (s *dbStorage) MarkLibraryMissing(ctx context.Context, libraryID int) error {
	return s.media.MarkLibraryMissing(ctx, libraryID)
}
