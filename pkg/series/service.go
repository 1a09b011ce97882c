package series

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveSeriesOptions struct {
	ID   *int
	Path *string
}

type ListSeriesOptions struct {
	Limit     *int
	Offset    *int
	LibraryID *int
	Status    *string
	Paths     []string

	includeTotal bool
}

type UpdateSeriesOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateSeries(ctx context.Context, series *models.Series) error {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = series.CreatedAt
	series.Path = filepath.Clean(series.Path)
	if series.Name == "" {
		series.Name = filepath.Base(series.Path)
	}
	if series.Status == "" {
		series.Status = models.SeriesStatusReady
	}

	_, err := svc.db.
		NewInsert().
		Model(series).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	series := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(series).
		Relation("Library")

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.Path != nil {
		q = q.Where("s.path = ?", filepath.Clean(*opts.Path))
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}
	if series.Library != nil {
		if err := series.Library.UnmarshalConfig(); err != nil {
			return nil, err
		}
	}

	return series, nil
}

// RetrieveSeriesByID retrieves a series by its ID.
func (svc *Service) RetrieveSeriesByID(ctx context.Context, id int) (*models.Series, error) {
	return svc.RetrieveSeries(ctx, RetrieveSeriesOptions{ID: &id})
}

func (svc *Service) ListSeries(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, error) {
	s, _, err := svc.listSeriesWithTotal(ctx, opts)
	return s, errors.WithStack(err)
}

func (svc *Service) ListSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	opts.includeTotal = true
	return svc.listSeriesWithTotal(ctx, opts)
}

func (svc *Service) listSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	series := []*models.Series{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&series).
		ColumnExpr("s.*").
		ColumnExpr("(SELECT COUNT(*) FROM media m WHERE m.series_id = s.id) AS media_count").
		Order("s.path ASC")

	if opts.LibraryID != nil {
		q = q.Where("s.library_id = ?", *opts.LibraryID)
	}
	if opts.Status != nil {
		q = q.Where("s.status = ?", *opts.Status)
	}
	if opts.Paths != nil {
		if len(opts.Paths) == 0 {
			return series, 0, nil
		}
		q = q.Where("s.path IN (?)", bun.In(opts.Paths))
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return series, total, nil
}

// FindSeriesByPaths returns the series stored at any of paths.
func (svc *Service) FindSeriesByPaths(ctx context.Context, paths []string) ([]*models.Series, error) {
	cleaned := make([]string, len(paths))
	for i, p := range paths {
		cleaned[i] = filepath.Clean(p)
	}
	return svc.ListSeries(ctx, ListSeriesOptions{Paths: cleaned})
}

func (svc *Service) UpdateSeries(ctx context.Context, series *models.Series, opts UpdateSeriesOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	series.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(series).
		Column(columns...).
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

// SetStatus sets the status of the series at paths and of all their media.
// It returns how many series changed.
func (svc *Service) SetStatus(ctx context.Context, libraryID int, paths []string, status string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	var affected int64
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		res, err := tx.NewUpdate().
			Model((*models.Series)(nil)).
			Set("status = ?", status).
			Set("updated_at = ?", now).
			Where("library_id = ?", libraryID).
			Where("path IN (?)", bun.In(paths)).
			Where("status != ?", status).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		affected, _ = res.RowsAffected()

		if status != models.SeriesStatusMissing {
			return nil
		}
		_, err = tx.NewUpdate().
			Model((*models.Media)(nil)).
			Set("status = ?", models.MediaStatusMissing).
			Set("updated_at = ?", now).
			Where("series_id IN (?)", tx.NewSelect().Model((*models.Series)(nil)).Column("id").Where("library_id = ?", libraryID).Where("path IN (?)", bun.In(paths))).
			Exec(ctx)
		return errors.WithStack(err)
	})
	return int(affected), err
}

// DeleteSeries removes a series and its media and returns the deleted media
// ids.
func (svc *Service) DeleteSeries(ctx context.Context, id int) ([]int, error) {
	mediaIDs := []int{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*models.Series)(nil)).Where("id = ?", id).Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Series")
		}

		err = tx.NewSelect().
			Model((*models.Media)(nil)).
			Column("id").
			Where("series_id = ?", id).
			Order("id ASC").
			Scan(ctx, &mediaIDs)
		if err != nil {
			return errors.WithStack(err)
		}
		if len(mediaIDs) > 0 {
			if _, err := tx.NewDelete().Model((*models.PageDimensions)(nil)).Where("media_id IN (?)", bun.In(mediaIDs)).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			if _, err := tx.NewDelete().Model((*models.MediaMetadata)(nil)).Where("media_id IN (?)", bun.In(mediaIDs)).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			if _, err := tx.NewDelete().Model((*models.Media)(nil)).Where("series_id = ?", id).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		_, err = tx.NewDelete().Model((*models.Series)(nil)).Where("id = ?", id).Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return nil, err
	}
	return mediaIDs, nil
}
