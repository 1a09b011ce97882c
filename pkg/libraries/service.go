package libraries

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

type RetrieveLibraryOptions struct {
	ID   *int
	Path *string
}

type ListLibrariesOptions struct {
	Limit  *int
	Offset *int

	includeTotal bool
}

type UpdateLibraryOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateLibrary(ctx context.Context, library *models.Library) error {
	now := time.Now()
	if library.CreatedAt.IsZero() {
		library.CreatedAt = now
	}
	library.UpdatedAt = library.CreatedAt
	library.Path = filepath.Clean(library.Path)
	if library.Status == "" {
		library.Status = models.LibraryStatusReady
	}
	if library.Pattern == "" {
		library.Pattern = models.LibraryPatternSeriesBased
	}
	if err := library.MarshalConfig(); err != nil {
		return err
	}

	_, err := svc.db.
		NewInsert().
		Model(library).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return library.UnmarshalConfig()
}

func (svc *Service) RetrieveLibrary(ctx context.Context, opts RetrieveLibraryOptions) (*models.Library, error) {
	library := &models.Library{}

	q := svc.db.
		NewSelect().
		Model(library)

	if opts.ID != nil {
		q = q.Where("l.id = ?", *opts.ID)
	}
	if opts.Path != nil {
		q = q.Where("l.path = ?", filepath.Clean(*opts.Path))
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Library")
		}
		return nil, errors.WithStack(err)
	}

	return library, library.UnmarshalConfig()
}

func (svc *Service) ListLibraries(ctx context.Context, opts ListLibrariesOptions) ([]*models.Library, error) {
	l, _, err := svc.listLibrariesWithTotal(ctx, opts)
	return l, errors.WithStack(err)
}

func (svc *Service) ListLibrariesWithTotal(ctx context.Context, opts ListLibrariesOptions) ([]*models.Library, int, error) {
	opts.includeTotal = true
	return svc.listLibrariesWithTotal(ctx, opts)
}

func (svc *Service) listLibrariesWithTotal(ctx context.Context, opts ListLibrariesOptions) ([]*models.Library, int, error) {
	libraries := []*models.Library{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&libraries).
		Order("l.name ASC")

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

	for _, library := range libraries {
		if err := library.UnmarshalConfig(); err != nil {
			return nil, 0, err
		}
	}

	return libraries, total, nil
}

func (svc *Service) UpdateLibrary(ctx context.Context, library *models.Library, opts UpdateLibraryOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	for _, col := range opts.Columns {
		if col == "config" {
			if err := library.MarshalConfig(); err != nil {
				return err
			}
		}
	}

	// Update updated_at.
	library.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(library).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errcodes.NotFound("Library")
	}
	return nil
}

// MarkScanned records a finished scan and the library's presence on disk.
func (svc *Service) MarkScanned(ctx context.Context, library *models.Library, status string) error {
	now := time.Now()
	library.Status = status
	library.LastScannedAt = &now
	return svc.UpdateLibrary(ctx, library, UpdateLibraryOptions{Columns: []string{"status", "last_scanned_at"}})
}

// DeleteLibrary removes the library with its series and media, and returns
// the ids of the deleted media so generated files can be cleaned up.
func (svc *Service) DeleteLibrary(ctx context.Context, id int) ([]int, error) {
	mediaIDs := []int{}
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*models.Library)(nil)).Where("id = ?", id).Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Library")
		}

		err = tx.NewSelect().
			Model((*models.Media)(nil)).
			Column("id").
			Where("library_id = ?", id).
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
		}
		if _, err := tx.NewDelete().Model((*models.Media)(nil)).Where("library_id = ?", id).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
		if _, err := tx.NewDelete().Model((*models.Series)(nil)).Where("library_id = ?", id).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
		if _, err := tx.NewDelete().Model((*models.Library)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return errors.WithStack(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mediaIDs, nil
}
