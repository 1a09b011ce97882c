package media

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

type RetrieveMediaOptions struct {
	ID   *int
	Path *string
}

type ListMediaOptions struct {
	Limit     *int
	Offset    *int
	LibraryID *int
	SeriesID  *int
	IDs       []int
	Paths     []string
	Status    *string

	includeTotal bool
}

type UpdateMediaOptions struct {
	Columns []string
	// Metadata replaces the stored metadata row with media.Metadata.
	Metadata bool
}

type ListDuplicatesOptions struct {
	LibraryID *int
}

// DuplicateGroup is a set of media sharing a content hash.
type DuplicateGroup struct {
	Hash  string          `json:"hash"`
	Media []*models.Media `json:"media"`
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CreateMedia inserts media and their metadata in one transaction.
func (svc *Service) CreateMedia(ctx context.Context, media ...*models.Media) error {
	if len(media) == 0 {
		return nil
	}

	now := time.Now()
	for _, m := range media {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = m.CreatedAt
		m.Path = filepath.Clean(m.Path)
		if m.Status == "" {
			m.Status = models.MediaStatusReady
		}
	}

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.
			NewInsert().
			Model(&media).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		metadata := []*models.MediaMetadata{}
		for _, m := range media {
			if m.Metadata == nil {
				continue
			}
			m.Metadata.MediaID = m.ID
			metadata = append(metadata, m.Metadata)
		}
		if len(metadata) == 0 {
			return nil
		}
		_, err = tx.
			NewInsert().
			Model(&metadata).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
}

func (svc *Service) RetrieveMedia(ctx context.Context, opts RetrieveMediaOptions) (*models.Media, error) {
	media := &models.Media{}

	q := svc.db.
		NewSelect().
		Model(media).
		Relation("Metadata")

	if opts.ID != nil {
		q = q.Where("m.id = ?", *opts.ID)
	}
	if opts.Path != nil {
		q = q.Where("m.path = ?", filepath.Clean(*opts.Path))
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Media")
		}
		return nil, errors.WithStack(err)
	}

	return media, nil
}

// RetrieveMediaByID retrieves a media file by its ID.
func (svc *Service) RetrieveMediaByID(ctx context.Context, id int) (*models.Media, error) {
	return svc.RetrieveMedia(ctx, RetrieveMediaOptions{ID: &id})
}

func (svc *Service) ListMedia(ctx context.Context, opts ListMediaOptions) ([]*models.Media, error) {
	m, _, err := svc.listMediaWithTotal(ctx, opts)
	return m, errors.WithStack(err)
}

func (svc *Service) ListMediaWithTotal(ctx context.Context, opts ListMediaOptions) ([]*models.Media, int, error) {
	opts.includeTotal = true
	return svc.listMediaWithTotal(ctx, opts)
}

func (svc *Service) listMediaWithTotal(ctx context.Context, opts ListMediaOptions) ([]*models.Media, int, error) {
	media := []*models.Media{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&media).
		Relation("Metadata").
		Order("m.path ASC")

	if opts.LibraryID != nil {
		q = q.Where("m.library_id = ?", *opts.LibraryID)
	}
	if opts.SeriesID != nil {
		q = q.Where("m.series_id = ?", *opts.SeriesID)
	}
	if opts.Status != nil {
		q = q.Where("m.status = ?", *opts.Status)
	}
	if opts.IDs != nil {
		if len(opts.IDs) == 0 {
			return media, 0, nil
		}
		q = q.Where("m.id IN (?)", bun.In(opts.IDs))
	}
	if opts.Paths != nil {
		if len(opts.Paths) == 0 {
			return media, 0, nil
		}
		q = q.Where("m.path IN (?)", bun.In(opts.Paths))
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

	return media, total, nil
}

// FindMediaBySeries returns every media file of a series, whatever its status.
func (svc *Service) FindMediaBySeries(ctx context.Context, seriesID int) ([]*models.Media, error) {
	return svc.ListMedia(ctx, ListMediaOptions{SeriesID: &seriesID})
}

// UpdateMedia writes only the listed columns, plus the metadata row when
// requested.
func (svc *Service) UpdateMedia(ctx context.Context, media *models.Media, opts UpdateMediaOptions) error {
	if len(opts.Columns) == 0 && !opts.Metadata {
		return nil
	}

	media.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.
			NewUpdate().
			Model(media).
			Column(columns...).
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if !opts.Metadata || media.Metadata == nil {
			return nil
		}
		_, err = tx.NewDelete().
			Model((*models.MediaMetadata)(nil)).
			Where("media_id = ?", media.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		media.Metadata.ID = 0
		media.Metadata.MediaID = media.ID
		_, err = tx.NewInsert().
			Model(media.Metadata).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// SetStatus sets the status of the media stored at paths and returns how
// many rows changed.
func (svc *Service) SetStatus(ctx context.Context, paths []string, status string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	res, err := svc.db.NewUpdate().
		Model((*models.Media)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("path IN (?)", bun.In(paths)).
		Where("status != ?", status).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := res.RowsAffected()
	return int(n), errors.WithStack(err)
}

// MarkLibraryMissing marks every series and media file of a library missing.
func (svc *Service) MarkLibraryMissing(ctx context.Context, libraryID int) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now()
		_, err := tx.NewUpdate().
			Model((*models.Series)(nil)).
			Set("status = ?", models.SeriesStatusMissing).
			Set("updated_at = ?", now).
			Where("library_id = ?", libraryID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.NewUpdate().
			Model((*models.Media)(nil)).
			Set("status = ?", models.MediaStatusMissing).
			Set("updated_at = ?", now).
			Where("library_id = ?", libraryID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// ListDuplicates groups media whose content hash is shared by at least two
// files. Media without a hash are never duplicates.
func (svc *Service) ListDuplicates(ctx context.Context, opts ListDuplicatesOptions) ([]*DuplicateGroup, error) {
	hashes := svc.db.NewSelect().
		Model((*models.Media)(nil)).
		Column("hash").
		Where("hash IS NOT NULL").
		Group("hash").
		Having("COUNT(*) > 1")
	if opts.LibraryID != nil {
		hashes = hashes.Where("library_id = ?", *opts.LibraryID)
	}

	media := []*models.Media{}
	q := svc.db.NewSelect().
		Model(&media).
		Where("m.hash IN (?)", hashes).
		Order("m.hash ASC", "m.path ASC")
	if opts.LibraryID != nil {
		q = q.Where("m.library_id = ?", *opts.LibraryID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}

	groups := []*DuplicateGroup{}
	for _, m := range media {
		if len(groups) == 0 || groups[len(groups)-1].Hash != *m.Hash {
			groups = append(groups, &DuplicateGroup{Hash: *m.Hash})
		}
		g := groups[len(groups)-1]
		g.Media = append(g.Media, m)
	}
	return groups, nil
}
