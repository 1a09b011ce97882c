package pagedims

import (
	"bytes"
	"context"
	"database/sql"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/archive"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/uptrace/bun"
	_ "golang.org/x/image/webp" // register decoder
)

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) RetrieveDimensions(ctx context.Context, mediaID int) ([]Dimension, error) {
	row := &models.PageDimensions{}
	err := svc.db.
		NewSelect().
		Model(row).
		Where("pd.media_id = ?", mediaID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Page dimensions")
		}
		return nil, errors.WithStack(err)
	}
	return Decode(row.Dimensions)
}

func (svc *Service) SaveDimensions(ctx context.Context, mediaID int, dims []Dimension) error {
	now := time.Now()
	row := &models.PageDimensions{
		CreatedAt:  now,
		UpdatedAt:  now,
		MediaID:    mediaID,
		Dimensions: Encode(dims),
	}
	_, err := svc.db.
		NewInsert().
		Model(row).
		On("CONFLICT (media_id) DO UPDATE").
		Set("dimensions = EXCLUDED.dimensions").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return errors.WithStack(err)
}

// RetrieveOrAnalyze returns the stored dimensions for media, analyzing and
// storing them first when there are none yet.
func (svc *Service) RetrieveOrAnalyze(ctx context.Context, media *models.Media) ([]Dimension, error) {
	dims, err := svc.RetrieveDimensions(ctx, media.ID)
	if err == nil {
		return dims, nil
	}
	if !errors.Is(err, errcodes.NotFound("Page dimensions")) {
		return nil, err
	}

	p, err := archive.Open(media.Path, archive.OpenOptions{})
	if err != nil {
		return nil, err
	}
	dims, err = Analyze(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := svc.SaveDimensions(ctx, media.ID, dims); err != nil {
		return nil, err
	}
	return dims, nil
}

// Analyze decodes the header of every page. Pages that are not raster images
// (EPUB chapters, for one) are recorded as 0,0.
func Analyze(ctx context.Context, p archive.Processor) ([]Dimension, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"path": p.Path()})

	count, err := p.PageCount()
	if err != nil {
		return nil, err
	}

	dims := make([]Dimension, 0, count)
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		contentType, data, err := p.Page(n)
		if err != nil {
			log.Err(err).Warn("page read error", logger.Data{"page": n})
			dims = append(dims, Dimension{})
			continue
		}
		if !strings.HasPrefix(contentType, "image/") {
			dims = append(dims, Dimension{})
			continue
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			dims = append(dims, Dimension{})
			continue
		}
		dims = append(dims, Dimension{Height: cfg.Height, Width: cfg.Width})
	}
	return dims, nil
}
