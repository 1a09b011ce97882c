package scanner

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/models"
)

// Plan is one batch of changes for a single library.
type Plan struct {
	LibraryID int
	Missing   []string
	Create    []*models.Media
	Update    []Update
}

// Update is a freshly built record for the media stored at Path. The
// record's own path differs from Path when the file was converted.
type Update struct {
	Path  string
	Media *models.Media
}

// Failure is a file that could not be written.
type Failure struct {
	Path string
	Err  error
}

type Outcome struct {
	Missing   int
	Created   []*models.Media
	Updated   []*models.Media
	Unchanged int
	Failed    []Failure
}

// Reconciler applies a Plan to storage. It never deletes anything.
type Reconciler struct {
	storage   Storage
	batchSize int
}

func NewReconciler(storage Storage, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Reconciler{storage: storage, batchSize: batchSize}
}

// Apply marks missing paths first, then creates in batches, then merges the
// updates into the stored records. Storage errors on the missing step abort
// the plan; errors on individual files are returned in Outcome.Failed.
func (r *Reconciler) Apply(ctx context.Context, plan Plan) (*Outcome, error) {
	log := logger.FromContext(ctx)
	out := &Outcome{}

	if len(plan.Missing) > 0 {
		n, err := r.storage.MarkMissing(ctx, EntityMedia, plan.LibraryID, plan.Missing)
		if err != nil {
			return nil, errors.Wrap(err, "mark missing")
		}
		out.Missing = n
	}

	for batch := range slices.Chunk(plan.Create, r.batchSize) {
		if err := ctx.Err(); err != nil {
			return out, errors.WithStack(err)
		}
		err := r.storage.CreateMedia(ctx, batch...)
		if err == nil {
			out.Created = append(out.Created, batch...)
			continue
		}
		log.Err(err).Warn("batch insert error, retrying one at a time", logger.Data{"size": len(batch)})
		for _, m := range batch {
			resetIDs(m)
			if err := r.storage.CreateMedia(ctx, m); err != nil {
				out.Failed = append(out.Failed, Failure{Path: m.Path, Err: err})
				continue
			}
			out.Created = append(out.Created, m)
		}
	}

	if len(plan.Update) == 0 {
		return out, nil
	}

	paths := make([]string, 0, len(plan.Update))
	for _, u := range plan.Update {
		paths = append(paths, u.Path)
	}
	stored, err := r.storage.FindMediaByPaths(ctx, paths)
	if err != nil {
		return out, errors.Wrap(err, "load media to update")
	}
	byPath := make(map[string]*models.Media, len(stored))
	for _, m := range stored {
		byPath[m.Path] = m
	}

	for _, u := range plan.Update {
		if err := ctx.Err(); err != nil {
			return out, errors.WithStack(err)
		}
		current, ok := byPath[u.Path]
		if !ok {
			out.Failed = append(out.Failed, Failure{Path: u.Path, Err: errors.New("media not found")})
			continue
		}
		columns, metadataChanged := MergeMedia(current, u.Media)
		if len(columns) == 0 && !metadataChanged {
			out.Unchanged++
			continue
		}
		if err := r.storage.UpdateMedia(ctx, current, columns, metadataChanged); err != nil {
			out.Failed = append(out.Failed, Failure{Path: u.Path, Err: err})
			continue
		}
		out.Updated = append(out.Updated, current)
	}

	return out, nil
}

func resetIDs(m *models.Media) {
	m.ID = 0
	if m.Metadata != nil {
		m.Metadata.ID = 0
		m.Metadata.MediaID = 0
	}
}

// MergeMedia copies the non-empty values of fresh onto stored and returns
// the media columns that changed and whether the metadata changed.
func MergeMedia(stored, fresh *models.Media) ([]string, bool) {
	columns := []string{}
	set := func(changed bool, column string) {
		if changed {
			columns = append(columns, column)
		}
	}

	set(mergeValue(&stored.Path, fresh.Path), "path")
	set(mergeValue(&stored.Name, fresh.Name), "name")
	set(mergeValue(&stored.Extension, fresh.Extension), "extension")
	set(mergeValue(&stored.Size, fresh.Size), "size")
	set(mergeValue(&stored.PageCount, fresh.PageCount), "page_count")
	set(mergePtr(&stored.Hash, fresh.Hash), "hash")
	set(mergePtr(&stored.KoreaderHash, fresh.KoreaderHash), "koreader_hash")
	if !fresh.ModifiedAt.IsZero() && !fresh.ModifiedAt.Truncate(time.Second).Equal(stored.ModifiedAt.Truncate(time.Second)) {
		stored.ModifiedAt = fresh.ModifiedAt
		columns = append(columns, "modified_at")
	}
	if stored.Status != models.MediaStatusReady {
		stored.Status = models.MediaStatusReady
		columns = append(columns, "status")
	}

	if fresh.Metadata == nil {
		return columns, false
	}
	if stored.Metadata == nil {
		stored.Metadata = fresh.Metadata
		return columns, true
	}
	return columns, mergeMetadata(stored.Metadata, fresh.Metadata)
}

func mergeMetadata(dst, src *models.MediaMetadata) bool {
	changed := false
	for _, c := range []bool{
		mergePtr(&dst.Title, src.Title),
		mergePtr(&dst.Series, src.Series),
		mergePtr(&dst.Number, src.Number),
		mergePtr(&dst.Volume, src.Volume),
		mergePtr(&dst.Summary, src.Summary),
		mergePtr(&dst.Notes, src.Notes),
		mergePtr(&dst.Publisher, src.Publisher),
		mergePtr(&dst.Imprint, src.Imprint),
		mergePtr(&dst.Language, src.Language),
		mergePtr(&dst.Format, src.Format),
		mergePtr(&dst.Web, src.Web),
		mergePtr(&dst.AgeRating, src.AgeRating),
		mergePtr(&dst.Year, src.Year),
		mergePtr(&dst.Month, src.Month),
		mergePtr(&dst.Day, src.Day),
		mergePtr(&dst.PageCount, src.PageCount),
		mergeList(&dst.Writers, src.Writers),
		mergeList(&dst.Pencillers, src.Pencillers),
		mergeList(&dst.Inkers, src.Inkers),
		mergeList(&dst.Colorists, src.Colorists),
		mergeList(&dst.Letterers, src.Letterers),
		mergeList(&dst.CoverArtists, src.CoverArtists),
		mergeList(&dst.Editors, src.Editors),
		mergeList(&dst.Genres, src.Genres),
		mergeList(&dst.Tags, src.Tags),
		mergeList(&dst.Characters, src.Characters),
		mergeList(&dst.Teams, src.Teams),
	} {
		changed = changed || c
	}
	return changed
}

func mergeValue[T comparable](dst *T, src T) bool {
	var zero T
	if src == zero || *dst == src {
		return false
	}
	*dst = src
	return true
}

func mergePtr[T comparable](dst **T, src *T) bool {
	if src == nil || (*dst != nil && **dst == *src) {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func mergeList(dst *[]string, src []string) bool {
	if len(src) == 0 || slices.Equal(*dst, src) {
		return false
	}
	*dst = slices.Clone(src)
	return true
}
