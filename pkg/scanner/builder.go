package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/archive"
	"github.com/stacksapp/stacks/pkg/metadata"
	"github.com/stacksapp/stacks/pkg/models"
	"golang.org/x/sync/errgroup"
)

type BuildOptions struct {
	LibraryID int
	SeriesID  int
	// ConvertRar rewrites RAR archives as ZIP before they are read.
	ConvertRar   bool
	HardDelete   bool
	KoreaderHash bool
	ScratchDir   string
	TrashDir     string
}

// Built is a media record produced from the file the walker found at Source.
type Built struct {
	Source    string
	Media     *models.Media
	Converted bool
}

// Build reads one file into a media record. Any error means the file is
// skipped.
func Build(ctx context.Context, path string, opts BuildOptions) (*Built, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"path": path})
	built := &Built{Source: path}

	openOpts := archive.OpenOptions{ConvertRar: opts.ConvertRar}
	p, err := archive.Open(path, openOpts)
	if errors.Is(err, archive.ErrMustConvert) {
		converted, cerr := archive.ConvertToZip(ctx, path, archive.ConvertOptions{
			ScratchDir: opts.ScratchDir,
			TrashDir:   opts.TrashDir,
			HardDelete: opts.HardDelete,
		})
		if cerr != nil {
			conversionsTotal.WithLabelValues("error").Inc()
			return nil, errors.Wrap(cerr, "convert to zip")
		}
		conversionsTotal.WithLabelValues("ok").Inc()
		built.Converted = true
		p, err = archive.Open(converted, openOpts)
	}
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p.Path())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pages, err := p.PageCount()
	if err != nil {
		return nil, errors.Wrap(err, "count pages")
	}
	embedded, err := p.Metadata()
	if err != nil {
		return nil, errors.Wrap(err, "read metadata")
	}

	ext := strings.ToLower(filepath.Ext(p.Path()))
	m := &models.Media{
		LibraryID:  opts.LibraryID,
		SeriesID:   opts.SeriesID,
		Path:       filepath.Clean(p.Path()),
		Name:       strings.TrimSuffix(filepath.Base(p.Path()), filepath.Ext(p.Path())),
		Extension:  strings.TrimPrefix(ext, "."),
		Size:       info.Size(),
		PageCount:  pages,
		Hash:       archive.Hash(ctx, p),
		Status:     models.MediaStatusReady,
		ModifiedAt: info.ModTime(),
		Metadata:   metadata.Merge(metadata.ByPriority(embedded, metadata.FromFilename(p.Path()))...).Model(),
	}

	if opts.KoreaderHash {
		digest, err := archive.KoreaderHash(p.Path())
		if err != nil {
			log.Err(err).Warn("koreader hash error")
		} else {
			m.KoreaderHash = &digest
		}
	}

	built.Media = m
	return built, nil
}

// BuildAll builds paths in parallel. Files that fail are returned as
// failures; the error is only set when ctx ends.
func BuildAll(ctx context.Context, paths []string, opts BuildOptions) ([]*Built, []Failure, error) {
	results := make([]*Built, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = Build(gctx, path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.WithStack(err)
	}

	built := make([]*Built, 0, len(paths))
	failures := []Failure{}
	for i, path := range paths {
		if errs[i] != nil {
			failures = append(failures, Failure{Path: path, Err: errs[i]})
			continue
		}
		built = append(built, results[i])
	}
	return built, failures, nil
}
