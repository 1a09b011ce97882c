// Package walker discovers series directories and media files under a library
// and diffs what it finds against what is already stored.
package walker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/archive"
	"github.com/stacksapp/stacks/pkg/models"
	"golang.org/x/sync/errgroup"
)

// SeriesSnapshot is the stored state of a series the diff needs.
type SeriesSnapshot struct {
	ID     int
	Path   string
	Status string
}

// MediaSnapshot is the stored state of a media file the diff needs.
type MediaSnapshot struct {
	ID         int
	Path       string
	Status     string
	ModifiedAt time.Time
}

// Result classifies every path a walk encountered. Each discovered path lands
// in exactly one of ToCreate, ToUpdate or Visited, or is counted as Ignored.
// Missing holds stored paths that were not found and are not already marked
// missing.
type Result struct {
	IsMissing bool     `json:"is_missing"`
	Seen      int      `json:"seen"`
	Ignored   int      `json:"ignored"`
	ToCreate  []string `json:"to_create"`
	ToUpdate  []string `json:"to_update"`
	Visited   []string `json:"visited"`
	Missing   []string `json:"missing"`
}

type LibraryOptions struct {
	Path    string
	Pattern string
	Rules   *Rules
}

type SeriesOptions struct {
	Path        string
	LibraryPath string
	Pattern     string
	Rules       *Rules
	// ForceRebuild reclassifies every known file that is still present as an
	// update.
	ForceRebuild bool
}

// MaxDepth is how deep a series walk descends: 1 for series-based libraries
// and for a collection-based library's root, unlimited (0) otherwise.
func (opts SeriesOptions) MaxDepth() int {
	if opts.Pattern == models.LibraryPatternCollectionBased && filepath.Clean(opts.Path) != filepath.Clean(opts.LibraryPath) {
		return 0
	}
	return 1
}

func rootMissing(root string) (bool, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, errors.WithStack(err)
	}
	if !info.IsDir() {
		return false, errors.Errorf("%s is not a directory", root)
	}
	return false, nil
}

// WalkLibrary finds the directories under opts.Path that should be series.
func WalkLibrary(ctx context.Context, opts LibraryOptions, existing []SeriesSnapshot) (*Result, error) {
	missing, err := rootMissing(opts.Path)
	if err != nil {
		return nil, err
	}
	if missing {
		return &Result{IsMissing: true}, nil
	}

	var found []string
	var ignored int
	if opts.Pattern == models.LibraryPatternCollectionBased {
		found, ignored, err = collectionSeries(ctx, opts)
	} else {
		found, ignored, err = seriesBasedSeries(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	known := make(map[string]SeriesSnapshot, len(existing))
	for _, s := range existing {
		known[filepath.Clean(s.Path)] = s
	}

	result := &Result{Seen: len(found) + ignored, Ignored: ignored}
	seen := make(map[string]struct{}, len(found))
	for _, dir := range found {
		seen[dir] = struct{}{}
		snap, ok := known[dir]
		switch {
		case !ok:
			result.ToCreate = append(result.ToCreate, dir)
		case snap.Status == models.SeriesStatusMissing:
			result.ToUpdate = append(result.ToUpdate, dir)
		default:
			result.Visited = append(result.Visited, dir)
		}
	}
	for p, snap := range known {
		if _, ok := seen[p]; !ok && snap.Status != models.SeriesStatusMissing {
			result.Missing = append(result.Missing, snap.Path)
		}
	}
	result.sort()
	return result, nil
}

// seriesBasedSeries returns every directory that directly holds media.
func seriesBasedSeries(ctx context.Context, opts LibraryOptions) ([]string, int, error) {
	root := filepath.Clean(opts.Path)
	found := []string{}
	ignored := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return errors.WithStack(err)
			}
			return skipUnreadable(ctx, p, d, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.WithStack(ctxErr)
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && opts.Rules.Ignored(relative(root, p)) {
			ignored++
			return filepath.SkipDir
		}
		has, err := holdsMedia(ctx, root, p, opts.Rules, 1)
		if err != nil {
			if p == root {
				return err
			}
			return skipUnreadable(ctx, p, d, err)
		}
		if has {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return found, ignored, nil
}

// collectionSeries returns the root when it directly holds media, plus every
// immediate subdirectory holding media anywhere beneath it.
func collectionSeries(ctx context.Context, opts LibraryOptions) ([]string, int, error) {
	root := filepath.Clean(opts.Path)
	found := []string{}
	ignored := 0

	has, err := holdsMedia(ctx, root, root, opts.Rules, 1)
	if err != nil {
		return nil, 0, err
	}
	if has {
		found = append(found, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if opts.Rules.Ignored(relative(root, dir)) {
			ignored++
			continue
		}
		has, err := holdsMedia(ctx, root, dir, opts.Rules, 0)
		if err != nil {
			_ = skipUnreadable(ctx, dir, entry, err)
			continue
		}
		if has {
			found = append(found, dir)
		}
	}
	return found, ignored, nil
}

// holdsMedia reports whether dir holds a file with a supported extension
// within maxDepth levels (0 for unlimited).
func holdsMedia(ctx context.Context, root, dir string, rules *Rules, maxDepth int) (bool, error) {
	has := false
	err := walkFiles(ctx, root, dir, rules, maxDepth, func(p string) error {
		if archive.IsSupportedExtension(p) {
			has = true
			return filepath.SkipAll
		}
		return nil
	}, nil)
	return has, err
}

// walkFiles calls fn for every non-ignored regular file under dir and onIgnored
// for every ignored entry. Unreadable directories below dir are logged and
// skipped.
func walkFiles(ctx context.Context, root, dir string, rules *Rules, maxDepth int, fn func(p string) error, onIgnored func(p string)) error {
	base := depth(dir)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return errors.WithStack(err)
			}
			return skipUnreadable(ctx, p, d, err)
		}
		if p == dir {
			return nil
		}
		if rules.Ignored(relative(root, p)) {
			if onIgnored != nil {
				onIgnored(p)
			}
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if maxDepth > 0 && depth(p)-base >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(p)
	})
	if errors.Is(err, filepath.SkipAll) {
		return nil
	}
	return err
}

func skipUnreadable(ctx context.Context, p string, d fs.DirEntry, err error) error {
	logger.FromContext(ctx).Err(err).Warn("skipping unreadable path", logger.Data{"path": p})
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

// WalkSeries finds the media files of one series and diffs them against the
// stored media of that series.
func WalkSeries(ctx context.Context, opts SeriesOptions, existing []MediaSnapshot) (*Result, error) {
	missing, err := rootMissing(opts.Path)
	if err != nil {
		return nil, err
	}
	if missing {
		return &Result{IsMissing: true}, nil
	}

	root := filepath.Clean(opts.LibraryPath)
	if root == "." || root == "" {
		root = filepath.Clean(opts.Path)
	}

	candidates := []string{}
	ignored := 0
	err = walkFiles(ctx, root, filepath.Clean(opts.Path), opts.Rules, opts.MaxDepth(), func(p string) error {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		candidates = append(candidates, p)
		return nil
	}, func(string) { ignored++ })
	if err != nil {
		return nil, err
	}

	media, err := classify(ctx, candidates)
	if err != nil {
		return nil, err
	}

	known := make(map[string]MediaSnapshot, len(existing))
	for _, m := range existing {
		known[filepath.Clean(m.Path)] = m
	}

	result := &Result{Seen: len(candidates) + ignored}
	seen := make(map[string]struct{}, len(candidates))
	for i, p := range candidates {
		if !media[i].ok {
			result.Ignored++
			continue
		}
		seen[p] = struct{}{}
		snap, ok := known[p]
		switch {
		case !ok:
			result.ToCreate = append(result.ToCreate, p)
		case opts.ForceRebuild,
			snap.Status == models.MediaStatusMissing,
			media[i].modTime.Truncate(time.Second).After(snap.ModifiedAt.Truncate(time.Second)):
			result.ToUpdate = append(result.ToUpdate, p)
		default:
			result.Visited = append(result.Visited, p)
		}
	}
	result.Ignored += ignored
	for p, snap := range known {
		if _, ok := seen[p]; !ok && snap.Status != models.MediaStatusMissing {
			result.Missing = append(result.Missing, snap.Path)
		}
	}
	result.sort()
	return result, nil
}

type classification struct {
	ok      bool
	modTime time.Time
}

// classify checks every candidate's extension and content in parallel. Each
// goroutine writes only its own slot.
func classify(ctx context.Context, paths []string) ([]classification, error) {
	out := make([]classification, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.WithStack(err)
			}
			if !archive.IsSupportedExtension(p) {
				return nil
			}
			if _, err := archive.Detect(p); err != nil {
				return nil
			}
			info, err := os.Stat(p)
			if err != nil {
				return nil
			}
			out[i] = classification{ok: true, modTime: info.ModTime()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Result) sort() {
	sort.Strings(r.ToCreate)
	sort.Strings(r.ToUpdate)
	sort.Strings(r.Visited)
	sort.Strings(r.Missing)
}

func relative(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

func depth(p string) int {
	n := 0
	for _, c := range filepath.ToSlash(filepath.Clean(p)) {
		if c == '/' {
			n++
		}
	}
	return n
}
