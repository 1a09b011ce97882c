package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stacksapp/stacks/internal/testgen"
	"github.com/stacksapp/stacks/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTree lays out:
//
//	root/book.zip
//	root/series-1/space-book.cbz
//	root/series-1/notes.txt
//	root/series-2/arc-1/issue-1.cbz
//	root/series-2/arc-2/issue-2.cbz
//	root/empty/readme.md
//	root/.hidden/secret.cbz
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testgen.GenerateCBZ(t, root, "book.zip", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, root, "series-1/space-book.cbz", testgen.CBZOptions{})
	testgen.WriteFile(t, root, "series-1/notes.txt", []byte("notes"))
	testgen.GenerateCBZ(t, root, "series-2/arc-1/issue-1.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, root, "series-2/arc-2/issue-2.cbz", testgen.CBZOptions{})
	testgen.WriteFile(t, root, "empty/readme.md", []byte("# nothing"))
	testgen.GenerateCBZ(t, root, ".hidden/secret.cbz", testgen.CBZOptions{})
	return root
}

func TestWalkLibrary_MissingRoot(t *testing.T) {
	for _, pattern := range []string{models.LibraryPatternSeriesBased, models.LibraryPatternCollectionBased} {
		result, err := WalkLibrary(context.Background(), LibraryOptions{
			Path:    filepath.Join(t.TempDir(), "gone"),
			Pattern: pattern,
		}, []SeriesSnapshot{{ID: 1, Path: "/x", Status: models.SeriesStatusReady}})
		require.NoError(t, err)
		assert.True(t, result.IsMissing)
		assert.Zero(t, result.Seen)
		assert.Zero(t, result.Ignored)
		assert.Empty(t, result.ToCreate)
		assert.Empty(t, result.ToUpdate)
		assert.Empty(t, result.Visited)
		assert.Empty(t, result.Missing)
	}
}

func TestWalkSeries_MissingRoot(t *testing.T) {
	result, err := WalkSeries(context.Background(), SeriesOptions{Path: filepath.Join(t.TempDir(), "gone")}, nil)
	require.NoError(t, err)
	assert.True(t, result.IsMissing)
	assert.Zero(t, result.Seen)
}

func TestWalkLibrary_SeriesBased(t *testing.T) {
	root := buildTree(t)

	result, err := WalkLibrary(context.Background(), LibraryOptions{Path: root, Pattern: models.LibraryPatternSeriesBased}, nil)
	require.NoError(t, err)
	assert.False(t, result.IsMissing)
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "series-1"),
		filepath.Join(root, "series-2", "arc-1"),
		filepath.Join(root, "series-2", "arc-2"),
	}, result.ToCreate)
	assert.Equal(t, 1, result.Ignored)
}

func TestWalkLibrary_CollectionBased(t *testing.T) {
	root := buildTree(t)

	result, err := WalkLibrary(context.Background(), LibraryOptions{Path: root, Pattern: models.LibraryPatternCollectionBased}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "series-1"),
		filepath.Join(root, "series-2"),
	}, result.ToCreate)
}

func TestWalkLibrary_Diff(t *testing.T) {
	root := buildTree(t)
	existing := []SeriesSnapshot{
		{ID: 1, Path: filepath.Join(root, "series-1"), Status: models.SeriesStatusReady},
		{ID: 2, Path: filepath.Join(root, "series-2"), Status: models.SeriesStatusMissing},
		{ID: 3, Path: filepath.Join(root, "deleted"), Status: models.SeriesStatusReady},
		{ID: 4, Path: filepath.Join(root, "long-gone"), Status: models.SeriesStatusMissing},
	}

	result, err := WalkLibrary(context.Background(), LibraryOptions{Path: root, Pattern: models.LibraryPatternCollectionBased}, existing)
	require.NoError(t, err)
	assert.Equal(t, []string{root}, result.ToCreate)
	assert.Equal(t, []string{filepath.Join(root, "series-2")}, result.ToUpdate)
	assert.Equal(t, []string{filepath.Join(root, "series-1")}, result.Visited)
	assert.Equal(t, []string{filepath.Join(root, "deleted")}, result.Missing)
}

func TestWalkLibrary_IgnoreRules(t *testing.T) {
	root := buildTree(t)
	testgen.WriteFile(t, root, IgnoreFilename, []byte("# skip the second arc\nseries-2/arc-2\n"))

	rules, err := NewRules(root, []string{"series-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"series-1", "series-2/arc-2"}, rules.Patterns())

	result, err := WalkLibrary(context.Background(), LibraryOptions{Path: root, Pattern: models.LibraryPatternSeriesBased, Rules: rules}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{root, filepath.Join(root, "series-2", "arc-1")}, result.ToCreate)
}

func TestRules(t *testing.T) {
	rules, err := NewRules(t.TempDir(), []string{"*.pdf", "extras/**", "  ", "# comment"}, []string{"does-not-exist.txt"})
	require.NoError(t, err)

	tests := []struct {
		rel     string
		ignored bool
	}{
		{"a/book.pdf", true},
		{"book.pdf", true},
		{"a/book.cbz", false},
		{"extras/deep/x.cbz", true},
		{"a/.DS_Store", true},
		{"__MACOSX", true},
		{"a/Thumbs.db", true},
		{"a/desktop.ini", true},
		{".hidden", true},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.ignored, rules.Ignored(tt.rel))
		})
	}

	_, err = NewRules(t.TempDir(), []string{"[unclosed"}, nil)
	assert.Error(t, err)

	var none *Rules
	assert.False(t, none.Ignored("a/b.cbz"))
	assert.True(t, none.Ignored("a/.b.cbz"))
}

func TestSeriesOptions_MaxDepth(t *testing.T) {
	assert.Equal(t, 1, SeriesOptions{Path: "/l/a", LibraryPath: "/l", Pattern: models.LibraryPatternSeriesBased}.MaxDepth())
	assert.Equal(t, 0, SeriesOptions{Path: "/l/a", LibraryPath: "/l", Pattern: models.LibraryPatternCollectionBased}.MaxDepth())
	assert.Equal(t, 1, SeriesOptions{Path: "/l/", LibraryPath: "/l", Pattern: models.LibraryPatternCollectionBased}.MaxDepth())
}

func TestWalkSeries_Classification(t *testing.T) {
	root := buildTree(t)
	series1 := filepath.Join(root, "series-1")
	// a file with a media extension but non-media content
	testgen.WriteFile(t, series1, "fake.cbz", []byte("this is not a zip"))

	result, err := WalkSeries(context.Background(), SeriesOptions{
		Path:        series1,
		LibraryPath: root,
		Pattern:     models.LibraryPatternSeriesBased,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(series1, "space-book.cbz")}, result.ToCreate)
	assert.Equal(t, 3, result.Seen)
	assert.Equal(t, 2, result.Ignored)
	assert.Equal(t, result.Seen, len(result.ToCreate)+len(result.ToUpdate)+len(result.Visited)+result.Ignored)
}

func TestWalkSeries_Depth(t *testing.T) {
	root := buildTree(t)

	// collection-based series own everything beneath them
	result, err := WalkSeries(context.Background(), SeriesOptions{
		Path:        filepath.Join(root, "series-2"),
		LibraryPath: root,
		Pattern:     models.LibraryPatternCollectionBased,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, result.ToCreate, 2)

	// the library root as a series does not swallow the subdirectories
	result, err = WalkSeries(context.Background(), SeriesOptions{
		Path:        root,
		LibraryPath: root,
		Pattern:     models.LibraryPatternCollectionBased,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "book.zip")}, result.ToCreate)

	// series-based series are flat
	result, err = WalkSeries(context.Background(), SeriesOptions{
		Path:        filepath.Join(root, "series-2"),
		LibraryPath: root,
		Pattern:     models.LibraryPatternSeriesBased,
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.ToCreate)
}

func TestWalkSeries_Diff(t *testing.T) {
	root := t.TempDir()
	unchanged := testgen.GenerateCBZ(t, root, "a.cbz", testgen.CBZOptions{})
	modified := testgen.GenerateCBZ(t, root, "b.cbz", testgen.CBZOptions{})
	recovered := testgen.GenerateCBZ(t, root, "c.cbz", testgen.CBZOptions{})
	created := testgen.GenerateCBZ(t, root, "d.cbz", testgen.CBZOptions{})

	stat := func(p string) time.Time {
		info, err := os.Stat(p)
		require.NoError(t, err)
		return info.ModTime()
	}

	existing := []MediaSnapshot{
		{ID: 1, Path: unchanged, Status: models.MediaStatusReady, ModifiedAt: stat(unchanged)},
		{ID: 2, Path: modified, Status: models.MediaStatusReady, ModifiedAt: stat(modified)},
		{ID: 3, Path: recovered, Status: models.MediaStatusMissing, ModifiedAt: stat(recovered)},
		{ID: 4, Path: filepath.Join(root, "gone.cbz"), Status: models.MediaStatusReady},
		{ID: 5, Path: filepath.Join(root, "already-missing.cbz"), Status: models.MediaStatusMissing},
	}
	testgen.Touch(t, modified, time.Hour)

	opts := SeriesOptions{Path: root, LibraryPath: root, Pattern: models.LibraryPatternSeriesBased}
	result, err := WalkSeries(context.Background(), opts, existing)
	require.NoError(t, err)
	assert.Equal(t, []string{created}, result.ToCreate)
	assert.Equal(t, []string{modified, recovered}, result.ToUpdate)
	assert.Equal(t, []string{unchanged}, result.Visited)
	assert.Equal(t, []string{filepath.Join(root, "gone.cbz")}, result.Missing)

	opts.ForceRebuild = true
	result, err = WalkSeries(context.Background(), opts, existing)
	require.NoError(t, err)
	assert.Equal(t, []string{unchanged, modified, recovered}, result.ToUpdate)
	assert.Empty(t, result.Visited)
}

func TestWalkSeries_Idempotent(t *testing.T) {
	root := buildTree(t)
	series := filepath.Join(root, "series-2")
	opts := SeriesOptions{Path: series, LibraryPath: root, Pattern: models.LibraryPatternCollectionBased}

	first, err := WalkSeries(context.Background(), opts, nil)
	require.NoError(t, err)
	require.Len(t, first.ToCreate, 2)

	existing := []MediaSnapshot{}
	for i, p := range first.ToCreate {
		info, err := os.Stat(p)
		require.NoError(t, err)
		existing = append(existing, MediaSnapshot{ID: i + 1, Path: p, Status: models.MediaStatusReady, ModifiedAt: info.ModTime()})
	}

	second, err := WalkSeries(context.Background(), opts, existing)
	require.NoError(t, err)
	assert.Empty(t, second.ToCreate)
	assert.Empty(t, second.ToUpdate)
	assert.Empty(t, second.Missing)
	assert.Len(t, second.Visited, 2)
}

func lockDir(t *testing.T, dir string) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	require.NoError(t, os.Chmod(dir, 0))
	t.Cleanup(func() {
		_ = os.Chmod(dir, 0755)
	})
}

func TestWalk_UnreadableSubdirectoryIsSkipped(t *testing.T) {
	root := buildTree(t)
	testgen.GenerateCBZ(t, root, "locked/inside.cbz", testgen.CBZOptions{})
	testgen.GenerateCBZ(t, root, "series-2/locked/inside.cbz", testgen.CBZOptions{})
	lockDir(t, filepath.Join(root, "locked"))
	lockDir(t, filepath.Join(root, "series-2", "locked"))

	result, err := WalkLibrary(context.Background(), LibraryOptions{Path: root, Pattern: models.LibraryPatternSeriesBased}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "series-1"),
		filepath.Join(root, "series-2", "arc-1"),
		filepath.Join(root, "series-2", "arc-2"),
	}, result.ToCreate)

	result, err = WalkLibrary(context.Background(), LibraryOptions{Path: root, Pattern: models.LibraryPatternCollectionBased}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "series-1"),
		filepath.Join(root, "series-2"),
	}, result.ToCreate)

	result, err = WalkSeries(context.Background(), SeriesOptions{
		Path:        filepath.Join(root, "series-2"),
		LibraryPath: root,
		Pattern:     models.LibraryPatternCollectionBased,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "series-2", "arc-1", "issue-1.cbz"),
		filepath.Join(root, "series-2", "arc-2", "issue-2.cbz"),
	}, result.ToCreate)
}

func TestWalkSeries_UnreadableSeriesFails(t *testing.T) {
	root := buildTree(t)
	series1 := filepath.Join(root, "series-1")
	lockDir(t, series1)

	_, err := WalkSeries(context.Background(), SeriesOptions{Path: series1, LibraryPath: root, Pattern: models.LibraryPatternSeriesBased}, nil)
	assert.Error(t, err)
}
