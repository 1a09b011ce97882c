package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestMerge_ScalarsFirstNonEmptyWins(t *testing.T) {
	merged := Merge(
		&Raw{Source: SourceComicInfo, Title: "", Summary: "From ComicInfo"},
		&Raw{Source: SourceFilename, Title: "From Filename", Summary: "ignored"},
		&Raw{Source: SourcePDF, Title: "From PDF", Publisher: "Image"},
	)

	assert.Equal(t, "From Filename", merged.Title)
	assert.Equal(t, "From ComicInfo", merged.Summary)
	assert.Equal(t, "Image", merged.Publisher)
}

func TestByPriority(t *testing.T) {
	pdf := &Raw{Source: SourcePDF, Title: "Untitled Document", Date: "D:20010405120000Z"}
	filename := &Raw{Source: SourceFilename, Title: "Real Name", Date: "2019"}
	comicInfo := &Raw{Source: SourceComicInfo, Title: "Embedded"}

	ordered := ByPriority(pdf, nil, filename)
	require.Len(t, ordered, 2)
	assert.Same(t, filename, ordered[0])
	assert.Same(t, pdf, ordered[1])

	merged := Merge(ByPriority(pdf, filename)...)
	assert.Equal(t, "Real Name", merged.Title)
	assert.Equal(t, ptr(2019), merged.Year)

	merged = Merge(ByPriority(filename, comicInfo)...)
	assert.Equal(t, "Embedded", merged.Title)
}

func TestMerge_StripsMarkup(t *testing.T) {
	merged := Merge(
		&Raw{Source: SourceEPUB, Summary: "<p>A <em>long</em> story &amp; more.</p>", Notes: "<br/>Scanned"},
	)
	assert.Equal(t, "A long story & more.", merged.Summary)
	assert.Equal(t, "Scanned", merged.Notes)
}

func TestMerge_ListsAreUnioned(t *testing.T) {
	merged := Merge(
		&Raw{Writers: []string{"Brian K. Vaughan", "Fiona Staples"}, Genres: []string{"Sci-Fi"}},
		&Raw{Writers: []string{"Fiona Staples", "fiona staples", " "}, Genres: []string{"Fantasy", "Sci-Fi"}},
	)

	assert.Equal(t, []string{"Brian K. Vaughan", "Fiona Staples", "fiona staples"}, merged.Writers)
	assert.Equal(t, []string{"Sci-Fi", "Fantasy"}, merged.Genres)
	assert.Nil(t, merged.Tags)
}

func TestMerge_AgeRatingTakesMinimum(t *testing.T) {
	merged := Merge(
		&Raw{AgeRating: ptr(13)},
		&Raw{AgeRating: ptr(17)},
	)
	require.NotNil(t, merged.AgeRating)
	assert.Equal(t, 13, *merged.AgeRating)

	merged = Merge(
		&Raw{AgeRating: ptr(17)},
		&Raw{},
		&Raw{AgeRating: ptr(13)},
	)
	require.NotNil(t, merged.AgeRating)
	assert.Equal(t, 13, *merged.AgeRating)

	assert.Nil(t, Merge(&Raw{}, nil).AgeRating)
}

func TestMerge_Dates(t *testing.T) {
	tests := []struct {
		name  string
		raws  []*Raw
		year  *int
		month *int
		day   *int
	}{
		{
			name:  "explicit parts",
			raws:  []*Raw{{Year: ptr(2012), Month: ptr(3), Day: ptr(14)}},
			year:  ptr(2012),
			month: ptr(3),
			day:   ptr(14),
		},
		{
			name: "invalid month is dropped",
			raws: []*Raw{{Year: ptr(2012), Month: ptr(13)}},
			year: ptr(2012),
		},
		{
			name:  "iso date string",
			raws:  []*Raw{{Date: "2019-06-01"}},
			year:  ptr(2019),
			month: ptr(6),
			day:   ptr(1),
		},
		{
			name:  "pdf date string",
			raws:  []*Raw{{Date: "D:20210405120000Z"}},
			year:  ptr(2021),
			month: ptr(4),
			day:   ptr(5),
		},
		{
			name: "year only fallback",
			raws: []*Raw{{Date: "Spring 1999 edition"}},
			year: ptr(1999),
		},
		{
			name: "unparseable is dropped",
			raws: []*Raw{{Date: "someday"}},
		},
		{
			name:  "first source with a date wins",
			raws:  []*Raw{{Date: "nope"}, {Date: "2001-02"}, {Year: ptr(1980)}},
			year:  ptr(2001),
			month: ptr(2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := Merge(tt.raws...)
			assert.Equal(t, tt.year, merged.Year)
			assert.Equal(t, tt.month, merged.Month)
			assert.Equal(t, tt.day, merged.Day)
		})
	}
}

func TestMerge_NumberAndPageCount(t *testing.T) {
	merged := Merge(
		&Raw{Number: "abc", PageCount: ptr(0)},
		&Raw{Number: "#7.5", Volume: "2", PageCount: ptr(24)},
	)
	require.NotNil(t, merged.Number)
	assert.InDelta(t, 7.5, *merged.Number, 0.0001)
	assert.Equal(t, ptr(2), merged.Volume)
	assert.Equal(t, ptr(24), merged.PageCount)
}

func TestMetadataModel(t *testing.T) {
	m := Merge(&Raw{Title: "Saga", Writers: []string{"BKV"}}).Model()
	require.NotNil(t, m.Title)
	assert.Equal(t, "Saga", *m.Title)
	assert.Nil(t, m.Summary)
	assert.Equal(t, []string{"BKV"}, m.Writers)
}

func TestParseAgeRating(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"Everyone", ptr(0)},
		{"Teen", ptr(13)},
		{"Mature 17+", ptr(17)},
		{"Adults Only 18+", ptr(18)},
		{"Everyone 10+", ptr(10)},
		{"MA15+", ptr(15)},
		{"12+", ptr(12)},
		{"Rating Pending", nil},
		{"Unknown", nil},
		{"", nil},
		{"whatever", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAgeRating(tt.in))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, SplitList("A, B;C ,"))
	assert.Nil(t, SplitList("  "))
}

func TestFromFilename(t *testing.T) {
	tests := []struct {
		path   string
		title  string
		number string
		date   string
	}{
		{"/lib/Saga/Saga #012 (2013) [digital].cbz", "Saga #012", "12", "2013"},
		{"/lib/Berserk v03.cbz", "Berserk v03", "3", ""},
		{"/lib/Space_Book 7.5.zip", "Space Book 7.5", "7.5", ""},
		{"/lib/Issue 000.cbz", "Issue 000", "0", ""},
		{"/lib/book.zip", "book", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			raw := FromFilename(tt.path)
			assert.Equal(t, SourceFilename, raw.Source)
			assert.Equal(t, tt.title, raw.Title)
			assert.Equal(t, tt.number, raw.Number)
			assert.Equal(t, tt.date, raw.Date)
		})
	}
}
