// Package metadata merges the metadata found for a media file into one
// normalized record.
package metadata

import (
	"slices"
	"strconv"
	"strings"

	"github.com/stacksapp/stacks/pkg/htmlutil"
	"github.com/stacksapp/stacks/pkg/models"
)

const (
	SourceComicInfo = "comicinfo"
	SourceFilename  = "filename"
	SourceEPUB      = "epub"
	SourcePDF       = "pdf"
)

// Raw is the metadata one source produced. Empty strings and nil pointers
// mean the source had nothing for that field.
type Raw struct {
	Source string

	Title     string
	Series    string
	Number    string
	Volume    string
	Summary   string
	Notes     string
	Publisher string
	Imprint   string
	Language  string
	Format    string
	Web       string

	AgeRating *int

	// Date parts win over Date when present.
	Year  *int
	Month *int
	Day   *int
	Date  string

	PageCount *int

	Writers      []string
	Pencillers   []string
	Inkers       []string
	Colorists    []string
	Letterers    []string
	CoverArtists []string
	Editors      []string
	Genres       []string
	Tags         []string
	Characters   []string
	Teams        []string
}

// Metadata is the merged result.
type Metadata struct {
	Title     string
	Series    string
	Number    *float64
	Volume    *int
	Summary   string
	Notes     string
	Publisher string
	Imprint   string
	Language  string
	Format    string
	Web       string
	AgeRating *int
	Year      *int
	Month     *int
	Day       *int
	PageCount *int

	Writers      []string
	Pencillers   []string
	Inkers       []string
	Colorists    []string
	Letterers    []string
	CoverArtists []string
	Editors      []string
	Genres       []string
	Tags         []string
	Characters   []string
	Teams        []string
}

// sourceRank orders sources by trust: metadata embedded in the archive,
// then what the filename says, then the container's own fields. Unknown
// sources rank last.
var sourceRank = map[string]int{
	SourceComicInfo: 0,
	SourceFilename:  1,
	SourceEPUB:      2,
	SourcePDF:       2,
}

// ByPriority returns sources ordered for Merge by their Source, keeping the
// given order among sources of equal rank. Nil sources are dropped.
func ByPriority(sources ...*Raw) []*Raw {
	ordered := make([]*Raw, 0, len(sources))
	for _, src := range sources {
		if src != nil {
			ordered = append(ordered, src)
		}
	}
	slices.SortStableFunc(ordered, func(a, b *Raw) int {
		return rank(a.Source) - rank(b.Source)
	})
	return ordered
}

func rank(source string) int {
	if r, ok := sourceRank[source]; ok {
		return r
	}
	return len(sourceRank)
}

// Merge combines sources ordered from highest to lowest priority. Scalars
// take the first non-empty value, lists are unioned in order, and the age
// rating is the lowest one any source reported.
func Merge(sources ...*Raw) *Metadata {
	m := &Metadata{}
	for _, src := range sources {
		if src == nil {
			continue
		}

		firstString(&m.Title, src.Title)
		firstString(&m.Series, src.Series)
		firstString(&m.Summary, htmlutil.StripTags(src.Summary))
		firstString(&m.Notes, htmlutil.StripTags(src.Notes))
		firstString(&m.Publisher, src.Publisher)
		firstString(&m.Imprint, src.Imprint)
		firstString(&m.Language, src.Language)
		firstString(&m.Format, src.Format)
		firstString(&m.Web, src.Web)

		if m.Number == nil {
			m.Number = parseNumber(src.Number)
		}
		if m.Volume == nil {
			m.Volume = parseInt(src.Volume)
		}
		if m.PageCount == nil && src.PageCount != nil && *src.PageCount > 0 {
			v := *src.PageCount
			m.PageCount = &v
		}

		if src.AgeRating != nil && (m.AgeRating == nil || *src.AgeRating < *m.AgeRating) {
			v := *src.AgeRating
			m.AgeRating = &v
		}

		if m.Year == nil {
			if d, ok := resolveDate(src); ok {
				m.Year, m.Month, m.Day = d.Year, d.Month, d.Day
			}
		}

		m.Writers = union(m.Writers, src.Writers)
		m.Pencillers = union(m.Pencillers, src.Pencillers)
		m.Inkers = union(m.Inkers, src.Inkers)
		m.Colorists = union(m.Colorists, src.Colorists)
		m.Letterers = union(m.Letterers, src.Letterers)
		m.CoverArtists = union(m.CoverArtists, src.CoverArtists)
		m.Editors = union(m.Editors, src.Editors)
		m.Genres = union(m.Genres, src.Genres)
		m.Tags = union(m.Tags, src.Tags)
		m.Characters = union(m.Characters, src.Characters)
		m.Teams = union(m.Teams, src.Teams)
	}
	return m
}

// Model converts the merged metadata into its persisted form.
func (m *Metadata) Model() *models.MediaMetadata {
	return &models.MediaMetadata{
		Title:        optional(m.Title),
		Series:       optional(m.Series),
		Number:       m.Number,
		Volume:       m.Volume,
		Summary:      optional(m.Summary),
		Notes:        optional(m.Notes),
		Publisher:    optional(m.Publisher),
		Imprint:      optional(m.Imprint),
		Language:     optional(m.Language),
		Format:       optional(m.Format),
		Web:          optional(m.Web),
		AgeRating:    m.AgeRating,
		Year:         m.Year,
		Month:        m.Month,
		Day:          m.Day,
		PageCount:    m.PageCount,
		Writers:      m.Writers,
		Pencillers:   m.Pencillers,
		Inkers:       m.Inkers,
		Colorists:    m.Colorists,
		Letterers:    m.Letterers,
		CoverArtists: m.CoverArtists,
		Editors:      m.Editors,
		Genres:       m.Genres,
		Tags:         m.Tags,
		Characters:   m.Characters,
		Teams:        m.Teams,
	}
}

// SplitList splits a comma or semicolon separated field, trimming blanks.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstString(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func union(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

func parseNumber(s string) *float64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
