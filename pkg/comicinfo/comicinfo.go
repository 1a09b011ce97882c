// Package comicinfo reads the ComicInfo.xml sidecar embedded in comic
// archives.
package comicinfo

import (
	"encoding/xml"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/metadata"
)

// Filename is the conventional name of the sidecar. Lookups ignore case.
const Filename = "ComicInfo.xml"

type ComicInfo struct {
	XMLName     xml.Name `xml:"ComicInfo"`
	Title       string   `xml:"Title"`
	Series      string   `xml:"Series"`
	Number      string   `xml:"Number"`
	Volume      string   `xml:"Volume"`
	Summary     string   `xml:"Summary"`
	Notes       string   `xml:"Notes"`
	Year        string   `xml:"Year"`
	Month       string   `xml:"Month"`
	Day         string   `xml:"Day"`
	Writer      string   `xml:"Writer"`
	Penciller   string   `xml:"Penciller"`
	Inker       string   `xml:"Inker"`
	Colorist    string   `xml:"Colorist"`
	Letterer    string   `xml:"Letterer"`
	CoverArtist string   `xml:"CoverArtist"`
	Editor      string   `xml:"Editor"`
	Publisher   string   `xml:"Publisher"`
	Imprint     string   `xml:"Imprint"`
	Genre       string   `xml:"Genre"`
	Tags        string   `xml:"Tags"`
	Web         string   `xml:"Web"`
	Characters  string   `xml:"Characters"`
	Teams       string   `xml:"Teams"`
	AgeRating   string   `xml:"AgeRating"`
	PageCount   string   `xml:"PageCount"`
	LanguageISO string   `xml:"LanguageISO"`
	Format      string   `xml:"Format"`
}

// IsComicInfo reports whether an archive entry name is the sidecar, in any
// directory and any case.
func IsComicInfo(name string) bool {
	return strings.EqualFold(path.Base(strings.ReplaceAll(name, "\\", "/")), Filename)
}

func Parse(r io.Reader) (*ComicInfo, error) {
	ci := &ComicInfo{}
	if err := xml.NewDecoder(r).Decode(ci); err != nil {
		return nil, errors.Wrap(err, "failed to decode ComicInfo.xml")
	}
	return ci, nil
}

// Raw maps the sidecar into metadata fields. Values that fail to parse are
// dropped.
func (ci *ComicInfo) Raw() *metadata.Raw {
	raw := &metadata.Raw{
		Source:       metadata.SourceComicInfo,
		Title:        ci.Title,
		Series:       ci.Series,
		Number:       ci.Number,
		Volume:       ci.Volume,
		Summary:      ci.Summary,
		Notes:        ci.Notes,
		Publisher:    ci.Publisher,
		Imprint:      ci.Imprint,
		Language:     ci.LanguageISO,
		Format:       ci.Format,
		Web:          ci.Web,
		AgeRating:    metadata.ParseAgeRating(ci.AgeRating),
		Writers:      metadata.SplitList(ci.Writer),
		Pencillers:   metadata.SplitList(ci.Penciller),
		Inkers:       metadata.SplitList(ci.Inker),
		Colorists:    metadata.SplitList(ci.Colorist),
		Letterers:    metadata.SplitList(ci.Letterer),
		CoverArtists: metadata.SplitList(ci.CoverArtist),
		Editors:      metadata.SplitList(ci.Editor),
		Genres:       metadata.SplitList(ci.Genre),
		Tags:         metadata.SplitList(ci.Tags),
		Characters:   metadata.SplitList(ci.Characters),
		Teams:        metadata.SplitList(ci.Teams),
	}

	raw.Year = positive(ci.Year)
	raw.Month = positive(ci.Month)
	raw.Day = positive(ci.Day)
	raw.PageCount = positive(ci.PageCount)

	return raw
}

func positive(s string) *int {
	var v int
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return nil
		}
		v = v*10 + int(r-'0')
		if v > 1<<20 {
			return nil
		}
	}
	if v <= 0 {
		return nil
	}
	return &v
}
