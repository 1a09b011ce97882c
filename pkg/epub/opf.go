// Package epub reads the package document (OPF) of an EPUB container.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/metadata"
)

const containerPath = "META-INF/container.xml"

type container struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type Package struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	Metadata struct {
		Title []struct {
			Text string `xml:",chardata"`
			ID   string `xml:"id,attr"`
		} `xml:"title"`
		Creator []struct {
			Text string `xml:",chardata"`
			ID   string `xml:"id,attr"`
			Role string `xml:"role,attr"`
		} `xml:"creator"`
		Subject     []string `xml:"subject"`
		Description string   `xml:"description"`
		Publisher   string   `xml:"publisher"`
		Date        string   `xml:"date"`
		Language    string   `xml:"language"`
		Meta        []struct {
			Text     string `xml:",chardata"`
			Name     string `xml:"name,attr"`
			Content  string `xml:"content,attr"`
			Refines  string `xml:"refines,attr"`
			Property string `xml:"property,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Item []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Itemref []struct {
			Idref string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// Resource is a manifest item with its href resolved to an archive path.
type Resource struct {
	ID         string
	Path       string
	MediaType  string
	Properties string
}

// Document is the parsed package with paths resolved against the OPF location.
type Document struct {
	OPFPath   string
	Title     string
	Authors   []string
	Subjects  []string
	Summary   string
	Publisher string
	Language  string
	Date      string
	Manifest  []Resource
	Spine     []Resource
	// CoverPath is set when the package names its cover explicitly.
	CoverPath string
}

// Open locates the package document through META-INF/container.xml, falling
// back to the first .opf entry, and parses it.
func Open(zr *zip.Reader) (*Document, error) {
	opfPath := ""
	if f := find(zr, containerPath); f != nil {
		c := container{}
		if err := decodeEntry(f, &c); err == nil && len(c.Rootfiles) > 0 {
			opfPath = c.Rootfiles[0].FullPath
		}
	}
	if opfPath == "" || find(zr, opfPath) == nil {
		opfPath = ""
		for _, f := range zr.File {
			if strings.EqualFold(path.Ext(f.Name), ".opf") {
				opfPath = f.Name
				break
			}
		}
	}
	if opfPath == "" {
		return nil, errors.New("no package document found")
	}

	pkg := &Package{}
	if err := decodeEntry(find(zr, opfPath), pkg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", opfPath)
	}
	return newDocument(opfPath, pkg), nil
}

func newDocument(opfPath string, pkg *Package) *Document {
	base := path.Dir(opfPath)
	resolve := func(href string) string {
		if base == "." {
			return path.Clean(href)
		}
		return path.Join(base, href)
	}

	doc := &Document{
		OPFPath:   opfPath,
		Subjects:  pkg.Metadata.Subject,
		Summary:   strings.TrimSpace(pkg.Metadata.Description),
		Publisher: strings.TrimSpace(pkg.Metadata.Publisher),
		Language:  strings.TrimSpace(pkg.Metadata.Language),
		Date:      strings.TrimSpace(pkg.Metadata.Date),
	}

	refines := map[string]map[string]string{}
	named := map[string]string{}
	for _, m := range pkg.Metadata.Meta {
		switch {
		case m.Refines != "":
			id := strings.TrimPrefix(m.Refines, "#")
			if refines[id] == nil {
				refines[id] = map[string]string{}
			}
			refines[id][m.Property] = strings.TrimSpace(m.Text)
		case m.Name != "":
			named[m.Name] = m.Content
		}
	}

	for _, t := range pkg.Metadata.Title {
		if doc.Title == "" || refines[t.ID]["title-type"] == "main" {
			doc.Title = strings.TrimSpace(t.Text)
		}
	}

	for _, c := range pkg.Metadata.Creator {
		role := c.Role
		if role == "" {
			role = refines[c.ID]["role"]
		}
		if role == "" || role == "aut" {
			doc.Authors = append(doc.Authors, strings.TrimSpace(c.Text))
		}
	}

	byID := map[string]Resource{}
	for _, item := range pkg.Manifest.Item {
		res := Resource{
			ID:         item.ID,
			Path:       resolve(item.Href),
			MediaType:  item.MediaType,
			Properties: item.Properties,
		}
		byID[item.ID] = res
		doc.Manifest = append(doc.Manifest, res)
		if doc.CoverPath == "" && hasProperty(item.Properties, "cover-image") {
			doc.CoverPath = res.Path
		}
	}
	if id := named["cover"]; id != "" {
		if res, ok := byID[id]; ok && strings.HasPrefix(res.MediaType, "image/") {
			doc.CoverPath = res.Path
		}
	}

	for _, ref := range pkg.Spine.Itemref {
		if res, ok := byID[ref.Idref]; ok {
			doc.Spine = append(doc.Spine, res)
		}
	}

	return doc
}

// Raw maps the package metadata into metadata fields.
func (d *Document) Raw() *metadata.Raw {
	return &metadata.Raw{
		Source:    metadata.SourceEPUB,
		Title:     d.Title,
		Summary:   d.Summary,
		Publisher: d.Publisher,
		Language:  d.Language,
		Date:      d.Date,
		Writers:   d.Authors,
		Genres:    d.Subjects,
	}
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

func find(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func decodeEntry(f *zip.File, v interface{}) error {
	rc, err := f.Open()
	if err != nil {
		return errors.WithStack(err)
	}
	defer rc.Close()
	return errors.WithStack(xml.NewDecoder(io.LimitReader(rc, 16<<20)).Decode(v))
}
