package archive

import (
	"archive/zip"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/epub"
	"github.com/stacksapp/stacks/pkg/metadata"
)

type epubProcessor struct {
	path string
}

func (p *epubProcessor) Path() string   { return p.path }
func (p *epubProcessor) Format() Format { return FormatEpub }

func (p *epubProcessor) SampleSize() (int64, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer zr.Close()
	return zipSampleSize(p.path, zr.File)
}

func (p *epubProcessor) Hash() (string, error) {
	return hashProcessor(p)
}

func (p *epubProcessor) Metadata() (*metadata.Raw, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	doc, err := epub.Open(&zr.Reader)
	if err != nil {
		return nil, err
	}
	return doc.Raw(), nil
}

func (p *epubProcessor) PageCount() (int, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer zr.Close()

	doc, err := epub.Open(&zr.Reader)
	if err != nil {
		return 0, err
	}
	return len(doc.Spine), nil
}

// Page 1 is the cover image. Later pages are spine documents, so page n is
// spine item n-1 counting from zero.
func (p *epubProcessor) Page(n int) (string, []byte, error) {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	defer zr.Close()

	doc, err := epub.Open(&zr.Reader)
	if err != nil {
		return "", nil, err
	}
	if err := pageOutOfRange(n, len(doc.Spine)); err != nil {
		return "", nil, err
	}

	target := ""
	mediaType := ""
	if n == 1 {
		cover, ok := findCover(zr.File, doc)
		if !ok {
			return "", nil, errors.Errorf("no cover found in %s", p.path)
		}
		target, mediaType = cover.Path, cover.MediaType
	} else {
		item := doc.Spine[n-1]
		target, mediaType = item.Path, item.MediaType
	}

	for _, f := range zr.File {
		if f.Name != target {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return "", nil, err
		}
		if mediaType == "" {
			mediaType = contentType(f.Name, data)
		}
		return mediaType, data, nil
	}
	return "", nil, errors.Errorf("%s is listed in the package but missing from %s", target, p.path)
}

// findCover resolves the cover by explicit package metadata, then by a
// resource named cover, then by scoring image names.
func findCover(files []*zip.File, doc *epub.Document) (epub.Resource, bool) {
	if doc.CoverPath != "" {
		for _, res := range doc.Manifest {
			if res.Path == doc.CoverPath {
				return res, true
			}
		}
		return epub.Resource{Path: doc.CoverPath}, true
	}

	images := []epub.Resource{}
	for _, res := range doc.Manifest {
		if !strings.HasPrefix(res.MediaType, "image/") {
			continue
		}
		base := strings.ToLower(strings.TrimSuffix(path.Base(res.Path), path.Ext(res.Path)))
		if strings.EqualFold(res.ID, "cover") || base == "cover" {
			return res, true
		}
		images = append(images, res)
	}
	if len(images) == 0 {
		return epub.Resource{}, false
	}

	sizes := map[string]uint64{}
	for _, f := range files {
		sizes[f.Name] = f.UncompressedSize64
	}

	best := images[0]
	bestScore := coverScore(best.Path)
	for _, res := range images[1:] {
		score := coverScore(res.Path)
		if score > bestScore || (score == bestScore && sizes[res.Path] > sizes[best.Path]) {
			best, bestScore = res, score
		}
	}
	return best, true
}

func coverScore(name string) int {
	name = strings.ToLower(path.Base(name))
	score := 0
	if strings.Contains(name, "cover") {
		score += 10
	}
	if strings.Contains(name, "front") {
		score += 5
	}
	return score
}
