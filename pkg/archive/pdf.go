package archive

import (
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/metadata"
)

const pdfSampleCap = 1024 * 1024

type pdfProcessor struct {
	path string
}

func (p *pdfProcessor) Path() string   { return p.path }
func (p *pdfProcessor) Format() Format { return FormatPdf }

func (p *pdfProcessor) SampleSize() (int64, error) {
	size, err := fileSize(p.path)
	if err != nil {
		return 0, err
	}
	if size > pdfSampleCap {
		return pdfSampleCap, nil
	}
	return size, nil
}

func (p *pdfProcessor) Hash() (string, error) {
	return hashProcessor(p)
}

// Metadata maps the document information dictionary.
func (p *pdfProcessor) Metadata() (*metadata.Raw, error) {
	ctx, err := api.ReadContextFile(p.path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	raw := &metadata.Raw{
		Source:  metadata.SourcePDF,
		Title:   strings.TrimSpace(ctx.Title),
		Summary: strings.TrimSpace(ctx.Subject),
		Date:    strings.TrimSpace(ctx.XRefTable.CreationDate),
		Tags:    metadata.SplitList(ctx.Keywords),
	}
	if author := strings.TrimSpace(ctx.Author); author != "" {
		raw.Writers = metadata.SplitList(author)
	}
	if ctx.PageCount > 0 {
		count := ctx.PageCount
		raw.PageCount = &count
	}
	if raw.Title == "" && raw.Summary == "" && raw.Date == "" && raw.Writers == nil && raw.Tags == nil {
		return nil, nil
	}
	return raw, nil
}

func (p *pdfProcessor) PageCount() (int, error) {
	ctx, err := api.ReadContextFile(p.path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return ctx.PageCount, nil
}

// Page returns the first image embedded on page n. Pages without raster
// images are reported as not found.
func (p *pdfProcessor) Page(n int) (string, []byte, error) {
	count, err := p.PageCount()
	if err != nil {
		return "", nil, err
	}
	if err := pageOutOfRange(n, count); err != nil {
		return "", nil, err
	}

	f, err := os.Open(p.path)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	defer f.Close()

	pages, err := api.ExtractImagesRaw(f, []string{strconv.Itoa(n)}, model.NewDefaultConfiguration())
	if err != nil {
		return "", nil, errors.WithStack(err)
	}

	var first *model.Image
	for _, images := range pages {
		for objNr := range images {
			img := images[objNr]
			if img.PageNr != n && img.PageNr != 0 {
				continue
			}
			if first == nil || img.ObjNr < first.ObjNr {
				first = &img
			}
		}
	}
	if first == nil || first.Reader == nil {
		return "", nil, errors.WithStack(errcodes.NotFound("Page"))
	}

	data, err := readLimited(first)
	if err != nil {
		return "", nil, err
	}
	return contentType("page."+first.FileType, data), data, nil
}
