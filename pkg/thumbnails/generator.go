// Package thumbnails renders cover thumbnails for media files.
package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/archive"
	"github.com/stacksapp/stacks/pkg/fileutils"
	"github.com/stacksapp/stacks/pkg/models"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

var formats = []string{FormatJPEG, FormatPNG}

type Options struct {
	Width  int `json:"width"`
	Height int `json:"height,omitempty"`
	// Quality only applies to JPEG.
	Quality        int    `json:"quality"`
	Format         string `json:"format"`
	MaxConcurrency int    `json:"max_concurrency"`
}

// OptionsFromConfig fills in defaults for anything cfg leaves unset.
func OptionsFromConfig(cfg *models.ThumbnailConfig, concurrency int) Options {
	opts := Options{Width: 400, Quality: 85, Format: FormatJPEG, MaxConcurrency: concurrency}
	if cfg == nil {
		return opts
	}
	if cfg.Width > 0 {
		opts.Width = cfg.Width
	}
	opts.Height = cfg.Height
	if cfg.Quality > 0 {
		opts.Quality = cfg.Quality
	}
	if cfg.Format == FormatPNG {
		opts.Format = FormatPNG
	}
	if cfg.MaxConcurrency > 0 {
		opts.MaxConcurrency = cfg.MaxConcurrency
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	return opts
}

// Generator writes thumbnails into a single directory, one file per media.
type Generator struct {
	dir string
}

func NewGenerator(dir string) *Generator {
	return &Generator{dir: dir}
}

// Path is where the thumbnail of mediaID is written for format.
func (g *Generator) Path(mediaID int, format string) string {
	ext := "jpg"
	if format == FormatPNG {
		ext = "png"
	}
	return filepath.Join(g.dir, fmt.Sprintf("%d.%s", mediaID, ext))
}

// Find returns the thumbnail written for mediaID in any format.
func (g *Generator) Find(mediaID int) (string, bool) {
	for _, format := range formats {
		p := g.Path(mediaID, format)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// Fresh reports whether the thumbnail of m exists and is newer than the file
// it was rendered from.
func (g *Generator) Fresh(m *models.Media, format string) bool {
	info, err := os.Stat(g.Path(m.ID, format))
	if err != nil {
		return false
	}
	return !info.ModTime().Before(m.ModifiedAt)
}

// Generate renders page 1 of m and returns the path written.
func (g *Generator) Generate(ctx context.Context, m *models.Media, opts Options) (string, error) {
	p, err := archive.Open(m.Path, archive.OpenOptions{})
	if err != nil {
		return "", err
	}
	_, data, err := p.Page(1)
	if err != nil {
		return "", err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "decode cover")
	}

	dst := Render(src, opts.Width, opts.Height)

	var buf bytes.Buffer
	if opts.Format == FormatPNG {
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality})
	}
	if err != nil {
		return "", errors.WithStack(err)
	}

	path := g.Path(m.ID, opts.Format)
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return "", errors.WithStack(err)
	}
	if err := fileutils.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return "", err
	}
	logger.FromContext(ctx).Debug("thumbnail written", logger.Data{"media_id": m.ID, "path": path})
	return path, nil
}

// Render scales src to width. A zero height keeps the aspect ratio.
func Render(src image.Image, width, height int) *image.RGBA {
	b := src.Bounds()
	if height <= 0 {
		height = int(float64(b.Dy()) * float64(width) / float64(b.Dx()))
		if height < 1 {
			height = 1
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// Remove deletes every thumbnail of ids. Absent files are not an error.
func (g *Generator) Remove(ids []int) error {
	for _, id := range ids {
		for _, format := range formats {
			if err := os.Remove(g.Path(id, format)); err != nil && !os.IsNotExist(err) {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}
