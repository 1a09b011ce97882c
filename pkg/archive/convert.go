package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/stacksapp/stacks/pkg/errcodes"
	"github.com/stacksapp/stacks/pkg/fileutils"
)

// maxConvertEntrySize bounds a single extracted entry. A larger entry fails
// the conversion and leaves the original untouched.
var maxConvertEntrySize int64 = maxEntrySize

type ConvertOptions struct {
	ScratchDir string
	TrashDir   string
	// HardDelete removes the original instead of moving it to TrashDir.
	HardDelete bool
}

// ConvertedPath is where ConvertToZip writes the converted copy of path.
func ConvertedPath(path string) string {
	ext := filepath.Ext(path)
	newExt := ".zip"
	if strings.EqualFold(ext, ".cbr") {
		newExt = ".cbz"
	}
	return strings.TrimSuffix(path, ext) + newExt
}

// ConvertToZip extracts the RAR archive at path into a scratch directory,
// writes its contents as a stored ZIP next to the original, then disposes of
// the original. The scratch tree is removed whether or not conversion
// succeeds. It returns the path of the new ZIP.
func ConvertToZip(ctx context.Context, path string, opts ConvertOptions) (string, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"path": path})

	dst := ConvertedPath(path)
	if _, err := os.Stat(dst); err == nil {
		return "", errcodes.Conflict("converted file already exists: " + dst)
	}

	if err := os.MkdirAll(opts.ScratchDir, 0755); err != nil {
		return "", errors.WithStack(err)
	}
	scratch, err := os.MkdirTemp(opts.ScratchDir, "convert-*")
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Err(err).Warn("scratch cleanup error")
		}
	}()

	names, err := extractRar(ctx, path, scratch)
	if err != nil {
		return "", err
	}
	sortNatural(names)

	if err := writeStoredZip(dst, scratch, names); err != nil {
		return "", err
	}

	if opts.HardDelete {
		if err := os.Remove(path); err != nil {
			return dst, errors.WithStack(err)
		}
		log.Info("converted rar and deleted original", logger.Data{"converted_path": dst})
		return dst, nil
	}

	trashed, err := fileutils.MoveToTrash(path, opts.TrashDir)
	if err != nil {
		return dst, err
	}
	log.Info("converted rar and trashed original", logger.Data{"converted_path": dst, "trash_path": trashed})
	return dst, nil
}

// extractRar writes every regular entry under dir and returns the entry names
// relative to dir, using forward slashes.
func extractRar(ctx context.Context, path, dir string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		return nil, errors.WithStack(err)
	}

	names := []string{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		h, err := rr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if h.IsDir {
			continue
		}

		name := filepath.ToSlash(filepath.Clean("/" + strings.ReplaceAll(h.Name, "\\", "/")))[1:]
		if name == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, errors.WithStack(err)
		}
		out, err := os.Create(target)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		n, err := io.Copy(out, io.LimitReader(rr, maxConvertEntrySize+1))
		out.Close()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if n > maxConvertEntrySize {
			return nil, errors.Errorf("entry %s exceeds %d bytes", name, maxConvertEntrySize)
		}
		names = append(names, name)
	}
}

func writeStoredZip(dst, dir string, names []string) error {
	tmp := dst + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.WithStack(err)
	}

	err = func() error {
		zw := zip.NewWriter(f)
		for _, name := range names {
			w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
			if err != nil {
				return errors.WithStack(err)
			}
			src, err := os.Open(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return errors.WithStack(err)
			}
			_, err = io.Copy(w, src)
			src.Close()
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return errors.WithStack(zw.Close())
	}()
	if closeErr := f.Close(); err == nil {
		err = errors.WithStack(closeErr)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return errors.WithStack(os.Rename(tmp, dst))
}
