package archive

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

func hashProcessor(p Processor) (string, error) {
	n, err := p.SampleSize()
	if err != nil {
		return "", err
	}
	f, err := os.Open(p.Path())
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, n); err != nil && !errors.Is(err, io.EOF) {
		return "", errors.WithStack(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hash returns the sample digest of p, or nil when it cannot be computed. A
// failed hash never fails a scan.
func Hash(ctx context.Context, p Processor) *string {
	digest, err := p.Hash()
	if err != nil {
		logger.FromContext(ctx).Err(err).Warn("hash error", logger.Data{"path": p.Path()})
		return nil
	}
	return &digest
}

// KoreaderHash computes the partial MD5 KOReader uses to identify documents
// for progress sync: 1 KiB read at offsets 256, 1 KiB, 4 KiB and so on up
// to 1 GiB, stopping at end of file.
func KoreaderHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, 1024)
	for i := -1; i <= 10; i++ {
		var offset int64
		if i < 0 {
			offset = 1024 >> 2
		} else {
			offset = 1024 << (2 * i)
		}
		n, err := f.ReadAt(buf, offset)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", errors.WithStack(err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
