// Package pagedims caches the pixel size of every page of a media file.
package pagedims

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Dimension struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Encode writes dims as "h,w" pairs joined by ";". A run of two or more
// identical pairs is written once as "n>h,w".
func Encode(dims []Dimension) string {
	var b strings.Builder
	for i := 0; i < len(dims); {
		run := 1
		for i+run < len(dims) && dims[i+run] == dims[i] {
			run++
		}
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		if run > 1 {
			b.WriteString(strconv.Itoa(run))
			b.WriteByte('>')
		}
		b.WriteString(strconv.Itoa(dims[i].Height))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(dims[i].Width))
		i += run
	}
	return b.String()
}

// MaxPages bounds how many dimensions Decode expands a value into.
const MaxPages = 100000

// Decode is the inverse of Encode.
func Decode(s string) ([]Dimension, error) {
	if s == "" {
		return []Dimension{}, nil
	}

	dims := []Dimension{}
	for _, part := range strings.Split(s, ";") {
		count := 1
		pair := part
		if idx := strings.IndexByte(part, '>'); idx >= 0 {
			n, err := strconv.Atoi(part[:idx])
			if err != nil || n < 1 {
				return nil, errors.Errorf("invalid run length in %q", part)
			}
			count = n
			pair = part[idx+1:]
		}
		if count > MaxPages-len(dims) {
			return nil, errors.Errorf("more than %d pages in %q", MaxPages, part)
		}

		h, w, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, errors.Errorf("invalid dimension %q", part)
		}
		height, err := strconv.Atoi(h)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid height in %q", part)
		}
		width, err := strconv.Atoi(w)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid width in %q", part)
		}

		d := Dimension{Height: height, Width: width}
		for i := 0; i < count; i++ {
			dims = append(dims, d)
		}
	}
	return dims, nil
}
