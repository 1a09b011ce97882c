package metadata

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006-01",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
	// PDF info dictionary dates, with the D: prefix stripped
	"20060102150405-07'00'",
	"20060102150405Z07'00'",
	"20060102150405Z",
	"20060102150405",
	"20060102",
}

var yearRE = regexp.MustCompile(`\b(1[5-9]\d{2}|2\d{3})\b`)

type dateParts struct {
	Year  *int
	Month *int
	Day   *int
}

// resolveDate prefers explicit parts and falls back to parsing Date.
func resolveDate(src *Raw) (dateParts, bool) {
	if src.Year != nil && *src.Year > 0 {
		d := dateParts{Year: intPtr(*src.Year)}
		if src.Month != nil && *src.Month >= 1 && *src.Month <= 12 {
			d.Month = intPtr(*src.Month)
			if src.Day != nil && *src.Day >= 1 && *src.Day <= 31 {
				d.Day = intPtr(*src.Day)
			}
		}
		return d, true
	}
	return ParseDate(src.Date)
}

// ParseDate tries each known layout, then settles for a bare year.
func ParseDate(s string) (dateParts, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if s == "" {
		return dateParts{}, false
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := dateParts{Year: intPtr(t.Year()), Month: intPtr(int(t.Month()))}
		if layout != "2006-01" {
			d.Day = intPtr(t.Day())
		}
		return d, true
	}

	if m := yearRE.FindString(s); m != "" {
		year, err := strconv.Atoi(m)
		if err == nil {
			return dateParts{Year: intPtr(year)}, true
		}
	}
	return dateParts{}, false
}

func intPtr(v int) *int {
	return &v
}
