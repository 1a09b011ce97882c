package metadata

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	filenameYearRE    = regexp.MustCompile(`\((\d{4})\)`)
	filenameBracketRE = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}`)
	filenameNumberRES = []*regexp.Regexp{
		regexp.MustCompile(`(?i)#\s*(\d+(?:\.\d+)?)\b`),
		regexp.MustCompile(`(?i)\bv(?:ol(?:ume)?)?\.?\s*(\d+(?:\.\d+)?)\s*$`),
		regexp.MustCompile(`\s(\d+(?:\.\d+)?)\s*$`),
	}
	filenameSpaceRE = regexp.MustCompile(`\s{2,}`)
)

// FromFilename derives a title, issue number and year from a file name such
// as "Saga #012 (2013) [digital].cbz".
func FromFilename(path string) *Raw {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	raw := &Raw{Source: SourceFilename}

	if m := filenameYearRE.FindStringSubmatch(name); m != nil {
		raw.Date = m[1]
	}

	cleaned := filenameBracketRE.ReplaceAllString(name, "")
	cleaned = filenameYearRE.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, "_", " ")
	cleaned = strings.TrimSpace(filenameSpaceRE.ReplaceAllString(cleaned, " "))

	for _, re := range filenameNumberRES {
		if m := re.FindStringSubmatch(cleaned); m != nil {
			raw.Number = strings.TrimLeft(m[1], "0")
			if raw.Number == "" || strings.HasPrefix(raw.Number, ".") {
				raw.Number = "0" + raw.Number
			}
			break
		}
	}

	raw.Title = cleaned
	if raw.Title == "" {
		raw.Title = name
	}
	return raw
}
