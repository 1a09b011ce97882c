package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

var ageDigitsRE = regexp.MustCompile(`(\d{1,2})\s*\+?`)

var ageRatingLabels = map[string]int{
	"everyone":        0,
	"all ages":        0,
	"g":               0,
	"early childhood": 3,
	"kids to adults":  6,
	"pg":              8,
	"everyone 10+":    10,
	"teen":            13,
	"t":               13,
	"t+":              16,
	"pg-13":           13,
	"mature":          17,
	"m":               17,
	"r":               17,
	"adults only":     18,
	"adult":           18,
	"x":               18,
	"explicit":        18,
	"ma15+":           15,
	"r18+":            18,
	"x18+":            18,
	"mature 17+":      17,
	"adults only 18+": 18,
	"rating pending":  -1,
	"unknown":         -1,
}

// ParseAgeRating turns a rating label such as "Teen" or "Mature 17+" into a
// minimum age. Unrecognized labels yield nil.
func ParseAgeRating(s string) *int {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return nil
	}
	if v, ok := ageRatingLabels[key]; ok {
		if v < 0 {
			return nil
		}
		return &v
	}
	if m := ageDigitsRE.FindStringSubmatch(key); m != nil {
		v, err := strconv.Atoi(m[1])
		if err == nil && v <= 21 {
			return &v
		}
	}
	return nil
}
