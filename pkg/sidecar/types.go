package sidecar

// CurrentVersion is the current version of the sidecar file format.
// Increment this when making breaking changes to the schema.
const CurrentVersion = 1

// SeriesSidecar represents the metadata sidecar for a series.
// This is stored as series.json in the series directory.
type SeriesSidecar struct {
	Version   int     `json:"version"`
	Name      string  `json:"name,omitempty"`
	Summary   *string `json:"summary,omitempty"`
	Publisher *string `json:"publisher,omitempty"`
	AgeRating *int    `json:"age_rating,omitempty"`
}
