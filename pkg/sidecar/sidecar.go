package sidecar

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/htmlutil"
	"github.com/stacksapp/stacks/pkg/models"
)

const SeriesFilename = "series.json"

// SeriesSidecarPath returns the sidecar file path for a series directory.
func SeriesSidecarPath(seriesPath string) string {
	return filepath.Join(seriesPath, SeriesFilename)
}

// ReadSeriesSidecar reads and parses a series sidecar file.
// Returns nil, nil if the sidecar doesn't exist.
func ReadSeriesSidecar(seriesPath string) (*SeriesSidecar, error) {
	data, err := os.ReadFile(SeriesSidecarPath(seriesPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	var s SeriesSidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "invalid %s", SeriesFilename)
	}
	if s.Summary != nil {
		summary := htmlutil.StripTags(*s.Summary)
		s.Summary = &summary
	}

	return &s, nil
}

// WriteSeriesSidecar writes a series sidecar file.
func WriteSeriesSidecar(seriesPath string, s *SeriesSidecar) error {
	// Ensure version is set
	if s.Version == 0 {
		s.Version = CurrentVersion
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	// Sidecar files should be readable by users and other applications
	return errors.WithStack(os.WriteFile(SeriesSidecarPath(seriesPath), data, 0644)) //nolint:gosec
}

// SeriesSidecarFromModel creates a SeriesSidecar from a Series model.
func SeriesSidecarFromModel(series *models.Series) *SeriesSidecar {
	return &SeriesSidecar{
		Version:   CurrentVersion,
		Name:      series.Name,
		Summary:   series.Summary,
		Publisher: series.Publisher,
		AgeRating: series.AgeRating,
	}
}

// Apply copies the fields the sidecar sets onto series and returns the
// columns that changed.
func (s *SeriesSidecar) Apply(series *models.Series) []string {
	columns := []string{}
	if s.Name != "" && s.Name != series.Name {
		series.Name = s.Name
		columns = append(columns, "name")
	}
	if s.Summary != nil && (series.Summary == nil || *series.Summary != *s.Summary) {
		series.Summary = s.Summary
		columns = append(columns, "summary")
	}
	if s.Publisher != nil && (series.Publisher == nil || *series.Publisher != *s.Publisher) {
		series.Publisher = s.Publisher
		columns = append(columns, "publisher")
	}
	if s.AgeRating != nil && (series.AgeRating == nil || *series.AgeRating != *s.AgeRating) {
		series.AgeRating = s.AgeRating
		columns = append(columns, "age_rating")
	}
	return columns
}
