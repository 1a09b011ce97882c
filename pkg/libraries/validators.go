package libraries

import "github.com/stacksapp/stacks/pkg/models"

type CreateLibraryPayload struct {
	Name    string                `json:"name" validate:"required,max=100"`
	Path    string                `json:"path" validate:"required,abspath"`
	Pattern string                `json:"pattern" default:"series_based" validate:"oneof=series_based collection_based"`
	Config  *models.LibraryConfig `json:"config,omitempty"`
	// Scan queues a scan of the new library. Defaults to true.
	Scan *bool `json:"scan,omitempty"`
}

type ListLibrariesQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}

type UpdateLibraryPayload struct {
	Name    *string               `json:"name,omitempty" validate:"omitempty,max=100"`
	Pattern *string               `json:"pattern,omitempty" validate:"omitempty,oneof=series_based collection_based"`
	Config  *models.LibraryConfig `json:"config,omitempty"`
}

type ScanLibraryPayload struct {
	Force bool `json:"force"`
	// SeriesID limits the scan to one series of the library.
	SeriesID *int `json:"series_id,omitempty" validate:"omitempty,min=1"`
}

type ThumbnailsPayload struct {
	Force    bool  `json:"force"`
	SeriesID *int  `json:"series_id,omitempty" validate:"omitempty,min=1"`
	MediaIDs []int `json:"media_ids,omitempty" validate:"omitempty,max=10000"`
}
