package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	MediaStatusReady   = "ready"
	MediaStatusMissing = "missing"
)

type Media struct {
	bun.BaseModel `bun:"table:media,alias:m"`

	ID           int            `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LibraryID    int            `bun:",nullzero" json:"library_id"`
	SeriesID     int            `bun:",nullzero" json:"series_id"`
	Series       *Series        `bun:"rel:belongs-to" json:"series,omitempty"`
	Path         string         `bun:",nullzero" json:"path"`
	Name         string         `bun:",nullzero" json:"name"`
	Extension    string         `bun:",nullzero" json:"extension"`
	Size         int64          `json:"size"`
	PageCount    int            `json:"page_count"`
	Hash         *string        `json:"hash,omitempty"`
	KoreaderHash *string        `json:"koreader_hash,omitempty"`
	Status       string         `bun:",nullzero" json:"status"`
	ModifiedAt   time.Time      `json:"modified_at"`
	Metadata     *MediaMetadata `bun:"rel:has-one,join:id=media_id" json:"metadata,omitempty"`
}

type MediaMetadata struct {
	bun.BaseModel `bun:"table:media_metadata,alias:mm"`

	ID           int      `bun:",pk,nullzero" json:"id"`
	MediaID      int      `bun:",nullzero" json:"media_id"`
	Title        *string  `json:"title,omitempty"`
	Series       *string  `json:"series,omitempty"`
	Number       *float64 `json:"number,omitempty"`
	Volume       *int     `json:"volume,omitempty"`
	Summary      *string  `json:"summary,omitempty"`
	Notes        *string  `json:"notes,omitempty"`
	Publisher    *string  `json:"publisher,omitempty"`
	Imprint      *string  `json:"imprint,omitempty"`
	Language     *string  `json:"language,omitempty"`
	Format       *string  `json:"format,omitempty"`
	Web          *string  `json:"web,omitempty"`
	AgeRating    *int     `json:"age_rating,omitempty"`
	Year         *int     `json:"year,omitempty"`
	Month        *int     `json:"month,omitempty"`
	Day          *int     `json:"day,omitempty"`
	PageCount    *int     `json:"page_count,omitempty"`
	Writers      []string `json:"writers,omitempty"`
	Pencillers   []string `json:"pencillers,omitempty"`
	Inkers       []string `json:"inkers,omitempty"`
	Colorists    []string `json:"colorists,omitempty"`
	Letterers    []string `json:"letterers,omitempty"`
	CoverArtists []string `json:"cover_artists,omitempty"`
	Editors      []string `json:"editors,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Characters   []string `json:"characters,omitempty"`
	Teams        []string `json:"teams,omitempty"`
}
