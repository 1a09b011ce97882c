package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	SeriesStatusReady   = "ready"
	SeriesStatusMissing = "missing"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LibraryID  int       `bun:",nullzero" json:"library_id"`
	Library    *Library  `bun:"rel:belongs-to" json:"library,omitempty"`
	Path       string    `bun:",nullzero" json:"path"`
	Name       string    `bun:",nullzero" json:"name"`
	Status     string    `bun:",nullzero" json:"status"`
	Summary    *string   `json:"summary,omitempty"`
	Publisher  *string   `json:"publisher,omitempty"`
	AgeRating  *int      `json:"age_rating,omitempty"`
	Media      []*Media  `bun:"rel:has-many" json:"media,omitempty"`
	MediaCount int       `bun:",scanonly" json:"media_count"`
}
