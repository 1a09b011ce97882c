package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PageDimensions struct {
	bun.BaseModel `bun:"table:page_dimensions,alias:pd"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	MediaID    int       `bun:",nullzero" json:"media_id"`
	Dimensions string    `json:"dimensions"`
}
