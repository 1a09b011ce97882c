package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	LibraryStatusReady   = "ready"
	LibraryStatusMissing = "missing"
)

const (
	// LibraryPatternSeriesBased makes every directory that directly holds
	// media a series.
	LibraryPatternSeriesBased = "series_based"
	// LibraryPatternCollectionBased makes each immediate subdirectory of the
	// library a series that owns everything beneath it.
	LibraryPatternCollectionBased = "collection_based"
)

type Library struct {
	bun.BaseModel `bun:"table:libraries,alias:l"`

	ID            int            `bun:",pk,nullzero" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Name          string         `bun:",nullzero" json:"name"`
	Path          string         `bun:",nullzero" json:"path"`
	Status        string         `bun:",nullzero" json:"status"`
	Pattern       string         `bun:",nullzero" json:"pattern"`
	Config        string         `bun:",nullzero" json:"-"`
	ConfigParsed  *LibraryConfig `bun:"-" json:"config"`
	LastScannedAt *time.Time     `json:"last_scanned_at,omitempty"`
}

type LibraryConfig struct {
	ConvertRarToZip        bool             `json:"convert_rar_to_zip"`
	HardDeleteConversions  bool             `json:"hard_delete_conversions"`
	IgnoreRules            []string         `json:"ignore_rules,omitempty" validate:"max=200,dive,glob"`
	IgnoreFiles            []string         `json:"ignore_files,omitempty" validate:"max=20"`
	GenerateKoreaderHashes bool             `json:"generate_koreader_hashes"`
	Thumbnails             *ThumbnailConfig `json:"thumbnails,omitempty"`
}

type ThumbnailConfig struct {
	Enabled        bool   `json:"enabled"`
	Width          int    `json:"width" default:"400" validate:"min=16,max=4096"`
	Height         int    `json:"height,omitempty" validate:"min=0,max=4096"`
	Quality        int    `json:"quality" default:"85" validate:"min=1,max=100"`
	Format         string `json:"format" default:"jpeg" validate:"oneof=jpeg png"`
	MaxConcurrency int    `json:"max_concurrency" default:"4" validate:"min=1,max=64"`
}

func (l *Library) MarshalConfig() error {
	if l.ConfigParsed == nil {
		l.Config = ""
		return nil
	}
	b, err := json.Marshal(l.ConfigParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	l.Config = string(b)
	return nil
}

func (l *Library) UnmarshalConfig() error {
	l.ConfigParsed = &LibraryConfig{}
	if l.Config == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(l.Config), l.ConfigParsed); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Settings returns the parsed config, never nil.
func (l *Library) Settings() *LibraryConfig {
	if l.ConfigParsed == nil {
		return &LibraryConfig{}
	}
	return l.ConfigParsed
}
