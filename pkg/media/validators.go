package media

type ListMediaQuery struct {
	Limit     int     `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=500"`
	Offset    int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	LibraryID *int    `query:"library_id" json:"library_id,omitempty" validate:"omitempty,min=1"`
	SeriesID  *int    `query:"series_id" json:"series_id,omitempty" validate:"omitempty,min=1"`
	Status    *string `query:"status" json:"status,omitempty" validate:"omitempty,oneof=ready missing"`
}

type ListDuplicatesQuery struct {
	LibraryID *int `query:"library_id" json:"library_id,omitempty" validate:"omitempty,min=1"`
}
