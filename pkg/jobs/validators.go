package jobs

type ListJobsQuery struct {
	Limit     int      `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset    int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status    []string `query:"status" json:"status,omitempty" validate:"dive,oneof=queued running paused cancelled completed failed"`
	Kind      *string  `query:"kind" json:"kind,omitempty" validate:"omitempty,oneof=library_scan series_scan thumbnails"`
	LibraryID *int     `query:"library_id" json:"library_id,omitempty" validate:"omitempty,min=1"`
}

type ListJobLogsQuery struct {
	AfterID *int     `query:"after_id" json:"after_id,omitempty" validate:"omitempty,min=0"`
	Level   []string `query:"level" json:"level,omitempty" validate:"dive,oneof=info warn error fatal"`
	Limit   int      `query:"limit" json:"limit,omitempty" default:"200" validate:"min=1,max=1000"`
}
