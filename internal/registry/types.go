package registry

import "github.com/nervozny/factor/internal/factor"

// LoadDatasetInput opens a dataset workbook.
type LoadDatasetInput struct {
	Path string `json:"path" validate:"required,filepath_ext" jsonschema_description:"Path to the dataset workbook (.xlsx) inside an allowed directory"`
}

// DatasetInfo describes an open dataset handle.
type DatasetInfo struct {
	DatasetID string `json:"dataset_id"`
	Path      string `json:"path"`
	Facts     int    `json:"facts"`
	Products  int    `json:"products"`
	Clients   int    `json:"clients"`
	FirstDate string `json:"first_date,omitempty"`
	LastDate  string `json:"last_date,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

// CloseDatasetInput releases a dataset handle.
type CloseDatasetInput struct {
	DatasetID string `json:"dataset_id" validate:"required" jsonschema_description:"Handle returned by load_dataset"`
}

// CloseDatasetOutput confirms a released handle.
type CloseDatasetOutput struct {
	DatasetID string `json:"dataset_id"`
	Closed    bool   `json:"closed"`
}

// DatasetRef identifies a dataset either by handle or by path. Handles win when both are set.
type DatasetRef struct {
	DatasetID string `json:"dataset_id,omitempty" validate:"required_without=Path" jsonschema_description:"Handle returned by load_dataset"`
	Path      string `json:"path,omitempty" validate:"omitempty,filepath_ext" jsonschema_description:"Dataset workbook path; opened (or reused) when dataset_id is omitted"`
}

// ListDimensionsInput asks for the selectable labels of each filter dimension.
type ListDimensionsInput struct {
	DatasetRef
}

// DimensionLabels lists one dimension's labels.
type DimensionLabels struct {
	Dimension string   `json:"dimension"`
	Labels    []string `json:"labels"`
}

// ListDimensionsOutput describes the filterable dimensions and axes of a dataset.
type ListDimensionsOutput struct {
	DatasetID     string            `json:"dataset_id"`
	Dimensions    []DimensionLabels `json:"dimensions"`
	Axes          []string          `json:"axes"`
	DefaultXAxis  string            `json:"default_x_axis"`
	DefaultYAxis  string            `json:"default_y_axis"`
	DefaultPeriod PeriodPair        `json:"default_period"`
}

// FactorQueryInput carries the query shared by factor_analysis and write_factor_workbook.
type FactorQueryInput struct {
	DatasetRef
	BasePeriod []string `json:"base_period,omitempty" validate:"omitempty,len=2,dive,ymd" jsonschema_description:"Base period [start, end] as YYYY-MM-DD, both inclusive; omit for the default window"`
	FactPeriod []string `json:"fact_period,omitempty" validate:"omitempty,len=2,dive,ymd" jsonschema_description:"Fact period [start, end] as YYYY-MM-DD, both inclusive; omit for the default window"`
	XAxis      string   `json:"x_axis,omitempty" validate:"omitempty,axis" jsonschema_description:"Pivot columns: Branch, Channel, Brand, Group, Mark or Manager"`
	YAxis      string   `json:"y_axis,omitempty" validate:"omitempty,axis" jsonschema_description:"Pivot rows: Branch, Channel, Brand, Group, Mark or Manager; must differ from x_axis"`
	Branch     []string `json:"branch,omitempty" jsonschema_description:"Branch labels to keep; empty keeps all"`
	Channel    []string `json:"channel,omitempty" jsonschema_description:"Channel labels to keep; empty keeps all"`
	Brand      []string `json:"brand,omitempty" jsonschema_description:"Brand labels to keep; empty keeps all"`
	Manager    []string `json:"manager,omitempty" jsonschema_description:"Marketing manager labels to keep; empty keeps all"`
	Group      []string `json:"group,omitempty" jsonschema_description:"Product group labels to keep; empty keeps all"`
	Mark       []string `json:"mark,omitempty" jsonschema_description:"Mark labels to keep; empty keeps all"`
}

// FactorAnalysisInput runs a factor query and optionally pages through its records.
type FactorAnalysisInput struct {
	FactorQueryInput
	IncludeRecords bool   `json:"include_records,omitempty" jsonschema_description:"Return a page of product-client records"`
	PageSize       int    `json:"page_size,omitempty" validate:"omitempty,min=1" jsonschema_description:"Records per page; clamped to the configured maximum"`
	Cursor         string `json:"cursor,omitempty" validate:"omitempty,cursor" jsonschema_description:"next_cursor from a previous call with the same query"`
}

// PeriodPair is the resolved base and fact windows.
type PeriodPair struct {
	Base []string `json:"base"`
	Fact []string `json:"fact"`
}

// PageMeta describes the returned record page.
type PageMeta struct {
	Offset     int    `json:"offset"`
	Returned   int    `json:"returned"`
	Total      int    `json:"total"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// FactorAnalysisOutput is the structured result of factor_analysis.
type FactorAnalysisOutput struct {
	DatasetID string                  `json:"dataset_id"`
	Period    PeriodPair              `json:"period"`
	XAxis     string                  `json:"x_axis"`
	YAxis     string                  `json:"y_axis"`
	Summary   factor.Summary          `json:"summary"`
	Ranking   []factor.AxisRank       `json:"ranking"`
	Pivots    []factor.PivotMatrix    `json:"pivots"`
	Records   []factor.EnrichedRecord `json:"records,omitempty"`
	Page      *PageMeta               `json:"page,omitempty"`
}

// WriteFactorWorkbookInput runs a factor query and writes the result to an .xlsx file.
type WriteFactorWorkbookInput struct {
	FactorQueryInput
	OutputPath string `json:"output_path" validate:"required,filepath_ext" jsonschema_description:"Destination .xlsx inside an allowed directory; overwritten when present"`
}

// WriteFactorWorkbookOutput reports the written file.
type WriteFactorWorkbookOutput struct {
	DatasetID string     `json:"dataset_id"`
	Path      string     `json:"path"`
	Records   int        `json:"records"`
	Sheets    []string   `json:"sheets"`
	Period    PeriodPair `json:"period"`
}
