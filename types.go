package chartsynth

import (
	"time"
)

// ChartType identifies the chart family of a spec. Closed set.
type ChartType string

const (
	ChartTypeLine    ChartType = "line"
	ChartTypeColumn  ChartType = "column"
	ChartTypeBar     ChartType = "bar"
	ChartTypePie     ChartType = "pie"
	ChartTypeScatter ChartType = "scatter"
	ChartTypeArea    ChartType = "area"
	ChartTypeMap     ChartType = "map"
)

// KnownChartTypes lists every chart type a persisted spec may carry.
var KnownChartTypes = []ChartType{
	ChartTypeLine, ChartTypeColumn, ChartTypeBar, ChartTypePie,
	ChartTypeScatter, ChartTypeArea, ChartTypeMap,
}

// IsKnownChartType reports whether t belongs to the closed chart type set.
func IsKnownChartType(t ChartType) bool {
	for _, k := range KnownChartTypes {
		if k == t {
			return true
		}
	}
	return false
}

// SeriesPoint is a single (category-or-x, value) pair within a series.
// For scatter charts X carries the numeric x value; Category is empty.
type SeriesPoint struct {
	Category string  `json:"category,omitempty"`
	X        float64 `json:"x,omitempty"`
	Value    float64 `json:"value"`
}

// Series is an ordered, named sequence of points. Order is render order.
type Series struct {
	Name   string        `json:"name"`
	Points []SeriesPoint `json:"points"`
}

// Axes holds optional category labels and axis titles.
type Axes struct {
	Categories []string `json:"categories,omitempty"`
	XTitle     string   `json:"xTitle,omitempty"`
	YTitle     string   `json:"yTitle,omitempty"`
}

// Styling maps style keys to values. Absent keys inherit renderer defaults.
type Styling struct {
	Colors     []string `json:"colors,omitempty"`
	ShowLegend *bool    `json:"showLegend,omitempty"`
	TitleText  string   `json:"titleText,omitempty"`
}

// ChartSpec is the canonical, renderer-agnostic description of a chart.
// Pure data; validation lives in Validate.
type ChartSpec struct {
	ChartType ChartType `json:"chartType"`
	Title     string    `json:"title,omitempty"`
	Series    []Series  `json:"series"`
	Axes      Axes      `json:"axes,omitempty"`
	Styling   Styling   `json:"styling,omitempty"`
}

// Validate enforces the persistence invariant: a spec must carry a known
// chart type and at least one non-empty series. Partial fragments fail here
// and are never persisted.
func (s *ChartSpec) Validate() error {
	if s == nil {
		return NewValidationError("validation", "chart spec is nil", nil)
	}
	if s.ChartType == "" {
		return NewValidationError("validation", "chart spec has empty chartType", nil)
	}
	if !IsKnownChartType(s.ChartType) {
		return NewValidationError("validation", "unknown chartType '"+string(s.ChartType)+"'", nil)
	}
	if len(s.Series) == 0 {
		return NewValidationError("validation", "chart spec has no series", nil)
	}
	for _, ser := range s.Series {
		if len(ser.Points) == 0 {
			return NewValidationError("validation", "series '"+ser.Name+"' has no points", nil)
		}
	}
	return nil
}

// Clone returns a deep copy of the spec. The diff engine mutates copies only.
func (s *ChartSpec) Clone() *ChartSpec {
	if s == nil {
		return nil
	}
	out := *s
	out.Series = make([]Series, len(s.Series))
	for i, ser := range s.Series {
		cp := ser
		cp.Points = append([]SeriesPoint(nil), ser.Points...)
		out.Series[i] = cp
	}
	out.Axes.Categories = append([]string(nil), s.Axes.Categories...)
	out.Styling.Colors = append([]string(nil), s.Styling.Colors...)
	if s.Styling.ShowLegend != nil {
		v := *s.Styling.ShowLegend
		out.Styling.ShowLegend = &v
	}
	return &out
}

// Widget is a dashboard-scoped, persisted instance of a ChartSpec.
// Owned by exactly one dashboard; the dashboard keeps widget order.
type Widget struct {
	ID          string     `json:"id"`
	DashboardID string     `json:"dashboardId"`
	ChartID     string     `json:"chartId,omitempty"`
	Spec        *ChartSpec `json:"spec"`
	Title       string     `json:"title"`
	SourceQuery string     `json:"sourceQuery,omitempty"`
	UserPrompt  string     `json:"userPrompt,omitempty"`
	Revision    int        `json:"revision"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Record is a single result row from the source query, column name to value.
type Record map[string]interface{}

// GenerationRequest is the ephemeral input to the generate path.
type GenerationRequest struct {
	SQLQuery    string   `json:"sqlQuery"`
	SQLResults  []Record `json:"sqlResults"`
	UserPrompt  string   `json:"userPrompt,omitempty"`
	CSVID       string   `json:"csvId"`
	DashboardID string   `json:"dashboardId,omitempty"`
}

// Validate rejects structurally unusable requests before any tool call or
// persistence attempt happens.
func (r *GenerationRequest) Validate() error {
	if r.SQLQuery == "" {
		return NewValidationError("input", "sqlQuery is required", nil)
	}
	if len(r.SQLResults) == 0 {
		return NewValidationError("input", "sqlResults must be non-empty", nil)
	}
	if r.CSVID == "" {
		return NewValidationError("input", "csvId is required", nil)
	}
	return nil
}

// UpdateRequest is the ephemeral input to the update path. Explicit override
// fields bypass the diff engine for their field when present.
type UpdateRequest struct {
	DashboardID     string     `json:"dashboardId"`
	WidgetID        string     `json:"widgetId"`
	UpdatePrompt    string     `json:"updatePrompt"`
	NewChartOptions *Styling   `json:"newChartOptions,omitempty"`
	NewTitle        string     `json:"newTitle,omitempty"`
	NewChartType    *ChartType `json:"newChartType,omitempty"`
}

// Validate checks the required fields of an update request.
func (r *UpdateRequest) Validate() error {
	if r.DashboardID == "" {
		return NewValidationError("input", "dashboardId is required", nil)
	}
	if r.WidgetID == "" {
		return NewValidationError("input", "widgetId is required", nil)
	}
	if r.UpdatePrompt == "" && r.NewTitle == "" && r.NewChartType == nil && r.NewChartOptions == nil {
		return NewValidationError("input", "updatePrompt is required when no explicit override is supplied", nil)
	}
	return nil
}

// ToolInvocation is one tool call observed during an orchestration run,
// together with the chart fragment it produced (nil for non-chart tools).
type ToolInvocation struct {
	ToolName string     `json:"toolName"`
	Family   ChartType  `json:"family,omitempty"`
	Fragment *ChartSpec `json:"fragment,omitempty"`
	Err      string     `json:"error,omitempty"`
}

// Transcript is the full record of an orchestration run.
type Transcript struct {
	Invocations []ToolInvocation `json:"invocations"`
	FinalText   string           `json:"finalText"`
	ModelTurns  int              `json:"modelTurns"`
}

// ToolNames returns the names of every tool invoked, in call order.
func (t *Transcript) ToolNames() []string {
	names := make([]string, 0, len(t.Invocations))
	for _, inv := range t.Invocations {
		names = append(names, inv.ToolName)
	}
	return names
}

// ChangeEntry is one applied operation in an update's change log.
type ChangeEntry struct {
	Op     string `json:"op"`
	Detail string `json:"detail"`
}

// PipelineReport is the return value of both pipeline paths. Success and
// Saved are deliberately distinct: generation can succeed while persistence
// fails, and the caller still receives a usable spec.
type PipelineReport struct {
	Success   bool       `json:"success"`
	ChartType ChartType  `json:"chartType,omitempty"`
	Spec      *ChartSpec `json:"spec,omitempty"`
	Widget    *Widget    `json:"widget,omitempty"`

	Saved     bool   `json:"saved"`
	SaveError string `json:"saveError,omitempty"`

	Applied  []ChangeEntry `json:"applied,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`

	// Diagnostics for failure triage.
	ToolCallCount int      `json:"toolCallCount,omitempty"`
	ToolsInvoked  []string `json:"toolsInvoked,omitempty"`
	ModelText     string   `json:"modelText,omitempty"`

	DataPreview []Record `json:"dataPreview,omitempty"`
	TotalRows   int      `json:"totalRows,omitempty"`

	Error string `json:"error,omitempty"`
}

// JobStatus is the lifecycle state of a background generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobRecord is the durable status record for a fire-and-forget generation.
// The HTTP boundary only ever reads this record, never the in-flight run.
type JobRecord struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    JobStatus       `json:"status"`
	Stage     string          `json:"stage"`
	Progress  int             `json:"progress"`
	Report    *PipelineReport `json:"report,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
