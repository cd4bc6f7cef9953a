package chartsynth

import "context"

// Orchestrator drives the LLM tool-calling runtime for one generation run
// and returns the full transcript of tool invocations plus the model's final
// free-text response. The step budget is a hard ceiling on model turns.
type Orchestrator interface {
	Run(ctx context.Context, input OrchestrationInput) (*Transcript, error)
}

// OrchestrationInput carries everything one bounded orchestration run needs.
// Request holds the full row set; only a sample of it appears in UserPrompt.
type OrchestrationInput struct {
	SystemPrompt string
	UserPrompt   string
	Request      *GenerationRequest
	WidgetID     string
	StepBudget   int
}

// DiffEngine translates a free-text edit instruction (plus explicit
// overrides) into structural mutations on an existing spec. Unsupported
// fragments come back as warnings, never as errors.
type DiffEngine interface {
	Apply(spec *ChartSpec, req *UpdateRequest) (*ChartSpec, []ChangeEntry, []string, error)
}

// Gateway is the read-modify-write surface over the chart/widget tables.
// SaveWidget creates when the widget id is empty and replaces in place when
// it is set; a replace with the same id must be idempotent under retry.
// FetchWidget returns a typed not-found error carrying sibling widget ids.
type Gateway interface {
	SaveWidget(ctx context.Context, w *Widget) (*Widget, error)
	FetchWidget(ctx context.Context, dashboardID, widgetID string) (*Widget, error)
	ListWidgetIDs(ctx context.Context, dashboardID string) ([]string, error)
	DeleteWidget(ctx context.Context, dashboardID, widgetID string) error
}

// JobStore persists durable status records for fire-and-forget generations.
type JobStore interface {
	Enqueue(ctx context.Context, rec *JobRecord) error
	UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error
	Get(ctx context.Context, id string) (*JobRecord, error)
}
