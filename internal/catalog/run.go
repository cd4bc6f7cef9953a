package catalog

import (
	"context"
	"sync"

	chartsynth "github.com/lumaviz/chartsynth"
)

// Run carries per-request data into tool executors and records what the
// tools produced. Tools are defined once per process but run many requests
// concurrently, so everything request-scoped travels through the context.
type Run struct {
	WidgetID    string
	DashboardID string
	SourceQuery string
	UserPrompt  string

	// Rows is the full result set. The model only ever sees a sample;
	// series hydration always works from the full set.
	Rows []chartsynth.Record

	mu          sync.Mutex
	invocations []chartsynth.ToolInvocation
	savedWidget *chartsynth.Widget
}

// Record appends one observed tool invocation to the run transcript.
func (r *Run) Record(inv chartsynth.ToolInvocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)
}

// Invocations returns the invocations recorded so far, in call order.
func (r *Run) Invocations() []chartsynth.ToolInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chartsynth.ToolInvocation(nil), r.invocations...)
}

// LastFragment returns the most recent non-empty chart fragment, or nil.
func (r *Run) LastFragment() (*chartsynth.ChartSpec, chartsynth.ChartType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.invocations) - 1; i >= 0; i-- {
		inv := r.invocations[i]
		if inv.Fragment != nil && len(inv.Fragment.Series) > 0 {
			return inv.Fragment, inv.Family
		}
	}
	return nil, ""
}

// SetSaved remembers the widget the save tool wrote.
func (r *Run) SetSaved(w *chartsynth.Widget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedWidget = w
}

// Saved returns the widget the save tool wrote, or nil.
func (r *Run) Saved() *chartsynth.Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.savedWidget
}

type runContextKey struct{}

// WithRun attaches a run to the context for tool executors to find.
func WithRun(ctx context.Context, run *Run) context.Context {
	return context.WithValue(ctx, runContextKey{}, run)
}

// RunFromContext retrieves the run attached by WithRun.
func RunFromContext(ctx context.Context) (*Run, bool) {
	run, ok := ctx.Value(runContextKey{}).(*Run)
	return run, ok
}
