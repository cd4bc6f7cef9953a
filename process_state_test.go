package chartsynth

import (
	"context"
	"errors"
	"testing"
)

type scriptedOrchestrator struct {
	transcript *Transcript
	err        error
	calls      int
	lastInput  OrchestrationInput
}

func (o *scriptedOrchestrator) Run(ctx context.Context, input OrchestrationInput) (*Transcript, error) {
	o.calls++
	o.lastInput = input
	if o.err != nil {
		return nil, o.err
	}
	return o.transcript, nil
}

type dummyGateway struct {
	widgets map[string]*Widget
	saveErr error
	saves   int
}

func newDummyGateway() *dummyGateway {
	return &dummyGateway{widgets: make(map[string]*Widget)}
}

func (g *dummyGateway) SaveWidget(ctx context.Context, w *Widget) (*Widget, error) {
	g.saves++
	if g.saveErr != nil {
		return nil, g.saveErr
	}
	cp := *w
	g.widgets[w.ID] = &cp
	return &cp, nil
}

func (g *dummyGateway) FetchWidget(ctx context.Context, dashboardID, widgetID string) (*Widget, error) {
	if w, ok := g.widgets[widgetID]; ok {
		cp := *w
		cp.Spec = w.Spec.Clone()
		return &cp, nil
	}
	siblings := make([]string, 0, len(g.widgets))
	for id := range g.widgets {
		siblings = append(siblings, id)
	}
	return nil, NewNotFoundError("diffing", widgetID, siblings)
}

func (g *dummyGateway) ListWidgetIDs(ctx context.Context, dashboardID string) ([]string, error) {
	ids := make([]string, 0, len(g.widgets))
	for id := range g.widgets {
		ids = append(ids, id)
	}
	return ids, nil
}

func (g *dummyGateway) DeleteWidget(ctx context.Context, dashboardID, widgetID string) error {
	delete(g.widgets, widgetID)
	return nil
}

type passthroughDiff struct {
	changes  []ChangeEntry
	warnings []string
}

func (d *passthroughDiff) Apply(spec *ChartSpec, req *UpdateRequest) (*ChartSpec, []ChangeEntry, []string, error) {
	return spec.Clone(), d.changes, d.warnings, nil
}

func lineTranscript() *Transcript {
	return &Transcript{
		Invocations: []ToolInvocation{
			{
				ToolName: "generateLineChart",
				Family:   ChartTypeLine,
				Fragment: &ChartSpec{
					ChartType: ChartTypeLine,
					Title:     "Revenue by month",
					Series: []Series{{
						Name: "revenue",
						Points: []SeriesPoint{
							{Category: "Jan", Value: 10},
							{Category: "Feb", Value: 20},
						},
					}},
				},
			},
		},
		FinalText:  "Created a line chart.",
		ModelTurns: 2,
	}
}

func generationRows(n int) []Record {
	rows := make([]Record, n)
	for i := range rows {
		rows[i] = Record{"month": "m", "revenue": float64(i)}
	}
	return rows
}

func testGenerationRequest(n int) *GenerationRequest {
	return &GenerationRequest{
		SQLQuery:    "SELECT month, revenue FROM sales",
		SQLResults:  generationRows(n),
		UserPrompt:  "show revenue by month",
		CSVID:       "csv-1",
		DashboardID: "dash-1",
	}
}

func TestStateMachine_Generation_Success(t *testing.T) {
	gw := newDummyGateway()
	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{transcript: lineTranscript()},
		Gateway:      gw,
		Config:       DefaultConfig(),
	}

	sm := CreateGenerationStateMachine(components, nil)
	rc := NewGenerationContext(testGenerationRequest(3), "widget-1")
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rc.CurrentState != StateReported {
		t.Errorf("expected terminal state %q, got %q", StateReported, rc.CurrentState)
	}
	if rc.LastError != nil {
		t.Errorf("unexpected pipeline error: %v", rc.LastError)
	}
	if rc.Widget == nil || rc.Widget.ID != "widget-1" {
		t.Fatalf("expected widget saved under pre-assigned id, got %+v", rc.Widget)
	}
	if rc.Widget.Revision != 1 {
		t.Errorf("expected revision 1 for new widget, got %d", rc.Widget.Revision)
	}
	if gw.saves != 1 {
		t.Errorf("expected exactly one save, got %d", gw.saves)
	}
}

func TestStateMachine_Generation_TransportFailure(t *testing.T) {
	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{err: errors.New("model timeout")},
		Gateway:      newDummyGateway(),
		Config:       DefaultConfig(),
	}

	sm := CreateGenerationStateMachine(components, nil)
	rc := NewGenerationContext(testGenerationRequest(1), "widget-1")
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rc.LastError == nil {
		t.Fatal("expected recorded error for transport failure")
	}
	var perr *PipelineError
	if !errors.As(rc.LastError, &perr) || perr.Code != ErrCodeTransport {
		t.Errorf("expected transport error, got %v", rc.LastError)
	}
	if rc.CurrentState != StateReported {
		t.Errorf("transport failure must still terminate in %q, got %q", StateReported, rc.CurrentState)
	}
}

func TestStateMachine_Generation_ExtractionFailure(t *testing.T) {
	transcript := &Transcript{
		Invocations: []ToolInvocation{{ToolName: "saveChartToDashboard"}},
		FinalText:   "I saved it.",
	}
	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{transcript: transcript},
		Gateway:      newDummyGateway(),
		Config:       DefaultConfig(),
	}

	sm := CreateGenerationStateMachine(components, nil)
	rc := NewGenerationContext(testGenerationRequest(1), "widget-1")
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !IsExtractionFailure(rc.LastError) {
		t.Fatalf("expected extraction failure, got %v", rc.LastError)
	}
	var perr *PipelineError
	errors.As(rc.LastError, &perr)
	if len(perr.ToolsInvoked) != 1 || perr.ToolsInvoked[0] != "saveChartToDashboard" {
		t.Errorf("extraction failure must list the tools invoked, got %v", perr.ToolsInvoked)
	}
}

func TestStateMachine_Generation_SaveFailure(t *testing.T) {
	gw := newDummyGateway()
	gw.saveErr = errors.New("datastore unavailable")
	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{transcript: lineTranscript()},
		Gateway:      gw,
		Config:       DefaultConfig(),
	}

	sm := CreateGenerationStateMachine(components, nil)
	rc := NewGenerationContext(testGenerationRequest(1), "widget-1")
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rc.LastError != nil {
		t.Errorf("generation itself succeeded, expected no pipeline error, got %v", rc.LastError)
	}
	if rc.SaveError == nil {
		t.Fatal("expected recorded save error")
	}
	if rc.Widget == nil {
		t.Error("caller must still receive the computed widget after a failed save")
	}

	report := rc.BuildReport(10)
	if !report.Success {
		t.Error("report.Success must be true when only persistence failed")
	}
	if report.Saved {
		t.Error("report.Saved must be false after a failed save")
	}
	if report.SaveError == "" {
		t.Error("report must carry the save error text")
	}
}

func TestStateMachine_Update_NotFound(t *testing.T) {
	gw := newDummyGateway()
	gw.widgets["other-widget"] = &Widget{
		ID:   "other-widget",
		Spec: &ChartSpec{ChartType: ChartTypeBar, Series: []Series{{Name: "s", Points: []SeriesPoint{{Value: 1}}}}},
	}
	components := PipelineComponents{
		Diff:    &passthroughDiff{},
		Gateway: gw,
		Config:  DefaultConfig(),
	}

	sm := CreateUpdateStateMachine(components, nil)
	rc := NewUpdateContext(&UpdateRequest{DashboardID: "dash-1", WidgetID: "missing", UpdatePrompt: "make it red"})
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !IsNotFound(rc.LastError) {
		t.Fatalf("expected not-found error, got %v", rc.LastError)
	}
	var perr *PipelineError
	errors.As(rc.LastError, &perr)
	if perr.MissingID != "missing" {
		t.Errorf("expected missing id recorded, got %q", perr.MissingID)
	}
	if len(perr.SiblingIDs) != 1 || perr.SiblingIDs[0] != "other-widget" {
		t.Errorf("expected sibling ids, got %v", perr.SiblingIDs)
	}
}

func TestStateMachine_Update_Success_BumpsRevision(t *testing.T) {
	gw := newDummyGateway()
	gw.widgets["w-1"] = &Widget{
		ID:       "w-1",
		Title:    "Old title",
		Revision: 3,
		Spec: &ChartSpec{
			ChartType: ChartTypeColumn,
			Series:    []Series{{Name: "s", Points: []SeriesPoint{{Category: "a", Value: 1}}}},
		},
	}
	components := PipelineComponents{
		Diff:    &passthroughDiff{changes: []ChangeEntry{{Op: "colors", Detail: "set series colors"}}},
		Gateway: gw,
		Config:  DefaultConfig(),
	}

	sm := CreateUpdateStateMachine(components, nil)
	rc := NewUpdateContext(&UpdateRequest{DashboardID: "dash-1", WidgetID: "w-1", UpdatePrompt: "make it red"})
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rc.LastError != nil {
		t.Fatalf("unexpected pipeline error: %v", rc.LastError)
	}
	if rc.Widget.Revision != 4 {
		t.Errorf("expected revision bump to 4, got %d", rc.Widget.Revision)
	}
	if len(rc.Changes) != 1 {
		t.Errorf("expected one applied change, got %v", rc.Changes)
	}
}

func TestStateMachine_Execute_Cancellation(t *testing.T) {
	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{transcript: lineTranscript()},
		Gateway:      newDummyGateway(),
		Config:       DefaultConfig(),
	}

	sm := CreateGenerationStateMachine(components, nil)
	rc := NewGenerationContext(testGenerationRequest(1), "widget-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sm.Execute(ctx, rc)
	if err == nil {
		t.Fatal("expected error for cancellation, got nil")
	}
	if rc.CurrentState != StateCancelled {
		t.Errorf("expected terminal state %q, got %q", StateCancelled, rc.CurrentState)
	}
}

func TestRequestContext_History(t *testing.T) {
	rc := NewGenerationContext(testGenerationRequest(1), "widget-1")
	rc.PushState(StateOrchestrating)
	rc.PushState(StateExtracting)

	history := rc.History()
	want := []RequestState{StateReceived, StateOrchestrating, StateExtracting}
	if len(history) != len(want) {
		t.Fatalf("expected %d states, got %v", len(want), history)
	}
	for i, s := range want {
		if history[i] != s {
			t.Errorf("history[%d]: expected %q, got %q", i, s, history[i])
		}
	}
}

func TestBuildReport_TruncatesPreview(t *testing.T) {
	rc := NewGenerationContext(testGenerationRequest(12), "widget-1")
	rc.Transcript = lineTranscript()
	rc.Spec = rc.Transcript.Invocations[0].Fragment
	rc.Complete()

	report := rc.BuildReport(10)
	if report.TotalRows != 12 {
		t.Errorf("expected total rows 12, got %d", report.TotalRows)
	}
	if len(report.DataPreview) != 10 {
		t.Errorf("expected preview truncated to 10 rows, got %d", len(report.DataPreview))
	}
	if report.ToolCallCount != 1 {
		t.Errorf("expected tool call count 1, got %d", report.ToolCallCount)
	}
}
