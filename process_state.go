package chartsynth

import (
	"context"
	"fmt"
	"time"

	"github.com/lumaviz/chartsynth/internal/eventbus"
)

// RequestState represents the current state of a pipeline request.
type RequestState string

const (
	// StateReceived is the initial state of every request
	StateReceived RequestState = "received"
	// StateOrchestrating runs the bounded LLM tool-call loop (generate path)
	StateOrchestrating RequestState = "orchestrating"
	// StateDiffing parses the edit instruction (update path)
	StateDiffing RequestState = "diffing"
	// StateExtracting selects the authoritative chart fragment
	StateExtracting RequestState = "extracting"
	// StateApplying applies diff operations to the existing spec
	StateApplying RequestState = "applying"
	// StatePersisting writes the resulting widget
	StatePersisting RequestState = "persisting"
	// StateSaved marks a successful persistence write
	StateSaved RequestState = "saved"
	// StateSaveFailed marks a failed persistence write after a successful
	// generation; the request still terminates in StateReported
	StateSaveFailed RequestState = "save_failed"
	// StateReported is the terminal state of every request
	StateReported RequestState = "reported"
	// StateCancelled is entered when the request context is cancelled
	StateCancelled RequestState = "cancelled"
)

// RequestContext carries the data of one pipeline request through the state
// machine. It acts as the "tape": transitions read and write it, the
// terminal state turns it into a PipelineReport.
type RequestContext struct {
	// Inputs (exactly one of the two is set)
	Generation *GenerationRequest
	Update     *UpdateRequest

	// Pre-assigned widget id for the generate path; the save tool and the
	// facade both write under this id, so double saves stay idempotent.
	WidgetID string

	// Intermediate results
	Transcript *Transcript
	Spec       *ChartSpec
	Family     ChartType
	Existing   *Widget
	Widget     *Widget
	Changes    []ChangeEntry
	Warnings   []string

	// Error handling
	LastError  error
	ErrorStage string
	SaveError  error

	// State management
	CurrentState RequestState
	StateStack   []RequestState

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[RequestState]time.Time
}

// NewGenerationContext creates a request context for the generate path.
func NewGenerationContext(req *GenerationRequest, widgetID string) *RequestContext {
	return &RequestContext{
		Generation:      req,
		WidgetID:        widgetID,
		CurrentState:    StateReceived,
		StateStack:      []RequestState{},
		StartTime:       time.Now(),
		StateStartTimes: map[RequestState]time.Time{StateReceived: time.Now()},
	}
}

// NewUpdateContext creates a request context for the update path.
func NewUpdateContext(req *UpdateRequest) *RequestContext {
	return &RequestContext{
		Update:          req,
		WidgetID:        req.WidgetID,
		CurrentState:    StateReceived,
		StateStack:      []RequestState{},
		StartTime:       time.Now(),
		StateStartTimes: map[RequestState]time.Time{StateReceived: time.Now()},
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (rc *RequestContext) PushState(state RequestState) {
	rc.StateStack = append(rc.StateStack, rc.CurrentState)
	rc.CurrentState = state
	rc.StateStartTimes[state] = time.Now()
}

// History returns the states visited so far, oldest first.
func (rc *RequestContext) History() []RequestState {
	out := append([]RequestState(nil), rc.StateStack...)
	return append(out, rc.CurrentState)
}

// IsTerminal checks if the current state is terminal.
func (rc *RequestContext) IsTerminal() bool {
	return rc.CurrentState == StateReported || rc.CurrentState == StateCancelled
}

// SetError records a failure. The request keeps moving: every path, failed
// or not, terminates in StateReported.
func (rc *RequestContext) SetError(err error, stage string) {
	rc.LastError = err
	rc.ErrorStage = stage
}

// SetCancelled moves the request to the cancelled terminal state.
func (rc *RequestContext) SetCancelled(err error, stage string) {
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateCancelled
	rc.StateStartTimes[StateCancelled] = time.Now()
}

// Complete marks the request as reported and sets the end time.
func (rc *RequestContext) Complete() {
	rc.CurrentState = StateReported
	rc.EndTime = time.Now()
	rc.StateStartTimes[StateReported] = rc.EndTime
}

// TotalDuration returns the total duration of the request so far.
func (rc *RequestContext) TotalDuration() time.Duration {
	if !rc.EndTime.IsZero() {
		return rc.EndTime.Sub(rc.StartTime)
	}
	return time.Since(rc.StartTime)
}

// BuildReport assembles the PipelineReport from the request context. It is
// called exactly once, by the reported-state transition.
func (rc *RequestContext) BuildReport(sampleRows int) *PipelineReport {
	report := &PipelineReport{
		Applied:  rc.Changes,
		Warnings: rc.Warnings,
	}
	if rc.Transcript != nil {
		report.ToolCallCount = len(rc.Transcript.Invocations)
		report.ToolsInvoked = rc.Transcript.ToolNames()
		report.ModelText = rc.Transcript.FinalText
	}
	if rc.Generation != nil {
		report.TotalRows = len(rc.Generation.SQLResults)
		preview := rc.Generation.SQLResults
		if len(preview) > sampleRows {
			preview = preview[:sampleRows]
		}
		report.DataPreview = preview
	}
	if rc.Spec != nil {
		report.Spec = rc.Spec
		report.ChartType = rc.Spec.ChartType
	}
	report.Widget = rc.Widget
	report.Success = rc.LastError == nil
	if rc.LastError != nil {
		report.Error = rc.LastError.Error()
	}
	report.Saved = rc.Widget != nil && rc.SaveError == nil && rc.LastError == nil
	if rc.SaveError != nil {
		report.SaveError = rc.SaveError.Error()
	}
	return report
}

// StateTransition is a transition function for the request state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, rc *RequestContext) (RequestState, error)

// StateMachine is a finite state machine driving one pipeline request.
type StateMachine struct {
	transitions map[RequestState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine with no transitions registered.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[RequestState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state RequestState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until the request reaches a terminal state.
// Cancellation granularity is "do not start the next transition"; an
// in-flight model turn is never interrupted mid-call.
func (sm *StateMachine) Execute(ctx context.Context, rc *RequestContext) error {
	for !rc.IsTerminal() {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			rc.SetCancelled(err, string(rc.CurrentState))
			return NewCancelledError(string(rc.CurrentState), err)
		default:
		}

		transition, exists := sm.transitions[rc.CurrentState]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", rc.CurrentState)
			rc.SetError(err, string(rc.CurrentState))
			rc.Complete()
			return NewInternalError(string(rc.CurrentState), "transition table incomplete", err)
		}

		nextState, err := transition(ctx, sm.eventBus, rc)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				rc.SetCancelled(err, string(rc.CurrentState))
				return NewCancelledError(string(rc.CurrentState), err)
			}
			// Transitions record their own errors on the context; a
			// returned error here only selects the next state.
			if rc.LastError == nil {
				rc.SetError(err, string(rc.CurrentState))
			}
		}

		if !rc.IsTerminal() {
			rc.PushState(nextState)
		}
	}
	return nil
}
