package chartsynth

import (
	"context"
	"time"

	"github.com/lumaviz/chartsynth/internal/eventbus"
)

// PipelineComponents holds references to the collaborators the state
// transitions need.
type PipelineComponents struct {
	Orchestrator Orchestrator
	Diff         DiffEngine
	Gateway      Gateway
	Config       Config
}

// CreateGenerationStateMachine builds the state machine for the generate
// path: received -> orchestrating -> extracting -> persisting ->
// {saved | save_failed} -> reported.
func CreateGenerationStateMachine(components PipelineComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateReceived, createGenerationReceivedTransition(components))
	sm.RegisterTransition(StateOrchestrating, createOrchestratingTransition(components))
	sm.RegisterTransition(StateExtracting, createExtractingTransition(components))
	sm.RegisterTransition(StatePersisting, createPersistingTransition(components))
	sm.RegisterTransition(StateSaved, createSavedTransition(components))
	sm.RegisterTransition(StateSaveFailed, createSaveFailedTransition(components))

	return sm
}

// CreateUpdateStateMachine builds the state machine for the update path:
// received -> diffing -> applying -> persisting -> {saved | save_failed} ->
// reported.
func CreateUpdateStateMachine(components PipelineComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateReceived, createUpdateReceivedTransition(components))
	sm.RegisterTransition(StateDiffing, createDiffingTransition(components))
	sm.RegisterTransition(StateApplying, createApplyingTransition(components))
	sm.RegisterTransition(StatePersisting, createPersistingTransition(components))
	sm.RegisterTransition(StateSaved, createSavedTransition(components))
	sm.RegisterTransition(StateSaveFailed, createSaveFailedTransition(components))

	return sm
}

func publish(ctx context.Context, eb eventbus.EventBus, eventType eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	eb.Publish(ctx, eventbus.NewEvent(eventType, payload, source, metadata))
}

// createGenerationReceivedTransition announces the run and hands off to the
// orchestrator. Input validation already happened in the facade, before any
// side effect.
func createGenerationReceivedTransition(_ PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		publish(ctx, eb, eventbus.EventGenerationStarted, rc.Generation.UserPrompt, "StateMachine.Received", map[string]interface{}{
			"widget_id":  rc.WidgetID,
			"total_rows": len(rc.Generation.SQLResults),
			"timestamp":  time.Now().Format(time.RFC3339),
		})
		return StateOrchestrating, nil
	}
}

func createUpdateReceivedTransition(_ PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		publish(ctx, eb, eventbus.EventUpdateStarted, rc.Update.UpdatePrompt, "StateMachine.Received", map[string]interface{}{
			"dashboard_id": rc.Update.DashboardID,
			"widget_id":    rc.Update.WidgetID,
			"timestamp":    time.Now().Format(time.RFC3339),
		})
		return StateDiffing, nil
	}
}

// createOrchestratingTransition runs the bounded tool-call loop. A transport
// failure is surfaced verbatim and not retried here; retries, if any, are a
// new request.
func createOrchestratingTransition(components PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		input := OrchestrationInput{
			SystemPrompt: GenerationSystemPrompt,
			UserPrompt:   BuildGenerationPrompt(rc.Generation, components.Config.SampleRows),
			Request:      rc.Generation,
			WidgetID:     rc.WidgetID,
			StepBudget:   components.Config.StepBudget,
		}

		transcript, err := components.Orchestrator.Run(ctx, input)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return StateCancelled, err
			}
			publish(ctx, eb, eventbus.EventGenerationFailure, err.Error(), "StateMachine.Orchestrating", map[string]interface{}{
				"stage": "orchestrating",
			})
			rc.SetError(NewTransportError("orchestrating", err), "orchestrating")
			rc.Complete()
			return StateReported, nil
		}

		rc.Transcript = transcript
		return StateExtracting, nil
	}
}

// createExtractingTransition selects the authoritative chart fragment from
// the transcript. No fragment is a distinct, diagnosable failure, never a
// silent empty success.
func createExtractingTransition(_ PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		spec, family, err := ExtractChartSpec(rc.Transcript)
		if err != nil {
			publish(ctx, eb, eventbus.EventExtractionFailure, err.Error(), "StateMachine.Extracting", map[string]interface{}{
				"tool_call_count": len(rc.Transcript.Invocations),
				"tools_invoked":   rc.Transcript.ToolNames(),
			})
			rc.SetError(err, "extracting")
			rc.Complete()
			return StateReported, nil
		}

		rc.Spec = spec
		rc.Family = family
		return StatePersisting, nil
	}
}

// createDiffingTransition fetches the widget under edit. A missing widget
// terminates the request with a not-found condition naming the id searched
// for and the sibling ids that do exist.
func createDiffingTransition(components PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		widget, err := components.Gateway.FetchWidget(ctx, rc.Update.DashboardID, rc.Update.WidgetID)
		if err != nil {
			publish(ctx, eb, eventbus.EventUpdateFailure, err.Error(), "StateMachine.Diffing", map[string]interface{}{
				"widget_id": rc.Update.WidgetID,
			})
			rc.SetError(err, "diffing")
			rc.Complete()
			return StateReported, nil
		}

		rc.Existing = widget
		return StateApplying, nil
	}
}

// createApplyingTransition applies the recognized diff operations.
// Unsupported instruction fragments become warnings; the rest of the update
// still applies. A fully unrecognized instruction is an explicit no-op
// update, not a failure.
func createApplyingTransition(components PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		newSpec, changes, warnings, err := components.Diff.Apply(rc.Existing.Spec, rc.Update)
		if err != nil {
			rc.SetError(err, "applying")
			rc.Complete()
			return StateReported, nil
		}

		rc.Spec = newSpec
		rc.Changes = changes
		rc.Warnings = warnings
		return StatePersisting, nil
	}
}

// createPersistingTransition writes the resulting widget. A persistence
// failure after a successful generation is reported, not masked: the caller
// still receives a usable spec.
func createPersistingTransition(components PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		if err := rc.Spec.Validate(); err != nil {
			rc.SetError(err, "persisting")
			rc.Complete()
			return StateReported, nil
		}

		widget := buildWidget(rc)
		saved, err := components.Gateway.SaveWidget(ctx, widget)
		if err != nil {
			rc.SaveError = NewPersistenceError("persisting", err)
			// Hand the computed widget back even though the write failed.
			rc.Widget = widget
			return StateSaveFailed, nil
		}

		rc.Widget = saved
		return StateSaved, nil
	}
}

func buildWidget(rc *RequestContext) *Widget {
	now := time.Now()
	if rc.Existing != nil {
		w := *rc.Existing
		w.Spec = rc.Spec
		if rc.Spec.Title != "" {
			w.Title = rc.Spec.Title
		}
		w.Revision = rc.Existing.Revision + 1
		w.LastUpdated = now
		return &w
	}
	title := rc.Spec.Title
	if title == "" {
		title = rc.Generation.UserPrompt
	}
	return &Widget{
		ID:          rc.WidgetID,
		DashboardID: rc.Generation.DashboardID,
		Spec:        rc.Spec,
		Title:       title,
		SourceQuery: rc.Generation.SQLQuery,
		UserPrompt:  rc.Generation.UserPrompt,
		Revision:    1,
		LastUpdated: now,
	}
}

func createSavedTransition(_ PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		eventType := eventbus.EventGenerationSuccess
		source := "StateMachine.Saved"
		if rc.Update != nil {
			eventType = eventbus.EventUpdateSuccess
		}
		publish(ctx, eb, eventType, rc.Widget.ID, source, map[string]interface{}{
			"chart_type":  string(rc.Spec.ChartType),
			"duration_ms": rc.TotalDuration().Milliseconds(),
		})
		rc.Complete()
		return StateReported, nil
	}
}

func createSaveFailedTransition(_ PipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RequestContext) (RequestState, error) {
		publish(ctx, eb, eventbus.EventPersistenceFailure, rc.SaveError.Error(), "StateMachine.SaveFailed", map[string]interface{}{
			"widget_id": rc.WidgetID,
		})
		rc.Complete()
		return StateReported, nil
	}
}
