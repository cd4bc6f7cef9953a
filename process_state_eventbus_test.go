package chartsynth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lumaviz/chartsynth/internal/eventbus"
)

func TestStateMachine_EventBus_EmitsEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(10),
		eventbus.WithWorkerCount(1),
	)
	defer bus.Close()

	var mu sync.Mutex
	emitted := make(map[eventbus.EventType]bool)
	handler := func(ctx context.Context, evt eventbus.Event) error {
		if evt == nil {
			t.Error("event is nil")
			return nil
		}
		mu.Lock()
		emitted[evt.Type()] = true
		mu.Unlock()
		return nil
	}

	_, err := bus.Subscribe([]eventbus.EventType{
		eventbus.EventGenerationStarted,
		eventbus.EventGenerationSuccess,
		eventbus.EventGenerationFailure,
		eventbus.EventExtractionFailure,
		eventbus.EventPersistenceFailure,
	}, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{transcript: lineTranscript()},
		Gateway:      newDummyGateway(),
		Config:       DefaultConfig(),
	}
	sm := CreateGenerationStateMachine(components, bus)
	rc := NewGenerationContext(testGenerationRequest(2), "widget-1")
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Wait briefly for events to be processed
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		started := emitted[eventbus.EventGenerationStarted]
		success := emitted[eventbus.EventGenerationSuccess]
		mu.Unlock()
		if started && success {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected started and success events, got %v", emitted)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStateMachine_EventBus_ExtractionFailureEvent(t *testing.T) {
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	defer bus.Close()

	got := make(chan eventbus.Event, 1)
	if _, err := bus.Subscribe([]eventbus.EventType{eventbus.EventExtractionFailure}, func(ctx context.Context, evt eventbus.Event) error {
		select {
		case got <- evt:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	components := PipelineComponents{
		Orchestrator: &scriptedOrchestrator{transcript: &Transcript{FinalText: "no tools called"}},
		Gateway:      newDummyGateway(),
		Config:       DefaultConfig(),
	}
	sm := CreateGenerationStateMachine(components, bus)
	rc := NewGenerationContext(testGenerationRequest(1), "widget-1")
	if err := sm.Execute(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case evt := <-got:
		if evt.Type() != eventbus.EventExtractionFailure {
			t.Errorf("expected extraction failure event, got %v", evt.Type())
		}
	case <-time.After(time.Second):
		t.Fatal("expected an extraction failure event")
	}
}
