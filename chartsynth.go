// Package chartsynth turns SQL query results and free-text prompts into
// validated chart specifications, and free-text edit instructions into spec
// updates.
package chartsynth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lumaviz/chartsynth/internal/eventbus"
	"github.com/lumaviz/chartsynth/internal/logger"
	"github.com/sourcegraph/conc/pool"
)

// Pipeline is the main entry point. It encapsulates the orchestrator driving
// the model, the diff engine for edits, and the persistence gateway.
type Pipeline struct {
	// Core components
	orchestrator Orchestrator
	diff         DiffEngine
	gateway      Gateway
	jobs         JobStore
	eventBus     eventbus.EventBus
	log          *logger.Logger

	// Configuration
	config Config

	// Background generation worker pool
	workers *pool.Pool
}

// Option is a function that configures a Pipeline instance.
type Option func(*Pipeline)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(p *Pipeline) {
		p.config = config
	}
}

// WithOrchestrator sets the orchestrator component.
func WithOrchestrator(o Orchestrator) Option {
	return func(p *Pipeline) {
		p.orchestrator = o
	}
}

// WithDiffEngine sets the diff engine component.
func WithDiffEngine(d DiffEngine) Option {
	return func(p *Pipeline) {
		p.diff = d
	}
}

// WithGateway sets the persistence gateway component.
func WithGateway(g Gateway) Option {
	return func(p *Pipeline) {
		p.gateway = g
	}
}

// WithJobStore sets the store for background job records.
func WithJobStore(s JobStore) Option {
	return func(p *Pipeline) {
		p.jobs = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// New creates a new Pipeline with the provided options.
func New(ctx context.Context, options ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: DefaultConfig(),
	}

	for _, option := range options {
		option(p)
	}

	if p.orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if p.diff == nil {
		return nil, errors.New("diff engine is required")
	}
	if p.gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if err := p.config.ValidateConfig(); err != nil {
		return nil, err
	}
	if p.log == nil {
		p.log = logger.NewNop()
	}

	if p.config.EnableEventBus && p.eventBus == nil {
		p.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(p.config.EventBusBufferSize),
			eventbus.WithWorkerCount(p.config.EventBusWorkerCount),
		)
	}

	p.workers = pool.New().WithMaxGoroutines(p.config.MaxConcurrentJobs)

	return p, nil
}

// Synthesize runs the generate path end to end: model orchestration, fragment
// extraction, validation and persistence. The returned report is always
// populated; the error mirrors report failure so callers can branch on the
// error taxonomy without inspecting the report.
func (p *Pipeline) Synthesize(ctx context.Context, req *GenerationRequest) (*PipelineReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// The widget id is fixed before orchestration starts so the save tool and
	// the pipeline's own save both write under the same id.
	rc := NewGenerationContext(req, uuid.New().String())
	return p.run(ctx, rc, CreateGenerationStateMachine(p.components(), p.busIfEnabled()))
}

// Update applies a free-text edit instruction to an existing widget.
func (p *Pipeline) Update(ctx context.Context, req *UpdateRequest) (*PipelineReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rc := NewUpdateContext(req)
	return p.run(ctx, rc, CreateUpdateStateMachine(p.components(), p.busIfEnabled()))
}

func (p *Pipeline) run(ctx context.Context, rc *RequestContext, sm *StateMachine) (*PipelineReport, error) {
	if err := sm.Execute(ctx, rc); err != nil {
		// Cancellation or a broken transition table: the report still
		// describes how far the request got.
		return rc.BuildReport(p.config.SampleRows), err
	}

	report := rc.BuildReport(p.config.SampleRows)
	if rc.LastError != nil {
		p.log.Warn("pipeline request failed",
			"stage", rc.ErrorStage,
			"error", rc.LastError.Error(),
		)
		return report, rc.LastError
	}

	p.log.Debug("pipeline request completed",
		"chart_type", string(report.ChartType),
		"saved", report.Saved,
		"duration_ms", rc.TotalDuration().Milliseconds(),
	)
	return report, nil
}

// FetchWidget reads a widget through the gateway. A miss surfaces the typed
// not-found error with sibling ids intact.
func (p *Pipeline) FetchWidget(ctx context.Context, dashboardID, widgetID string) (*Widget, error) {
	return p.gateway.FetchWidget(ctx, dashboardID, widgetID)
}

func (p *Pipeline) components() PipelineComponents {
	return PipelineComponents{
		Orchestrator: p.orchestrator,
		Diff:         p.diff,
		Gateway:      p.gateway,
		Config:       p.config,
	}
}

func (p *Pipeline) busIfEnabled() eventbus.EventBus {
	if p.config.EnableEventBus {
		return p.eventBus
	}
	return nil
}

// Close waits for in-flight background jobs and shuts down the event bus.
func (p *Pipeline) Close() error {
	if p.workers != nil {
		p.workers.Wait()
	}
	if p.eventBus != nil {
		return p.eventBus.Close()
	}
	return nil
}
