// Package orchestrator drives the bounded LLM tool-calling loop for chart
// generation runs.
package orchestrator

import (
	"context"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	chartsynth "github.com/lumaviz/chartsynth"
	"github.com/lumaviz/chartsynth/internal/catalog"
	"github.com/lumaviz/chartsynth/internal/logger"
)

// GenkitOrchestrator implements chartsynth.Orchestrator on top of genkit's
// generate loop. Tool effects run synchronously inside the loop; the step
// budget is a hard ceiling on model turns, enforced by the runtime.
type GenkitOrchestrator struct {
	g       *genkit.Genkit
	catalog *catalog.Catalog
	model   string
	subset  []string
	log     *logger.Logger
}

// New creates an orchestrator. An empty model name defers to the genkit
// default model; an empty subset exposes every chart family.
func New(g *genkit.Genkit, cat *catalog.Catalog, model string, subset []string, log *logger.Logger) *GenkitOrchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &GenkitOrchestrator{
		g:       g,
		catalog: cat,
		model:   model,
		subset:  subset,
		log:     log,
	}
}

// Run executes one bounded generation conversation and returns its full
// transcript. Transport failures are returned verbatim; interpreting the
// transcript is the extractor's job, not ours.
func (o *GenkitOrchestrator) Run(ctx context.Context, input chartsynth.OrchestrationInput) (*chartsynth.Transcript, error) {
	run := &catalog.Run{
		WidgetID:    input.WidgetID,
		DashboardID: input.Request.DashboardID,
		SourceQuery: input.Request.SQLQuery,
		UserPrompt:  input.Request.UserPrompt,
		Rows:        input.Request.SQLResults,
	}
	ctx = catalog.WithRun(ctx, run)

	// A zero budget means no model turns at all. The empty transcript
	// surfaces downstream as an extraction failure, not a transport error.
	if input.StepBudget <= 0 {
		return &chartsynth.Transcript{}, nil
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(input.SystemPrompt),
		ai.WithPrompt(input.UserPrompt),
		ai.WithTools(o.catalog.Refs(o.subset)...),
		ai.WithMaxTurns(input.StepBudget),
	}
	if o.model != "" {
		opts = append(opts, ai.WithModelName(o.model))
	}

	resp, err := genkit.Generate(ctx, o.g, opts...)
	if err != nil {
		// The runtime reports exceeding the turn budget as an error, but the
		// tools already invoked are still on the run and still usable. Any
		// other failure (network, quota, cancellation) is a transport error
		// and goes back verbatim, whatever the tools managed before it.
		if isMaxTurnsErr(err) {
			invocations := run.Invocations()
			o.log.Warn("turn budget exhausted",
				"error", err.Error(),
				"tool_calls", len(invocations),
			)
			return &chartsynth.Transcript{
				Invocations: invocations,
				// The ceiling was hit, so the turn count equals the budget.
				ModelTurns: input.StepBudget,
			}, nil
		}
		return nil, err
	}

	transcript := &chartsynth.Transcript{
		Invocations: run.Invocations(),
		FinalText:   resp.Text(),
		ModelTurns:  countModelTurns(resp),
	}

	o.log.Debug("generation loop finished",
		"model_turns", transcript.ModelTurns,
		"tool_calls", len(transcript.Invocations),
	)
	return transcript, nil
}

// isMaxTurnsErr recognizes the error genkit raises when WithMaxTurns is
// exhausted. The runtime builds it with fmt.Errorf, so there is no sentinel
// to test with errors.Is; the message is the only discriminator.
func isMaxTurnsErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "exceeded maximum tool call iterations")
}

func countModelTurns(resp *ai.ModelResponse) int {
	turns := 0
	for _, msg := range resp.History() {
		if msg.Role == ai.RoleModel {
			turns++
		}
	}
	return turns
}
