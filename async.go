package chartsynth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lumaviz/chartsynth/internal/eventbus"
)

// SynthesizeAsync starts a background generation run. It validates the input,
// writes a durable job record and returns its id immediately; progress and the
// final report are read back through GetJobStatus. The run itself uses a
// detached context: the caller disconnecting does not cancel the generation.
func (p *Pipeline) SynthesizeAsync(ctx context.Context, req *GenerationRequest) (string, error) {
	if p.jobs == nil {
		return "", NewConfigurationError("background jobs require a job store", nil)
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	record := &JobRecord{
		ID:        uuid.New().String(),
		Kind:      "generate",
		Status:    JobStatusQueued,
		Stage:     string(StateReceived),
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.jobs.Enqueue(ctx, record); err != nil {
		return "", NewPersistenceError("enqueue", err)
	}

	if bus := p.busIfEnabled(); bus != nil {
		bus.Publish(ctx, eventbus.NewEvent(eventbus.EventJobEnqueued, record.ID, "Pipeline.SynthesizeAsync", map[string]interface{}{
			"kind": record.Kind,
		}))
	}

	jobID := record.ID
	p.workers.Go(func() {
		p.runJob(jobID, req)
	})

	return jobID, nil
}

// GetJobStatus returns the durable record of a background job.
func (p *Pipeline) GetJobStatus(ctx context.Context, jobID string) (*JobRecord, error) {
	if p.jobs == nil {
		return nil, NewConfigurationError("background jobs require a job store", nil)
	}
	return p.jobs.Get(ctx, jobID)
}

func (p *Pipeline) runJob(jobID string, req *GenerationRequest) {
	ctx := context.Background()

	p.updateJob(ctx, jobID, map[string]interface{}{
		"status":   JobStatusProcessing,
		"stage":    string(StateOrchestrating),
		"progress": 10,
	})

	rc := NewGenerationContext(req, uuid.New().String())
	sm := CreateGenerationStateMachine(p.components(), p.busIfEnabled())
	execErr := sm.Execute(ctx, rc)
	report := rc.BuildReport(p.config.SampleRows)

	fields := map[string]interface{}{
		"stage":    string(rc.CurrentState),
		"progress": 100,
		"report":   report,
	}
	if execErr != nil || rc.LastError != nil {
		fields["status"] = JobStatusFailed
		err := rc.LastError
		if err == nil {
			err = execErr
		}
		fields["error"] = err.Error()
		p.publishJobEvent(ctx, eventbus.EventJobFailed, jobID, err)
	} else {
		fields["status"] = JobStatusCompleted
		p.publishJobEvent(ctx, eventbus.EventJobCompleted, jobID, nil)
	}
	p.updateJob(ctx, jobID, fields)
}

func (p *Pipeline) updateJob(ctx context.Context, jobID string, fields map[string]interface{}) {
	if err := p.jobs.UpdateFields(ctx, jobID, fields); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Error("failed to update job record", "job_id", jobID, "error", err.Error())
	}
}

func (p *Pipeline) publishJobEvent(ctx context.Context, eventType eventbus.EventType, jobID string, jobErr error) {
	bus := p.busIfEnabled()
	if bus == nil {
		return
	}
	metadata := map[string]interface{}{}
	if jobErr != nil {
		metadata["error"] = jobErr.Error()
	}
	bus.Publish(ctx, eventbus.NewEvent(eventType, jobID, "Pipeline.runJob", metadata))
}
