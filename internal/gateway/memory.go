// Package gateway provides the persistence implementations behind the
// pipeline: an in-memory store for tests and single-process deployments, and
// a gorm-backed store for Postgres.
package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	chartsynth "github.com/lumaviz/chartsynth"
)

// MemoryGateway is a thread-safe in-memory widget store.
type MemoryGateway struct {
	mu      sync.RWMutex
	widgets map[string]map[string]*chartsynth.Widget
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		widgets: make(map[string]map[string]*chartsynth.Widget),
	}
}

// SaveWidget creates the widget when its id is empty and replaces in place
// when it is set. Replacing under the same id is idempotent under retry.
func (g *MemoryGateway) SaveWidget(ctx context.Context, w *chartsynth.Widget) (*chartsynth.Widget, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}
	if w == nil || w.Spec == nil {
		return nil, errbuilder.GenericErr("cannot save a widget without a spec", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	stored := *w
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.LastUpdated.IsZero() {
		stored.LastUpdated = time.Now()
	}
	stored.Spec = w.Spec.Clone()

	dash, ok := g.widgets[stored.DashboardID]
	if !ok {
		dash = make(map[string]*chartsynth.Widget)
		g.widgets[stored.DashboardID] = dash
	}
	dash[stored.ID] = &stored

	out := stored
	out.Spec = stored.Spec.Clone()
	return &out, nil
}

// FetchWidget returns a widget by dashboard and widget id. A miss is a typed
// not-found error carrying the sibling widget ids of the dashboard, so the
// caller can tell a wrong id from an empty dashboard.
func (g *MemoryGateway) FetchWidget(ctx context.Context, dashboardID, widgetID string) (*chartsynth.Widget, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	dash, ok := g.widgets[dashboardID]
	if !ok {
		return nil, chartsynth.NewNotFoundError("diffing", widgetID, nil)
	}
	w, ok := dash[widgetID]
	if !ok {
		return nil, chartsynth.NewNotFoundError("diffing", widgetID, sortedKeys(dash))
	}

	out := *w
	out.Spec = w.Spec.Clone()
	return &out, nil
}

// ListWidgetIDs returns the widget ids of a dashboard, sorted.
func (g *MemoryGateway) ListWidgetIDs(ctx context.Context, dashboardID string) ([]string, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.widgets[dashboardID]), nil
}

// DeleteWidget removes a widget. Deleting a missing widget is a typed
// not-found error, mirroring FetchWidget.
func (g *MemoryGateway) DeleteWidget(ctx context.Context, dashboardID, widgetID string) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dash, ok := g.widgets[dashboardID]
	if !ok {
		return chartsynth.NewNotFoundError("delete", widgetID, nil)
	}
	if _, ok := dash[widgetID]; !ok {
		return chartsynth.NewNotFoundError("delete", widgetID, sortedKeys(dash))
	}
	delete(dash, widgetID)
	return nil
}

func sortedKeys(m map[string]*chartsynth.Widget) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MemoryJobStore is a thread-safe in-memory job record store.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*chartsynth.JobRecord
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*chartsynth.JobRecord)}
}

// Enqueue stores a new job record.
func (s *MemoryJobStore) Enqueue(ctx context.Context, rec *chartsynth.JobRecord) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return errbuilder.GenericErr("job record requires an id", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.jobs[rec.ID] = &cp
	return nil
}

// UpdateFields applies a partial update to a job record.
func (s *MemoryJobStore) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return errbuilder.NotFoundErr(errbuilder.GenericErr("job record not found", nil))
	}
	applyJobFields(rec, updates)
	rec.UpdatedAt = time.Now()
	return nil
}

// Get returns a copy of a job record.
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*chartsynth.JobRecord, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, chartsynth.NewNotFoundError("jobs", id, nil)
	}
	cp := *rec
	return &cp, nil
}

func applyJobFields(rec *chartsynth.JobRecord, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "status":
			if v, ok := value.(chartsynth.JobStatus); ok {
				rec.Status = v
			} else if v, ok := value.(string); ok {
				rec.Status = chartsynth.JobStatus(v)
			}
		case "stage":
			if v, ok := value.(string); ok {
				rec.Stage = v
			}
		case "progress":
			if v, ok := value.(int); ok {
				rec.Progress = v
			}
		case "report":
			if v, ok := value.(*chartsynth.PipelineReport); ok {
				rec.Report = v
			}
		case "error":
			if v, ok := value.(string); ok {
				rec.Error = v
			}
		}
	}
}
