package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	chartsynth "github.com/lumaviz/chartsynth"
	"github.com/lumaviz/chartsynth/internal/diff"
	"github.com/lumaviz/chartsynth/internal/gateway"
)

// scriptedOrchestrator returns a canned transcript instead of calling a model.
type scriptedOrchestrator struct {
	transcript *chartsynth.Transcript
	err        error
}

func (s *scriptedOrchestrator) Run(ctx context.Context, input chartsynth.OrchestrationInput) (*chartsynth.Transcript, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.transcript, nil
}

func lineTranscript() *chartsynth.Transcript {
	return &chartsynth.Transcript{
		Invocations: []chartsynth.ToolInvocation{{
			ToolName: "generateLineChart",
			Family:   chartsynth.ChartTypeLine,
			Fragment: &chartsynth.ChartSpec{
				ChartType: chartsynth.ChartTypeLine,
				Title:     "Revenue by month",
				Series: []chartsynth.Series{{
					Name:   "revenue",
					Points: []chartsynth.SeriesPoint{{Category: "Jan", Value: 10}, {Category: "Feb", Value: 20}},
				}},
				Axes: chartsynth.Axes{Categories: []string{"Jan", "Feb"}},
			},
		}},
		FinalText:  "Created a line chart.",
		ModelTurns: 2,
	}
}

type testServer struct {
	router *gin.Engine
	store  *gateway.MemoryGateway
	jobs   *gateway.MemoryJobStore
}

func newTestServer(t *testing.T, orch chartsynth.Orchestrator) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := gateway.NewMemoryGateway()
	jobs := gateway.NewMemoryJobStore()

	cfg := chartsynth.DefaultConfig()
	cfg.EnableEventBus = false

	pipeline, err := chartsynth.New(context.Background(),
		chartsynth.WithConfig(cfg),
		chartsynth.WithOrchestrator(orch),
		chartsynth.WithDiffEngine(diff.New(nil)),
		chartsynth.WithGateway(store),
		chartsynth.WithJobStore(jobs),
	)
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	t.Cleanup(func() { pipeline.Close() })

	router := NewRouter(RouterConfig{
		ChartHandler: NewChartHandler(pipeline, nil),
		Mode:         gin.TestMode,
	})
	return &testServer{router: router, store: store, jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func generateBody(rows int) *chartsynth.GenerationRequest {
	results := make([]chartsynth.Record, rows)
	for i := range results {
		results[i] = chartsynth.Record{"month": fmt.Sprintf("m%d", i), "revenue": i * 10}
	}
	return &chartsynth.GenerationRequest{
		SQLQuery:    "SELECT month, revenue FROM sales",
		SQLResults:  results,
		UserPrompt:  "show revenue by month",
		CSVID:       "csv-1",
		DashboardID: "dash-1",
	}
}

func TestGenerate_Success(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})

	w := srv.do(t, http.MethodPost, "/api/charts/generate", generateBody(12))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || !resp.Saved {
		t.Errorf("expected a saved success, got %+v", resp)
	}
	if resp.ChartType != string(chartsynth.ChartTypeLine) {
		t.Errorf("unexpected chart type %q", resp.ChartType)
	}
	if resp.ChartID == "" {
		t.Error("expected the saved widget id in the response")
	}
	if resp.TotalRows != 12 || len(resp.DataPreview) != 10 {
		t.Errorf("expected a truncated preview of 10/12 rows, got %d/%d", len(resp.DataPreview), resp.TotalRows)
	}
	if resp.AIResponse != "Created a line chart." {
		t.Errorf("unexpected model text %q", resp.AIResponse)
	}
}

func TestGenerate_ValidationFailure(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})

	body := generateBody(3)
	body.SQLQuery = ""
	w := srv.do(t, http.MethodPost, "/api/charts/generate", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.Error.Code != chartsynth.ErrCodeValidation {
		t.Errorf("expected validation code, got %q", envelope.Error.Code)
	}
}

func TestGenerate_ExtractionFailureIs422(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: &chartsynth.Transcript{
		Invocations: []chartsynth.ToolInvocation{
			{ToolName: "generateLineChart", Err: "column not found"},
		},
		FinalText: "could not build a chart",
	}})

	w := srv.do(t, http.MethodPost, "/api/charts/generate", generateBody(3))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var envelope ErrorEnvelope
	json.Unmarshal(w.Body.Bytes(), &envelope)
	if envelope.Error.Code != chartsynth.ErrCodeExtraction {
		t.Errorf("expected extraction code, got %q", envelope.Error.Code)
	}
}

func TestGenerate_TransportFailureIs502(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{err: fmt.Errorf("model unavailable")})

	w := srv.do(t, http.MethodPost, "/api/charts/generate", generateBody(3))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGenerate_Async(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})

	w := srv.do(t, http.MethodPost, "/api/charts/generate?async=true", generateBody(3))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var accepted struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if accepted.JobID == "" || accepted.Status != string(chartsynth.JobStatusQueued) {
		t.Fatalf("unexpected accepted payload: %+v", accepted)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w := srv.do(t, http.MethodGet, "/api/jobs/"+accepted.JobID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for job lookup, got %d: %s", w.Code, w.Body.String())
		}
		var rec chartsynth.JobRecord
		if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
			t.Fatalf("failed to decode job record: %v", err)
		}
		if rec.Status == chartsynth.JobStatusCompleted {
			if rec.Report == nil || !rec.Report.Success {
				t.Fatalf("completed job must carry its report, got %+v", rec)
			}
			break
		}
		if rec.Status == chartsynth.JobStatusFailed {
			t.Fatalf("job failed unexpectedly: %+v", rec)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete in time, last status %q", rec.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})

	w := srv.do(t, http.MethodGet, "/api/jobs/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func seedWidget(t *testing.T, store *gateway.MemoryGateway, id string) {
	t.Helper()
	_, err := store.SaveWidget(context.Background(), &chartsynth.Widget{
		ID:          id,
		DashboardID: "dash-1",
		Title:       "Revenue",
		Revision:    1,
		Spec: &chartsynth.ChartSpec{
			ChartType: chartsynth.ChartTypeColumn,
			Series: []chartsynth.Series{{
				Name: "revenue",
				Points: []chartsynth.SeriesPoint{
					{Category: "Jan", Value: 10},
					{Category: "Feb", Value: 250},
				},
			}},
			Axes: chartsynth.Axes{Categories: []string{"Jan", "Feb"}},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed widget: %v", err)
	}
}

func TestUpdateWidget_Success(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})
	seedWidget(t, srv.store, "w-1")

	w := srv.do(t, http.MethodPut, "/api/dashboards/dash-1/widgets/w-1", map[string]string{
		"updatePrompt": "convert to a pie chart and do a backflip",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UpdateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Message != "widget updated" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.Changes.Applied) != 1 || resp.Changes.Applied[0].Op != "chart_type" {
		t.Errorf("expected one chart_type change, got %v", resp.Changes.Applied)
	}
	if len(resp.Changes.Warnings) != 1 {
		t.Errorf("expected the unrecognized fragment warning, got %v", resp.Changes.Warnings)
	}
	if resp.UpdatedWidget == nil || resp.UpdatedWidget.Type != string(chartsynth.ChartTypePie) {
		t.Errorf("expected the updated widget summary, got %+v", resp.UpdatedWidget)
	}
}

func TestUpdateWidget_PathParamsWin(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})
	seedWidget(t, srv.store, "w-1")

	w := srv.do(t, http.MethodPut, "/api/dashboards/dash-1/widgets/w-1", map[string]string{
		"dashboardId":  "other-dash",
		"widgetId":     "other-widget",
		"updatePrompt": "hide the legend",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("path parameters must override the body, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateWidget_NotFoundCarriesSiblings(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})
	seedWidget(t, srv.store, "w-1")
	seedWidget(t, srv.store, "w-2")

	w := srv.do(t, http.MethodPut, "/api/dashboards/dash-1/widgets/missing", map[string]string{
		"updatePrompt": "hide the legend",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.Error.MissingID != "missing" {
		t.Errorf("expected the missing id, got %q", envelope.Error.MissingID)
	}
	if len(envelope.Error.SiblingIDs) != 2 {
		t.Errorf("expected the sibling ids, got %v", envelope.Error.SiblingIDs)
	}
}

func TestGetWidget(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})
	seedWidget(t, srv.store, "w-1")

	w := srv.do(t, http.MethodGet, "/api/dashboards/dash-1/widgets/w-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Widget              *chartsynth.Widget `json:"widget"`
		SupportedOperations []string           `json:"supportedOperations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Widget == nil || resp.Widget.ID != "w-1" {
		t.Fatalf("unexpected widget: %+v", resp.Widget)
	}
	if len(resp.SupportedOperations) == 0 {
		t.Error("expected the supported operation list")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, &scriptedOrchestrator{transcript: lineTranscript()})

	w := srv.do(t, http.MethodGet, "/healthcheck", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
