package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	chartsynth "github.com/lumaviz/chartsynth"
	"github.com/lumaviz/chartsynth/internal/logger"
)

// ChartHandler serves the generate and update paths of the pipeline.
type ChartHandler struct {
	pipeline *chartsynth.Pipeline
	log      *logger.Logger
}

// NewChartHandler creates the handler set for the chart endpoints.
func NewChartHandler(pipeline *chartsynth.Pipeline, baseLog *logger.Logger) *ChartHandler {
	if baseLog == nil {
		baseLog = logger.NewNop()
	}
	return &ChartHandler{
		pipeline: pipeline,
		log:      baseLog.With("handler", "ChartHandler"),
	}
}

// GenerateResponse is the payload of a synchronous generation call.
type GenerateResponse struct {
	Success     bool                  `json:"success"`
	ChartID     string                `json:"chartId,omitempty"`
	ChartConfig *chartsynth.ChartSpec `json:"chartConfig,omitempty"`
	ChartType   string                `json:"chartType,omitempty"`
	DataPreview []chartsynth.Record   `json:"dataPreview,omitempty"`
	TotalRows   int                   `json:"totalRows"`
	Saved       bool                  `json:"saved"`
	SaveError   string                `json:"saveError,omitempty"`
	AIResponse  string                `json:"aiResponse,omitempty"`
}

// Generate handles POST /api/charts/generate. With ?async=true the request
// returns a job id immediately and the run continues in the background.
func (h *ChartHandler) Generate(c *gin.Context) {
	var req chartsynth.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, chartsynth.ErrCodeValidation, err)
		return
	}

	if c.Query("async") == "true" {
		jobID, err := h.pipeline.SynthesizeAsync(c.Request.Context(), &req)
		if err != nil {
			respondPipelineError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "status": string(chartsynth.JobStatusQueued)})
		return
	}

	report, err := h.pipeline.Synthesize(c.Request.Context(), &req)
	if err != nil && report == nil {
		respondPipelineError(c, err)
		return
	}
	if err != nil && !report.Success {
		// Failed runs still ship their diagnostics in the error envelope
		// status, but preview and tool data belong to the caller.
		respondPipelineError(c, err)
		return
	}

	resp := GenerateResponse{
		Success:     report.Success,
		ChartConfig: report.Spec,
		ChartType:   string(report.ChartType),
		DataPreview: report.DataPreview,
		TotalRows:   report.TotalRows,
		Saved:       report.Saved,
		SaveError:   report.SaveError,
		AIResponse:  report.ModelText,
	}
	if report.Widget != nil {
		resp.ChartID = report.Widget.ID
	}
	RespondOK(c, resp)
}

// UpdateResponse is the payload of a widget update call.
type UpdateResponse struct {
	Success       bool           `json:"success"`
	WidgetID      string         `json:"widgetId"`
	DashboardID   string         `json:"dashboardId"`
	Message       string         `json:"message"`
	Changes       UpdateChanges  `json:"changes"`
	UpdatedWidget *WidgetSummary `json:"updatedWidget,omitempty"`
}

type UpdateChanges struct {
	Applied  []chartsynth.ChangeEntry `json:"applied"`
	Warnings []string                 `json:"warnings"`
}

type WidgetSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// UpdateWidget handles PUT /api/dashboards/:dashboardID/widgets/:widgetID.
func (h *ChartHandler) UpdateWidget(c *gin.Context) {
	var req chartsynth.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, chartsynth.ErrCodeValidation, err)
		return
	}
	req.DashboardID = c.Param("dashboardID")
	req.WidgetID = c.Param("widgetID")

	report, err := h.pipeline.Update(c.Request.Context(), &req)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	message := "widget updated"
	if len(report.Applied) == 0 {
		message = "no changes applied"
	}

	resp := UpdateResponse{
		Success:     report.Success,
		WidgetID:    req.WidgetID,
		DashboardID: req.DashboardID,
		Message:     message,
		Changes: UpdateChanges{
			Applied:  emptyIfNilChanges(report.Applied),
			Warnings: emptyIfNilStrings(report.Warnings),
		},
	}
	if report.Widget != nil {
		resp.UpdatedWidget = &WidgetSummary{
			ID:          report.Widget.ID,
			Title:       report.Widget.Title,
			Type:        string(report.ChartType),
			LastUpdated: report.Widget.LastUpdated,
		}
	}
	RespondOK(c, resp)
}

// GetWidget handles GET /api/dashboards/:dashboardID/widgets/:widgetID. It
// returns the widget together with the update operations the diff engine
// understands, so clients can build an edit surface without guessing.
func (h *ChartHandler) GetWidget(c *gin.Context) {
	dashboardID := c.Param("dashboardID")
	widgetID := c.Param("widgetID")

	widget, err := h.pipeline.FetchWidget(c.Request.Context(), dashboardID, widgetID)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	RespondOK(c, gin.H{
		"widget": widget,
		"supportedOperations": []string{
			"chart_type", "colors", "title", "legend", "axis_titles", "filter_top_n", "filter_threshold",
		},
	})
}

// GetJob handles GET /api/jobs/:id.
func (h *ChartHandler) GetJob(c *gin.Context) {
	rec, err := h.pipeline.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	RespondOK(c, rec)
}

// HealthCheck handles GET /healthcheck.
func HealthCheck(c *gin.Context) {
	RespondOK(c, gin.H{"status": "ok"})
}

func emptyIfNilChanges(in []chartsynth.ChangeEntry) []chartsynth.ChangeEntry {
	if in == nil {
		return []chartsynth.ChangeEntry{}
	}
	return in
}

func emptyIfNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
