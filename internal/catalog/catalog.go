// Package catalog defines the fixed registry of chart-generation tools
// exposed to the model, plus the persistence tool. Each tool carries its
// chart family at registration; nothing downstream needs to parse tool names
// to learn what a tool produced.
package catalog

import (
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	chartsynth "github.com/lumaviz/chartsynth"
)

// SaveToolName is the name of the persistence tool.
const SaveToolName = "saveChartToDashboard"

// CategoryChartInput is the column mapping for category-based charts
// (line, column, bar, pie, area).
type CategoryChartInput struct {
	CategoryColumn string `json:"categoryColumn" jsonschema_description:"Column holding the category labels (x axis)"`
	ValueColumn    string `json:"valueColumn" jsonschema_description:"Column holding the numeric values (y axis)"`
	SeriesColumn   string `json:"seriesColumn,omitempty" jsonschema_description:"Optional column to split rows into multiple series"`
	Title          string `json:"title,omitempty" jsonschema_description:"Chart title"`
	XAxisTitle     string `json:"xAxisTitle,omitempty"`
	YAxisTitle     string `json:"yAxisTitle,omitempty"`
}

// ScatterChartInput is the column mapping for scatter charts.
type ScatterChartInput struct {
	XColumn      string `json:"xColumn" jsonschema_description:"Column holding the numeric x values"`
	YColumn      string `json:"yColumn" jsonschema_description:"Column holding the numeric y values"`
	SeriesColumn string `json:"seriesColumn,omitempty" jsonschema_description:"Optional column to split rows into multiple series"`
	Title        string `json:"title,omitempty"`
	XAxisTitle   string `json:"xAxisTitle,omitempty"`
	YAxisTitle   string `json:"yAxisTitle,omitempty"`
}

// ChartToolOutput is what the model sees after a chart tool runs. The full
// spec stays on the run; the model only needs confirmation and scale.
type ChartToolOutput struct {
	ChartType   string `json:"chartType"`
	SeriesCount int    `json:"seriesCount"`
	PointCount  int    `json:"pointCount"`
	Title       string `json:"title,omitempty"`
}

// SaveChartInput lets the model override the title at save time.
type SaveChartInput struct {
	Title string `json:"title,omitempty" jsonschema_description:"Title to persist the chart under"`
}

// SaveChartOutput confirms the persistence write to the model.
type SaveChartOutput struct {
	WidgetID string `json:"widgetId"`
	Saved    bool   `json:"saved"`
}

// Catalog is the fixed tool registry for generation runs.
type Catalog struct {
	gateway  chartsynth.Gateway
	tools    map[string]ai.Tool
	families map[string]chartsynth.ChartType
	order    []string
}

// New registers every tool against the genkit instance and returns the
// catalog. Registration happens once per process.
func New(g *genkit.Genkit, gateway chartsynth.Gateway) *Catalog {
	c := &Catalog{
		gateway:  gateway,
		tools:    make(map[string]ai.Tool),
		families: make(map[string]chartsynth.ChartType),
	}

	c.defineCategoryTool(g, "generateLineChart", chartsynth.ChartTypeLine,
		"Create a line chart from the query results. Use for trends over an ordered dimension such as time.")
	c.defineCategoryTool(g, "generateColumnChart", chartsynth.ChartTypeColumn,
		"Create a vertical column chart from the query results. Use for comparing values across categories.")
	c.defineCategoryTool(g, "generateBarChart", chartsynth.ChartTypeBar,
		"Create a horizontal bar chart from the query results. Use for comparing values across many or long-named categories.")
	c.defineCategoryTool(g, "generatePieChart", chartsynth.ChartTypePie,
		"Create a pie chart from the query results. Use for part-of-whole proportions across a small number of categories.")
	c.defineScatterTool(g, "generateScatterChart", chartsynth.ChartTypeScatter,
		"Create a scatter chart from the query results. Use for the relationship between two numeric columns.")
	c.defineSaveTool(g)

	return c
}

func (c *Catalog) add(name string, family chartsynth.ChartType, tool ai.Tool) {
	c.tools[name] = tool
	if family != "" {
		c.families[name] = family
	}
	c.order = append(c.order, name)
}

func (c *Catalog) defineCategoryTool(g *genkit.Genkit, name string, family chartsynth.ChartType, description string) {
	tool := genkit.DefineTool(g, name, description,
		func(tc *ai.ToolContext, input CategoryChartInput) (ChartToolOutput, error) {
			return c.buildCategoryChart(tc, name, family, input)
		})
	c.add(name, family, tool)
}

func (c *Catalog) defineScatterTool(g *genkit.Genkit, name string, family chartsynth.ChartType, description string) {
	tool := genkit.DefineTool(g, name, description,
		func(tc *ai.ToolContext, input ScatterChartInput) (ChartToolOutput, error) {
			return c.buildScatterChart(tc, name, family, input)
		})
	c.add(name, family, tool)
}

func (c *Catalog) defineSaveTool(g *genkit.Genkit) {
	tool := genkit.DefineTool(g, SaveToolName,
		"Persist the most recently generated chart to the user's dashboard. Call this after a chart tool has succeeded.",
		func(tc *ai.ToolContext, input SaveChartInput) (SaveChartOutput, error) {
			return c.saveChart(tc, input)
		})
	c.add(SaveToolName, "", tool)
}

func (c *Catalog) buildCategoryChart(tc *ai.ToolContext, name string, family chartsynth.ChartType, input CategoryChartInput) (ChartToolOutput, error) {
	run, ok := RunFromContext(tc)
	if !ok {
		return ChartToolOutput{}, fmt.Errorf("no generation run attached to context")
	}

	series, categories, err := hydrateCategorySeries(run.Rows, input.CategoryColumn, input.ValueColumn, input.SeriesColumn)
	if err != nil {
		run.Record(chartsynth.ToolInvocation{ToolName: name, Family: family, Err: err.Error()})
		return ChartToolOutput{}, err
	}

	spec := &chartsynth.ChartSpec{
		ChartType: family,
		Title:     input.Title,
		Series:    series,
		Axes: chartsynth.Axes{
			Categories: categories,
			XTitle:     input.XAxisTitle,
			YTitle:     input.YAxisTitle,
		},
	}
	run.Record(chartsynth.ToolInvocation{ToolName: name, Family: family, Fragment: spec})

	return ChartToolOutput{
		ChartType:   string(family),
		SeriesCount: len(series),
		PointCount:  pointCount(series),
		Title:       input.Title,
	}, nil
}

func (c *Catalog) buildScatterChart(tc *ai.ToolContext, name string, family chartsynth.ChartType, input ScatterChartInput) (ChartToolOutput, error) {
	run, ok := RunFromContext(tc)
	if !ok {
		return ChartToolOutput{}, fmt.Errorf("no generation run attached to context")
	}

	series, err := hydrateScatterSeries(run.Rows, input.XColumn, input.YColumn, input.SeriesColumn)
	if err != nil {
		run.Record(chartsynth.ToolInvocation{ToolName: name, Family: family, Err: err.Error()})
		return ChartToolOutput{}, err
	}

	spec := &chartsynth.ChartSpec{
		ChartType: family,
		Title:     input.Title,
		Series:    series,
		Axes: chartsynth.Axes{
			XTitle: input.XAxisTitle,
			YTitle: input.YAxisTitle,
		},
	}
	run.Record(chartsynth.ToolInvocation{ToolName: name, Family: family, Fragment: spec})

	return ChartToolOutput{
		ChartType:   string(family),
		SeriesCount: len(series),
		PointCount:  pointCount(series),
		Title:       input.Title,
	}, nil
}

// saveChart performs a real write as part of the model loop. It writes under
// the run's pre-assigned widget id, so a model retry or a later pipeline save
// replaces the same widget instead of duplicating it.
func (c *Catalog) saveChart(tc *ai.ToolContext, input SaveChartInput) (SaveChartOutput, error) {
	run, ok := RunFromContext(tc)
	if !ok {
		return SaveChartOutput{}, fmt.Errorf("no generation run attached to context")
	}

	fragment, family := run.LastFragment()
	if fragment == nil {
		err := fmt.Errorf("no chart has been generated yet; call a chart tool first")
		run.Record(chartsynth.ToolInvocation{ToolName: SaveToolName, Err: err.Error()})
		return SaveChartOutput{}, err
	}

	spec := fragment.Clone()
	if spec.ChartType == "" {
		spec.ChartType = family
	}
	if input.Title != "" {
		spec.Title = input.Title
	}
	title := spec.Title
	if title == "" {
		title = run.UserPrompt
	}

	widget := &chartsynth.Widget{
		ID:          run.WidgetID,
		DashboardID: run.DashboardID,
		Spec:        spec,
		Title:       title,
		SourceQuery: run.SourceQuery,
		UserPrompt:  run.UserPrompt,
		Revision:    1,
		LastUpdated: time.Now(),
	}

	saved, err := c.gateway.SaveWidget(tc, widget)
	if err != nil {
		run.Record(chartsynth.ToolInvocation{ToolName: SaveToolName, Err: err.Error()})
		return SaveChartOutput{}, err
	}

	run.SetSaved(saved)
	run.Record(chartsynth.ToolInvocation{ToolName: SaveToolName})
	return SaveChartOutput{WidgetID: saved.ID, Saved: true}, nil
}

// Refs returns the tool references for one orchestration run. An empty
// subset exposes every chart family; a non-empty subset restricts the chart
// tools to the named families. The save tool is always included.
func (c *Catalog) Refs(subset []string) []ai.ToolRef {
	allowed := make(map[chartsynth.ChartType]bool, len(subset))
	for _, s := range subset {
		allowed[chartsynth.ChartType(s)] = true
	}

	refs := make([]ai.ToolRef, 0, len(c.order))
	for _, name := range c.order {
		family, isChart := c.families[name]
		if isChart && len(subset) > 0 && !allowed[family] {
			continue
		}
		refs = append(refs, c.tools[name])
	}
	return refs
}

// FamilyOf returns the chart family registered for a tool name, or empty for
// non-chart tools and unknown names.
func (c *Catalog) FamilyOf(toolName string) chartsynth.ChartType {
	return c.families[toolName]
}

// ToolNames returns every registered tool name in registration order.
func (c *Catalog) ToolNames() []string {
	return append([]string(nil), c.order...)
}

func pointCount(series []chartsynth.Series) int {
	n := 0
	for _, s := range series {
		n += len(s.Points)
	}
	return n
}
