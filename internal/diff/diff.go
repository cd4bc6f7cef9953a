// Package diff translates free-text edit instructions into structural
// mutations on an existing chart spec. Recognized fragments become ordered
// operations; everything else becomes a warning, never an error.
package diff

import (
	chartsynth "github.com/lumaviz/chartsynth"
	"github.com/lumaviz/chartsynth/internal/logger"
)

// Engine implements chartsynth.DiffEngine.
type Engine struct {
	log *logger.Logger
}

// New creates a diff engine.
func New(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{log: log}
}

// Apply parses the instruction, merges explicit overrides on top, and applies
// the resulting operations to a copy of the spec in a fixed order: type,
// styling, title, legend, axis, filter. The input spec is never mutated.
// Applying the same request twice yields the same spec.
func (e *Engine) Apply(spec *chartsynth.ChartSpec, req *chartsynth.UpdateRequest) (*chartsynth.ChartSpec, []chartsynth.ChangeEntry, []string, error) {
	if spec == nil {
		return nil, nil, nil, chartsynth.NewValidationError("applying", "cannot update a nil spec", nil)
	}

	ops, warnings := parseInstruction(req.UpdatePrompt)
	mergeOverrides(&ops, req)

	out := spec.Clone()
	var changes []chartsynth.ChangeEntry
	record := func(op, detail string) {
		changes = append(changes, chartsynth.ChangeEntry{Op: op, Detail: detail})
	}

	if ops.chartType != nil {
		applyChartType(out, *ops.chartType, record)
	}
	if len(ops.colors) > 0 {
		applyColors(out, ops.colors, record)
	}
	if ops.title != nil {
		applyTitle(out, *ops.title, record)
	}
	if ops.legend != nil {
		applyLegend(out, *ops.legend, record)
	}
	if ops.xTitle != nil {
		applyAxisTitle(out, "x", *ops.xTitle, record)
	}
	if ops.yTitle != nil {
		applyAxisTitle(out, "y", *ops.yTitle, record)
	}
	for _, f := range ops.filters {
		warnings = applyFilter(out, f, record, warnings)
	}

	e.log.Debug("update applied",
		"applied", len(changes),
		"warnings", len(warnings),
	)
	return out, changes, warnings, nil
}

func applyChartType(spec *chartsynth.ChartSpec, t chartsynth.ChartType, record func(op, detail string)) {
	if spec.ChartType == t {
		return
	}
	record("chart_type", "changed chart type from "+string(spec.ChartType)+" to "+string(t))
	spec.ChartType = t
}

func applyColors(spec *chartsynth.ChartSpec, colors []string, record func(op, detail string)) {
	spec.Styling.Colors = append([]string(nil), colors...)
	record("colors", "set series colors")
}

func applyTitle(spec *chartsynth.ChartSpec, title string, record func(op, detail string)) {
	if spec.Title == title && spec.Styling.TitleText == title {
		return
	}
	spec.Title = title
	spec.Styling.TitleText = title
	record("title", "set title to \""+title+"\"")
}

func applyLegend(spec *chartsynth.ChartSpec, show bool, record func(op, detail string)) {
	if spec.Styling.ShowLegend != nil && *spec.Styling.ShowLegend == show {
		return
	}
	v := show
	spec.Styling.ShowLegend = &v
	if show {
		record("legend", "enabled legend")
	} else {
		record("legend", "hid legend")
	}
}

func applyAxisTitle(spec *chartsynth.ChartSpec, axis, title string, record func(op, detail string)) {
	switch axis {
	case "x":
		if spec.Axes.XTitle == title {
			return
		}
		spec.Axes.XTitle = title
		record("axis_x", "set x axis title to \""+title+"\"")
	case "y":
		if spec.Axes.YTitle == title {
			return
		}
		spec.Axes.YTitle = title
		record("axis_y", "set y axis title to \""+title+"\"")
	}
}

// applyFilter drops points from every series. A filter that would empty the
// chart is ignored with a warning: a persisted spec must keep at least one
// point per series.
func applyFilter(spec *chartsynth.ChartSpec, f filterOp, record func(op, detail string), warnings []string) []string {
	filtered := make([]chartsynth.Series, len(spec.Series))
	for i, s := range spec.Series {
		kept, err := f.apply(s.Points)
		if err != nil {
			return append(warnings, "filter \""+f.describe()+"\" could not be evaluated; ignored")
		}
		if len(kept) == 0 {
			return append(warnings, "filter \""+f.describe()+"\" would remove every point of series \""+s.Name+"\"; ignored")
		}
		filtered[i] = chartsynth.Series{Name: s.Name, Points: kept}
	}

	spec.Series = filtered
	spec.Axes.Categories = rebuildCategories(filtered)
	record(f.op(), f.describe())
	return warnings
}

func rebuildCategories(series []chartsynth.Series) []string {
	var categories []string
	seen := make(map[string]bool)
	for _, s := range series {
		for _, p := range s.Points {
			if p.Category == "" || seen[p.Category] {
				continue
			}
			seen[p.Category] = true
			categories = append(categories, p.Category)
		}
	}
	return categories
}

// mergeOverrides lets explicit request fields win over anything parsed from
// the free-text instruction.
func mergeOverrides(ops *opSet, req *chartsynth.UpdateRequest) {
	if req.NewChartType != nil {
		ops.chartType = req.NewChartType
	}
	if req.NewTitle != "" {
		t := req.NewTitle
		ops.title = &t
	}
	if req.NewChartOptions != nil {
		if len(req.NewChartOptions.Colors) > 0 {
			ops.colors = req.NewChartOptions.Colors
		}
		if req.NewChartOptions.ShowLegend != nil {
			ops.legend = req.NewChartOptions.ShowLegend
		}
		if req.NewChartOptions.TitleText != "" {
			t := req.NewChartOptions.TitleText
			ops.title = &t
		}
	}
}
