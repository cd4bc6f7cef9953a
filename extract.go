package chartsynth

import "strings"

// familyBySubstring is the ordered fallback mapping from tool-name substring
// to chart family, evaluated first-match-wins. Tools registered through the
// catalog carry their family explicitly; this list only covers invocations
// recorded without one.
var familyBySubstring = []struct {
	substr string
	family ChartType
}{
	{"Line", ChartTypeLine},
	{"Column", ChartTypeColumn},
	{"Bar", ChartTypeBar},
	{"Pie", ChartTypePie},
	{"Scatter", ChartTypeScatter},
	{"Area", ChartTypeArea},
	{"Map", ChartTypeMap},
}

// InferChartFamily derives a chart family from a tool name. Empty result
// means the tool is not a chart-generation tool.
func InferChartFamily(toolName string) ChartType {
	for _, m := range familyBySubstring {
		if strings.Contains(toolName, m.substr) {
			return m.family
		}
	}
	return ""
}

// ExtractChartSpec scans the transcript for tool invocations that produced a
// chart fragment and selects the authoritative one: the last non-empty
// fragment wins, because models sometimes revise their own chart choice
// mid-conversation. No fragment yields a structured extraction failure
// carrying the tools actually invoked.
func ExtractChartSpec(t *Transcript) (*ChartSpec, ChartType, error) {
	if t == nil {
		return nil, "", NewExtractionError(nil)
	}

	var selected *ChartSpec
	var family ChartType
	for _, inv := range t.Invocations {
		if inv.Fragment == nil || len(inv.Fragment.Series) == 0 {
			continue
		}
		f := inv.Family
		if f == "" {
			f = InferChartFamily(inv.ToolName)
		}
		if f == "" {
			continue
		}
		selected = inv.Fragment
		family = f
	}

	if selected == nil {
		return nil, "", NewExtractionError(t.ToolNames())
	}

	spec := selected.Clone()
	if spec.ChartType == "" {
		spec.ChartType = family
	}
	return spec, family, nil
}
