package diff

import (
	"regexp"
	"strconv"
	"strings"

	chartsynth "github.com/lumaviz/chartsynth"
)

// opSet is the merged result of parsing one instruction: at most one value
// per operation family, later fragments overriding earlier ones, explicit
// request overrides winning over all of them.
type opSet struct {
	chartType *chartsynth.ChartType
	colors    []string
	title     *string
	legend    *bool
	xTitle    *string
	yTitle    *string
	filters   []filterOp
}

var (
	quotedRe    = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	sortRe      = regexp.MustCompile(`(?i)\b(sort|sorted|order(ed)?\s+by|reorder)\b`)
	familyRe    = regexp.MustCompile(`(?i)\b(line|column|bar|pie|scatter|area|map)\b`)
	topNRe      = regexp.MustCompile(`(?i)\b(top|first|largest|biggest|highest)\s+(\d+)\b`)
	bottomNRe   = regexp.MustCompile(`(?i)\b(bottom|last|smallest|lowest)\s+(\d+)\b`)
	thresholdRe = regexp.MustCompile(`(?i)\b(above|over|greater than|more than|at least|below|under|less than|fewer than|at most)\s+\$?(-?\d+(?:\.\d+)?)`)
)

// paletteColors maps color words the instruction may use to hex values.
var paletteColors = map[string]string{
	"red":    "#e74c3c",
	"blue":   "#3498db",
	"green":  "#2ecc71",
	"orange": "#e67e22",
	"purple": "#9b59b6",
	"yellow": "#f1c40f",
	"pink":   "#fd79a8",
	"teal":   "#1abc9c",
	"gray":   "#95a5a6",
	"grey":   "#95a5a6",
	"black":  "#2d3436",
	"white":  "#ffffff",
}

// parseInstruction splits the instruction into fragments and matches each
// against the supported operation families. Every fragment either
// contributes an operation or a warning; nothing is silently dropped.
func parseInstruction(instruction string) (opSet, []string) {
	var ops opSet
	var warnings []string

	for _, fragment := range splitInstruction(instruction) {
		if !matchFragment(fragment, &ops, &warnings) {
			warnings = append(warnings, "unsupported instruction: \""+fragment+"\"")
		}
	}
	return ops, warnings
}

// matchFragment runs every operation family over the fragment, so one
// fragment can contribute several operations ("make it a pie chart in red").
// It reports whether any family understood the fragment. Sorting is
// recognized but not supported, so it lands in warnings rather than falling
// through as noise.
func matchFragment(fragment string, ops *opSet, warnings *[]string) bool {
	lower := strings.ToLower(fragment)

	matched := false
	if sortRe.MatchString(fragment) {
		*warnings = append(*warnings, "sorting is not supported: \""+fragment+"\"")
		matched = true
	}
	if matchAxis(fragment, lower, ops) {
		matched = true
	}
	if matchTitle(fragment, lower, ops) {
		matched = true
	}
	if matchLegend(lower, ops) {
		matched = true
	}
	if matchChartType(fragment, lower, ops) {
		matched = true
	}
	if matchFilter(fragment, lower, ops) {
		matched = true
	}
	if matchColors(lower, ops) {
		matched = true
	}
	return matched
}

func matchAxis(fragment, lower string, ops *opSet) bool {
	if !strings.Contains(lower, "axis") {
		return false
	}
	value := quotedValue(fragment)
	if value == "" {
		value = trailingValue(fragment)
	}
	if value == "" {
		return false
	}
	isX := strings.Contains(lower, "x axis") || strings.Contains(lower, "x-axis") || strings.Contains(lower, "horizontal axis")
	isY := strings.Contains(lower, "y axis") || strings.Contains(lower, "y-axis") || strings.Contains(lower, "vertical axis")
	switch {
	case isX:
		ops.xTitle = &value
	case isY:
		ops.yTitle = &value
	default:
		return false
	}
	return true
}

func matchTitle(fragment, lower string, ops *opSet) bool {
	if !strings.Contains(lower, "title") && !strings.Contains(lower, "rename") && !strings.Contains(lower, "call it") {
		return false
	}
	// "set the x axis title to ..." belongs to the axis family.
	if strings.Contains(lower, "axis") {
		return false
	}
	value := quotedValue(fragment)
	if value == "" {
		value = trailingValue(fragment)
	}
	if value == "" {
		return false
	}
	ops.title = &value
	return true
}

func matchLegend(lower string, ops *opSet) bool {
	if !strings.Contains(lower, "legend") {
		return false
	}
	hide := strings.Contains(lower, "hide") || strings.Contains(lower, "remove") ||
		strings.Contains(lower, "without") || strings.Contains(lower, "no legend") ||
		strings.Contains(lower, "drop") || strings.Contains(lower, "off")
	show := strings.Contains(lower, "show") || strings.Contains(lower, "display") ||
		strings.Contains(lower, "add") || strings.Contains(lower, "enable") ||
		strings.Contains(lower, "with legend")
	switch {
	case hide:
		v := false
		ops.legend = &v
	case show:
		v := true
		ops.legend = &v
	default:
		return false
	}
	return true
}

func matchChartType(fragment, lower string, ops *opSet) bool {
	m := familyRe.FindStringSubmatch(fragment)
	if m == nil {
		return false
	}
	// A bare family word is too ambiguous; require chart vocabulary or a
	// conversion verb around it.
	contextWords := []string{"chart", "graph", "plot", "convert", "switch", "change", "make", "turn", "into", "use"}
	hasContext := false
	for _, w := range contextWords {
		if strings.Contains(lower, w) {
			hasContext = true
			break
		}
	}
	if !hasContext {
		return false
	}
	t := chartsynth.ChartType(strings.ToLower(m[1]))
	if !chartsynth.IsKnownChartType(t) {
		return false
	}
	ops.chartType = &t
	return true
}

func matchFilter(fragment, lower string, ops *opSet) bool {
	if m := topNRe.FindStringSubmatch(fragment); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil && n > 0 {
			ops.filters = append(ops.filters, &topNFilter{n: n, raw: strings.TrimSpace(fragment)})
			return true
		}
	}
	if m := bottomNRe.FindStringSubmatch(fragment); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil && n > 0 {
			ops.filters = append(ops.filters, &topNFilter{n: n, bottom: true, raw: strings.TrimSpace(fragment)})
			return true
		}
	}
	if m := thresholdRe.FindStringSubmatch(fragment); m != nil {
		bound, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return false
		}
		op := comparisonOperator(strings.ToLower(m[1]))
		// "remove"/"drop"/"exclude" describe what goes away, so the kept set
		// is the complement.
		if strings.Contains(lower, "remove") || strings.Contains(lower, "drop") ||
			strings.Contains(lower, "exclude") || strings.Contains(lower, "hide") ||
			strings.Contains(lower, "filter out") {
			op = negateOperator(op)
		}
		f, err := newThresholdFilter(op, bound, strings.TrimSpace(fragment))
		if err != nil {
			return false
		}
		ops.filters = append(ops.filters, f)
		return true
	}
	return false
}

func matchColors(lower string, ops *opSet) bool {
	var found []string
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		if hex, ok := paletteColors[word]; ok {
			found = append(found, hex)
		}
	}
	if len(found) == 0 {
		return false
	}
	for _, hex := range found {
		if !containsString(ops.colors, hex) {
			ops.colors = append(ops.colors, hex)
		}
	}
	return true
}

func comparisonOperator(word string) string {
	switch word {
	case "above", "over", "greater than", "more than":
		return ">"
	case "at least":
		return ">="
	case "below", "under", "less than", "fewer than":
		return "<"
	case "at most":
		return "<="
	}
	return ">"
}

func negateOperator(op string) string {
	switch op {
	case ">":
		return "<="
	case ">=":
		return "<"
	case "<":
		return ">="
	case "<=":
		return ">"
	}
	return op
}

// splitInstruction breaks an instruction into independent fragments on
// commas, semicolons and joining words, without splitting inside quotes.
func splitInstruction(instruction string) []string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil
	}

	// Protect quoted spans so a title like "Sales, by region" survives.
	protected := instruction
	quotes := quotedRe.FindAllString(instruction, -1)
	for i, q := range quotes {
		protected = strings.Replace(protected, q, quotePlaceholder(i), 1)
	}

	for _, sep := range []string{" and then ", " then ", " and ", ";", ","} {
		protected = strings.ReplaceAll(protected, sep, "\x00")
	}

	var fragments []string
	for _, part := range strings.Split(protected, "\x00") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for i, q := range quotes {
			part = strings.Replace(part, quotePlaceholder(i), q, 1)
		}
		fragments = append(fragments, part)
	}
	return fragments
}

func quotePlaceholder(i int) string {
	return "\x01" + strconv.Itoa(i) + "\x01"
}

func quotedValue(fragment string) string {
	m := quotedRe.FindStringSubmatch(fragment)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// trailingValue returns the text after the last " to ", the usual shape of
// unquoted renames ("change the title to Monthly Sales").
func trailingValue(fragment string) string {
	lower := strings.ToLower(fragment)
	idx := strings.LastIndex(lower, " to ")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(fragment[idx+len(" to "):])
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
