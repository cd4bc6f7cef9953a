package diff

import (
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"
	chartsynth "github.com/lumaviz/chartsynth"
)

// filterOp drops points from a series. Implementations must be deterministic
// and order-preserving: the kept points stay in their original order.
type filterOp interface {
	op() string
	describe() string
	apply(points []chartsynth.SeriesPoint) ([]chartsynth.SeriesPoint, error)
}

// topNFilter keeps the n largest (or smallest) points by value.
type topNFilter struct {
	n      int
	bottom bool
	raw    string
}

func (f *topNFilter) op() string { return "filter_top_n" }

func (f *topNFilter) describe() string { return f.raw }

func (f *topNFilter) apply(points []chartsynth.SeriesPoint) ([]chartsynth.SeriesPoint, error) {
	if len(points) <= f.n {
		return points, nil
	}

	ranked := make([]int, len(points))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if f.bottom {
			return points[ranked[a]].Value < points[ranked[b]].Value
		}
		return points[ranked[a]].Value > points[ranked[b]].Value
	})

	keep := make(map[int]bool, f.n)
	for _, idx := range ranked[:f.n] {
		keep[idx] = true
	}

	kept := make([]chartsynth.SeriesPoint, 0, f.n)
	for i, p := range points {
		if keep[i] {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// FilterFunctionRegistry allows registration of custom functions usable in
// threshold expressions.
type FilterFunctionRegistry struct {
	functions map[string]govaluate.ExpressionFunction
}

var globalFilterFuncRegistry = &FilterFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterFilterFunction registers a custom function for threshold
// expressions, e.g. abs or round.
func RegisterFilterFunction(name string, fn govaluate.ExpressionFunction) {
	globalFilterFuncRegistry.functions[name] = fn
}

// whitelistedFunctions returns only registered functions; thresholds never
// get access to arbitrary evaluation.
func whitelistedFunctions() map[string]govaluate.ExpressionFunction {
	whitelist := map[string]govaluate.ExpressionFunction{}
	for k, v := range globalFilterFuncRegistry.functions {
		whitelist[k] = v
	}
	return whitelist
}

// thresholdFilter keeps points whose value satisfies a comparison, compiled
// once per instruction.
type thresholdFilter struct {
	expr *govaluate.EvaluableExpression
	raw  string
}

func newThresholdFilter(operator string, bound float64, raw string) (*thresholdFilter, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(
		fmt.Sprintf("value %s %v", operator, bound),
		whitelistedFunctions(),
	)
	if err != nil {
		return nil, err
	}
	return &thresholdFilter{expr: expr, raw: raw}, nil
}

func (f *thresholdFilter) op() string { return "filter_threshold" }

func (f *thresholdFilter) describe() string { return f.raw }

func (f *thresholdFilter) apply(points []chartsynth.SeriesPoint) ([]chartsynth.SeriesPoint, error) {
	var kept []chartsynth.SeriesPoint
	for _, p := range points {
		result, err := f.expr.Evaluate(map[string]interface{}{"value": p.Value})
		if err != nil {
			return nil, err
		}
		keep, ok := result.(bool)
		if !ok {
			return nil, fmt.Errorf("threshold expression did not evaluate to a boolean")
		}
		if keep {
			kept = append(kept, p)
		}
	}
	return kept, nil
}
