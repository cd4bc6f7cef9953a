package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"

	chartsynth "github.com/lumaviz/chartsynth"
)

// hydrateCategorySeries builds chart series from the full row set using the
// column mapping the model chose. With a series column the rows are grouped
// by it, first-seen order preserved; without one a single series named after
// the value column is produced.
func hydrateCategorySeries(rows []chartsynth.Record, categoryCol, valueCol, seriesCol string) ([]chartsynth.Series, []string, error) {
	if err := requireColumns(rows, categoryCol, valueCol); err != nil {
		return nil, nil, err
	}
	if seriesCol != "" {
		if err := requireColumns(rows, seriesCol); err != nil {
			return nil, nil, err
		}
	}

	var categories []string
	seenCategory := make(map[string]bool)

	index := make(map[string]int)
	var series []chartsynth.Series

	for _, row := range rows {
		category := asString(row[categoryCol])
		value, err := asFloat(row[valueCol])
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", valueCol, err)
		}

		if !seenCategory[category] {
			seenCategory[category] = true
			categories = append(categories, category)
		}

		name := valueCol
		if seriesCol != "" {
			name = asString(row[seriesCol])
		}
		i, exists := index[name]
		if !exists {
			i = len(series)
			index[name] = i
			series = append(series, chartsynth.Series{Name: name})
		}
		series[i].Points = append(series[i].Points, chartsynth.SeriesPoint{
			Category: category,
			Value:    value,
		})
	}

	return series, categories, nil
}

// hydrateScatterSeries builds numeric (x, y) series from the full row set.
func hydrateScatterSeries(rows []chartsynth.Record, xCol, yCol, seriesCol string) ([]chartsynth.Series, error) {
	if err := requireColumns(rows, xCol, yCol); err != nil {
		return nil, err
	}
	if seriesCol != "" {
		if err := requireColumns(rows, seriesCol); err != nil {
			return nil, err
		}
	}

	index := make(map[string]int)
	var series []chartsynth.Series

	for _, row := range rows {
		x, err := asFloat(row[xCol])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", xCol, err)
		}
		y, err := asFloat(row[yCol])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", yCol, err)
		}

		name := yCol
		if seriesCol != "" {
			name = asString(row[seriesCol])
		}
		i, exists := index[name]
		if !exists {
			i = len(series)
			index[name] = i
			series = append(series, chartsynth.Series{Name: name})
		}
		series[i].Points = append(series[i].Points, chartsynth.SeriesPoint{X: x, Value: y})
	}

	return series, nil
}

func requireColumns(rows []chartsynth.Record, cols ...string) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to hydrate from")
	}
	for _, col := range cols {
		if col == "" {
			return fmt.Errorf("empty column name in mapping")
		}
		if _, ok := rows[0][col]; !ok {
			return fmt.Errorf("column %q not present in result rows", col)
		}
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", t)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}
