package chartsynth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// GenerationSystemPrompt frames the model as a chart-picking assistant that
// must answer through tool calls, never through prose alone.
const GenerationSystemPrompt = `You are a data visualization assistant.
You are given a SQL query, a sample of its result rows, and the user's intent.
Choose the single most suitable chart for the data and call exactly one of
the chart generation tools with the column mapping it asks for. Column names
must match the result rows exactly. After a chart tool succeeds you may call
the save tool to persist it. Do not describe a chart in prose instead of
calling a tool.`

// BuildGenerationPrompt assembles the user prompt from the query, a bounded
// sample of the result rows and the free-text intent. Only sampleRows rows
// are forwarded to the model; the full row count is stated so the model
// knows the sample is partial.
func BuildGenerationPrompt(req *GenerationRequest, sampleRows int) string {
	sample := req.SQLResults
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SQL query:\n%s\n\n", req.SQLQuery)
	fmt.Fprintf(&b, "Result columns: %s\n", strings.Join(columnNames(req.SQLResults), ", "))
	fmt.Fprintf(&b, "Total rows: %d (showing first %d)\n\n", len(req.SQLResults), len(sample))
	b.WriteString("Sample rows:\n")
	for _, row := range sample {
		enc, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.Write(enc)
		b.WriteByte('\n')
	}
	if req.UserPrompt != "" {
		fmt.Fprintf(&b, "\nUser request: %s\n", req.UserPrompt)
	} else {
		b.WriteString("\nUser request: choose the most informative chart for this data.\n")
	}
	return b.String()
}

func columnNames(rows []Record) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
