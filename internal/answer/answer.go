// Package answer renders raw result rows into a short natural-language
// summary. A deterministic fallback keeps the pipeline returning useful
// answers when the model is unavailable.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/queryhub/queryhub/internal/completion"
)

// maxPromptRows caps how many rows are shown to the model. The full row
// set is still returned to the caller.
const maxPromptRows = 50

type Request struct {
	Question  string
	TableName string
	SQL       string
	Columns   []string
	Rows      [][]any
}

type Formatter interface {
	Format(ctx context.Context, req Request) (string, error)
}

type CompletionFormatter struct {
	client completion.Client
}

func NewCompletionFormatter(client completion.Client) (*CompletionFormatter, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	return &CompletionFormatter{client: client}, nil
}

func (f *CompletionFormatter) Format(ctx context.Context, req Request) (string, error) {
	if len(req.Rows) == 0 {
		return fmt.Sprintf("No rows in table %q matched the question.", req.TableName), nil
	}

	promptRows := req.Rows
	truncated := false
	if len(promptRows) > maxPromptRows {
		promptRows = promptRows[:maxPromptRows]
		truncated = true
	}
	resultJSON, err := json.Marshal(map[string]any{
		"columns": req.Columns,
		"rows":    promptRows,
	})
	if err != nil {
		return "", fmt.Errorf("marshal result context: %w", err)
	}

	var userPrompt strings.Builder
	fmt.Fprintf(&userPrompt, "Question:\n%s\n\nSQL that was executed:\n%s\n\nResult (JSON):\n%s\n", strings.TrimSpace(req.Question), req.SQL, resultJSON)
	if truncated {
		fmt.Fprintf(&userPrompt, "\nOnly the first %d of %d rows are shown.\n", maxPromptRows, len(req.Rows))
	}
	userPrompt.WriteString("\nAnswer the question in one or two plain sentences using only these results. State numbers exactly as given.")

	content, err := f.client.Complete(ctx, []completion.Message{
		{Role: "system", Content: "You summarize SQL query results for the person who asked the question. Be factual and concise. Never invent values."},
		{Role: "user", Content: userPrompt.String()},
	})
	if err != nil {
		return FallbackSummary(req.Columns, req.Rows), nil
	}
	summary := strings.TrimSpace(content)
	if summary == "" {
		return FallbackSummary(req.Columns, req.Rows), nil
	}
	return summary, nil
}

// FallbackSummary renders a plain description of the result shape with
// a small sample, computable without the model.
func FallbackSummary(columns []string, rows [][]any) string {
	if len(rows) == 0 {
		return "The query returned no rows."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The query returned %d row(s) with columns %s.", len(rows), strings.Join(columns, ", "))
	sample := rows
	if len(sample) > 3 {
		sample = sample[:3]
	}
	for _, row := range sample {
		values := make([]string, len(row))
		for i, value := range row {
			values[i] = fmt.Sprintf("%v", value)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(values, ", "))
	}
	return b.String()
}
