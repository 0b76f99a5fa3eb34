// Package sqlgen turns a question and a resolved table schema into a
// candidate DuckDB SQL statement via the completion capability. Prompts
// reference logical table names only; physical names are substituted
// later during validation.
package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/completion"
)

// Request is everything one generation attempt depends on. PriorError
// is set on repair rounds and carries the validator's rejection reason.
type Request struct {
	Question   string
	Table      catalog.TableDef
	PriorError string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type CompletionGenerator struct {
	client completion.Client
}

func NewCompletionGenerator(client completion.Client) (*CompletionGenerator, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	return &CompletionGenerator{client: client}, nil
}

func (g *CompletionGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", fmt.Errorf("question is required")
	}
	if req.Table.LogicalName == "" {
		return "", fmt.Errorf("resolved table is required")
	}

	messages, err := buildMessages(req)
	if err != nil {
		return "", err
	}
	content, err := g.client.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}

	sql := StripMarkdownSQL(content)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}

func buildMessages(req Request) ([]completion.Message, error) {
	schemaJSON, err := json.Marshal(schemaContext{
		TableName: req.Table.LogicalName,
		Columns:   req.Table.Columns,
		RowCount:  req.Table.RowCount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal schema context: %w", err)
	}

	systemPrompt := "You convert natural language analytics requests into a single DuckDB SQL query. " +
		"DuckDB uses PostgreSQL-like SQL syntax. " +
		"Return ONLY SQL. No markdown, no explanation."

	var userPrompt strings.Builder
	fmt.Fprintf(&userPrompt, "Table schema (JSON):\n%s\n\nUser request:\n%s\n", schemaJSON, strings.TrimSpace(req.Question))
	if req.PriorError != "" {
		fmt.Fprintf(&userPrompt, "\nYour previous attempt was rejected with this error:\n%s\nFix the query accordingly.\n", req.PriorError)
	}
	userPrompt.WriteString("\nRules:\n- Use only the listed table and columns.\n- Read-only SELECT statements only.\n- Output a single SQL query only.")

	return []completion.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt.String()},
	}, nil
}

type schemaContext struct {
	TableName string           `json:"table_name"`
	Columns   []catalog.Column `json:"columns"`
	RowCount  int64            `json:"row_count"`
}

// StripMarkdownSQL removes a surrounding markdown code fence when the
// model ignores the plain-SQL instruction.
func StripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
