package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/queryhub/queryhub/internal/orchestrator"
)

const askToolDescription = `
Ask a natural-language analytics question about your uploaded tables.

The question is classified, matched against your table metadata, turned
into a single read-only SQL query, executed, and summarized. Pass the
optional "table" field when you already know which table to use; this
skips the metadata search.

Only tables uploaded by your tenant are visible. Questions that are not
analytics requests over tabular data are rejected.
`

type AskInput struct {
	Question string `json:"question"`
	Table    string `json:"table,omitempty"`
}

type AskOutput struct {
	Answer    string    `json:"answer"`
	SQL       string    `json:"sql"`
	TableName string    `json:"table_name"`
	Columns   []string  `json:"columns"`
	Rows      []AskRow  `json:"rows"`
	RowCount  int       `json:"row_count"`
	FromCache bool      `json:"from_cache"`
}

type AskRow map[string]any

func registerAskTool(log *slog.Logger, server *mcp.Server, asker Asker) error {
	input, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("ask input schema: %w", err)
	}
	output, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "ask",
		Description:  askToolDescription,
		InputSchema:  input,
		OutputSchema: output,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, AskOutput, error) {
		tenantID, err := tenantFromContext(ctx)
		if err != nil {
			return nil, AskOutput{}, err
		}
		if strings.TrimSpace(req.Question) == "" {
			return nil, AskOutput{}, fmt.Errorf("question is required")
		}

		log.DebugContext(ctx, "mcp ask tool call", "tenant", tenantID)

		response, err := asker.Handle(ctx, orchestrator.Request{
			TenantID:  tenantID,
			Question:  req.Question,
			TableHint: strings.TrimSpace(req.Table),
		})
		if err != nil {
			return nil, AskOutput{}, err
		}
		return nil, askOutputFromResponse(response), nil
	})
	return nil
}

func askOutputFromResponse(response orchestrator.Response) AskOutput {
	rows := make([]AskRow, 0, len(response.Rows))
	for _, row := range response.Rows {
		item := make(AskRow, len(response.Columns))
		for i, column := range response.Columns {
			if i < len(row) {
				item[column] = row[i]
			}
		}
		rows = append(rows, item)
	}
	return AskOutput{
		Answer:    response.Answer,
		SQL:       response.SQL,
		TableName: response.TableName,
		Columns:   response.Columns,
		Rows:      rows,
		RowCount:  len(rows),
		FromCache: response.FromCache,
	}
}
