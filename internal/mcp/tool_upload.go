package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type UploadTableInput struct {
	Table       string `json:"table"`
	CSV         string `json:"csv"`
	Description string `json:"description,omitempty"`
}

type UploadTableOutput struct {
	TableName string        `json:"table_name"`
	Columns   []TableColumn `json:"columns"`
	RowCount  int64         `json:"row_count"`
}

func registerUploadTool(log *slog.Logger, server *mcp.Server, uploads UploadAdmin) error {
	input, err := jsonschema.For[UploadTableInput](nil)
	if err != nil {
		return fmt.Errorf("upload_table input schema: %w", err)
	}
	output, err := jsonschema.For[UploadTableOutput](nil)
	if err != nil {
		return fmt.Errorf("upload_table output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "upload_table",
		Description:  "Upload CSV content as a new table for your tenant. Re-uploading a name replaces the previous data.",
		InputSchema:  input,
		OutputSchema: output,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req UploadTableInput) (*mcp.CallToolResult, UploadTableOutput, error) {
		tenantID, err := tenantFromContext(ctx)
		if err != nil {
			return nil, UploadTableOutput{}, err
		}
		tableName := strings.TrimSpace(req.Table)
		if tableName == "" {
			return nil, UploadTableOutput{}, fmt.Errorf("table is required")
		}
		if strings.TrimSpace(req.CSV) == "" {
			return nil, UploadTableOutput{}, fmt.Errorf("csv content is required")
		}

		log.InfoContext(ctx, "mcp upload_table tool call", "tenant", tenantID, "table", tableName)

		table, err := uploads.UploadCSV(ctx, tenantID, tableName, strings.TrimSpace(req.Description), strings.NewReader(req.CSV))
		if err != nil {
			return nil, UploadTableOutput{}, fmt.Errorf("upload table: %w", err)
		}

		columns := make([]TableColumn, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, TableColumn{
				Name:        column.Name,
				Type:        column.Type,
				Description: column.Description,
			})
		}
		return nil, UploadTableOutput{
			TableName: table.LogicalName,
			Columns:   columns,
			RowCount:  table.RowCount,
		}, nil
	})
	return nil
}
