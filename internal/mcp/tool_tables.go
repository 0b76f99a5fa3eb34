package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/queryhub/queryhub/internal/catalog"
)

type ListTablesInput struct{}

type ListTablesOutput struct {
	Tables []TableSummary `json:"tables"`
}

type TableSummary struct {
	TableName string        `json:"table_name"`
	Columns   []TableColumn `json:"columns"`
	RowCount  int64         `json:"row_count"`
}

type TableColumn struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type DeleteTableInput struct {
	Table string `json:"table"`
}

type DeleteTableOutput struct {
	Table   string `json:"table"`
	Deleted bool   `json:"deleted"`
}

func registerTableTools(log *slog.Logger, server *mcp.Server, admin TableAdmin) error {
	listInput, err := jsonschema.For[ListTablesInput](nil)
	if err != nil {
		return fmt.Errorf("list_tables input schema: %w", err)
	}
	listOutput, err := jsonschema.For[ListTablesOutput](nil)
	if err != nil {
		return fmt.Errorf("list_tables output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "list_tables",
		Description:  "List the tables your tenant has uploaded, with their column schemas and row counts.",
		InputSchema:  listInput,
		OutputSchema: listOutput,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ ListTablesInput) (*mcp.CallToolResult, ListTablesOutput, error) {
		tenantID, err := tenantFromContext(ctx)
		if err != nil {
			return nil, ListTablesOutput{}, err
		}
		tables, err := admin.ListTables(ctx, tenantID)
		if err != nil {
			return nil, ListTablesOutput{}, fmt.Errorf("list tables: %w", err)
		}
		return nil, listOutputFromTables(tables), nil
	})

	deleteInput, err := jsonschema.For[DeleteTableInput](nil)
	if err != nil {
		return fmt.Errorf("delete_table input schema: %w", err)
	}
	deleteOutput, err := jsonschema.For[DeleteTableOutput](nil)
	if err != nil {
		return fmt.Errorf("delete_table output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "delete_table",
		Description:  "Delete one of your tenant's tables: its data files, catalog entry, metadata, and cached answers.",
		InputSchema:  deleteInput,
		OutputSchema: deleteOutput,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req DeleteTableInput) (*mcp.CallToolResult, DeleteTableOutput, error) {
		tenantID, err := tenantFromContext(ctx)
		if err != nil {
			return nil, DeleteTableOutput{}, err
		}
		tableName := strings.TrimSpace(req.Table)
		if tableName == "" {
			return nil, DeleteTableOutput{}, fmt.Errorf("table is required")
		}

		log.InfoContext(ctx, "mcp delete_table tool call", "tenant", tenantID, "table", tableName)

		deleted, err := admin.DeleteTable(ctx, tenantID, tableName)
		if err != nil {
			return nil, DeleteTableOutput{}, fmt.Errorf("delete table: %w", err)
		}
		return nil, DeleteTableOutput{Table: tableName, Deleted: deleted}, nil
	})

	return nil
}

func listOutputFromTables(tables []catalog.TableDef) ListTablesOutput {
	summaries := make([]TableSummary, 0, len(tables))
	for _, table := range tables {
		columns := make([]TableColumn, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, TableColumn{
				Name:        column.Name,
				Type:        column.Type,
				Description: column.Description,
			})
		}
		summaries = append(summaries, TableSummary{
			TableName: table.LogicalName,
			Columns:   columns,
			RowCount:  table.RowCount,
		})
	}
	return ListTablesOutput{Tables: summaries}
}
