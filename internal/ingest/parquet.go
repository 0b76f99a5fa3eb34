package ingest

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/queryhub/queryhub/internal/catalog"
)

// encodeParquet writes the parsed records as one parquet file. The
// schema is built at runtime from the inferred columns; every field is
// optional so empty CSV cells become nulls.
func encodeParquet(tableName string, columns []catalog.Column, records []map[string]any) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}

	group := parquet.Group{}
	for _, column := range columns {
		group[column.Name] = parquet.Optional(parquetNode(column.Type))
	}
	schema := parquet.NewSchema(tableName, group)

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetNode(columnType string) parquet.Node {
	switch columnType {
	case typeBigint:
		return parquet.Int(64)
	case typeDouble:
		return parquet.Leaf(parquet.DoubleType)
	case typeBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}
