package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/queryhub/queryhub/internal/catalog"
)

const (
	typeBigint  = "BIGINT"
	typeDouble  = "DOUBLE"
	typeBoolean = "BOOLEAN"
	typeVarchar = "VARCHAR"
)

// ParsedTable is the typed form of one uploaded CSV file.
type ParsedTable struct {
	Columns []catalog.Column
	Records []map[string]any
}

// ParseCSV reads the whole file, sanitizes header names, and infers a
// column type from the values seen. A column falls back to VARCHAR as
// soon as one non-empty value fails the stricter parse.
func ParseCSV(r io.Reader, sampleRows int) (ParsedTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return ParsedTable{}, fmt.Errorf("read csv header: %w", err)
	}
	names, err := sanitizeHeader(header)
	if err != nil {
		return ParsedTable{}, err
	}

	raw := make([][]string, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ParsedTable{}, fmt.Errorf("read csv row %d: %w", len(raw)+2, err)
		}
		raw = append(raw, record)
	}
	if len(raw) == 0 {
		return ParsedTable{}, fmt.Errorf("csv file has no data rows")
	}

	types := inferColumnTypes(names, raw)
	columns := make([]catalog.Column, len(names))
	for i, name := range names {
		columns[i] = catalog.Column{
			Name:         name,
			Type:         types[i],
			SampleValues: sampleColumn(raw, i, sampleRows),
		}
	}

	records := make([]map[string]any, 0, len(raw))
	for rowIdx, record := range raw {
		row := make(map[string]any, len(names))
		for i, name := range names {
			value := strings.TrimSpace(record[i])
			if value == "" {
				continue
			}
			typed, err := convertValue(value, types[i])
			if err != nil {
				return ParsedTable{}, fmt.Errorf("row %d column %q: %w", rowIdx+2, name, err)
			}
			row[name] = typed
		}
		records = append(records, row)
	}

	return ParsedTable{Columns: columns, Records: records}, nil
}

func sanitizeHeader(header []string) ([]string, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("csv header is empty")
	}
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, field := range header {
		name := sanitizeColumnName(field)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		for suffix := 2; seen[name]; suffix++ {
			name = fmt.Sprintf("%s_%d", base, suffix)
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

func sanitizeColumnName(field string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(strings.ToLower(field)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case b.Len() > 0:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name != "" && unicode.IsDigit(rune(name[0])) {
		name = "c_" + name
	}
	return name
}

func inferColumnTypes(names []string, raw [][]string) []string {
	types := make([]string, len(names))
	for i := range names {
		couldBeInt, couldBeFloat, couldBeBool := true, true, true
		sawValue := false
		for _, record := range raw {
			if i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value == "" {
				continue
			}
			sawValue = true
			if couldBeInt {
				if _, err := strconv.ParseInt(value, 10, 64); err != nil {
					couldBeInt = false
				}
			}
			if couldBeFloat {
				if _, err := strconv.ParseFloat(value, 64); err != nil {
					couldBeFloat = false
				}
			}
			if couldBeBool {
				if !isBoolLiteral(value) {
					couldBeBool = false
				}
			}
		}
		switch {
		case !sawValue:
			types[i] = typeVarchar
		case couldBeInt:
			types[i] = typeBigint
		case couldBeFloat:
			types[i] = typeDouble
		case couldBeBool:
			types[i] = typeBoolean
		default:
			types[i] = typeVarchar
		}
	}
	return types
}

func isBoolLiteral(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false":
		return true
	}
	return false
}

func convertValue(value, columnType string) (any, error) {
	switch columnType {
	case typeBigint:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", value)
		}
		return parsed, nil
	case typeDouble:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", value)
		}
		return parsed, nil
	case typeBoolean:
		return strings.EqualFold(value, "true"), nil
	default:
		return value, nil
	}
}

func sampleColumn(raw [][]string, column, limit int) []string {
	if limit <= 0 {
		return nil
	}
	samples := make([]string, 0, limit)
	for _, record := range raw {
		if len(samples) == limit {
			break
		}
		if column >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[column])
		if value == "" {
			continue
		}
		samples = append(samples, value)
	}
	return samples
}
