// Package sqlcheck statically validates generated SQL before it reaches
// the execution engine. Only read-only single statements over the
// resolved table are allowed; logical table references are rewritten to
// the tenant-scoped physical name on success.
package sqlcheck

import (
	"fmt"
	"strings"

	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/observability"
)

const (
	CodeSyntax             = "syntax_error"
	CodeForbiddenStatement = "forbidden_statement"
	CodeUnknownTable       = "unknown_table"
	CodeUnknownColumn      = "unknown_column"
	CodeCrossTenant        = "cross_tenant_reference"
)

// ValidationError carries a machine-usable code and a reason string
// that feeds the next repair prompt verbatim.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func reject(code, format string, args ...any) error {
	observability.ObserveValidationRejection(code)
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the candidate statement against the resolved table
// and returns the statement with table references rewritten to the
// physical name. Checks run in order and stop at the first failure.
func Validate(sqlText string, table catalog.TableDef) (string, error) {
	trimmed := stripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return "", reject(CodeSyntax, "statement is empty")
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return "", reject(CodeSyntax, "%s", err.Error())
	}
	if err := checkBalance(tokens); err != nil {
		return "", err
	}
	if err := checkStatementType(tokens); err != nil {
		return "", err
	}
	cteNames := collectCTENames(tokens)
	tableRefs := dropColumnLikeRefs(collectTableRefs(tokens), table)
	tableRefs = dropCTERefs(tableRefs, cteNames)
	if err := checkTableRefs(tableRefs, table); err != nil {
		return "", err
	}
	if err := checkColumnRefs(tokens, tableRefs, cteNames, table); err != nil {
		return "", err
	}
	return rewriteTableRefs(trimmed, tableRefs, table), nil
}

func checkBalance(tokens []token) error {
	depth := 0
	for _, tok := range tokens {
		switch {
		case tok.kind == kindSymbol && tok.value == "(":
			depth++
		case tok.kind == kindSymbol && tok.value == ")":
			depth--
			if depth < 0 {
				return reject(CodeSyntax, "unbalanced parentheses")
			}
		case tok.kind == kindSymbol && tok.value == ";":
			return reject(CodeSyntax, "only a single statement is allowed")
		}
	}
	if depth != 0 {
		return reject(CodeSyntax, "unbalanced parentheses")
	}
	return nil
}

func checkStatementType(tokens []token) error {
	var first string
	for _, tok := range tokens {
		if tok.kind == kindWord {
			first = strings.ToLower(tok.value)
			break
		}
	}
	if first != "select" && first != "with" {
		return reject(CodeForbiddenStatement, "statement must start with SELECT or WITH, got %q", strings.ToUpper(first))
	}
	for _, tok := range tokens {
		if tok.kind != kindWord {
			continue
		}
		if word := strings.ToLower(tok.value); forbiddenKeywords[word] {
			return reject(CodeForbiddenStatement, "statement type %q is not allowed, only read-only SELECT is permitted", strings.ToUpper(word))
		}
	}
	return nil
}

// tableRef is one identifier appearing in table position (after FROM or
// a JOIN keyword), with its byte offsets in the original statement.
type tableRef struct {
	name  string
	start int
	end   int
}

func collectTableRefs(tokens []token) []tableRef {
	refs := make([]tableRef, 0, 1)
	for i, tok := range tokens {
		if tok.kind != kindWord {
			continue
		}
		word := strings.ToLower(tok.value)
		if word != "from" && word != "join" {
			continue
		}
		next, ok := nextToken(tokens, i)
		if !ok {
			continue
		}
		// Subqueries and table functions are handled by the checks on
		// their inner tokens.
		if next.kind == kindSymbol {
			continue
		}
		if next.kind == kindWord || next.kind == kindQuoted {
			if follow, ok := nextToken(tokens, tokenIndex(tokens, next)); ok && follow.kind == kindSymbol && follow.value == "(" {
				continue
			}
			refs = append(refs, tableRef{name: next.value, start: next.start, end: next.end})
		}
	}
	return refs
}

// collectCTENames gathers identifiers bound by a WITH clause. A CTE
// definition reads "name AS (", and in a read-only statement no other
// construct except a named WINDOW puts an identifier in that shape.
func collectCTENames(tokens []token) map[string]bool {
	names := make(map[string]bool)
	for i, tok := range tokens {
		if tok.kind != kindWord && tok.kind != kindQuoted {
			continue
		}
		asTok, ok := nextToken(tokens, i)
		if !ok || asTok.kind != kindWord || !strings.EqualFold(asTok.value, "as") {
			continue
		}
		paren, ok := nextToken(tokens, tokenIndex(tokens, asTok))
		if !ok || paren.kind != kindSymbol || paren.value != "(" {
			continue
		}
		names[strings.ToLower(tok.value)] = true
	}
	return names
}

// dropCTERefs removes table refs that resolve to a CTE defined in the
// same statement. They need no rewriting and must not be flagged as
// unknown tables.
func dropCTERefs(refs []tableRef, cteNames map[string]bool) []tableRef {
	kept := refs[:0]
	for _, ref := range refs {
		if cteNames[strings.ToLower(ref.name)] {
			continue
		}
		kept = append(kept, ref)
	}
	return kept
}

// dropColumnLikeRefs removes collected refs that are really column
// usages, such as the column inside extract(year FROM ts).
func dropColumnLikeRefs(refs []tableRef, table catalog.TableDef) []tableRef {
	kept := refs[:0]
	for _, ref := range refs {
		name := strings.ToLower(ref.name)
		if name != strings.ToLower(table.LogicalName) && name != strings.ToLower(table.PhysicalName) && isColumnName(name, table) {
			continue
		}
		kept = append(kept, ref)
	}
	return kept
}

func isColumnName(name string, table catalog.TableDef) bool {
	for _, column := range table.Columns {
		if strings.EqualFold(column.Name, name) {
			return true
		}
	}
	return false
}

func checkTableRefs(refs []tableRef, table catalog.TableDef) error {
	if len(refs) == 0 {
		return reject(CodeUnknownTable, "statement references no table, expected %q", table.LogicalName)
	}
	for _, ref := range refs {
		name := strings.ToLower(ref.name)
		if name == strings.ToLower(table.LogicalName) || name == strings.ToLower(table.PhysicalName) {
			continue
		}
		if strings.HasPrefix(name, "t_") {
			if !catalog.OwnsPhysicalTable(table.TenantID, ref.name) {
				observability.IncrementTenantViolation()
				return reject(CodeCrossTenant, "table %q is not accessible", ref.name)
			}
			return reject(CodeUnknownTable, "unknown table %q, expected %q", ref.name, table.LogicalName)
		}
		return reject(CodeUnknownTable, "unknown table %q, expected %q", ref.name, table.LogicalName)
	}
	return nil
}

func checkColumnRefs(tokens []token, refs []tableRef, cteNames map[string]bool, table catalog.TableDef) error {
	allowed := map[string]bool{
		strings.ToLower(table.LogicalName):  true,
		strings.ToLower(table.PhysicalName): true,
	}
	for name := range cteNames {
		allowed[name] = true
	}
	for _, column := range table.Columns {
		allowed[strings.ToLower(column.Name)] = true
	}
	for _, alias := range collectAliases(tokens, refs) {
		allowed[strings.ToLower(alias)] = true
	}

	for i, tok := range tokens {
		if tok.kind != kindWord && tok.kind != kindQuoted {
			continue
		}
		word := strings.ToLower(tok.value)
		if tok.kind == kindWord && sqlKeywords[word] {
			continue
		}
		if allowed[word] {
			continue
		}
		// A word directly followed by "(" is a function call.
		if next, ok := nextToken(tokens, i); ok && next.kind == kindSymbol && next.value == "(" {
			continue
		}
		return reject(CodeUnknownColumn, "unknown column %q in table %q", tok.value, table.LogicalName)
	}
	return nil
}

// collectAliases gathers identifiers bound by AS and bare aliases that
// directly follow a table reference.
func collectAliases(tokens []token, refs []tableRef) []string {
	aliases := make([]string, 0)
	refEnds := make(map[int]bool, len(refs))
	for _, ref := range refs {
		refEnds[ref.end] = true
	}
	for i, tok := range tokens {
		if tok.kind == kindWord && strings.EqualFold(tok.value, "as") {
			if next, ok := nextToken(tokens, i); ok && (next.kind == kindWord || next.kind == kindQuoted) {
				aliases = append(aliases, next.value)
			}
			continue
		}
		if (tok.kind == kindWord || tok.kind == kindQuoted) && refEnds[tok.end] {
			if next, ok := nextToken(tokens, i); ok && next.kind == kindWord && !sqlKeywords[strings.ToLower(next.value)] {
				aliases = append(aliases, next.value)
			}
		}
	}
	return aliases
}

// rewriteTableRefs splices the quoted physical name over every logical
// table reference. Offsets are applied back to front so earlier ones
// stay valid.
func rewriteTableRefs(sqlText string, refs []tableRef, table catalog.TableDef) string {
	physical := quoteIdent(table.PhysicalName)
	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		if strings.EqualFold(ref.name, table.PhysicalName) {
			continue
		}
		sqlText = sqlText[:ref.start] + physical + sqlText[ref.end:]
	}
	return sqlText
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

var forbiddenKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"alter": true, "create": true, "truncate": true, "merge": true,
	"grant": true, "revoke": true, "attach": true, "detach": true,
	"copy": true, "export": true, "import": true, "install": true,
	"load": true, "pragma": true, "call": true, "vacuum": true,
	"begin": true, "commit": true, "rollback": true, "set": true,
}

var sqlKeywords = map[string]bool{
	"select": true, "with": true, "from": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true,
	"outer": true, "cross": true, "natural": true, "lateral": true,
	"on": true, "using": true, "where": true, "group": true,
	"by": true, "order": true, "having": true, "limit": true,
	"offset": true, "as": true, "and": true, "or": true,
	"not": true, "in": true, "is": true, "null": true,
	"like": true, "ilike": true, "between": true, "case": true,
	"when": true, "then": true, "else": true, "end": true,
	"distinct": true, "all": true, "union": true, "intersect": true,
	"except": true, "asc": true, "desc": true, "exists": true,
	"any": true, "some": true, "true": true, "false": true,
	"interval": true, "filter": true, "over": true, "partition": true,
	"rows": true, "range": true, "preceding": true, "following": true,
	"unbounded": true, "current": true, "row": true, "nulls": true,
	"first": true, "last": true, "qualify": true, "values": true,
	"date": true, "time": true, "timestamp": true, "year": true,
	"month": true, "day": true, "hour": true, "minute": true,
	"second": true, "epoch": true, "integer": true, "bigint": true,
	"double": true, "varchar": true, "boolean": true, "decimal": true,
}
