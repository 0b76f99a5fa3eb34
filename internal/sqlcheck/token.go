package sqlcheck

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	kindWord tokenKind = iota
	kindQuoted
	kindString
	kindNumber
	kindSymbol
)

type token struct {
	kind  tokenKind
	value string
	start int
	end   int
}

// tokenize splits a statement into tokens, preserving byte offsets so
// identifiers can be rewritten in place. Unterminated strings and
// quoted identifiers are syntax errors.
func tokenize(sqlText string) ([]token, error) {
	tokens := make([]token, 0, 32)
	i := 0
	for i < len(sqlText) {
		ch := sqlText[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '\'':
			end, err := scanUntil(sqlText, i+1, '\'')
			if err != nil {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: kindString, value: sqlText[i+1 : end], start: i, end: end + 1})
			i = end + 1
		case ch == '"':
			end, err := scanUntil(sqlText, i+1, '"')
			if err != nil {
				return nil, fmt.Errorf("unterminated quoted identifier")
			}
			tokens = append(tokens, token{kind: kindQuoted, value: sqlText[i+1 : end], start: i, end: end + 1})
			i = end + 1
		case isWordStart(ch):
			end := i + 1
			for end < len(sqlText) && isWordPart(sqlText[end]) {
				end++
			}
			tokens = append(tokens, token{kind: kindWord, value: sqlText[i:end], start: i, end: end})
			i = end
		case ch >= '0' && ch <= '9':
			end := i + 1
			for end < len(sqlText) && (sqlText[end] >= '0' && sqlText[end] <= '9' || sqlText[end] == '.') {
				end++
			}
			tokens = append(tokens, token{kind: kindNumber, value: sqlText[i:end], start: i, end: end})
			i = end
		case strings.ContainsRune("().,;+-*/<>=!%|&", rune(ch)):
			tokens = append(tokens, token{kind: kindSymbol, value: string(ch), start: i, end: i + 1})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", string(ch))
		}
	}
	return tokens, nil
}

// scanUntil finds the closing delimiter, honoring doubled-delimiter
// escapes, and returns its index.
func scanUntil(sqlText string, from int, delim byte) (int, error) {
	for i := from; i < len(sqlText); i++ {
		if sqlText[i] != delim {
			continue
		}
		if i+1 < len(sqlText) && sqlText[i+1] == delim {
			i++
			continue
		}
		return i, nil
	}
	return 0, fmt.Errorf("unterminated token")
}

func nextToken(tokens []token, i int) (token, bool) {
	if i+1 >= len(tokens) {
		return token{}, false
	}
	return tokens[i+1], true
}

func tokenIndex(tokens []token, target token) int {
	for i, tok := range tokens {
		if tok.start == target.start {
			return i
		}
	}
	return -1
}

func isWordStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isWordPart(ch byte) bool {
	return ch == '_' || ch == '$' || unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}
