package search

import (
	"cmp"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"
)

type clause struct {
	field string // empty matches any field
	value string
}

// compileQuery turns a query string into a document predicate.
// Clauses are ANDed; "field:value" matches one field, a bare word matches a substring of any field,
// and values containing * or ? are matched as wildcards.
func compileQuery(query string) func(map[string]any) bool {
	query = strings.TrimSpace(query)
	if query == "" || query == "*" {
		return func(map[string]any) bool { return true }
	}

	var clauses []clause
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if field, value, ok := strings.Cut(tok, ":"); ok && field != "" && value != "" {
			clauses = append(clauses, clause{field: field, value: value})
			continue
		}
		clauses = append(clauses, clause{value: tok})
	}

	return func(fields map[string]any) bool {
		for _, c := range clauses {
			if !c.matches(fields) {
				return false
			}
		}
		return true
	}
}

func (c clause) matches(fields map[string]any) bool {
	wild := strings.ContainsAny(c.value, "*?")
	check := func(vals []string) bool {
		if wild {
			return matchesWildcard(vals, c.value)
		}
		for _, v := range vals {
			if c.field != "" && v == c.value {
				return true
			}
			if c.field == "" && strings.Contains(v, c.value) {
				return true
			}
		}
		return false
	}

	if c.field != "" {
		return check(values(fields[c.field]))
	}
	for _, v := range fields {
		if check(values(v)) {
			return true
		}
	}
	return false
}

func matchesWildcard(vals []string, pattern string) bool {
	for _, v := range vals {
		if ok, _ := path.Match(pattern, v); ok {
			return true
		}
	}
	return false
}

// values returns the lowercased string forms of a scalar or list field
func values(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = strings.ToLower(s)
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, lower(e))
		}
		return out
	default:
		return []string{lower(t)}
	}
}

func lower(v any) string {
	return strings.ToLower(fmt.Sprint(v))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// compareValues orders numbers numerically and everything else as strings; missing sorts first
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, okA := number(a)
	fb, okB := number(b)
	if okA && okB {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
