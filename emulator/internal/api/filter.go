package api

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
)

// predicate reports whether a record matches a $filter expression.
type predicate func(rec store.Record) bool

var (
	comparisonRe  = regexp.MustCompile(`^(\w+) (eq|ne|gt|ge|lt|le) (.+)$`)
	substringofRe = regexp.MustCompile(`^substringof\('((?:[^']|'')*)', ?(\w+)\)$`)
)

// parseFilter compiles the subset of OData $filter the connector emits:
// comparisons, substringof, and/or, parentheses, and the constant 1 eq 0.
func parseFilter(expr string) (predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return func(store.Record) bool { return true }, nil
	}

	if parts := splitTopLevel(expr, " or "); len(parts) > 1 {
		return combine(parts, false)
	}
	if parts := splitTopLevel(expr, " and "); len(parts) > 1 {
		return combine(parts, true)
	}
	if inner, ok := unwrap(expr); ok {
		return parseFilter(inner)
	}
	if expr == "1 eq 0" {
		return func(store.Record) bool { return false }, nil
	}

	if m := substringofRe.FindStringSubmatch(expr); m != nil {
		needle := strings.ToLower(strings.ReplaceAll(m[1], "''", "'"))
		field := m[2]
		return func(rec store.Record) bool {
			return strings.Contains(strings.ToLower(valueString(rec[field])), needle)
		}, nil
	}

	if m := comparisonRe.FindStringSubmatch(expr); m != nil {
		field, op := m[1], m[2]
		lit, err := literal(m[3])
		if err != nil {
			return nil, err
		}
		return func(rec store.Record) bool {
			return compare(valueString(rec[field]), op, lit)
		}, nil
	}

	return nil, fmt.Errorf("unsupported filter expression: %s", expr)
}

func combine(parts []string, all bool) (predicate, error) {
	preds := make([]predicate, 0, len(parts))
	for _, p := range parts {
		pred, err := parseFilter(p)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return func(rec store.Record) bool {
		for _, p := range preds {
			if p(rec) != all {
				return !all
			}
		}
		return all
	}, nil
}

// splitTopLevel splits s on sep outside quotes and parentheses.
func splitTopLevel(s, sep string) []string {
	var (
		parts   []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(parts, s[start:])
}

// unwrap strips one pair of parentheses enclosing the whole expression.
func unwrap(s string) (string, bool) {
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return "", false
			}
		}
	}
	return s[1 : len(s)-1], true
}

// literal returns the comparable text of an OData literal.
func literal(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"guid'", "datetime'", "'"} {
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, "'") && len(s) > len(prefix) {
			return strings.ReplaceAll(s[len(prefix):len(s)-1], "''", "'"), nil
		}
	}
	if s == "true" || s == "false" {
		return s, nil
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s, nil
	}
	return "", fmt.Errorf("unsupported literal: %s", s)
}

func compare(value, op, lit string) bool {
	cmp := 0
	vf, verr := strconv.ParseFloat(value, 64)
	lf, lerr := strconv.ParseFloat(lit, 64)
	switch {
	case verr == nil && lerr == nil:
		switch {
		case vf < lf:
			cmp = -1
		case vf > lf:
			cmp = 1
		}
	default:
		cmp = strings.Compare(strings.ToLower(value), strings.ToLower(lit))
	}

	switch op {
	case "eq":
		return cmp == 0
	case "ne":
		return cmp != 0
	case "gt":
		return cmp > 0
	case "ge":
		return cmp >= 0
	case "lt":
		return cmp < 0
	case "le":
		return cmp <= 0
	}
	return false
}

func valueString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
