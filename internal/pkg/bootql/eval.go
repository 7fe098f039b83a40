package bootql

import (
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Record is anything a query can be evaluated against. This keeps bootql
// independent of the timeline and analysis packages.
type Record interface {
	// Lookup returns the value of a named field.
	Lookup(key string) (string, bool)
	// Values returns every field value, for full-text search.
	Values() []string
}

// textFields match by substring with ':' instead of by equality.
var textFields = map[string]bool{
	"message": true,
	"msg":     true,
	"text":    true,
}

// Match evaluates the AST node against a record and returns true if it matches.
func Match(node Node, rec Record) bool {
	if node == nil {
		return true // No filter means match all
	}

	switch n := node.(type) {
	case BinaryExpr:
		return evalBinary(n, rec)
	case MatchExpr:
		return evalMatch(n, rec)
	case NotExpr:
		return !Match(n.Expr, rec)
	default:
		return false
	}
}

func evalBinary(expr BinaryExpr, rec Record) bool {
	switch expr.Op {
	case And:
		return Match(expr.Left, rec) && Match(expr.Right, rec)
	case Or:
		return Match(expr.Left, rec) || Match(expr.Right, rec)
	default:
		return false
	}
}

func evalMatch(expr MatchExpr, rec Record) bool {
	// Full-text search (no key specified)
	if expr.Key == "" {
		return matchFullText(expr.Value, rec)
	}

	key := strings.ToLower(expr.Key)
	fieldValue, ok := rec.Lookup(key)
	if expr.Op.ordered() {
		return ok && compare(fieldValue, expr.Value, expr.Op)
	}

	switch expr.Op {
	case OpEq:
		if !ok {
			return false
		}
		if textFields[key] {
			return containsIgnoreCase(fieldValue, expr.Value)
		}
		return matchValue(fieldValue, expr.Value)
	case OpNeq:
		return !ok || !matchValue(fieldValue, expr.Value)
	case OpContains:
		return ok && containsIgnoreCase(fieldValue, expr.Value)
	default:
		return false
	}
}

// matchValue performs case-insensitive equality, or a glob match when the
// query value contains wildcards.
func matchValue(fieldValue, queryValue string) bool {
	if strings.ContainsAny(queryValue, "*?[{") {
		g, err := glob.Compile(strings.ToLower(queryValue))
		if err == nil {
			return g.Match(strings.ToLower(fieldValue))
		}
	}
	return strings.EqualFold(fieldValue, queryValue)
}

// compare orders numerically when both sides are numbers, else lexically.
func compare(fieldValue, queryValue string, op Op) bool {
	var cmp int
	a, errA := strconv.ParseFloat(fieldValue, 64)
	b, errB := strconv.ParseFloat(queryValue, 64)
	if errA == nil && errB == nil {
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(strings.ToLower(fieldValue), strings.ToLower(queryValue))
	}

	switch op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}

// containsIgnoreCase checks if haystack contains needle (case-insensitive).
func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matchFullText searches across all fields.
func matchFullText(query string, rec Record) bool {
	for _, f := range rec.Values() {
		if containsIgnoreCase(f, query) {
			return true
		}
	}
	return false
}

// Fields is a map-backed Record.
type Fields map[string]string

// Lookup implements Record.
func (f Fields) Lookup(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

// Values implements Record.
func (f Fields) Values() []string {
	out := make([]string, 0, len(f))
	for _, v := range f {
		out = append(out, v)
	}
	return out
}
