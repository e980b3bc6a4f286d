// Package query builds index.Predicate values, either programmatically
// (Eq, Lt, Gt, Lte, Gte) or by parsing the CLI's "field<op>value[,...]"
// query strings into a Query of clauses, which Merge can collapse into a
// map of field name to predicate.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jify-db/jify/index"
	"github.com/jify-db/jify/jerr"
)

// Eq returns a predicate matching values equal to target.
func Eq(target any) index.Predicate {
	return func(value any) (int, bool) {
		c := compare(value, target)
		return c, c == 0
	}
}

// Lt returns a predicate matching values strictly less than target.
func Lt(target any) index.Predicate {
	return func(value any) (int, bool) {
		c := compare(value, target)
		return rangeSeek(c, false), c < 0
	}
}

// Lte returns a predicate matching values less than or equal to target.
func Lte(target any) index.Predicate {
	return func(value any) (int, bool) {
		c := compare(value, target)
		return rangeSeek(c, false), c <= 0
	}
}

// Gt returns a predicate matching values strictly greater than target.
func Gt(target any) index.Predicate {
	return func(value any) (int, bool) {
		c := compare(value, target)
		return rangeSeek(c, true), c > 0
	}
}

// Gte returns a predicate matching values greater than or equal to target.
func Gte(target any) index.Predicate {
	return func(value any) (int, bool) {
		c := compare(value, target)
		return rangeSeek(c, true), c >= 0
	}
}

// And combines two predicates over the same field into one that only
// matches (and only seeks onward) when both agree, used by Merge and by the
// database layer to build a bounded range like ">= 18 < 35" from two
// clauses on one field.
func And(a, b index.Predicate) index.Predicate {
	return func(value any) (int, bool) {
		sa, ma := a(value)
		sb, mb := b(value)
		seek := sa
		if sb > seek {
			seek = sb
		}
		return seek, ma && mb
	}
}

// rangeSeek turns a three-way comparison into a descent hint for an
// open-ended range. ascending is true for Gt/Gte, whose range begins at the
// target: the hint is the comparison itself, so the descent lands on the
// target (or the last entry below it) and the level-0 walk goes on from
// there. false for Lt/Lte, whose range begins at the head of the list: the
// hint is always "stop", so the walk starts from the first entry.
func rangeSeek(c int, ascending bool) int {
	if ascending {
		return c
	}
	return 1
}

func compare(a, b any) int {
	af, aIsFloat := a.(float64)
	bf, bIsFloat := b.(float64)
	if aIsFloat && bIsFloat {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs)
	}
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Clause is one parsed "field<op>value" fragment. Op and Value are kept
// alongside the compiled Pred so an exact equality clause can be recognized
// and routed through index.Index.FindEqual's Bloom-filter fast path; Op is
// empty for clauses built directly with Eq/Lt/Gt/Lte/Gte.
type Clause struct {
	Field string
	Op    string
	Value any
	Pred  index.Predicate
}

// Query is a conjunction of clauses against possibly different fields, the
// unit the database layer intersects position sets over.
type Query []Clause

var operators = []string{">=", "<=", "=", "<", ">"}

// Parse parses one CLI --query argument: a comma-separated list of
// "field<op>value" clauses, ANDed together. Values are coerced to float64
// when they parse as numbers, otherwise kept as strings; a literal "true"
// or "false" coerces to bool.
func Parse(s string) (Query, error) {
	parts := strings.Split(s, ",")
	q := make(Query, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, op, rawValue, err := splitClause(part)
		if err != nil {
			return nil, err
		}
		value := coerce(rawValue)

		var pred index.Predicate
		switch op {
		case "=":
			pred = Eq(value)
		case "<":
			pred = Lt(value)
		case ">":
			pred = Gt(value)
		case "<=":
			pred = Lte(value)
		case ">=":
			pred = Gte(value)
		default:
			return nil, fmt.Errorf("query: unknown operator %q: %w", op, jerr.PredicateInvalid)
		}
		q = append(q, Clause{Field: field, Op: op, Value: value, Pred: pred})
	}
	if len(q) == 0 {
		return nil, fmt.Errorf("query: empty query: %w", jerr.PredicateInvalid)
	}
	return q, nil
}

func splitClause(part string) (field, op, value string, err error) {
	for _, candidate := range operators {
		if idx := strings.Index(part, candidate); idx > 0 {
			return strings.TrimSpace(part[:idx]), candidate, strings.TrimSpace(part[idx+len(candidate):]), nil
		}
	}
	return "", "", "", fmt.Errorf("query: no operator found in %q: %w", part, jerr.PredicateInvalid)
}

func coerce(raw string) any {
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// Merge combines the field->predicate clauses of a query into a map,
// collapsing multiple clauses on the same field (e.g. "age>=18,age<35")
// with And, yielding one predicate per field per query (the database layer
// combines a field's clauses the same way in its own evaluation).
func (q Query) Merge() map[string]index.Predicate {
	out := make(map[string]index.Predicate, len(q))
	for _, c := range q {
		if existing, ok := out[c.Field]; ok {
			out[c.Field] = And(existing, c.Pred)
		} else {
			out[c.Field] = c.Pred
		}
	}
	return out
}
