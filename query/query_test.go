package query

import (
	"errors"
	"testing"

	"github.com/jify-db/jify/jerr"
)

func TestEqMatchesOnlyEqualValue(t *testing.T) {
	pred := Eq(float64(42))
	seek, match := pred(float64(42))
	if seek != 0 || !match {
		t.Fatalf("Eq(42)(42) = (%d, %v), want (0, true)", seek, match)
	}
	if _, match := pred(float64(1)); match {
		t.Fatalf("Eq(42)(1) matched")
	}
}

func TestRangeParsingWithTwoClauses(t *testing.T) {
	q, err := Parse("age>=18,age<35")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q) != 2 {
		t.Fatalf("clauses = %d, want 2", len(q))
	}
	merged := q.Merge()
	pred := merged["age"]

	if _, match := pred(float64(17)); match {
		t.Fatalf("17 should not match >=18 <35")
	}
	if _, match := pred(float64(18)); !match {
		t.Fatalf("18 should match >=18 <35")
	}
	if _, match := pred(float64(34)); !match {
		t.Fatalf("34 should match >=18 <35")
	}
	if _, match := pred(float64(35)); match {
		t.Fatalf("35 should not match >=18 <35")
	}
}

func TestParseEqualityClause(t *testing.T) {
	q, err := Parse("name=John")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q) != 1 || q[0].Field != "name" || q[0].Op != "=" || q[0].Value != "John" {
		t.Fatalf("clause = %#v", q[0])
	}
}

func TestParseNumericCoercion(t *testing.T) {
	q, err := Parse("age=42")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q[0].Value != float64(42) {
		t.Fatalf("value = %#v, want float64(42)", q[0].Value)
	}
}

func TestParseInvalidClauseErrors(t *testing.T) {
	_, err := Parse("no-operator-here")
	if !errors.Is(err, jerr.PredicateInvalid) {
		t.Fatalf("err = %v, want PredicateInvalid", err)
	}
}

func TestParseEmptyQueryErrors(t *testing.T) {
	_, err := Parse("")
	if !errors.Is(err, jerr.PredicateInvalid) {
		t.Fatalf("err = %v, want PredicateInvalid", err)
	}
}
