package index

import (
	"errors"
	"testing"

	"github.com/jify-db/jify/jerr"
)

func TestFieldMetaRoundTrip(t *testing.T) {
	meta := fieldMeta{Name: "age", Type: DateTimeType, Tx: 1, BloomPos: 4096, BloomK: 3}
	encoded := encodeFieldMeta(meta)

	got, err := decodeFieldMetaString(encoded)
	if err != nil {
		t.Fatalf("decodeFieldMetaString: %v", err)
	}
	if got != meta {
		t.Fatalf("got %#v, want %#v", got, meta)
	}
}

func TestFieldMetaLengthStableAcrossBloomBackfill(t *testing.T) {
	before := encodeFieldMeta(fieldMeta{Name: "age", BloomPos: 0, BloomK: 0})
	after := encodeFieldMeta(fieldMeta{Name: "age", BloomPos: 123456789, BloomK: 7})
	if len(before) != len(after) {
		t.Fatalf("length changed after backfilling bloom reference: %d vs %d", len(before), len(after))
	}
}

func TestParseDate(t *testing.T) {
	a, err := parseDate("2020-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("parseDate: %v", err)
	}
	b, err := parseDate("2021-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("parseDate: %v", err)
	}
	if a >= b {
		t.Fatalf("expected earlier date to parse to a smaller key")
	}
}

func TestParseDateInvalid(t *testing.T) {
	_, err := parseDate("not-a-date")
	if !errors.Is(err, jerr.InvalidFormat) {
		t.Fatalf("err = %v, want InvalidFormat", err)
	}
}
