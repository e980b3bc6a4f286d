package jsonscan

import (
	"io"
	"reflect"
	"testing"
)

type memSource struct{ data []byte }

func (m *memSource) ReadAt(buf []byte, pos int64) (int, error) {
	if pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(buf, m.data[pos:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memSource) Size() (int64, error) { return int64(len(m.data)), nil }

func TestScanObject(t *testing.T) {
	src := &memSource{data: []byte(`[{"a":1},{"b":2}]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Start != 1 || string(res.Raw) != `{"a":1}` {
		t.Fatalf("got start=%d raw=%q", res.Start, res.Raw)
	}
	want := map[string]any{"a": float64(1)}
	if !reflect.DeepEqual(res.Value, want) {
		t.Fatalf("value = %#v, want %#v", res.Value, want)
	}
}

func TestScanSkipsWhitespaceAndCommas(t *testing.T) {
	src := &memSource{data: []byte(`[{"a":1},  {"b":2}]`)}
	res, err := Scan(src, 8, false) // just after first element's closing brace
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if string(res.Raw) != `{"b":2}` {
		t.Fatalf("raw = %q", res.Raw)
	}
}

func TestScanStringValue(t *testing.T) {
	src := &memSource{data: []byte(`["hello, world"]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Value != "hello, world" {
		t.Fatalf("value = %#v", res.Value)
	}
}

func TestScanEscapedQuoteInString(t *testing.T) {
	src := &memSource{data: []byte(`["a\"b"]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Value != `a"b` {
		t.Fatalf("value = %#v", res.Value)
	}
}

func TestScanPrimitiveTerminatedByBracket(t *testing.T) {
	src := &memSource{data: []byte(`[42]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Value != float64(42) || string(res.Raw) != "42" {
		t.Fatalf("value=%v raw=%q", res.Value, res.Raw)
	}
}

func TestScanPrimitiveTerminatedByComma(t *testing.T) {
	src := &memSource{data: []byte(`[true,false]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Value != true || string(res.Raw) != "true" {
		t.Fatalf("value=%v raw=%q", res.Value, res.Raw)
	}
}

func TestScanNestedObject(t *testing.T) {
	src := &memSource{data: []byte(`[{"a":{"b":[1,2,3]}},2]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if string(res.Raw) != `{"a":{"b":[1,2,3]}}` {
		t.Fatalf("raw = %q", res.Raw)
	}
}

func TestScanUnterminatedFails(t *testing.T) {
	src := &memSource{data: []byte(`[{"a":1`)}
	_, err := Scan(src, 1, false)
	if err == nil {
		t.Fatalf("expected error for unterminated object")
	}
}

func TestScanMultibyteInString(t *testing.T) {
	src := &memSource{data: []byte(`["café"]`)}
	res, err := Scan(src, 1, true)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Value != "café" {
		t.Fatalf("value = %#v", res.Value)
	}
}
