package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jify-db/jify/jerr"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data.json")
}

func TestCreateEmptyCanonicalForm(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw) != "[\n]\n" {
		t.Fatalf("got %q, want %q", raw, "[\n]\n")
	}
}

func TestCreateAlreadyExists(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()

	_, err = Create(path, 2, nil)
	if !errors.Is(err, jerr.AlreadyExists) {
		t.Fatalf("err = %v, want AlreadyExists", err)
	}
}

func TestAppendAndGet(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	start, _, err := s.Append(map[string]any{"name": "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	res, err := s.Get(start)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m := res.Value.(map[string]any)
	if m["name"] != "a" {
		t.Fatalf("value = %#v", res.Value)
	}

	start2, _, err := s.Append(map[string]any{"name": "b"})
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	res2, err := s.Get(start2)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	m2 := res2.Value.(map[string]any)
	if m2["name"] != "b" {
		t.Fatalf("value = %#v", res2.Value)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "[\n  {\n    \"name\": \"a\"\n  },\n  {\n    \"name\": \"b\"\n  }\n]\n"
	if raw[0] != '[' {
		t.Fatalf("not a JSON array: %q", raw)
	}
	if string(raw) != want {
		t.Fatalf("file = %q, want %q", raw, want)
	}
}

func TestGetAllIteratesInOrder(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := s.Append(map[string]any{"name": name}); err != nil {
			t.Fatalf("Append(%s): %v", name, err)
		}
	}

	cur, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	var got []string
	for {
		_, value, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, value.(map[string]any)["name"].(string))
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v", got)
	}
}

func TestGetAllLineDelimited(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("{\"a\":1}\n{\"a\":2}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	cur, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	var count int
	for {
		_, _, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestGetAppendPositionEmptyArrayIsFirst(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	_, first, err := s.GetAppendPosition()
	if err != nil {
		t.Fatalf("GetAppendPosition: %v", err)
	}
	if !first {
		t.Fatalf("first = false, want true for empty array")
	}
}

func TestGetAppendPositionNonEmptyArrayIsNotFirst(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if _, _, err := s.Append(map[string]any{"x": 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_, first, err := s.GetAppendPosition()
	if err != nil {
		t.Fatalf("GetAppendPosition: %v", err)
	}
	if first {
		t.Fatalf("first = true, want false once an element exists")
	}
}

func TestGetAppendPositionInvalidFormat(t *testing.T) {
	path := tempPath(t)
	if err := os.WriteFile(path, []byte("invalid"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, _, err = s.GetAppendPosition()
	if !errors.Is(err, jerr.InvalidFormat) {
		t.Fatalf("err = %v, want InvalidFormat", err)
	}
}

func TestSetOverwritesInPlace(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 0, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	start, length, err := s.Append(map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if length != int64(len(`{"n":1}`)) {
		t.Fatalf("length = %d, want %d", length, len(`{"n":1}`))
	}

	if err := s.Set(start, map[string]any{"n": 9}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	res, err := s.Get(start)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Value.(map[string]any)["n"] != float64(9) {
		t.Fatalf("value = %#v", res.Value)
	}
}

func TestDestroyRemovesFile(t *testing.T) {
	path := tempPath(t)
	s, err := Create(path, 2, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after Destroy")
	}
}
