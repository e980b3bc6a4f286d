package jify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jify-db/jify/index"
	"github.com/jify-db/jify/query"
)

func tempPaths(t *testing.T) (data, idx string) {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "data.json"), filepath.Join(dir, "data.json.idx")
}

func johnFixture() []map[string]any {
	return []map[string]any{
		{"name": "John", "age": float64(42)},
		{"name": "John", "age": float64(17)},
		{"name": "John", "age": float64(50)},
		{"name": "John", "age": float64(18)},
		{"name": "John", "age": float64(20)},
		{"name": "John", "age": float64(43)},
		{"name": "John", "age": float64(35)},
	}
}

func TestInsertThenIndexThenFindEquality(t *testing.T) {
	dataPath, idxPath := tempPaths(t)
	db, err := Create(dataPath, idxPath, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	if err := db.Insert(johnFixture()); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Index(index.FieldSpec{Name: "age"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	q, err := query.Parse("age=42")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	records, err := db.Find(q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %v, want 1", records)
	}
	rec := records[0].(map[string]any)
	if rec["age"] != float64(42) || rec["name"] != "John" {
		t.Fatalf("record = %#v", rec)
	}
}

func TestFindRangeAndDisjunction(t *testing.T) {
	dataPath, idxPath := tempPaths(t)
	db, err := Create(dataPath, idxPath, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	if err := db.Insert(johnFixture()); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Index(index.FieldSpec{Name: "age"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	rangeQ, err := query.Parse("age>=18,age<35")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	records, err := db.Find(rangeQ)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %v, want 2 (age 18 and 20)", records)
	}

	lowQ, err := query.Parse("age<18")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	highQ, err := query.Parse("age>35")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	disjunction, err := db.Find(lowQ, highQ)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(disjunction) != 4 {
		t.Fatalf("records = %v, want 4 (ages 42, 43, 17, 50)", disjunction)
	}
}

func TestIndexIsIdempotentWhenUpToDate(t *testing.T) {
	dataPath, idxPath := tempPaths(t)
	db, err := Create(dataPath, idxPath, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	if err := db.Insert(johnFixture()); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Index(index.FieldSpec{Name: "age"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := db.Index(index.FieldSpec{Name: "age"}); err != nil {
		t.Fatalf("second Index call: %v", err)
	}

	q, err := query.Parse("age=42")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	records, err := db.Find(q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %v, want 1 (no duplication from re-indexing)", records)
	}
}

func TestIndexRebuildsAfterNewInsertsMakeItOutdated(t *testing.T) {
	dataPath, idxPath := tempPaths(t)
	db, err := Create(dataPath, idxPath, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()

	if err := db.Insert([]map[string]any{{"name": "a", "age": float64(1)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Index(index.FieldSpec{Name: "age"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := db.Insert([]map[string]any{{"name": "b", "age": float64(2)}}); err != nil {
		t.Fatalf("Insert 2: %v", err)
	}
	if err := db.Index(index.FieldSpec{Name: "age"}); err != nil {
		t.Fatalf("Index 2: %v", err)
	}

	q, err := query.Parse("age=2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	records, err := db.Find(q)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %v, want 1", records)
	}
}

func TestDropRemovesBothFiles(t *testing.T) {
	dataPath, idxPath := tempPaths(t)
	db, err := Create(dataPath, idxPath, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := db.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := os.Stat(dataPath); !os.IsNotExist(err) {
		t.Fatalf("data file still exists after Drop")
	}
	if _, err := os.Stat(idxPath); !os.IsNotExist(err) {
		t.Fatalf("index file still exists after Drop")
	}
}
