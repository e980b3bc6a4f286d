// Package jify is an append-only document database: records are appended
// to a human-readable JSON array file, and secondary indexes (package
// index) let Find locate them by field value without scanning the array.
package jify

import (
	"sync"
	"time"

	"github.com/jify-db/jify/index"
	"github.com/jify-db/jify/jlog"
	"github.com/jify-db/jify/query"
	"github.com/jify-db/jify/store"
)

var log = jlog.New("jify")

const dataIndent = 2

// Database is the orchestrator tying a data file and its index file
// together: create/drop, batched insert, indexed find, and index
// build/extend with outdated detection.
type Database struct {
	dataPath, indexPath string

	mu  sync.Mutex
	st  *store.Store
	idx *index.Index
}

// Create creates a fresh data file and index file, registering fields for
// indexing immediately.
func Create(dataPath, indexPath string, fields []index.FieldSpec) (*Database, error) {
	st, err := store.Create(dataPath, dataIndent, nil)
	if err != nil {
		return nil, err
	}
	idx, err := index.Create(indexPath)
	if err != nil {
		st.Destroy()
		return nil, err
	}
	db := &Database{dataPath: dataPath, indexPath: indexPath, st: st, idx: idx}
	if len(fields) > 0 {
		if err := db.buildFields(fields); err != nil {
			return nil, err
		}
	}
	log.Printf("created %s + %s", dataPath, indexPath)
	return db, nil
}

// Open opens an existing data file and index file pair.
func Open(dataPath, indexPath string) (*Database, error) {
	st, err := store.Open(dataPath, dataIndent)
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(indexPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Database{dataPath: dataPath, indexPath: indexPath, st: st, idx: idx}, nil
}

// Close releases both underlying file handles.
func (db *Database) Close() error {
	err := db.st.Close()
	if idxErr := db.idx.Close(); err == nil {
		err = idxErr
	}
	return err
}

// Drop destroys the data file and the index file, ignoring a missing index.
func (db *Database) Drop() error {
	if err := db.st.Destroy(); err != nil {
		return err
	}
	return db.idx.Destroy()
}

// Insert appends records to the data file as a single write, then updates
// every currently-indexed field's skip list with the values present in
// those records.
func (db *Database) Insert(records []map[string]any) error {
	if len(records) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.st.Lock(0, true); err != nil {
		return err
	}
	defer db.st.Unlock(0)

	startPos, first, err := db.st.GetAppendPosition()
	if err != nil {
		return err
	}

	fields := db.idx.Fields()
	batches := make(map[string][]index.InsertItem, len(fields))

	raws := make([][]byte, len(records))
	offsets := make([]int64, len(records))
	cursor := startPos + int64(len(db.st.Joiner(first)))
	for i, rec := range records {
		raw, err := db.st.Stringify(rec)
		if err != nil {
			return err
		}
		raws[i] = raw
		if i > 0 {
			cursor += int64(len(db.st.Joiner(false)))
		}
		offsets[i] = cursor
		cursor += int64(len(raw))
	}

	var body []byte
	for i, raw := range raws {
		if i > 0 {
			body = append(body, db.st.Joiner(false)...)
		}
		body = append(body, raw...)
		for _, field := range fields {
			if v, ok := records[i][field]; ok {
				batches[field] = append(batches[field], index.InsertItem{Value: v, Pointer: offsets[i]})
			}
		}
	}

	if _, _, err := db.st.AppendRaw(body, startPos, first); err != nil {
		return err
	}

	for field, batch := range batches {
		if err := db.idx.BeginTransaction(field); err != nil {
			return err
		}
		if err := db.idx.Insert(field, batch); err != nil {
			return err
		}
		if err := db.idx.EndTransaction(field); err != nil {
			return err
		}
	}

	log.Printf("inserted %d records, touched %d indexed fields", len(records), len(batches))
	return nil
}

// Find evaluates each query as a conjunction of its clauses and unions the
// record sets across queries, then resolves every matching offset back to
// its record. A bare equality clause is routed through the field's Bloom
// filter via index.Index.FindEqual.
func (db *Database) Find(queries ...query.Query) ([]any, error) {
	seen := map[int64]bool{}
	var order []int64

	for _, q := range queries {
		offsets, err := db.evalQuery(q)
		if err != nil {
			return nil, err
		}
		for _, o := range offsets {
			if !seen[o] {
				seen[o] = true
				order = append(order, o)
			}
		}
	}

	records := make([]any, len(order))
	for i, off := range order {
		res, err := db.st.Get(off)
		if err != nil {
			return nil, err
		}
		records[i] = res.Value
	}
	return records, nil
}

func (db *Database) evalQuery(q query.Query) ([]int64, error) {
	byField := map[string][]query.Clause{}
	var fieldOrder []string
	for _, c := range q {
		if _, ok := byField[c.Field]; !ok {
			fieldOrder = append(fieldOrder, c.Field)
		}
		byField[c.Field] = append(byField[c.Field], c)
	}

	var sets [][]int64
	for _, field := range fieldOrder {
		clauses := byField[field]
		var offsets []int64
		var err error
		if len(clauses) == 1 && clauses[0].Op == "=" {
			offsets, err = db.idx.FindEqual(field, clauses[0].Value)
		} else {
			pred := clauses[0].Pred
			for _, c := range clauses[1:] {
				pred = query.And(pred, c.Pred)
			}
			offsets, err = db.idx.Find(field, pred)
		}
		if err != nil {
			return nil, err
		}
		sets = append(sets, offsets)
	}

	return intersect(sets), nil
}

func intersect(sets [][]int64) []int64 {
	if len(sets) == 0 {
		return nil
	}
	counts := map[int64]int{}
	var order []int64
	for _, s := range sets {
		for _, v := range s {
			if counts[v] == 0 {
				order = append(order, v)
			}
			counts[v]++
		}
	}
	var out []int64
	for _, v := range order {
		if counts[v] == len(sets) {
			out = append(out, v)
		}
	}
	return out
}

// Index builds or extends the index over fields not yet present. If the
// data file's mtime is newer than the index file's, or any existing field
// header is mid-transaction, the whole index is considered outdated: it is
// dropped and rebuilt from scratch, re-adding both previously-indexed and
// newly requested fields.
func (db *Database) Index(fields ...index.FieldSpec) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	outdated, err := db.indexOutdated()
	if err != nil {
		return err
	}

	if outdated {
		existing := db.idx.Fields()
		existingTypes := make(map[string]index.FieldSpec, len(existing))
		for _, name := range existing {
			existingTypes[name] = index.FieldSpec{Name: name}
		}
		for _, f := range fields {
			existingTypes[f.Name] = f
		}

		if err := db.idx.Destroy(); err != nil {
			return err
		}
		idx, err := index.Create(db.indexPath)
		if err != nil {
			return err
		}
		db.idx = idx

		all := make([]index.FieldSpec, 0, len(existingTypes))
		for _, f := range existingTypes {
			all = append(all, f)
		}
		return db.buildFields(all)
	}

	var toBuild []index.FieldSpec
	for _, f := range fields {
		if !db.idx.HasField(f.Name) {
			toBuild = append(toBuild, f)
		}
	}
	return db.buildFields(toBuild)
}

func (db *Database) indexOutdated() (bool, error) {
	dataTime, err := db.st.ModTime()
	if err != nil {
		return false, err
	}
	indexTime, err := db.idx.ModTime()
	if err != nil {
		return false, err
	}
	if dataTime.After(indexTime) {
		return true, nil
	}
	return db.idx.AnyFieldInTransaction()
}

// buildFields registers fields (if new), then scans every record in the
// data file once, emitting a (value, offset) pair to every field being
// built. A single process handles every field sequentially; the worker-
// per-field fan-out spec.md allows is a valid but unneeded optimization at
// the record volumes this module targets.
func (db *Database) buildFields(fields []index.FieldSpec) error {
	if len(fields) == 0 {
		return nil
	}

	if err := db.idx.AddFields(fields); err != nil {
		return err
	}

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		if err := db.idx.BeginTransaction(f.Name); err != nil {
			return err
		}
	}

	const flushEvery = 1_000_000
	batches := make(map[string][]index.InsertItem, len(names))

	cur, err := db.st.GetAll()
	if err != nil {
		return err
	}
	for {
		offset, value, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		rec, isObj := value.(map[string]any)
		if !isObj {
			continue
		}
		for _, name := range names {
			if v, present := rec[name]; present {
				batches[name] = append(batches[name], index.InsertItem{Value: v, Pointer: offset})
				if len(batches[name]) >= flushEvery {
					if err := db.idx.Insert(name, batches[name]); err != nil {
						return err
					}
					batches[name] = nil
				}
			}
		}
	}

	for _, name := range names {
		if len(batches[name]) > 0 {
			if err := db.idx.Insert(name, batches[name]); err != nil {
				return err
			}
		}
		if err := db.idx.EndTransaction(name); err != nil {
			return err
		}
	}

	log.Printf("built fields %v", names)
	return nil
}

// ModTimes exposes the data and index file's last-modified times, mostly
// useful to callers deciding whether to call Index themselves.
func (db *Database) ModTimes() (data, idx time.Time, err error) {
	data, err = db.st.ModTime()
	if err != nil {
		return
	}
	idx, err = db.idx.ModTime()
	return
}
