// Package index implements jify's persistent ordered multimap
// field -> value -> record-offset as a skip list whose nodes are entries of
// a JSON array on disk (a store.Store opened with indent 0). Each indexed
// field owns one skip list, rooted at a field-header entry chained from a
// single root entry. An optional per-field Bloom filter (index/bloom)
// short-circuits equality lookups that cannot possibly match.
package index

import (
	"fmt"
	mrand "math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jify-db/jify/index/bloom"
	"github.com/jify-db/jify/jerr"
	"github.com/jify-db/jify/jlog"
	"github.com/jify-db/jify/store"
)

var log = jlog.New("index")

// FieldSpec names a field to register via AddFields, with an optional type
// hint ("date-time" is the only one that changes comparison semantics).
type FieldSpec struct {
	Name string
	Type string
}

// InsertItem is one (value, record offset) pair to place into a field's
// skip list.
type InsertItem struct {
	Value   any
	Pointer int64
}

// Predicate guides a skip-list descent and filters the entries it passes
// over. seek < 0 means "too small, keep going right"; seek > 0 means "too
// big, stop"; seek == 0 means an exact landing point. match determines
// whether the entry satisfies the overall query (range or equality).
type Predicate func(value any) (seek int, match bool)

// Index owns the index file's store and an in-memory cache of each
// registered field's header offset.
type Index struct {
	st   *store.Store
	path string

	mu         sync.Mutex
	rootOffset int64
	headers    map[string]int64
}

// Create creates a new, empty index file and writes its root entry.
func Create(path string) (*Index, error) {
	st, err := store.Create(path, 0, nil)
	if err != nil {
		return nil, err
	}
	idx := &Index{st: st, path: path, headers: map[string]int64{}}

	root := &Entry{Field: "", Node: SkipListNode{}}
	raw, err := root.Encode()
	if err != nil {
		return nil, err
	}
	start, _, err := st.AppendRaw(raw, -1, false)
	if err != nil {
		return nil, err
	}
	idx.rootOffset = start
	log.Printf("created %s, root at %d", path, start)
	return idx, nil
}

// Open opens an existing index file and loads its field-header chain.
func Open(path string) (*Index, error) {
	st, err := store.Open(path, 0)
	if err != nil {
		return nil, err
	}
	idx := &Index{st: st, path: path, headers: map[string]int64{}}
	if err := idx.loadHeaders(); err != nil {
		st.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the index file handle.
func (idx *Index) Close() error { return idx.st.Close() }

// Destroy deletes the index file.
func (idx *Index) Destroy() error { return idx.st.Destroy() }

// Path returns the index file's path.
func (idx *Index) Path() string { return idx.path }

// ModTime reports the index file's last-modified time, used for
// index-outdated detection against the data file's mtime.
func (idx *Index) ModTime() (time.Time, error) { return idx.st.ModTime() }

// Fields returns the names of every field currently registered.
func (idx *Index) Fields() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	names := make([]string, 0, len(idx.headers))
	for name := range idx.headers {
		names = append(names, name)
	}
	return names
}

// HasField reports whether name has been registered via AddFields.
func (idx *Index) HasField(name string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.headers[name]
	return ok
}

func (idx *Index) readEntry(position int64) (*Entry, error) {
	res, err := idx.st.Get(position)
	if err != nil {
		return nil, err
	}
	return DecodeEntryRaw(res.Raw, position)
}

func (idx *Index) writeEntry(e *Entry) error {
	raw, err := e.Encode()
	if err != nil {
		return err
	}
	return idx.st.Write(raw, e.Position)
}

func (idx *Index) loadHeaders() error {
	cur, err := idx.st.GetAll()
	if err != nil {
		return err
	}
	offset, _, ok, err := cur.Next()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index: %s: %w", idx.path, jerr.InvalidFormat)
	}

	root, err := idx.readEntry(offset)
	if err != nil {
		return err
	}
	idx.rootOffset = root.Position

	next := root.Link
	for next != 0 {
		hdr, err := idx.readEntry(next)
		if err != nil {
			return err
		}
		meta, err := decodeFieldMetaString(hdr.Node.Value)
		if err != nil {
			return err
		}
		idx.headers[meta.Name] = hdr.Position
		next = hdr.Link
	}
	return nil
}

// AddFields registers every field in fields that isn't already present,
// appending one field-header entry per new field and chaining it onto the
// tail of the existing header list.
func (idx *Index) AddFields(fields []FieldSpec) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	root, err := idx.readEntry(idx.rootOffset)
	if err != nil {
		return err
	}

	tailPos := root.Position
	tailLink := root.Link
	for tailLink != 0 {
		hdr, err := idx.readEntry(tailLink)
		if err != nil {
			return err
		}
		tailPos = tailLink
		tailLink = hdr.Link
	}

	if err := idx.st.Lock(0, true); err != nil {
		return err
	}
	defer idx.st.Unlock(0)

	for _, f := range fields {
		if _, exists := idx.headers[f.Name]; exists {
			continue
		}

		meta := fieldMeta{Name: f.Name, Type: f.Type}
		hdr := &Entry{
			Field: f.Name,
			Node:  SkipListNode{Levels: make([]int64, MaxHeight), Value: encodeFieldMeta(meta)},
		}
		raw, err := hdr.Encode()
		if err != nil {
			return err
		}
		start, _, err := idx.st.AppendRaw(raw, -1, false)
		if err != nil {
			return err
		}
		hdr.Position = start
		idx.headers[f.Name] = start

		if err := idx.setLink(tailPos, start); err != nil {
			return err
		}
		tailPos = start
	}
	return nil
}

func (idx *Index) setLink(position, link int64) error {
	e, err := idx.readEntry(position)
	if err != nil {
		return err
	}
	e.Link = link
	return idx.writeEntry(e)
}

func (idx *Index) fieldHeader(field string) (int64, *Entry, fieldMeta, error) {
	idx.mu.Lock()
	pos, ok := idx.headers[field]
	idx.mu.Unlock()
	if !ok {
		return 0, nil, fieldMeta{}, fmt.Errorf("index: field %q: %w", field, jerr.FieldMissing)
	}
	hdr, err := idx.readEntry(pos)
	if err != nil {
		return 0, nil, fieldMeta{}, err
	}
	meta, err := decodeFieldMetaString(hdr.Node.Value)
	if err != nil {
		return 0, nil, fieldMeta{}, err
	}
	return pos, hdr, meta, nil
}

// BeginTransaction marks field's header tx=1, signalling that an index
// build is in progress. The database layer calls this around an index
// build and around each field's batch in Database.Insert, so an aborted
// update leaves the field marked for rebuild.
func (idx *Index) BeginTransaction(field string) error { return idx.setTx(field, 1) }

// EndTransaction marks field's header tx=0 once a build completes cleanly.
func (idx *Index) EndTransaction(field string) error { return idx.setTx(field, 0) }

func (idx *Index) setTx(field string, tx int) error {
	pos, hdr, meta, err := idx.fieldHeader(field)
	if err != nil {
		return err
	}
	if err := idx.st.Lock(pos, true); err != nil {
		return err
	}
	defer idx.st.Unlock(pos)

	meta.Tx = tx
	hdr.Node.Value = encodeFieldMeta(meta)
	return idx.writeEntry(hdr)
}

// FieldInTransaction reports whether field's header currently has tx=1.
func (idx *Index) FieldInTransaction(field string) (bool, error) {
	_, _, meta, err := idx.fieldHeader(field)
	if err != nil {
		return false, err
	}
	return meta.Tx != 0, nil
}

// AnyFieldInTransaction reports whether any registered field's header has
// tx=1, used by the database layer's index-outdated detection.
func (idx *Index) AnyFieldInTransaction() (bool, error) {
	for _, field := range idx.Fields() {
		inTx, err := idx.FieldInTransaction(field)
		if err != nil {
			return false, err
		}
		if inTx {
			return true, nil
		}
	}
	return false, nil
}

// Insert splices batch into field's skip list: each value is located via
// the standard skip-list predecessor search, spliced in if new or chained
// via link if a duplicate of an existing value, and the whole batch is
// flushed as a single append plus a handful of in-place predecessor
// rewrites. The caller brackets Insert with BeginTransaction/EndTransaction
// when it wants crash recovery to rebuild the field from scratch on failure.
func (idx *Index) Insert(field string, batch []InsertItem) error {
	if len(batch) == 0 {
		return nil
	}

	pos, header, meta, err := idx.fieldHeader(field)
	if err != nil {
		return err
	}

	if err := idx.st.Lock(pos, true); err != nil {
		return err
	}
	defer idx.st.Unlock(pos)

	// Re-read under lock: fieldHeader's snapshot may be stale if another
	// insert on this field raced us to acquire the lock first.
	header, err = idx.readEntry(pos)
	if err != nil {
		return err
	}
	meta, err = decodeFieldMetaString(header.Node.Value)
	if err != nil {
		return err
	}

	items := make([]InsertItem, len(batch))
	copy(items, batch)
	if meta.Type == DateTimeType {
		for i, it := range items {
			s, ok := it.Value.(string)
			if !ok {
				return fmt.Errorf("index: field %q: date-time value must be a string: %w", field, jerr.InvalidFormat)
			}
			ts, err := parseDate(s)
			if err != nil {
				return err
			}
			items[i].Value = ts
		}
	}

	// Descending order lets later, smaller-valued entries splice in front
	// of entries already placed earlier in the same batch with a single
	// forward append, rather than needing to revisit earlier entries.
	sort.SliceStable(items, func(a, b int) bool {
		return compareValues(items[a].Value, items[b].Value) > 0
	})

	if err := idx.st.Lock(0, true); err != nil {
		return err
	}
	defer idx.st.Unlock(0)

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = bloomKey(it.Value)
	}
	if err := idx.updateBloom(header, &meta, keys); err != nil {
		return err
	}

	bs := &buildState{idx: idx, header: header, overlay: map[int64]*Entry{}}
	for _, it := range items {
		if err := bs.plan(field, it); err != nil {
			return err
		}
	}

	return idx.flushBatch(bs)
}

// buildState accumulates the new entries and mutated predecessors for one
// Insert batch before anything is written to disk. Entries not yet
// assigned a real offset are referenced by negative placeholder positions
// (-(i+1) for bs.inserts[i]); get resolves either kind transparently so the
// search below sees a consistent in-progress view of the list.
type buildState struct {
	idx     *Index
	header  *Entry
	overlay map[int64]*Entry
	inserts []*Entry
}

func (bs *buildState) get(pos int64) (*Entry, error) {
	if pos < 0 {
		return bs.inserts[-pos-1], nil
	}
	if pos == bs.header.Position {
		return bs.header, nil
	}
	if e, ok := bs.overlay[pos]; ok {
		return e, nil
	}
	e, err := bs.idx.readEntry(pos)
	if err != nil {
		return nil, err
	}
	bs.overlay[pos] = e
	return e, nil
}

func (bs *buildState) plan(field string, item InsertItem) error {
	var updates [MaxHeight]int64
	cur := bs.header
	for i := range updates {
		updates[i] = cur.Position
	}

	for level := len(bs.header.Node.Levels) - 1; level >= 0; level-- {
		for level < len(cur.Node.Levels) && cur.Node.Levels[level] != 0 {
			next, err := bs.get(cur.Node.Levels[level])
			if err != nil {
				return err
			}
			if compareValues(next.Node.Value, item.Value) >= 0 {
				break
			}
			cur = next
		}
		updates[level] = cur.Position
	}

	placeholder := -int64(len(bs.inserts) + 1)

	if len(cur.Node.Levels) > 0 && cur.Node.Levels[0] != 0 {
		existing, err := bs.get(cur.Node.Levels[0])
		if err != nil {
			return err
		}
		if compareValues(existing.Node.Value, item.Value) == 0 {
			dup := &Entry{
				Position: placeholder,
				Field:    field,
				Pointer:  item.Pointer,
				Link:     existing.Link,
			}
			existing.Link = placeholder
			bs.inserts = append(bs.inserts, dup)
			return nil
		}
	}

	level := randomLevel()
	entry := &Entry{
		Position: placeholder,
		Field:    field,
		Pointer:  item.Pointer,
		Node:     SkipListNode{Levels: make([]int64, level+1), Value: item.Value},
	}
	for i := 0; i <= level; i++ {
		pred, err := bs.get(updates[i])
		if err != nil {
			return err
		}
		entry.Node.Levels[i] = pred.Node.Levels[i]
		pred.Node.Levels[i] = placeholder
	}
	bs.inserts = append(bs.inserts, entry)
	return nil
}

func randomLevel() int {
	level := 0
	for mrand.Float64() < 0.5 && level < MaxHeight-1 {
		level++
	}
	return level
}

// flushBatch assigns every planned insert a real offset, resolves every
// negative placeholder reference (in the new entries, their predecessors,
// and the header), and writes the whole batch as one append plus the
// handful of in-place predecessor rewrites.
func (idx *Index) flushBatch(bs *buildState) error {
	startPos, first, err := idx.st.GetAppendPosition()
	if err != nil {
		return err
	}

	offsets := make([]int64, len(bs.inserts))
	cursor := startPos + int64(len(idx.st.Joiner(first)))
	for i, e := range bs.inserts {
		if i > 0 {
			cursor += int64(len(idx.st.Joiner(false)))
		}
		raw, err := e.Encode()
		if err != nil {
			return err
		}
		offsets[i] = cursor
		cursor += int64(len(raw))
	}

	resolve := func(v int64) int64 {
		if v < 0 {
			return offsets[-v-1]
		}
		return v
	}
	resolveEntry := func(e *Entry) {
		e.Link = resolve(e.Link)
		for i := range e.Node.Levels {
			e.Node.Levels[i] = resolve(e.Node.Levels[i])
		}
	}
	for _, e := range bs.inserts {
		resolveEntry(e)
	}
	for _, e := range bs.overlay {
		resolveEntry(e)
	}
	resolveEntry(bs.header)

	var body []byte
	for i, e := range bs.inserts {
		if i > 0 {
			body = append(body, idx.st.Joiner(false)...)
		}
		raw, err := e.Encode()
		if err != nil {
			return err
		}
		e.Position = offsets[i]
		body = append(body, raw...)
	}

	if _, _, err := idx.st.AppendRaw(body, startPos, first); err != nil {
		return err
	}

	if err := idx.writeEntry(bs.header); err != nil {
		return err
	}
	for _, e := range bs.overlay {
		if err := idx.writeEntry(e); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) updateBloom(header *Entry, meta *fieldMeta, keys []string) error {
	var filter *bloom.Filter
	isNew := meta.BloomPos == 0
	if isNew {
		filter = bloom.New(len(keys)*8+64, 0.01)
	} else {
		f, err := idx.loadBloomAt(meta.BloomPos, meta.BloomK)
		if err != nil {
			return err
		}
		filter = f
	}
	for _, k := range keys {
		filter.Add(k)
	}
	encoded := filter.Encode()

	if isNew {
		entry := &Entry{Field: meta.Name + "#bloom", Node: SkipListNode{Value: encoded}}
		raw, err := entry.Encode()
		if err != nil {
			return err
		}
		start, _, err := idx.st.AppendRaw(raw, -1, false)
		if err != nil {
			return err
		}
		meta.BloomPos = start
		meta.BloomK = filter.K()
	} else {
		entry := &Entry{Position: meta.BloomPos, Field: meta.Name + "#bloom", Node: SkipListNode{Value: encoded}}
		if err := idx.writeEntry(entry); err != nil {
			return err
		}
	}

	header.Node.Value = encodeFieldMeta(*meta)
	return nil
}

func (idx *Index) loadBloomAt(pos int64, k int) (*bloom.Filter, error) {
	e, err := idx.readEntry(pos)
	if err != nil {
		return nil, err
	}
	s, _ := e.Node.Value.(string)
	return bloom.Decode(s, k)
}

func bloomKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Find descends field's skip list under a shared header lock and returns
// every record offset whose value satisfies pred.
func (idx *Index) Find(field string, pred Predicate) ([]int64, error) {
	pos, header, meta, err := idx.fieldHeader(field)
	if err != nil {
		return nil, err
	}
	if err := idx.st.Lock(pos, false); err != nil {
		return nil, err
	}
	defer idx.st.Unlock(pos)

	if meta.Tx != 0 {
		return nil, fmt.Errorf("index: field %q: %w", field, jerr.FieldInTransaction)
	}

	return idx.findLocked(header, pred)
}

// FindEqual is Find specialized for equality: when the field carries a
// Bloom filter, a negative answer short-circuits to an empty result
// without touching the skip list at all.
func (idx *Index) FindEqual(field string, target any) ([]int64, error) {
	pos, header, meta, err := idx.fieldHeader(field)
	if err != nil {
		return nil, err
	}
	if err := idx.st.Lock(pos, false); err != nil {
		return nil, err
	}
	defer idx.st.Unlock(pos)

	if meta.Tx != 0 {
		return nil, fmt.Errorf("index: field %q: %w", field, jerr.FieldInTransaction)
	}

	if meta.Type == DateTimeType {
		s, ok := target.(string)
		if !ok {
			return nil, fmt.Errorf("index: field %q: date-time target must be a string: %w", field, jerr.PredicateInvalid)
		}
		ts, err := parseDate(s)
		if err != nil {
			return nil, err
		}
		target = ts
	}

	if meta.BloomPos != 0 {
		filter, err := idx.loadBloomAt(meta.BloomPos, meta.BloomK)
		if err != nil {
			return nil, err
		}
		if !filter.MayContain(bloomKey(target)) {
			return nil, nil
		}
	}

	return idx.findLocked(header, func(value any) (int, bool) {
		c := compareValues(value, target)
		return c, c == 0
	})
}

func (idx *Index) findLocked(header *Entry, pred Predicate) ([]int64, error) {
	cur := header
	for level := len(header.Node.Levels) - 1; level >= 0; level-- {
		for level < len(cur.Node.Levels) && cur.Node.Levels[level] != 0 {
			next, err := idx.readEntry(cur.Node.Levels[level])
			if err != nil {
				return nil, err
			}
			if seek, _ := pred(next.Node.Value); seek > 0 {
				break
			}
			cur = next
		}
	}

	var results []int64
	matched := false
	node := cur
	atHeader := cur.Position == header.Position
	for {
		var nextPos int64
		if atHeader {
			if len(node.Node.Levels) == 0 {
				break
			}
			nextPos = node.Node.Levels[0]
		} else {
			_, match := pred(node.Node.Value)
			if match {
				matched = true
				results = append(results, node.Pointer)
				dups, err := idx.collectDuplicates(node)
				if err != nil {
					return nil, err
				}
				results = append(results, dups...)
			} else if matched {
				break
			}
			if len(node.Node.Levels) == 0 {
				break
			}
			nextPos = node.Node.Levels[0]
		}
		if nextPos == 0 {
			break
		}
		next, err := idx.readEntry(nextPos)
		if err != nil {
			return nil, err
		}
		node = next
		atHeader = false
	}
	return results, nil
}

func (idx *Index) collectDuplicates(primary *Entry) ([]int64, error) {
	var out []int64
	next := primary.Link
	for next != 0 {
		e, err := idx.readEntry(next)
		if err != nil {
			return nil, err
		}
		out = append(out, e.Pointer)
		next = e.Link
	}
	return out, nil
}
