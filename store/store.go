// Package store treats a single file as a JSON array on disk: create,
// append, random access by byte offset, and full iteration, all without
// ever holding the whole file in memory. Both the data file and the index
// file are store.Store instances, opened with different indent settings.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jify-db/jify/byteio"
	"github.com/jify-db/jify/jerr"
	"github.com/jify-db/jify/jlog"
	"github.com/jify-db/jify/jsonscan"
	"github.com/jify-db/jify/vfile"
)

var log = jlog.New("store")

var trailer = []byte("\n]\n")

// Store is a JSON-array-shaped file together with the indent used to
// format elements written to it.
type Store struct {
	file   *vfile.File
	path   string
	indent int
}

// Create creates path exclusively and writes a JSON array containing
// objects, formatted with the given indent (0 disables pretty printing
// entirely, matching the index file's layout).
func Create(path string, indent int, objects []any) (*Store, error) {
	s := &Store{indent: indent, path: path}

	var buf []byte
	buf = append(buf, '[')
	for i, obj := range objects {
		raw, err := s.Stringify(obj)
		if err != nil {
			return nil, fmt.Errorf("store: create %s: %w", path, err)
		}
		buf = append(buf, s.joiner(i == 0)...)
		buf = append(buf, raw...)
	}
	buf = append(buf, trailer...)

	f, err := vfile.Create(path, buf)
	if err != nil {
		return nil, err
	}
	s.file = f
	log.Printf("created %s with %d initial elements", path, len(objects))
	return s, nil
}

// Open opens an existing store file.
func Open(path string, indent int) (*Store, error) {
	f, err := vfile.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{file: f, path: path, indent: indent}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.file.Close()
}

// Destroy deletes the store's file.
func (s *Store) Destroy() error {
	return s.file.Delete()
}

// Path returns the path this store was opened or created with.
func (s *Store) Path() string { return s.path }

// ModTime reports the file's last-modified time, used for index-outdated
// detection.
func (s *Store) ModTime() (time.Time, error) {
	info, err := s.file.Stat()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Get scans and parses the value located at byte position.
func (s *Store) Get(position int64) (*jsonscan.Result, error) {
	return jsonscan.Scan(s.file, position, true)
}

// Cursor iterates every element of a store, in order, without loading the
// whole file into memory. Obtain one with GetAll.
type Cursor struct {
	store *Store
	pos   int64
	done  bool
}

// GetAll returns a Cursor over every element in the store. Both the
// canonical bracketed array form and bare line-delimited JSON are accepted;
// the form is detected from the file's first byte.
func (s *Store) GetAll() (*Cursor, error) {
	head := make([]byte, 1)
	n, err := s.file.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	pos := int64(0)
	if n == 1 && head[0] == '[' {
		pos = 1
	}
	return &Cursor{store: s, pos: pos}, nil
}

// Next returns the next (offset, value) pair, or ok=false once every
// element has been consumed.
func (c *Cursor) Next() (offset int64, value any, ok bool, err error) {
	if c.done {
		return 0, nil, false, nil
	}

	r, err := byteio.New(c.store.file, c.pos, false, nil)
	if err != nil {
		return 0, nil, false, err
	}

	var start int64 = -1
	var first rune
	for {
		off, ch, more, err := r.Next()
		if err != nil {
			return 0, nil, false, err
		}
		if !more {
			c.done = true
			return 0, nil, false, nil
		}
		if ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r' || ch == ',' {
			continue
		}
		start, first = off, ch
		break
	}

	if first == ']' {
		c.done = true
		return 0, nil, false, nil
	}

	res, err := jsonscan.Scan(c.store.file, start, true)
	if err != nil {
		return 0, nil, false, err
	}
	c.pos = res.Start + res.Length
	return res.Start, res.Value, true, nil
}

// GetAppendPosition scans the file's tail in reverse, skipping spaces and
// newlines, to locate the array's closing bracket. position is the byte
// offset at which an append should begin overwriting (the bracket's offset
// minus one, so the trailing "\n]\n" is replaced by the new content's own
// trailer). first reports whether the array is currently empty.
func (s *Store) GetAppendPosition() (position int64, first bool, err error) {
	r, err := byteio.New(s.file, -1, true, nil)
	if err != nil {
		return 0, false, err
	}

	var bracketOffset int64 = -1
	for {
		off, ch, ok, err := r.Next()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, fmt.Errorf("store: %s: %w", s.path, jerr.InvalidFormat)
		}
		if ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t' {
			continue
		}
		if ch == ']' {
			bracketOffset = off
			break
		}
		return 0, false, fmt.Errorf("store: %s: %w", s.path, jerr.InvalidFormat)
	}

	isFirst := false
	for {
		_, ch, ok, err := r.Next()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
		if ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t' {
			continue
		}
		isFirst = ch == '['
		break
	}

	return bracketOffset - 1, isFirst, nil
}

// Append encodes value and appends it at the end of the array.
func (s *Store) Append(value any) (start, length int64, err error) {
	raw, err := s.Stringify(value)
	if err != nil {
		return 0, 0, err
	}
	return s.AppendRaw(raw, -1, false)
}

// AppendRaw writes joiner+raw+"\n]\n" at position. When position is
// negative, both position and first are computed via GetAppendPosition.
func (s *Store) AppendRaw(raw []byte, position int64, first bool) (start, length int64, err error) {
	pos, isFirst := position, first
	if pos < 0 {
		pos, isFirst, err = s.GetAppendPosition()
		if err != nil {
			return 0, 0, err
		}
	}

	joiner := s.joiner(isFirst)
	buf := make([]byte, 0, len(joiner)+len(raw)+len(trailer))
	buf = append(buf, joiner...)
	buf = append(buf, raw...)
	buf = append(buf, trailer...)

	if _, err := s.file.WriteAt(buf, pos); err != nil {
		return 0, 0, err
	}
	return pos + int64(len(joiner)), int64(len(raw)), nil
}

// Write is the raw overwrite primitive: it writes buf verbatim at position.
func (s *Store) Write(buf []byte, position int64) error {
	_, err := s.file.WriteAt(buf, position)
	return err
}

// Set encodes value and overwrites it at position. The caller is
// responsible for position holding a value whose encoded length matches.
func (s *Store) Set(position int64, value any) error {
	raw, err := s.Stringify(value)
	if err != nil {
		return err
	}
	return s.Write(raw, position)
}

// Lock and Unlock delegate to the underlying file's advisory byte-range lock.
func (s *Store) Lock(pos int64, exclusive bool) error { return s.file.Lock(pos, exclusive) }
func (s *Store) Unlock(pos int64) error               { return s.file.Unlock(pos) }

// Source exposes the store's underlying byte source, for components (like
// index) that need to run their own scans or readers over the same file.
func (s *Store) Source() byteio.Source { return s.file }

// Stringify marshals value using the store's indent setting, normalized so
// the result can be embedded directly after a joiner with no surrounding
// whitespace.
func (s *Store) Stringify(value any) ([]byte, error) {
	if s.indent <= 0 {
		return json.Marshal(value)
	}
	prefix := strings.Repeat(" ", s.indent)
	return json.MarshalIndent(value, prefix, prefix)
}

// Joiner returns the separator a caller building a multi-entry batch write
// (as index does) must place before each element: the leading separator for
// the first element appended to an empty array, or the comma-newline-indent
// separator otherwise.
func (s *Store) Joiner(first bool) string {
	indent := strings.Repeat(" ", s.indent)
	if first {
		return "\n" + indent
	}
	return ",\n" + indent
}

func (s *Store) joiner(first bool) string { return s.Joiner(first) }
