package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/jify-db/jify/jerr"
	"github.com/jify-db/jify/z85"
)

// MaxHeight is the number of forward pointers carried by every field-header
// entry, and the ceiling on a value entry's random level.
const MaxHeight = 32

// Type tags for the Z85-encoded value payload.
const (
	typeNull   = 0
	typeBool   = 1
	typeNumber = 2
	typeString = 3
)

// SkipListNode is the leveled-pointer and comparison-value payload shared
// by every entry role (root, field-header, value, duplicate).
type SkipListNode struct {
	// Levels holds, for each level i, the index-file offset of the next
	// entry in this field's list at that level (0 = end of list). A
	// duplicate entry carries no levels (nil).
	Levels []int64
	// Value is the comparison key: nil, bool, float64, or string. A
	// field-header entry stores its JSON metadata string here instead.
	Value any
}

// Entry is one line of the index file.
type Entry struct {
	Position int64  // byte offset of this entry's opening '{'; negative while still a batch placeholder
	Field    string // owning field's name, or "" for the root entry
	Pointer  int64  // record offset in the data file; 0 for root/header entries
	Link     int64  // offset of the next duplicate (value entries) or next header (field headers); 0 if none
	Node     SkipListNode
}

// Encode serializes e as the single-key JSON object stored in the index
// file. Every fixed-width numeric field (pointer, link, each level, the
// type tag) is drawn from the Z85 alphabet, which contains no character
// JSON needs to escape, and HTML escaping of '&', '<' and '>' is turned
// off, so this encoding's byte length never depends on the particular
// values substituted into placeholder fields.
func (e *Entry) Encode() ([]byte, error) {
	payload, err := e.encodePayload()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string{e.Field: payload}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (e *Entry) encodePayload() (string, error) {
	typeTag, valueEnc, err := encodeValue(e.Node.Value)
	if err != nil {
		return "", err
	}
	levelsCSV := encodeLevels(e.Node.Levels)
	return strings.Join([]string{
		z85.EncodeUint48(uint64(e.Pointer)),
		z85.EncodeUint48(uint64(e.Link)),
		levelsCSV,
		z85.EncodeUint32(uint32(typeTag)),
		valueEnc,
	}, ";"), nil
}

func encodeLevels(levels []int64) string {
	if len(levels) == 0 {
		return ""
	}
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = z85.EncodeUint48(uint64(l))
	}
	return strings.Join(parts, ",")
}

func encodeValue(value any) (int, string, error) {
	switch v := value.(type) {
	case nil:
		return typeNull, "", nil
	case bool:
		n := uint32(0)
		if v {
			n = 1
		}
		return typeBool, z85.EncodeUint32(n), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, "", fmt.Errorf("index: non-finite value: %w", jerr.InvalidFormat)
		}
		return typeNumber, z85.EncodeFloat64(v), nil
	case string:
		return typeString, v, nil
	default:
		return 0, "", fmt.Errorf("index: unsupported value type %T: %w", value, jerr.InvalidFormat)
	}
}

// DecodeEntryRaw parses raw (the exact bytes of one index-file element) into
// an Entry, tagging it with position (the caller's already-known byte
// offset, not re-derived from the JSON).
func DecodeEntryRaw(raw []byte, position int64) (*Entry, error) {
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return nil, fmt.Errorf("index: decode entry at %d: %w", position, jerr.InvalidFormat)
	}

	var field, payload string
	for k, v := range obj {
		field, payload = k, v
	}

	pointer, link, levels, value, err := decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("index: decode entry at %d: %w", position, err)
	}

	return &Entry{
		Position: position,
		Field:    field,
		Pointer:  pointer,
		Link:     link,
		Node:     SkipListNode{Levels: levels, Value: value},
	}, nil
}

// decodePayload splits on at most 4 semicolons so a raw string value
// (always last) is never mistaken for a delimiter.
func decodePayload(payload string) (pointer, link int64, levels []int64, value any, err error) {
	parts := strings.SplitN(payload, ";", 5)
	if len(parts) != 5 {
		return 0, 0, nil, nil, jerr.InvalidFormat
	}

	p, ok := z85.DecodeUint48(parts[0])
	if !ok {
		return 0, 0, nil, nil, jerr.InvalidFormat
	}
	l, ok := z85.DecodeUint48(parts[1])
	if !ok {
		return 0, 0, nil, nil, jerr.InvalidFormat
	}
	levels, err = decodeLevels(parts[2])
	if err != nil {
		return 0, 0, nil, nil, err
	}
	typeTag, ok := z85.DecodeUint32(parts[3])
	if !ok {
		return 0, 0, nil, nil, jerr.InvalidFormat
	}
	value, err = decodeValue(int(typeTag), parts[4])
	if err != nil {
		return 0, 0, nil, nil, err
	}

	return int64(p), int64(l), levels, value, nil
}

func decodeLevels(csv string) ([]int64, error) {
	if csv == "" {
		return nil, nil
	}
	toks := strings.Split(csv, ",")
	levels := make([]int64, len(toks))
	for i, t := range toks {
		v, ok := z85.DecodeUint48(t)
		if !ok {
			return nil, jerr.InvalidFormat
		}
		levels[i] = int64(v)
	}
	return levels, nil
}

func decodeValue(typeTag int, raw string) (any, error) {
	switch typeTag {
	case typeNull:
		return nil, nil
	case typeBool:
		n, ok := z85.DecodeUint32(raw)
		if !ok {
			return nil, jerr.InvalidFormat
		}
		return n != 0, nil
	case typeNumber:
		f, ok := z85.DecodeFloat64(raw)
		if !ok {
			return nil, jerr.InvalidFormat
		}
		return f, nil
	case typeString:
		return raw, nil
	default:
		return nil, jerr.InvalidFormat
	}
}

// compareValues orders values the way the skip list does: by type rank
// first (null < bool < number < string), then naturally within a type. Any
// single field is expected to hold one consistent type once coerced by
// insert, so cross-type comparisons only arise defensively.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	default:
		return 0
	}
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}
