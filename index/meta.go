package index

import (
	"fmt"
	"strings"
	"time"

	"github.com/jify-db/jify/jerr"
	"github.com/jify-db/jify/z85"
)

// fieldMeta is the metadata carried in a field-header entry's node value.
// It is encoded with every field except Name fixed-width (Z85), and Name
// last, so that updating Tx or the Bloom back-reference during the header's
// lifetime never changes the entry's total byte length: a rewrite is a
// plain same-offset overwrite, never a relocation.
type fieldMeta struct {
	Name     string
	Type     string // "" or DateTimeType
	Tx       int    // 0 or 1
	BloomPos int64  // offset of this field's bloom sibling entry, 0 if none yet
	BloomK   int    // hash function count used by that filter, 0 if none yet
}

const (
	fieldTypeNone     = 0
	fieldTypeDateTime = 1
)

// DateTimeType is the field-type label that triggers parseDate coercion of
// string values at insert and find time.
const DateTimeType = "date-time"

func typeToTag(t string) uint32 {
	if t == DateTimeType {
		return fieldTypeDateTime
	}
	return fieldTypeNone
}

func tagToType(tag uint32) string {
	if tag == fieldTypeDateTime {
		return DateTimeType
	}
	return ""
}

func encodeFieldMeta(meta fieldMeta) string {
	return strings.Join([]string{
		z85.EncodeUint32(uint32(meta.Tx)),
		z85.EncodeUint48(uint64(meta.BloomPos)),
		z85.EncodeUint32(uint32(meta.BloomK)),
		z85.EncodeUint32(typeToTag(meta.Type)),
		meta.Name,
	}, ";")
}

func decodeFieldMetaString(value any) (fieldMeta, error) {
	s, ok := value.(string)
	if !ok {
		return fieldMeta{}, fmt.Errorf("index: field header metadata is not a string: %w", jerr.InvalidFormat)
	}
	parts := strings.SplitN(s, ";", 5)
	if len(parts) != 5 {
		return fieldMeta{}, fmt.Errorf("index: decode field metadata: %w", jerr.InvalidFormat)
	}
	tx, ok := z85.DecodeUint32(parts[0])
	if !ok {
		return fieldMeta{}, fmt.Errorf("index: decode field metadata: %w", jerr.InvalidFormat)
	}
	bloomPos, ok := z85.DecodeUint48(parts[1])
	if !ok {
		return fieldMeta{}, fmt.Errorf("index: decode field metadata: %w", jerr.InvalidFormat)
	}
	bloomK, ok := z85.DecodeUint32(parts[2])
	if !ok {
		return fieldMeta{}, fmt.Errorf("index: decode field metadata: %w", jerr.InvalidFormat)
	}
	typeTag, ok := z85.DecodeUint32(parts[3])
	if !ok {
		return fieldMeta{}, fmt.Errorf("index: decode field metadata: %w", jerr.InvalidFormat)
	}
	return fieldMeta{
		Name:     parts[4],
		Type:     tagToType(typeTag),
		Tx:       int(tx),
		BloomPos: int64(bloomPos),
		BloomK:   int(bloomK),
	}, nil
}

// parseDate parses an RFC 3339 timestamp into a comparison key. jify's
// date-time fields are indexed by this numeric key rather than their
// original text, the same way a Date.parse-equivalent comparison key would
// be derived from a string timestamp.
func parseDate(s string) (float64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("index: parse date-time %q: %w", s, jerr.InvalidFormat)
	}
	return float64(t.UnixNano()), nil
}
