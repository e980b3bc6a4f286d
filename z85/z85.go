// Package z85 implements the fixed- and variable-width ASCII-safe integer
// and float encoding used to embed numeric fields inside jify's index file.
//
// Three widths are used by the index: a 5-character encoding for 32-bit
// unsigned values (type tags, booleans), an 8-character encoding for 48-bit
// unsigned values (file offsets — pointer, link, skip-list levels), and a
// 10-character encoding for the IEEE-754 bit pattern of a float64. All three
// are fixed width so that rewriting a single field in place (predecessor
// splicing during insert) never changes the byte length of the line it
// lives in.
package z85

import (
	"math"
	"strings"
)

// alphabet is the 85-symbol ZeroMQ Z85 alphabet.
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

const base = 85

// Fixed widths, chosen as the minimal digit count such that base^width
// exceeds the type's maximum value (85^5 > 2^32, 85^8 > 2^48, 85^10 > 2^64).
const (
	Width32 = 5  // covers 0..2^32-1
	Width48 = 8  // covers 0..2^48-1
	Width64 = 10 // covers 0..2^64-1 (used for float64 bit patterns)
)

var decodeTable [256]int8

func init() {
	for i := range decodeTable {
		decodeTable[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeTable[alphabet[i]] = int8(i)
	}
}

func encodeFixed(value uint64, width int) string {
	var buf [Width64]byte
	v := value
	for i := width - 1; i >= 0; i-- {
		buf[i] = alphabet[v%base]
		v /= base
	}
	return string(buf[:width])
}

func decodeFixed(s string, width int) (uint64, bool) {
	if len(s) != width {
		return 0, false
	}
	var value uint64
	for i := 0; i < width; i++ {
		d := decodeTable[s[i]]
		if d < 0 {
			return 0, false
		}
		value = value*base + uint64(d)
	}
	return value, true
}

// EncodeUint32 encodes v as a fixed Width32-character Z85 string.
func EncodeUint32(v uint32) string {
	return encodeFixed(uint64(v), Width32)
}

// DecodeUint32 decodes a Width32-character Z85 string produced by EncodeUint32.
func DecodeUint32(s string) (uint32, bool) {
	value, ok := decodeFixed(s, Width32)
	if !ok || value > math.MaxUint32 {
		return 0, false
	}
	return uint32(value), true
}

// EncodeUint48 encodes the low 48 bits of v as a fixed Width48-character Z85
// string. Bits above the 48th are dropped, so a value above 2^48-1 is
// silently truncated rather than rejected (encode never fails — it always
// produces Width48 chars).
func EncodeUint48(v uint64) string {
	return encodeFixed(v&(1<<48-1), Width48)
}

// DecodeUint48 decodes a Width48-character Z85 string produced by EncodeUint48.
func DecodeUint48(s string) (uint64, bool) {
	value, ok := decodeFixed(s, Width48)
	if !ok || value >= 1<<48 {
		return 0, false
	}
	return value, true
}

// EncodeFloat64 encodes the IEEE-754 bit pattern of v as a fixed
// Width64-character Z85 string.
func EncodeFloat64(v float64) string {
	return encodeFixed(math.Float64bits(v), Width64)
}

// DecodeFloat64 decodes a Width64-character Z85 string produced by EncodeFloat64.
func DecodeFloat64(s string) (float64, bool) {
	value, ok := decodeFixed(s, Width64)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(value), true
}

// EncodeUint32Var encodes v using the shortest Z85 representation that still
// round-trips (no leading zero digits, minimum one character). It is not
// used by the persisted index — see DESIGN.md — but is offered as the
// variable-width mode the component contract calls for.
func EncodeUint32Var(v uint32) string {
	fixed := encodeFixed(uint64(v), Width32)
	trimmed := strings.TrimLeft(fixed, string(alphabet[0]))
	if trimmed == "" {
		return string(alphabet[0])
	}
	return trimmed
}

// DecodeUint32Var decodes a string produced by EncodeUint32Var.
func DecodeUint32Var(s string) (uint32, bool) {
	if s == "" || len(s) > Width32 {
		return 0, false
	}
	var value uint64
	for i := 0; i < len(s); i++ {
		d := decodeTable[s[i]]
		if d < 0 {
			return 0, false
		}
		value = value*base + uint64(d)
	}
	if value > math.MaxUint32 {
		return 0, false
	}
	return uint32(value), true
}
