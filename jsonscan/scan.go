// Package jsonscan locates the exact byte range of a single JSON value
// inside a stream that may start anywhere at or before that value, without
// requiring the whole array to be parsed. store's Get and GetAll are built
// directly on top of Scan.
package jsonscan

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/jify-db/jify/byteio"
	"github.com/jify-db/jify/jerr"
)

// Result describes one scanned JSON value.
type Result struct {
	Start  int64 // byte offset of the value's first byte
	Length int64 // byte length of the value, terminator excluded for primitives
	Raw    []byte
	Value  any // populated only when Scan was called with parse=true
}

// Scan locates the next JSON value at or after position, skipping leading
// whitespace and commas. If parse is true the matched bytes are also
// unmarshaled into Result.Value.
func Scan(src byteio.Source, position int64, parse bool) (*Result, error) {
	r, err := byteio.New(src, position, false, nil)
	if err != nil {
		return nil, err
	}

	start, first, err := skipToValue(r)
	if err != nil {
		return nil, err
	}

	var end int64
	switch first {
	case '{', '[':
		end, err = scanComposite(r, start, first)
	case '"':
		end, err = scanString(r, start)
	default:
		end, err = scanPrimitive(r, start, first)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{Start: start, Length: end - start}

	buf := make([]byte, result.Length)
	if _, err := src.ReadAt(buf, start); err != nil {
		return nil, fmt.Errorf("jsonscan: read value bytes: %w", err)
	}
	result.Raw = buf

	if parse {
		var value any
		if err := json.Unmarshal(buf, &value); err != nil {
			return nil, fmt.Errorf("jsonscan: parse value: %w (%v)", jerr.InvalidFormat, err)
		}
		result.Value = value
	}

	return result, nil
}

func isSpace(ch rune) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}

func skipToValue(r *byteio.Reader) (int64, rune, error) {
	for {
		off, ch, ok, err := r.Next()
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, fmt.Errorf("jsonscan: no value found: %w", jerr.InvalidFormat)
		}
		if isSpace(ch) || ch == ',' {
			continue
		}
		return off, ch, nil
	}
}

func scanComposite(r *byteio.Reader, start int64, open rune) (int64, error) {
	closeRune := '}'
	if open == '[' {
		closeRune = ']'
	}

	depth := 1
	inString := false
	escaping := false
	end := start + int64(utf8.RuneLen(open))

	for depth > 0 {
		off, ch, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("jsonscan: unterminated value: %w", jerr.InvalidFormat)
		}
		end = off + int64(utf8.RuneLen(ch))

		if inString {
			switch {
			case escaping:
				escaping = false
			case ch == '\\':
				escaping = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeRune:
			depth--
		}
	}

	return end, nil
}

func scanString(r *byteio.Reader, start int64) (int64, error) {
	escaping := false
	end := start + int64(utf8.RuneLen('"'))

	for {
		off, ch, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("jsonscan: unterminated string: %w", jerr.InvalidFormat)
		}
		end = off + int64(utf8.RuneLen(ch))

		if escaping {
			escaping = false
			continue
		}
		if ch == '\\' {
			escaping = true
			continue
		}
		if ch == '"' {
			break
		}
	}

	return end, nil
}

func scanPrimitive(r *byteio.Reader, start int64, first rune) (int64, error) {
	end := start + int64(utf8.RuneLen(first))

	for {
		off, ch, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		if isSpace(ch) || ch == ',' || ch == '}' || ch == ']' {
			break
		}
		end = off + int64(utf8.RuneLen(ch))
	}

	return end, nil
}
