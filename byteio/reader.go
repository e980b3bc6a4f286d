// Package byteio provides a random-access, bidirectional, UTF-8-aware byte
// reader over anything that supports ReadAt, with a reusable internal
// buffer. It underlies jsonscan's element scanner and store's tail scan for
// locating the data file's append position.
//
// Reader is a pull iterator, not a channel-based generator: each call to
// Next produces exactly one (offset, rune) pair and only then advances
// internal state, so a consumer that stops calling Next mid-stream leaves
// the reader positioned to re-offer the same next pair on a later call —
// nothing is ever produced and discarded internally.
package byteio

import (
	"io"
	"unicode/utf8"
)

// Source is anything byteio can read fixed-size windows from at an
// arbitrary offset, plus report its total size. *vfile.File satisfies this.
type Source interface {
	ReadAt(buf []byte, pos int64) (int, error)
	Size() (int64, error)
}

// DefaultBufferSize is used when New is given a nil buffer.
const DefaultBufferSize = 4096

// Reader streams (byteOffset, rune) pairs forward or backward over a Source.
type Reader struct {
	src     Source
	reverse bool
	size    int64

	// pos is, in forward mode, the offset of the next byte to decode; in
	// reverse mode, the exclusive end of the next rune to decode.
	pos int64

	window   []byte
	winStart int64
	winLen   int
}

// New creates a Reader starting at position (negative counts back from
// EOF). buffer, if non-nil, is reused as the read window; it must be at
// least utf8.UTFMax bytes or a default-sized buffer is substituted.
func New(src Source, position int64, reverse bool, buffer []byte) (*Reader, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	pos := position
	if pos < 0 {
		pos += size
		if pos < 0 {
			pos = 0
		}
	}
	if reverse {
		// position names the first byte to yield; reverse mode tracks the
		// exclusive end of the next rune, one past it.
		pos++
		if pos > size {
			pos = size
		}
	}

	if len(buffer) < utf8.UTFMax {
		buffer = make([]byte, DefaultBufferSize)
	}

	return &Reader{
		src:      src,
		reverse:  reverse,
		size:     size,
		pos:      pos,
		window:   buffer,
		winStart: -1,
	}, nil
}

// Next returns the next (offset, rune) pair in the configured direction, or
// ok=false when the stream is exhausted (start of file in reverse, EOF in
// forward). Calling Next again after ok=false continues to return ok=false.
func (r *Reader) Next() (offset int64, ch rune, ok bool, err error) {
	if r.reverse {
		return r.nextReverse()
	}
	return r.nextForward()
}

func (r *Reader) nextForward() (int64, rune, bool, error) {
	if r.pos >= r.size {
		return 0, 0, false, nil
	}

	if r.pos < r.winStart || r.pos >= r.winStart+int64(r.winLen) {
		if err := r.refillForward(r.pos); err != nil {
			return 0, 0, false, err
		}
	}

	off := int(r.pos - r.winStart)
	chunk := r.window[off:r.winLen]
	if !utf8.FullRune(chunk) && r.winStart+int64(r.winLen) < r.size {
		if err := r.refillForward(r.pos); err != nil {
			return 0, 0, false, err
		}
		chunk = r.window[:r.winLen]
	}

	ch, size := utf8.DecodeRune(chunk)
	offset := r.pos
	r.pos += int64(size)
	return offset, ch, true, nil
}

func (r *Reader) refillForward(pos int64) error {
	n, err := r.src.ReadAt(r.window, pos)
	if err != nil && err != io.EOF {
		return err
	}
	r.winStart = pos
	r.winLen = n
	return nil
}

func (r *Reader) nextReverse() (int64, rune, bool, error) {
	if r.pos <= 0 {
		return 0, 0, false, nil
	}
	end := r.pos

	if !r.reverseWindowCovers(end) {
		if err := r.refillReverse(end); err != nil {
			return 0, 0, false, err
		}
	}

	start := end - 1
	limit := end - int64(utf8.UTFMax)
	if limit < r.winStart {
		limit = r.winStart
	}
	for start > limit && isContinuation(r.byteAt(start)) {
		start--
	}

	chunk := r.sliceBetween(start, end)
	ch, size := utf8.DecodeRune(chunk)
	if size != len(chunk) {
		// Scan landed on something that doesn't decode as one clean rune
		// (malformed input); fall back to treating the single preceding
		// byte as the unit, matching utf8.DecodeRune's own error behavior.
		start = end - 1
		chunk = r.sliceBetween(start, end)
		ch, _ = utf8.DecodeRune(chunk)
	}

	r.pos = start
	return start, ch, true, nil
}

func (r *Reader) reverseWindowCovers(end int64) bool {
	if r.winStart < 0 || end < r.winStart || end > r.winStart+int64(r.winLen) {
		return false
	}
	haveMargin := end-r.winStart >= int64(utf8.UTFMax) || r.winStart == 0
	return haveMargin
}

func (r *Reader) refillReverse(end int64) error {
	length := int64(len(r.window))
	start := end - length
	if start < 0 {
		start = 0
	}
	n, err := r.src.ReadAt(r.window[:end-start], start)
	if err != nil && err != io.EOF {
		return err
	}
	r.winStart = start
	r.winLen = n
	return nil
}

func (r *Reader) byteAt(pos int64) byte {
	return r.window[pos-r.winStart]
}

func (r *Reader) sliceBetween(start, end int64) []byte {
	return r.window[start-r.winStart : end-r.winStart]
}

func isContinuation(b byte) bool {
	return b&0xC0 == 0x80
}
