// Package bloom provides a per-field Bloom filter that accelerates
// equality lookups against index's skip list. A negative answer proves the
// value cannot be present and lets an equality find skip the skip-list
// descent entirely; a positive answer (including false positives) falls
// through to the skip list, which remains the sole source of truth.
package bloom

import (
	"encoding/base64"
	"hash"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a fixed-size bitset bloom filter seeded by murmur3.
type Filter struct {
	bitset  []bool
	hashFns []hash.Hash32
}

// New sizes a filter for n expected values at false-positive rate p.
func New(n int, p float64) *Filter {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}

	m := int(math.Ceil(-float64(n) * math.Log(p) / math.Pow(math.Log(2), 2)))
	if m < 8 {
		m = 8
	}
	// Whole bytes only, so Decode rebuilds a bitset of exactly this length.
	m = (m + 7) / 8 * 8
	k := int(math.Round((float64(m) / float64(n)) * math.Log(2)))
	if k < 1 {
		k = 1
	}

	hashFns := make([]hash.Hash32, k)
	for i := 0; i < k; i++ {
		hashFns[i] = murmur3.New32WithSeed(uint32(i))
	}

	return &Filter{bitset: make([]bool, m), hashFns: hashFns}
}

// Add records key as present.
func (f *Filter) Add(key string) {
	for _, fn := range f.hashFns {
		fn.Reset()
		_, _ = fn.Write([]byte(key))
		f.bitset[int(fn.Sum32())%len(f.bitset)] = true
	}
}

// MayContain reports whether key could be present. false is authoritative;
// true may be a false positive.
func (f *Filter) MayContain(key string) bool {
	for _, fn := range f.hashFns {
		fn.Reset()
		_, _ = fn.Write([]byte(key))
		if !f.bitset[int(fn.Sum32())%len(f.bitset)] {
			return false
		}
	}
	return true
}

// Encode serializes the filter's bitset as a base64 string, suitable for
// embedding as the value of a field-header sibling entry in the index file.
func (f *Filter) Encode() string {
	buf := make([]byte, (len(f.bitset)+7)/8)
	for i, b := range f.bitset {
		if b {
			buf[i/8] |= 1 << (i % 8)
		}
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode reconstructs a filter from a string produced by Encode. The
// filter's hash functions are rebuilt for k seeds, matching New's scheme.
func Decode(encoded string, k int) (*Filter, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	bitset := make([]bool, len(data)*8)
	for i := range bitset {
		if data[i/8]&(1<<(i%8)) != 0 {
			bitset[i] = true
		}
	}
	hashFns := make([]hash.Hash32, k)
	for i := 0; i < k; i++ {
		hashFns[i] = murmur3.New32WithSeed(uint32(i))
	}
	return &Filter{bitset: bitset, hashFns: hashFns}, nil
}

// K reports the number of hash functions in use, needed by callers that
// persist a filter alongside its k for later Decode calls.
func (f *Filter) K() int { return len(f.hashFns) }
