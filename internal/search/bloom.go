// Package search implements the Distributed Search Router: a local
// Bloom filter over catalog terms, periodic filter exchange with
// online peers, and query routing that fans a search out only to peers
// whose advertised filter could plausibly contain every query term.
package search

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"
)

// Bloom filter sizing, spec.md §4.6: parameterised for 100,000 terms at
// a 1% false-positive rate.
const (
	expectedTerms          = 100_000
	falsePositiveRate      = 0.01
	FilterRebuildDelta     = 100
	FilterExchangeInterval = 15 * time.Minute
)

var (
	filterBits   = optimalBits(expectedTerms, falsePositiveRate)
	filterHashes = optimalHashes(filterBits, expectedTerms)
)

func optimalBits(n int, p float64) uint {
	m := math.Ceil(-(float64(n) * math.Log(p)) / (math.Ln2 * math.Ln2))
	return uint(m)
}

func optimalHashes(m uint, n int) uint {
	k := math.Round((float64(m) / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint(k)
}

// Filter is an immutable Bloom filter over a fixed set of lowercased,
// tokenized catalog terms. Immutable so a Router can publish a new
// Filter atomically without any reader ever observing a half-built one.
type Filter struct {
	bits   *bitset.BitSet
	hashes uint
}

// NewFilter builds an empty filter sized per spec.md §4.6.
func NewFilter() *Filter {
	return &Filter{bits: bitset.New(filterBits), hashes: filterHashes}
}

// BuildFilter tokenizes and inserts every term derived from the given
// title/artist/album triples, per the same normalisation Tokenize uses
// for query terms.
func BuildFilter(corpus [][3]string) *Filter {
	f := NewFilter()
	for _, row := range corpus {
		for _, field := range row {
			for _, term := range Tokenize(field) {
				f.add(term)
			}
		}
	}
	return f
}

// locations computes the k bit positions for term via Kirsch-Mitzenmacher
// double hashing: two independent 64-bit murmur3 hashes combined as
// h1 + i*h2, avoiding k separate hash function evaluations per term.
func (f *Filter) locations(term string) []uint {
	h1, h2 := murmur3.Sum128([]byte(term))
	locs := make([]uint, f.hashes)
	for i := uint(0); i < f.hashes; i++ {
		locs[i] = uint((h1 + i*h2) % uint64(f.bits.Len()))
	}
	return locs
}

func (f *Filter) add(term string) {
	for _, loc := range f.locations(term) {
		f.bits.Set(loc)
	}
}

// ContainsAll reports whether the filter could contain every term in
// terms — a bitwise membership test for each token against every hash,
// per spec.md §4.6's query-routing rule. False positives are possible;
// false negatives are not.
func (f *Filter) ContainsAll(terms []string) bool {
	for _, term := range terms {
		for _, loc := range f.locations(term) {
			if !f.bits.Test(loc) {
				return false
			}
		}
	}
	return true
}

// MarshalBinary serialises the filter's bitset for BloomFilterExchange.
func (f *Filter) MarshalBinary() ([]byte, error) {
	return f.bits.MarshalBinary()
}

// HashCount returns the filter's hash-function count, carried alongside
// the bits on the wire so a receiver can reconstruct locations().
func (f *Filter) HashCount() int { return int(f.hashes) }

// DecodeFilter reconstructs a Filter received over the wire.
func DecodeFilter(bits []byte, hashCount int) (*Filter, error) {
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(bits); err != nil {
		return nil, err
	}
	return &Filter{bits: bs, hashes: uint(hashCount)}, nil
}

// atomicFilter is an atomic.Pointer[Filter]-shaped holder kept as a
// named type so Router's field declaration reads cleanly.
type atomicFilter struct {
	p atomic.Pointer[Filter]
}

func (a *atomicFilter) Load() *Filter   { return a.p.Load() }
func (a *atomicFilter) Store(f *Filter) { a.p.Store(f) }
