// Package bloomfilter implements the Bloom Builder component (spec §4.2):
// given the piece ids belonging to a single node, it derives a filter size
// from the record count and computes a bit-exact multi-hash bitmap.
//
// The hash scheme is mandated by the spec down to the constants, so it is
// not delegated to a general-purpose Bloom filter library (those own their
// hash seeds and word layout); the underlying bit storage is, however,
// `github.com/bits-and-blooms/bitset`, already a dependency of the teacher
// this repository descends from.
package bloomfilter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// targetFalsePositiveRate is p in the spec's sizing formula. The constant
// and the -1.44 and ln2 multipliers below must be reproduced verbatim to
// match the reference filter format (spec §4.2).
const targetFalsePositiveRate = 0.1

// filterRange is the stride, in bytes, the hash walk advances through the
// cyclic 64-byte buffer between hashes.
const filterRange = 9

// maxHashCount bounds hash_count regardless of how bitsPerElement computes,
// per spec §4.2.
const maxHashCount = 32

// BitsPerElement is -1.44*log2(p) for the target false-positive rate.
func BitsPerElement() float64 {
	return -1.44 * math.Log2(targetFalsePositiveRate)
}

// HashCount is min(32, ceil(bitsPerElement*ln2)).
func HashCount() int {
	k := int(math.Ceil(BitsPerElement() * math.Ln2))
	if k > maxHashCount {
		k = maxHashCount
	}
	return k
}

// Size returns the bitmap size in bytes for a partition holding n records.
// n must be at least 1; a zero-record partition reaching the Bloom Builder
// is an invariant violation (spec §7).
func Size(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("bloomfilter: partition has %d records, need at least 1", n)
	}
	m := int(math.Ceil(float64(n) * BitsPerElement() / 8))
	if m < 1 {
		return 0, fmt.Errorf("bloomfilter: computed filter size %d bytes, need at least 1", m)
	}
	return m, nil
}

// Filter is a single node's Bloom filter under construction.
type Filter struct {
	mBytes int
	bits   *bitset.BitSet
}

// New allocates a filter sized for n records.
func New(n int) (*Filter, error) {
	m, err := Size(n)
	if err != nil {
		return nil, err
	}
	return &Filter{
		mBytes: m,
		bits:   bitset.New(uint(m * 8)),
	}, nil
}

// Add hashes one piece id into the filter using the cyclic-buffer walk
// described in spec §4.2: the 32-byte piece id is doubled into a 64-byte
// buffer, and hash_count 8-byte little-endian words are read at a stride
// of 9 bytes, wrapping modulo 32.
func (f *Filter) Add(pieceID [32]byte) {
	var doubled [64]byte
	copy(doubled[:32], pieceID[:])
	copy(doubled[32:], pieceID[:])

	offset := 0
	for h := 0; h < HashCount(); h++ {
		hashVal := binary.LittleEndian.Uint64(doubled[offset : offset+8])
		bitByte := doubled[offset+8]

		bucket := int(hashVal % uint64(f.mBytes))
		bitIndex := uint(bucket*8) + uint(bitByte%8)
		f.bits.Set(bitIndex)

		offset = (offset + filterRange) % 32
	}
}

// Test reports whether pieceID's four hash positions are all set. It is
// used by tests and operator tooling to check the "idempotent membership"
// invariant (spec §8); it is never consulted by the builder itself.
func (f *Filter) Test(pieceID [32]byte) bool {
	var doubled [64]byte
	copy(doubled[:32], pieceID[:])
	copy(doubled[32:], pieceID[:])

	offset := 0
	for h := 0; h < HashCount(); h++ {
		hashVal := binary.LittleEndian.Uint64(doubled[offset : offset+8])
		bitByte := doubled[offset+8]

		bucket := int(hashVal % uint64(f.mBytes))
		bitIndex := uint(bucket*8) + uint(bitByte%8)
		if !f.bits.Test(bitIndex) {
			return false
		}

		offset = (offset + filterRange) % 32
	}
	return true
}

// Bytes materializes the filter as its raw m_bytes bitmap, byte b holding
// bits 8b..8b+7 with bit 0 as the low bit, matching the spec's byte/bit
// addressing exactly (spec §4.2, §6: no header, no trailing metadata).
func (f *Filter) Bytes() []byte {
	out := make([]byte, f.mBytes)
	for b := 0; b < f.mBytes; b++ {
		var v byte
		for bit := 0; bit < 8; bit++ {
			if f.bits.Test(uint(b*8 + bit)) {
				v |= 1 << uint(bit)
			}
		}
		out[b] = v
	}
	return out
}

// Size returns the bitmap length in bytes.
func (f *Filter) Size() int {
	return f.mBytes
}
