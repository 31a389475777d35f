// Package identifier defines the fixed-size identifiers and record layout
// shared by the radix splitter and the Bloom builder, and the path encoder
// that maps a byte prefix to a scratch filename (spec §3, §4.3).
package identifier

import (
	"encoding/hex"
	"fmt"
)

// Size is the width in bytes of both a node_id and a piece_id.
const Size = 32

// RecordSize is the on-disk width of one {node_id, piece_id} record.
const RecordSize = 2 * Size

// ID is a fixed-size opaque identifier. Equality is byte equality; there is
// no ordering beyond that.
type ID [Size]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Record is the packed on-disk tuple written by the input log and every
// scratch partition derived from it: node_id followed by piece_id, in that
// order.
type Record struct {
	NodeID  ID
	PieceID ID
}

// Encode writes the record into dst in its 64-byte wire layout. dst must be
// at least RecordSize bytes.
func (r Record) Encode(dst []byte) {
	copy(dst[0:Size], r.NodeID[:])
	copy(dst[Size:RecordSize], r.PieceID[:])
}

// DecodeRecord reads a record out of its 64-byte wire layout. src must be at
// least RecordSize bytes.
func DecodeRecord(src []byte) Record {
	var r Record
	copy(r.NodeID[:], src[0:Size])
	copy(r.PieceID[:], src[Size:RecordSize])
	return r
}

// Filename returns the scratch partition filename for a byte prefix: the
// lowercase hex encoding of prefix, followed by ".dat". The empty prefix
// encodes to ".dat", which is also the canonical input filename (spec §4.3).
func Filename(prefix []byte) string {
	return hex.EncodeToString(prefix) + ".dat"
}

// OutputFilename returns the filter filename for a node id: its 64-char
// lowercase hex encoding followed by ".dat" (spec §6).
func OutputFilename(node ID) string {
	return node.String() + ".dat"
}

// Prefix returns a copy of id's leading n bytes. It panics if n is out of
// range, matching the invariant that a prefix is always 0..32 bytes drawn
// from an actual identifier.
func (id ID) Prefix(n int) []byte {
	if n < 0 || n > Size {
		panic(fmt.Sprintf("identifier: prefix length %d out of range", n))
	}
	out := make([]byte, n)
	copy(out, id[:n])
	return out
}
