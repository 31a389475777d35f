package bloomfilter

import (
	"bytes"
	"testing"
)

func TestHashCountIsFour(t *testing.T) {
	if got := HashCount(); got != 4 {
		t.Fatalf("expected hash_count 4 for p=0.1, got %d", got)
	}
}

func TestSizeSingleRecordIsOneByte(t *testing.T) {
	m, err := Size(1)
	if err != nil {
		t.Fatal(err)
	}
	if m != 1 {
		t.Fatalf("expected 1 byte for n=1, got %d", m)
	}
}

func TestSizeOneThousandRecordsIs599Bytes(t *testing.T) {
	m, err := Size(1000)
	if err != nil {
		t.Fatal(err)
	}
	if m != 599 {
		t.Fatalf("expected 599 bytes for n=1000 (S2), got %d", m)
	}
}

func TestSizeRejectsZeroRecords(t *testing.T) {
	if _, err := Size(0); err == nil {
		t.Fatal("expected error for zero-record partition")
	}
}

// TestS1AllZeroPieceID reproduces spec scenario S1's first filter:
// piece = 0x00...00 hashes all four times to bucket 0, bit 0.
func TestS1AllZeroPieceID(t *testing.T) {
	f, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	var piece [32]byte
	f.Add(piece)

	got := f.Bytes()
	want := []byte{0x01}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

// TestS1AllOnesPieceID reproduces spec scenario S1's second filter: piece =
// 0xff...ff hashes all four times to bucket 0, bit 7 (0xff mod 8 == 7).
func TestS1AllOnesPieceID(t *testing.T) {
	f, err := New(1)
	if err != nil {
		t.Fatal(err)
	}

	var piece [32]byte
	for i := range piece {
		piece[i] = 0xff
	}
	f.Add(piece)

	got := f.Bytes()
	want := []byte{0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestAddedPiecesTestPositive(t *testing.T) {
	f, err := New(100)
	if err != nil {
		t.Fatal(err)
	}

	pieces := make([][32]byte, 100)
	for i := range pieces {
		pieces[i][0] = byte(i)
		pieces[i][1] = byte(i >> 8)
		f.Add(pieces[i])
	}

	for i, p := range pieces {
		if !f.Test(p) {
			t.Fatalf("piece %d: expected membership, got false negative", i)
		}
	}
}

func TestBytesDeterministic(t *testing.T) {
	build := func() []byte {
		f, err := New(50)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 50; i++ {
			var p [32]byte
			p[0] = byte(i)
			f.Add(p)
		}
		return f.Bytes()
	}

	a := build()
	b := build()
	if !bytes.Equal(a, b) {
		t.Fatal("two runs over identical input produced different filter bytes")
	}
}
