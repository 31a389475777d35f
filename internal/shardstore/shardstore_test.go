package shardstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/storj-tools/nodebloom/internal/identifier"
)

func setupShardStoreTest(t *testing.T, opts ...StoreOption) (st *Store, dir string, cleanup func()) {
	dir = t.TempDir()

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	return New(nil, opts...), dir, func() {
		_ = os.Chdir(cwd)
	}
}

func makeRecord(nodeByte, pieceByte byte) identifier.Record {
	var r identifier.Record
	r.NodeID[0] = nodeByte
	r.PieceID[0] = pieceByte
	return r
}

func TestAppendRoutesByFirstPrefixByte(t *testing.T) {
	st, dir, cleanup := setupShardStoreTest(t)
	defer cleanup()

	if err := st.Append(makeRecord(0x00, 1)); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(makeRecord(0xff, 2)); err != nil {
		t.Fatal(err)
	}

	results, err := st.CloseAll()
	if err != nil {
		t.Fatal(err)
	}

	if results[0x00].Empty || results[0x00].Records != 1 {
		t.Fatalf("expected shard 0x00 to hold 1 record, got %+v", results[0x00])
	}
	if results[0xff].Empty || results[0xff].Records != 1 {
		t.Fatalf("expected shard 0xff to hold 1 record, got %+v", results[0xff])
	}
	for idx := 1; idx < 0xff; idx++ {
		if !results[idx].Empty {
			t.Fatalf("expected shard %#x to be empty, got %+v", idx, results[idx])
		}
	}

	if _, err := os.Stat(filepath.Join(dir, identifier.Filename([]byte{0x00}))); err != nil {
		t.Fatal(err)
	}
}

func TestManyNodesFlagLatchesOnFirstMismatch(t *testing.T) {
	st, _, cleanup := setupShardStoreTest(t)
	defer cleanup()

	a := makeRecord(0x01, 1)
	b := makeRecord(0x01, 2)
	b.NodeID[5] = 0x42 // differs from a's node id

	for _, rec := range []identifier.Record{a, b, a} {
		if err := st.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	results, err := st.CloseAll()
	if err != nil {
		t.Fatal(err)
	}

	if !results[0x01].ManyNodes {
		t.Fatal("expected many_nodes to remain set after a repeated first node id")
	}
	if results[0x01].Records != 3 {
		t.Fatalf("expected 3 records, got %d", results[0x01].Records)
	}
}

func TestSingleNodeShardLeavesManyNodesFalse(t *testing.T) {
	st, _, cleanup := setupShardStoreTest(t)
	defer cleanup()

	rec := makeRecord(0x02, 1)
	for i := 0; i < 3; i++ {
		if err := st.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	results, err := st.CloseAll()
	if err != nil {
		t.Fatal(err)
	}

	if results[0x02].ManyNodes {
		t.Fatal("expected many_nodes false for a single-node shard")
	}
}

func TestFlushAtBatchThreshold(t *testing.T) {
	st, _, cleanup := setupShardStoreTest(t, WithBatchSize(2))
	defer cleanup()

	rec := makeRecord(0x03, 1)
	for i := 0; i < 5; i++ {
		if err := st.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	shard := st.shardFor(0x03)
	shard.mu.Lock()
	staged := len(shard.staged)
	shard.mu.Unlock()

	if staged >= 2*identifier.RecordSize {
		t.Fatalf("expected a flush to have drained staged records, got %d bytes staged", staged)
	}

	results, err := st.CloseAll()
	if err != nil {
		t.Fatal(err)
	}
	if results[0x03].Records != 5 {
		t.Fatalf("expected 5 records total, got %d", results[0x03].Records)
	}
}
