package leveldb

import (
	"testing"
	"time"

	"peerage/datamodel/gossipaddr"
	"peerage/datamodel/peer"
	"peerage/nid"
)

func testMetadata(seed string, addr string) *peer.Metadata {
	return &peer.Metadata{
		NodeID:    *nid.FromSeed([]byte(seed)),
		Addresses: []gossipaddr.Addr{gossipaddr.MustParse(addr)},
		LastSeen:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	idx, err := NewPeerIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	md := testMetadata("peer-a", "10.0.0.1:5001")
	entry, err := idx.Put(md)
	if err != nil {
		t.Fatal(err)
	}
	if entry.SequenceNumber != 1 {
		t.Fatalf("first put must get sequence 1, got %d", entry.SequenceNumber)
	}

	got, err := idx.Get(&md.NodeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NodeID != md.NodeID {
		t.Fatalf("NodeID mismatch: %s != %s", md.NodeID.String(), got.NodeID.String())
	}
	if len(got.Addresses) != 1 || !got.Addresses[0].Equal(md.Addresses[0]) {
		t.Fatalf("addresses mismatch: %v != %v", md.Addresses, got.Addresses)
	}
	if !got.LastSeen.Equal(md.LastSeen) {
		t.Fatalf("LastSeen mismatch: %v != %v", md.LastSeen, got.LastSeen)
	}
}

func TestUnchangedPutKeepsSequence(t *testing.T) {
	idx, err := NewPeerIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	md := testMetadata("peer-a", "10.0.0.1:5001")
	if _, err := idx.Put(md); err != nil {
		t.Fatal(err)
	}
	entry, err := idx.Put(md)
	if err != nil {
		t.Fatal(err)
	}

	if entry.SequenceNumber != 1 {
		t.Fatalf("unchanged put must keep its sequence, got %d", entry.SequenceNumber)
	}
	if idx.GetSeq() != 1 {
		t.Fatalf("unchanged put must not advance the index sequence, got %d", idx.GetSeq())
	}
}

func TestLastSeenRefreshKeepsSequence(t *testing.T) {
	idx, err := NewPeerIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	md := testMetadata("peer-a", "10.0.0.1:5001")
	if _, err := idx.Put(md); err != nil {
		t.Fatal(err)
	}

	// Same record, fresher LastSeen. This is what every periodic
	// announcement from a live peer looks like.
	md2 := testMetadata("peer-a", "10.0.0.1:5001")
	md2.LastSeen = md.LastSeen.Add(30 * time.Second)
	entry, err := idx.Put(md2)
	if err != nil {
		t.Fatal(err)
	}

	if entry.SequenceNumber != 1 {
		t.Fatalf("LastSeen refresh must keep its sequence, got %d", entry.SequenceNumber)
	}
	if idx.GetSeq() != 1 {
		t.Fatalf("LastSeen refresh must not advance the index sequence, got %d", idx.GetSeq())
	}

	got, err := idx.Get(&md.NodeID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastSeen.Equal(md2.LastSeen) {
		t.Fatalf("refreshed LastSeen was not stored: %v != %v", got.LastSeen, md2.LastSeen)
	}
}

func TestChangedPutAdvancesSequence(t *testing.T) {
	idx, err := NewPeerIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	md := testMetadata("peer-a", "10.0.0.1:5001")
	if _, err := idx.Put(md); err != nil {
		t.Fatal(err)
	}

	md2 := testMetadata("peer-a", "10.0.0.9:5001")
	entry, err := idx.Put(md2)
	if err != nil {
		t.Fatal(err)
	}
	if entry.SequenceNumber != 2 {
		t.Fatalf("changed put must get a fresh sequence, got %d", entry.SequenceNumber)
	}

	// The superseded record must not linger in the sequence index.
	entries, err := idx.EnumerateBySeq(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single live entry, got %d", len(entries))
	}
	if entries[0].SequenceNumber != 2 || !entries[0].Metadata.Addresses[0].Equal(md2.Addresses[0]) {
		t.Fatalf("stale entry served: seq %d, addr %v", entries[0].SequenceNumber, entries[0].Metadata.Addresses)
	}
}

func TestEnumerateBySeq(t *testing.T) {
	idx, err := NewPeerIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	for i, seed := range []string{"peer-a", "peer-b", "peer-c"} {
		if _, err := idx.Put(testMetadata(seed, "10.0.0.1:5001")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	entries, err := idx.EnumerateBySeq(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected entries (1,3], got %d entries", len(entries))
	}
	if entries[0].SequenceNumber != 2 || entries[1].SequenceNumber != 3 {
		t.Fatalf("unexpected sequences: %d, %d", entries[0].SequenceNumber, entries[1].SequenceNumber)
	}

	ids, err := idx.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(ids))
	}
}

func TestSequenceRecoveredOnReopen(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewPeerIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Put(testMetadata("peer-a", "10.0.0.1:5001")); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Put(testMetadata("peer-b", "10.0.0.2:5001")); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := NewPeerIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()

	if idx2.GetSeq() != 2 {
		t.Fatalf("expected recovered sequence 2, got %d", idx2.GetSeq())
	}
}
