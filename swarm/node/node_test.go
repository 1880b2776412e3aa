package node

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"peerage/datamodel/gossipaddr"
	"peerage/datamodel/peer"
	"peerage/helper/clock"
	"peerage/nid"
	"peerage/swarm/peerlist"
)

// memIndex is an in-memory peer.Index for tests that do not need LevelDB.
type memIndex struct {
	entries map[nid.ID]*peer.Entry
	seq     uint64
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[nid.ID]*peer.Entry)}
}

func (m *memIndex) Get(id *nid.ID) (*peer.Metadata, error) {
	entry, ok := m.entries[*id]
	if !ok {
		return nil, fmt.Errorf("peer %s not found", id.String())
	}
	return entry.Metadata, nil
}

func (m *memIndex) Put(md *peer.Metadata) (*peer.Entry, error) {
	if existing, ok := m.entries[md.NodeID]; ok && peer.IsMetadataEqual(existing.Metadata, md) {
		existing.Metadata.LastSeen = md.LastSeen
		return existing, nil
	}
	m.seq++
	entry := &peer.Entry{SequenceNumber: m.seq, Metadata: md}
	m.entries[md.NodeID] = entry
	return entry, nil
}

func (m *memIndex) Enumerate() ([]*nid.ID, error) {
	var ids []*nid.ID
	for id := range m.entries {
		id := id
		ids = append(ids, &id)
	}
	return ids, nil
}

func (m *memIndex) EnumerateBySeq(from, to uint64) ([]*peer.Entry, error) {
	var entries []*peer.Entry
	for _, entry := range m.entries {
		if entry.SequenceNumber > from && entry.SequenceNumber <= to {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m *memIndex) GetSeq() uint64 {
	return m.seq
}

func testNode(t *testing.T) *Node {
	t.Helper()
	return &Node{
		NodeID:    nid.FromSeed([]byte("self")),
		PeerIndex: newMemIndex(),
		peers:     peerlist.New(3, time.Minute, clock.System{}),
		rng:       rand.New(rand.NewSource(42)),
	}
}

func TestRecordSyncOutcomePromotesOnSuccess(t *testing.T) {
	n := testNode(t)
	id := *nid.FromSeed([]byte("peer-1"))
	n.peers.RegisterPeer(id)

	n.recordSyncOutcome(id, nil)

	if q, _ := n.peers.Quality(id); q != peerlist.QualityUnreliable {
		t.Errorf("quality after one success = %v, want %v", q, peerlist.QualityUnreliable)
	}

	n.recordSyncOutcome(id, nil)

	if q, _ := n.peers.Quality(id); q != peerlist.QualityReliable {
		t.Errorf("quality after two successes = %v, want %v", q, peerlist.QualityReliable)
	}
}

func TestRecordSyncOutcomeDemotesOnTransportError(t *testing.T) {
	n := testNode(t)
	id := *nid.FromSeed([]byte("peer-1"))
	n.peers.RegisterPeer(id)
	n.recordSyncOutcome(id, nil)
	n.recordSyncOutcome(id, nil)

	n.recordSyncOutcome(id, fmt.Errorf("dial tcp: connection refused"))

	if q, _ := n.peers.Quality(id); q != peerlist.QualityUnreliable {
		t.Errorf("quality after transport error = %v, want %v", q, peerlist.QualityUnreliable)
	}
}

func TestRecordSyncOutcomeDisqualifiesOnViolation(t *testing.T) {
	n := testNode(t)
	id := *nid.FromSeed([]byte("peer-1"))
	n.peers.RegisterPeer(id)
	n.recordSyncOutcome(id, nil)
	n.recordSyncOutcome(id, nil)

	n.recordSyncOutcome(id, fmt.Errorf("%w: node identity mismatch", ErrProtocolViolation))

	if q, _ := n.peers.Quality(id); q != peerlist.QualityDishonest {
		t.Errorf("quality after protocol violation = %v, want %v", q, peerlist.QualityDishonest)
	}

	// A later success must not rehabilitate the peer.
	n.recordSyncOutcome(id, nil)

	if q, _ := n.peers.Quality(id); q != peerlist.QualityDishonest {
		t.Errorf("quality after post-violation success = %v, want %v", q, peerlist.QualityDishonest)
	}
}

func TestMergeLearnedPeerPreservesCheckpoint(t *testing.T) {
	n := testNode(t)
	id := *nid.FromSeed([]byte("peer-1"))
	addr := gossipaddr.MustParse("10.0.0.1:9000")

	// We already synced up to sequence 7 with this peer.
	if _, err := n.PeerIndex.Put(&peer.Metadata{
		NodeID:         id,
		Addresses:      []gossipaddr.Addr{addr},
		SequenceNumber: 7,
	}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// A record learned from another book carries that node's checkpoint,
	// which must not clobber ours.
	learned := &peer.Metadata{
		NodeID:         id,
		Addresses:      []gossipaddr.Addr{addr},
		SequenceNumber: 99,
		LastSeen:       time.Now(),
	}
	if err := n.mergeLearnedPeer(learned); err != nil {
		t.Fatalf("mergeLearnedPeer() failed: %v", err)
	}

	md, err := n.PeerIndex.Get(&id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if md.SequenceNumber != 7 {
		t.Errorf("stored checkpoint = %d, want 7", md.SequenceNumber)
	}

	if _, known := n.peers.Quality(id); !known {
		t.Errorf("learned peer was not registered as a selection candidate")
	}
}

func TestMergeLearnedPeerSkipsSelf(t *testing.T) {
	n := testNode(t)

	learned := &peer.Metadata{
		NodeID:    *n.NodeID,
		Addresses: []gossipaddr.Addr{gossipaddr.MustParse("10.0.0.1:9000")},
	}
	if err := n.mergeLearnedPeer(learned); err != nil {
		t.Fatalf("mergeLearnedPeer() failed: %v", err)
	}

	if n.peers.Len() != 0 {
		t.Errorf("own record was registered as a peer")
	}
}
