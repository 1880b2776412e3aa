package leveldb

import (
	"peerage/datamodel/peer"
	"peerage/nid"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPeer = "PER" // Peer metadata indexed by ID. Followed by the textual ID representation
	keyPrefixSeq  = "SEQ" // Peer entry indexed by local sequence number. Followed by a 16-digit hexadecimal number (64 bit)
)

var _ peer.Index = (*PeerIndex)(nil)

// PeerIndex is the persistent address book. Every changed record is stamped
// with a fresh local sequence number so other nodes can pull the book
// incrementally by sequence.
type PeerIndex struct {
	store
	seq uint64
}

func NewPeerIndex(path string) (*PeerIndex, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Scan the database to recover the last assigned sequence number
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixSeq)), nil)
	defer iter.Release()

	var maxSeq uint64 = 0
	if iter.Last() {
		seq, err := seqFromKey(iter.Key())
		if err != nil {
			return nil, err
		}
		maxSeq = seq
	}

	return &PeerIndex{
		store: store{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
	}, nil
}

func (l *PeerIndex) Get(id *nid.ID) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromID(id), nil)
	if err != nil {
		return nil, err
	}

	entry := &peer.Entry{}
	if err := cbor.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	if entry.Metadata == nil {
		return nil, ErrCorrupted
	}

	// Compare the ID just in case
	if entry.Metadata.NodeID != *id {
		log.Errorf("Get: NodeID mismatch: %s != %s", id.String(), entry.Metadata.NodeID.String())
		return nil, ErrCorrupted
	}

	return entry.Metadata, nil
}

func (l *PeerIndex) Put(metadata *peer.Metadata) (*peer.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := &metadata.NodeID

	// Fetch the existing record to detect unchanged puts
	raw, err := l.db.Get(keyFromID(id), nil)
	if err != nil && err != errors.ErrNotFound {
		return nil, err
	}

	var existing *peer.Entry
	if err == nil {
		existing = &peer.Entry{}
		if cbor.Unmarshal(raw, existing) != nil {
			existing = nil
		}
	}

	// Announcements bump LastSeen every interval. That alone is not a change
	// worth re-gossiping: refresh the record in place under its old sequence.
	if existing != nil && peer.IsMetadataEqual(existing.Metadata, metadata) {
		log.Debugf("Put: metadata for peer %s is unchanged, refreshing in place", id.String())
		existing.Metadata.LastSeen = metadata.LastSeen
		raw, err = cbor.Marshal(existing)
		if err != nil {
			return nil, err
		}
		if err := l.db.Put(keyFromID(id), raw, nil); err != nil {
			return nil, err
		}
		return existing, nil
	}

	newSeq := l.seq + 1

	entry := &peer.Entry{
		SequenceNumber: newSeq,
		Metadata:       metadata,
	}

	raw, err = cbor.Marshal(entry)
	if err != nil {
		return nil, err
	}

	// Insert ID -> Entry and Seq -> Entry atomically, dropping the
	// superseded sequence key so the index holds one live entry per peer.
	batch := new(leveldb.Batch)
	batch.Put(keyFromID(id), raw)
	batch.Put(keyFromSeq(newSeq), raw)
	if existing != nil {
		batch.Delete(keyFromSeq(existing.SequenceNumber))
	}

	if err := l.db.Write(batch, nil); err != nil {
		return nil, err
	}

	l.seq = newSeq

	return entry, nil
}

func (l *PeerIndex) Enumerate() ([]*nid.ID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*nid.ID

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	defer iter.Release()

	for iter.Next() {
		entry := &peer.Entry{}
		if err := cbor.Unmarshal(iter.Value(), entry); err != nil {
			return nil, err
		}
		results = append(results, &entry.Metadata.NodeID)
	}

	return results, iter.Error()
}

// EnumerateBySeq returns entries stored under sequence numbers in (from, to].
// Each peer holds at most one sequence key, so the result carries no
// superseded duplicates.
func (l *PeerIndex) EnumerateBySeq(from, to uint64) ([]*peer.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*peer.Entry

	r := &util.Range{Start: keyFromSeq(from + 1), Limit: keyFromSeq(to + 1)}
	iter := l.db.NewIterator(r, nil)
	defer iter.Release()

	for iter.Next() {
		entry := &peer.Entry{}
		if err := cbor.Unmarshal(iter.Value(), entry); err != nil {
			return nil, err
		}
		results = append(results, entry)
	}

	return results, iter.Error()
}

func (l *PeerIndex) GetSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
