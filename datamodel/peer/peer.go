package peer

import (
	"reflect"
	"time"

	"peerage/datamodel/gossipaddr"
	"peerage/nid"
)

type Metadata struct {
	NodeID         nid.ID            `cbor:"1,keyasint,omitempty"` // Peer identifier
	Addresses      []gossipaddr.Addr `cbor:"2,keyasint,omitempty"` // Peer RPC addresses
	SequenceNumber uint64            `cbor:"3,keyasint,omitempty"` // Address book sequence we last synched with this peer
	LastSeen       time.Time         `cbor:"4,keyasint,omitempty"` // Last time we heard from this peer
}

// Entry is a Metadata record stamped with the local address book sequence
// number under which it was stored. Entries are the unit of peer sync.
type Entry struct {
	SequenceNumber uint64    `cbor:"1,keyasint"`
	Metadata       *Metadata `cbor:"2,keyasint"`
}

// Index is the persistent address book of known peers.
type Index interface {
	// Get retrieves the metadata for a peer given its ID.
	Get(*nid.ID) (*Metadata, error)

	// Put stores or updates a peer's metadata. A changed record is assigned
	// a fresh sequence number; an unchanged record keeps its old one.
	Put(*Metadata) (*Entry, error)

	// Enumerate returns the IDs of all peers currently in the index.
	Enumerate() ([]*nid.ID, error)

	// EnumerateBySeq returns entries stored under sequence numbers in (from, to].
	EnumerateBySeq(from, to uint64) ([]*Entry, error)

	// GetSeq returns the highest sequence number assigned so far.
	GetSeq() uint64
}

// IsMetadataEqual compares the durable fields of two records. LastSeen is
// liveness bookkeeping, not content; a record whose only difference is
// LastSeen counts as unchanged.
func IsMetadataEqual(a *Metadata, b *Metadata) bool {
	if a == nil || b == nil {
		return a == b
	}
	ac, bc := *a, *b
	ac.LastSeen, bc.LastSeen = time.Time{}, time.Time{}
	return reflect.DeepEqual(ac, bc)
}
