// Package protocol defines the wire messages exchanged between nodes.
// Messages are CBOR-encoded with integer keys.
package protocol

import (
	"peerage/datamodel/gossipaddr"
	"peerage/datamodel/peer"
	"peerage/nid"
)

// PeerAnnouncementMessage is broadcast to the multicast group. It advertises
// the sender's RPC addresses and the head of its address book.
type PeerAnnouncementMessage struct {
	NodeID         nid.ID            `cbor:"1,keyasint,omitempty"` // Announcing node
	Addresses      []gossipaddr.Addr `cbor:"2,keyasint,omitempty"` // Node RPC addresses
	SequenceNumber uint64            `cbor:"3,keyasint,omitempty"` // Local address book sequence number
}

type PeerSyncRequest struct {
	NodeID         nid.ID `cbor:"1,keyasint,omitempty"` // Requesting node
	SequenceNumber uint64 `cbor:"2,keyasint,omitempty"` // Return entries stored after this sequence number
	BatchSize      uint64 `cbor:"3,keyasint,omitempty"` // Batch size
}

type PeerSyncResponse struct {
	NodeID  nid.ID        `cbor:"1,keyasint,omitempty"` // Responding node
	Entries []*peer.Entry `cbor:"2,keyasint,omitempty"`
}

type PeerReportRequest struct {
	FlushDishonest bool `cbor:"1,keyasint,omitempty"` // Drop disqualified peers after reporting
}

type PeerReportResponse struct {
	NodeID     nid.ID   `cbor:"1,keyasint,omitempty"` // Responding node
	KnownPeers uint64   `cbor:"2,keyasint,omitempty"` // Number of tracked peers
	Dishonest  []nid.ID `cbor:"3,keyasint,omitempty"` // Peers disqualified for protocol violations
}
