package node

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"peerage/datamodel/peer"
	"peerage/swarm/protocol"
)

type PubSub struct {
	node *Node
}

func (s *PubSub) PeerAnnouncement(msg *protocol.PeerAnnouncementMessage) {
	// Our own announcements come back over multicast.
	if msg.NodeID == *s.node.NodeID {
		return
	}

	log.Debugf("PeerAnnouncement: node: %s, addresses: %v, seq: %d", msg.NodeID.String(), msg.Addresses, msg.SequenceNumber)

	// The stored SequenceNumber is our sync checkpoint for the peer, not the
	// announced book size; keep the checkpoint when refreshing the record.
	stored := &peer.Metadata{
		NodeID:    msg.NodeID,
		Addresses: msg.Addresses,
		LastSeen:  time.Now(),
	}
	if existing, err := s.node.PeerIndex.Get(&msg.NodeID); err == nil {
		stored.SequenceNumber = existing.SequenceNumber
	}

	if _, err := s.node.PeerIndex.Put(stored); err != nil {
		log.Errorf("Failed to store peer metadata: %v", err)
		return
	}

	s.node.mu.Lock()
	s.node.peers.RegisterPeer(msg.NodeID)
	s.node.mu.Unlock()

	// An announcement ahead of our checkpoint means the peer's book has
	// entries we have not pulled yet.
	if msg.SequenceNumber > stored.SequenceNumber {
		go s.node.syncWithPeer(context.Background(), msg.NodeID)
	}
}
