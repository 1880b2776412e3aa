package node

import (
	"peerage/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	node *Node
}

// RPC: PeerSync. Serves a batch of address book entries stored after the
// requested sequence number.
func (s *Server) PeerSync(req *protocol.PeerSyncRequest, res *protocol.PeerSyncResponse) error {
	log.Infof("Server.PeerSync from %s, seq: %d", req.NodeID.String(), req.SequenceNumber)

	entries, err := s.node.PeerIndex.EnumerateBySeq(req.SequenceNumber, req.SequenceNumber+req.BatchSize)
	if err != nil {
		return err
	}
	res.NodeID = *s.node.NodeID
	res.Entries = entries
	return nil
}

// RPC: PeerReport. Reports this node's view of the swarm, optionally
// flushing disqualified peers afterwards.
func (s *Server) PeerReport(req *protocol.PeerReportRequest, res *protocol.PeerReportResponse) error {
	log.Infof("Server.PeerReport, flush: %t", req.FlushDishonest)

	res.NodeID = *s.node.NodeID
	res.Dishonest = s.node.DishonestPeers()
	res.KnownPeers = uint64(s.node.KnownPeers())

	if req.FlushDishonest {
		s.node.FlushDishonestPeers()
	}
	return nil
}
