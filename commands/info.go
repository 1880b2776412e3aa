package commands

import (
	"context"
	"time"

	"peerage/config"
	"peerage/datastore/leveldb"
)

// RunInfo prints the contents of the local peer index without starting the
// node. It must not run while a node is serving from the same index.
func RunInfo(ctx context.Context, cfg *config.Config) {
	pidx, err := leveldb.NewPeerIndex(cfg.DataStore.PeerIndexPath)
	if err != nil {
		log.Fatalf("Failed to open peer index: %v", err)
	}
	defer pidx.Close()

	peers, err := pidx.Enumerate()
	if err != nil {
		log.Fatalf("Failed to enumerate peer index: %v", err)
	}

	log.Infof("Peer index: %d peers known, seq: %d", len(peers), pidx.GetSeq())
	for _, id := range peers {
		md, err := pidx.Get(id)
		if err != nil {
			log.Errorf("Failed to get peer metadata: %v", err)
			continue
		}
		log.Infof("Peer: %s, addr: %v, seq: %d, last seen: %v ago",
			md.NodeID.String(), md.Addresses, md.SequenceNumber, time.Since(md.LastSeen).Round(time.Second))
	}
}
