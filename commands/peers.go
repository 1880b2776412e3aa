package commands

import (
	"context"

	"peerage/config"
	"peerage/swarm/client"
	"peerage/swarm/protocol"
)

// RunPeers connects to a running node over RPC and prints its address book
// and its reputation report. With flush set, the node drops its disqualified
// peers after reporting them.
func RunPeers(ctx context.Context, cfg *config.Config, address string, flush bool) {
	cli, err := client.Dial("tcp", address)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", address, err)
	}
	defer cli.Close()

	report, err := cli.PeerReport(ctx, &protocol.PeerReportRequest{FlushDishonest: flush})
	if err != nil {
		log.Fatalf("Failed to get peer report: %v", err)
	}

	log.Infof("Node %s tracks %d peers", report.NodeID.String(), report.KnownPeers)
	for _, id := range report.Dishonest {
		log.Infof("Dishonest: %s", id.String())
	}
	if flush && len(report.Dishonest) > 0 {
		log.Infof("Flushed %d dishonest peers", len(report.Dishonest))
	}

	// Walk the whole address book in batches
	var seq uint64
	for {
		res, err := cli.PeerSync(ctx, &protocol.PeerSyncRequest{
			NodeID:         report.NodeID,
			SequenceNumber: seq,
			BatchSize:      cfg.Swarm.SyncBatchSize,
		})
		if err != nil {
			log.Fatalf("Failed to fetch address book: %v", err)
		}
		if len(res.Entries) == 0 {
			break
		}

		for _, entry := range res.Entries {
			if entry.Metadata == nil {
				continue
			}
			log.Infof("Peer: %s, addr: %v, seq: %d, last seen: %v",
				entry.Metadata.NodeID.String(), entry.Metadata.Addresses, entry.SequenceNumber, entry.Metadata.LastSeen)
			if entry.SequenceNumber > seq {
				seq = entry.SequenceNumber
			}
		}
	}
}
