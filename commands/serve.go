package commands

import (
	"context"
	"math/rand"
	"net"
	"time"

	"peerage/config"
	"peerage/datastore/leveldb"
	"peerage/net/crpc"
	"peerage/net/mpubsub"
	"peerage/swarm/node"
)

// RunServe starts the swarm node: it opens the peer index, brings up the RPC
// server and the multicast pubsub, and runs the announce and sync loops until
// the context is cancelled.
func RunServe(ctx context.Context, cfg *config.Config) {
	if cfg.Node.NodeID == nil {
		log.Fatal("Config has no node identity, run 'init' first")
	}

	pidx, err := leveldb.NewPeerIndex(cfg.DataStore.PeerIndexPath)
	if err != nil {
		log.Fatalf("Failed to open peer index: %v", err)
	}
	defer pidx.Close()

	// Create the CRPC server and listener
	rpcl, err := net.Listen("tcp4", cfg.Network.RPCListenAddress)
	if err != nil {
		log.Fatalf("Failed to create RPC listener: %v", err)
	}

	rsrv := crpc.NewServer(rpcl)

	log.Infof("RPC server listening on %s", rsrv.Addr())

	// Create pubsub
	psaddr, err := net.ResolveUDPAddr("udp", cfg.Network.PubSubMulticastAddress)
	if err != nil {
		log.Fatalf("Failed to resolve UDP address: %v", err)
	}

	rs, err := net.ListenMulticastUDP("udp4", nil, psaddr)
	if err != nil {
		log.Fatalf("Failed to create multicast listener: %v", err)
	}

	ws, err := net.DialUDP("udp4", nil, psaddr)
	if err != nil {
		log.Fatalf("Failed to create multicast writer: %v", err)
	}

	pubsub := mpubsub.New(rs, ws)

	// Create the node
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	n, err := node.New(cfg, pidx, rsrv, pubsub, rng)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	// Run the node
	if err := n.Run(ctx); err != nil {
		log.Fatalf("Failed to run node: %v", err)
	}
}
