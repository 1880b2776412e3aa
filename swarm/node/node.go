// Package node runs the swarm node: it announces itself to the local
// multicast group, serves its address book over RPC, and continuously pulls
// address books from selected peers. Peer selection and reputation live in
// the peerlist; this package feeds it observations and acts on its answers.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"peerage/config"
	"peerage/datamodel/gossipaddr"
	"peerage/datamodel/peer"
	"peerage/helper/clock"
	"peerage/helper/timer"
	"peerage/net/crpc"
	"peerage/net/mpubsub"
	"peerage/nid"
	"peerage/swarm/client"
	"peerage/swarm/peerlist"
	"peerage/swarm/protocol"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

// ErrProtocolViolation marks sync failures caused by a peer actively
// misbehaving rather than being slow or unreachable. It leads to permanent
// disqualification of the peer.
var ErrProtocolViolation = errors.New("protocol violation")

type Node struct {
	// Node ID
	NodeID    *nid.ID
	Addresses []gossipaddr.Addr

	// Storage
	PeerIndex peer.Index

	// Networking
	RpcServer *crpc.Server
	PubSub    *mpubsub.PubSub

	// RPC and PubSub implementations
	RpcHandlers    *Server
	PubSubHandlers *PubSub

	// Peer reputation. The peerlist is not internally synchronized; mu
	// serializes all access to it and to the sampling rng.
	mu    sync.Mutex
	peers *peerlist.PeerList
	rng   *rand.Rand

	// Tuning
	announceInterval timer.Interval
	syncInterval     timer.Interval
	requestTimeout   time.Duration
	batchSize        uint64

	// Helpers
	sg singleflight.Group
}

func New(cfg *config.Config, peerindex peer.Index, rpcServer *crpc.Server, pubsub *mpubsub.PubSub, rng *rand.Rand) (*Node, error) {
	node := &Node{
		NodeID:    cfg.Node.NodeID,
		PeerIndex: peerindex,
		peers:     peerlist.New(cfg.Swarm.MaxSimultaneousPeers, cfg.Swarm.PeerRefreshInterval.Duration, clock.System{}),
		rng:       rng,

		announceInterval: timer.Interval{Duration: cfg.Swarm.AnnounceInterval.Duration, Jitter: cfg.Swarm.AnnounceInterval.Duration / 10},
		syncInterval:     timer.Interval{Duration: cfg.Swarm.SyncInterval.Duration, Jitter: cfg.Swarm.SyncInterval.Duration / 10},
		requestTimeout:   cfg.Swarm.RequestTimeout.Duration,
		batchSize:        cfg.Swarm.SyncBatchSize,
	}

	if cfg.Network.RpcAdvertisedAddress != "" {
		addr, err := gossipaddr.Parse(cfg.Network.RpcAdvertisedAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid advertised address: %w", err)
		}
		node.Addresses = append(node.Addresses, addr)
	} else {
		// Figure out the addresses on which the RPC server is listening
		for _, addr := range rpcServer.Addr() {
			tcpAddr, ok := addr.(*net.TCPAddr)
			if !ok || tcpAddr.IP.IsLoopback() {
				continue
			}
			ga, err := gossipaddr.Parse(tcpAddr.String())
			if err != nil {
				continue
			}
			node.Addresses = append(node.Addresses, ga)
		}
	}

	if len(node.Addresses) == 0 {
		return nil, errors.New("no non-loopback addresses found")
	}

	// Warm start: peers we already know from the address book become
	// selection candidates again, at unknown quality.
	known, err := peerindex.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate peer index: %w", err)
	}
	for _, id := range known {
		if !id.Equal(cfg.Node.NodeID) {
			node.peers.RegisterPeer(*id)
		}
	}

	// Set up RPC Server
	node.RpcHandlers = &Server{node: node}
	node.RpcServer = rpcServer
	if err := node.RpcServer.Register(node.RpcHandlers); err != nil {
		return nil, err
	}

	// Set up PubSub
	node.PubSubHandlers = &PubSub{node: node}
	node.PubSub = pubsub
	node.PubSub.Register(node.PubSubHandlers)

	log.Infof("I am %s, listening on %s", node.NodeID.String(), node.Addresses)

	return node, nil
}

// This is run via the RunWithTicker() helper
func (n *Node) publishPeerAnnouncement(ctx context.Context) error {
	msg := &protocol.PeerAnnouncementMessage{
		NodeID:         *n.NodeID,
		Addresses:      n.Addresses,
		SequenceNumber: n.PeerIndex.GetSeq(),
	}

	if err := n.PubSub.Publish("PubSub.PeerAnnouncement", msg); err != nil {
		log.Errorf("Failed to publish peer announcement: %v", err)
	}

	return nil
}

// syncRound is one pass of the sync scheduling loop: check whether the peer
// pool needs refreshing, pick sync targets, and pull their address books.
func (n *Node) syncRound(ctx context.Context) error {
	n.mu.Lock()
	status := n.peers.NeedPeers()
	targets := n.peers.QualifiedPeers(n.rng)
	n.mu.Unlock()

	switch status {
	case peerlist.StatusInsufficient:
		log.Debugf("syncRound: no peers known yet")
	case peerlist.StatusStale:
		// Re-announce out of schedule. Live nodes answer announcements with
		// their own, which refills the candidate pool.
		log.Infof("syncRound: peer pool is stale, soliciting announcements")
		n.publishPeerAnnouncement(ctx)
	}

	for _, target := range targets {
		go n.syncWithPeer(ctx, target)
	}

	return nil
}

// syncWithPeer pulls the address book of a single peer and reports the
// outcome to the peerlist. Concurrent syncs with the same peer are collapsed.
func (n *Node) syncWithPeer(ctx context.Context, peerID nid.ID) {
	_, err, _ := n.sg.Do(peerID.String(), func() (interface{}, error) {
		return nil, n.pullAddressBook(ctx, peerID)
	})

	n.recordSyncOutcome(peerID, err)

	if err != nil {
		log.Errorf("syncWithPeer(%s): %v", peerID.String(), err)
	}
}

// recordSyncOutcome translates a sync result into a reputation signal:
// success promotes, a protocol violation disqualifies, anything else
// (dial failures, timeouts, missing addresses) demotes.
func (n *Node) recordSyncOutcome(peerID nid.ID, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case err == nil:
		n.peers.PromotePeer(peerID)
	case errors.Is(err, ErrProtocolViolation):
		n.peers.DisqualifyPeer(peerID)
	default:
		n.peers.DemotePeer(peerID)
	}
}

// pullAddressBook fetches address book entries from the peer in batches,
// starting at our last checkpoint, and merges them into the local index.
func (n *Node) pullAddressBook(ctx context.Context, peerID nid.ID) error {
	md, err := n.PeerIndex.Get(&peerID)
	if err != nil {
		return fmt.Errorf("no stored address for %s: %w", peerID.String(), err)
	}
	if len(md.Addresses) == 0 {
		return fmt.Errorf("no usable address for %s", peerID.String())
	}
	addr := md.Addresses[0]

	c, err := client.Dial("tcp4", addr.String())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr.String(), err)
	}
	defer c.Close()

	// Keep track of the sequence up to which we synched
	maxSeenSeq := md.SequenceNumber

	for {
		cctx, cancel := context.WithTimeout(ctx, n.requestTimeout)
		res, err := c.PeerSync(cctx, &protocol.PeerSyncRequest{
			NodeID:         *n.NodeID,
			SequenceNumber: maxSeenSeq,
			BatchSize:      n.batchSize,
		})
		cancel()

		if err != nil {
			return fmt.Errorf("failed to sync address book: %w", err)
		}

		// A node answering under a different identity than the one that
		// announced the address is lying to someone.
		if res.NodeID != peerID {
			return fmt.Errorf("%w: responder %s does not match %s", ErrProtocolViolation, res.NodeID.String(), peerID.String())
		}

		// No entries this time - we're done
		if len(res.Entries) == 0 {
			break
		}

		log.Infof("pullAddressBook: received %d entries from %s", len(res.Entries), peerID.String())

		progressed := false
		for _, entry := range res.Entries {
			if entry.Metadata == nil {
				return fmt.Errorf("%w: entry %d has no metadata", ErrProtocolViolation, entry.SequenceNumber)
			}
			if entry.SequenceNumber > maxSeenSeq {
				maxSeenSeq = entry.SequenceNumber
				progressed = true
			}
			if err := n.mergeLearnedPeer(entry.Metadata); err != nil {
				return err
			}
		}

		// A batch that never advances the sequence would loop forever.
		if !progressed {
			return fmt.Errorf("%w: batch from %s did not advance past sequence %d", ErrProtocolViolation, peerID.String(), maxSeenSeq)
		}

		// Checkpoint the progress so an interrupted sync resumes here.
		md.SequenceNumber = maxSeenSeq
		if _, err := n.PeerIndex.Put(md); err != nil {
			return fmt.Errorf("failed to update peer metadata: %w", err)
		}
	}

	return nil
}

// mergeLearnedPeer stores a peer record learned from a remote address book,
// preserving our own sync checkpoint for that peer, and registers the peer
// as a selection candidate.
func (n *Node) mergeLearnedPeer(learned *peer.Metadata) error {
	// Our own record circulates through other nodes' books; skip it.
	if learned.NodeID == *n.NodeID {
		return nil
	}

	stored := &peer.Metadata{
		NodeID:    learned.NodeID,
		Addresses: learned.Addresses,
		LastSeen:  learned.LastSeen,
	}
	if existing, err := n.PeerIndex.Get(&learned.NodeID); err == nil {
		stored.SequenceNumber = existing.SequenceNumber
	}

	if _, err := n.PeerIndex.Put(stored); err != nil {
		return fmt.Errorf("failed to store learned peer %s: %w", learned.NodeID.String(), err)
	}

	n.mu.Lock()
	n.peers.RegisterPeer(learned.NodeID)
	n.mu.Unlock()

	return nil
}

// KnownPeers returns the number of peers currently tracked.
func (n *Node) KnownPeers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers.Len()
}

// DishonestPeers returns the peers this node has disqualified.
func (n *Node) DishonestPeers() []nid.ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers.DishonestPeers()
}

// FlushDishonestPeers drops disqualified peers from the tracker, giving them
// a clean slate on their next announcement.
func (n *Node) FlushDishonestPeers() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers.FlushDishonest()
}

func (n *Node) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return n.PubSub.Listen(cctx)
	})

	wg.Go(func() error {
		return n.RpcServer.Serve(cctx)
	})

	wg.Go(func() error {
		return timer.RunWithTicker(cctx, &n.announceInterval, n.publishPeerAnnouncement)
	})

	wg.Go(func() error {
		return timer.RunWithTicker(cctx, &n.syncInterval, n.syncRound)
	})

	return wg.Wait()
}
