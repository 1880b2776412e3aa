// Package peerlist tracks the observed quality of remote peers and selects
// which peers to sync with. It is the decision layer between peer discovery
// and the sync loop: the loop reports how peers behaved (promote, demote,
// disqualify) and asks which peers to contact next.
//
// The PeerList is not internally synchronized. It is owned by a single
// control loop; a shared instance must be guarded by the owner's mutex.
package peerlist

import (
	"math/rand"
	"sort"
	"time"

	"peerage/helper/clock"
	"peerage/nid"

	log "github.com/sirupsen/logrus"
)

// Quality is the reputation ladder of a peer, from worst to best observed.
// Dishonest sits outside the ladder: it is reachable from every rung and
// terminal once reached.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityUnreliable
	QualityReliable
	QualityDishonest
)

func (q Quality) String() string {
	switch q {
	case QualityUnknown:
		return "unknown"
	case QualityUnreliable:
		return "unreliable"
	case QualityReliable:
		return "reliable"
	case QualityDishonest:
		return "dishonest"
	}
	return "invalid"
}

// Status is the answer to "do we currently have enough good peers?".
type Status int

const (
	// StatusSufficient: no action needed.
	StatusSufficient Status = iota
	// StatusInsufficient: the list is empty, there is nothing to select from.
	StatusInsufficient
	// StatusStale: the pool of usable peers fell below the target and has not
	// been refreshed within the configured interval.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusSufficient:
		return "sufficient"
	case StatusInsufficient:
		return "insufficient"
	case StatusStale:
		return "stale"
	}
	return "invalid"
}

type PeerList struct {
	entries              map[nid.ID]Quality
	keepFresh            time.Time
	maxSimultaneousPeers int
	refreshInterval      time.Duration
	clk                  clock.Clock
}

// New creates a PeerList targeting maxSimultaneousPeers sync peers,
// re-checking pool staleness at most once per refreshInterval.
func New(maxSimultaneousPeers int, refreshInterval time.Duration, clk clock.Clock) *PeerList {
	if maxSimultaneousPeers <= 0 {
		log.Fatalf("peerlist: maxSimultaneousPeers must be positive, got %d", maxSimultaneousPeers)
	}

	return &PeerList{
		entries:              make(map[nid.ID]Quality),
		keepFresh:            clk.Now(),
		maxSimultaneousPeers: maxSimultaneousPeers,
		refreshInterval:      refreshInterval,
		clk:                  clk,
	}
}

// RegisterPeer adds a newly discovered peer at Unknown quality. Registering a
// known peer is a no-op. Registration counts as evidence the peer set just
// changed, so it resets the staleness check.
func (pl *PeerList) RegisterPeer(peer nid.ID) {
	if _, ok := pl.entries[peer]; ok {
		return
	}
	pl.entries[peer] = QualityUnknown
	pl.keepFresh = pl.clk.Now()
}

// PromotePeer moves a peer one rung up the ladder. Reliable stays Reliable,
// Dishonest stays Dishonest. Promoting a peer that was never registered
// should not happen; it is recovered by inserting the peer at Unknown.
func (pl *PeerList) PromotePeer(peer nid.ID) {
	log.Debugf("peerlist: promoting peer %s", peer.String())

	q, ok := pl.entries[peer]
	if !ok {
		log.Debugf("peerlist: promote of unregistered peer %s, inserting at unknown", peer.String())
		pl.entries[peer] = QualityUnknown
		return
	}

	switch q {
	case QualityUnknown:
		pl.entries[peer] = QualityUnreliable
	case QualityUnreliable:
		pl.entries[peer] = QualityReliable
	case QualityReliable:
		// no change, already the best
	case QualityDishonest:
		// no change, terminal
	}
}

// DemotePeer moves a peer one rung down the ladder. Unknown stays Unknown,
// Dishonest stays Dishonest. Demoting an absent peer is a no-op.
func (pl *PeerList) DemotePeer(peer nid.ID) {
	log.Debugf("peerlist: demoting peer %s", peer.String())

	q, ok := pl.entries[peer]
	if !ok {
		return
	}

	switch q {
	case QualityReliable:
		pl.entries[peer] = QualityUnreliable
	case QualityUnreliable:
		pl.entries[peer] = QualityUnknown
	case QualityUnknown, QualityDishonest:
		// no change
	}
}

// DisqualifyPeer marks a peer Dishonest, inserting it if absent. This is
// irreversible: no later promote or demote will change it.
func (pl *PeerList) DisqualifyPeer(peer nid.ID) {
	log.Debugf("peerlist: disqualifying peer %s", peer.String())
	pl.entries[peer] = QualityDishonest
}

// Quality reports the current quality of a peer.
func (pl *PeerList) Quality(peer nid.ID) (Quality, bool) {
	q, ok := pl.entries[peer]
	return q, ok
}

func (pl *PeerList) Len() int {
	return len(pl.entries)
}

// DishonestPeers returns all peers currently marked Dishonest, in ID order.
func (pl *PeerList) DishonestPeers() []nid.ID {
	return pl.sortedWith(QualityDishonest)
}

// Flush forgets every peer, dishonest ones included.
func (pl *PeerList) Flush() {
	pl.entries = make(map[nid.ID]Quality)
}

// FlushDishonest removes exactly the Dishonest entries, leaving the rest untouched.
func (pl *PeerList) FlushDishonest() {
	for peer, q := range pl.entries {
		if q == QualityDishonest {
			delete(pl.entries, peer)
		}
	}
}

// NeedPeers reports whether the caller should go looking for fresh peers.
// An empty list is always Insufficient. Otherwise the pool of usable peers
// (Reliable plus untested Unknown) is re-counted at most once per refresh
// interval; whenever the count runs, the interval timer restarts regardless
// of the verdict.
func (pl *PeerList) NeedPeers() Status {
	if len(pl.entries) == 0 {
		log.Debugf("peerlist: empty")
		return StatusInsufficient
	}

	now := pl.clk.Now()
	if clock.Since(now, pl.keepFresh) > pl.refreshInterval {
		pl.keepFresh = now

		count := 0
		for _, q := range pl.entries {
			if q == QualityReliable || q == QualityUnknown {
				count++
			}
		}
		if count < pl.maxSimultaneousPeers {
			log.Debugf("peerlist: stale, %d usable peers of %d wanted", count, pl.maxSimultaneousPeers)
			return StatusStale
		}
	}

	return StatusSufficient
}

// QualifiedPeers selects up to maxSimultaneousPeers peers to contact,
// preferring Reliable peers and filling any shortfall from the combined
// Unreliable/Unknown pool. Both draws are uniform samples without
// replacement. Dishonest peers are never returned. The result may be
// shorter than the target if not enough peers exist.
//
// Selection is a pure query: it consumes randomness but mutates nothing.
// Given the same seed and the same list contents, the draw is reproducible
// because candidates are visited in ID order.
func (pl *PeerList) QualifiedPeers(rng *rand.Rand) []nid.ID {
	upTo := pl.maxSimultaneousPeers

	peers := chooseN(rng, pl.sortedWith(QualityReliable), upTo)

	if missing := upTo - len(peers); missing > 0 {
		betterThanNothing := chooseN(rng, pl.sortedWith(QualityUnreliable, QualityUnknown), missing)
		peers = append(peers, betterThanNothing...)
	}

	return peers
}

// sortedWith returns the IDs of all peers at any of the given qualities,
// sorted by the ID total order.
func (pl *PeerList) sortedWith(qualities ...Quality) []nid.ID {
	var ids []nid.ID
	for peer, q := range pl.entries {
		for _, want := range qualities {
			if q == want {
				ids = append(ids, peer)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Less(&ids[j])
	})
	return ids
}

// chooseN draws a uniform sample of up to n elements without replacement,
// via reservoir sampling over the ordered candidate slice. If n >= len(ids)
// all candidates are returned.
func chooseN(rng *rand.Rand, ids []nid.ID, n int) []nid.ID {
	if n <= 0 {
		return nil
	}

	out := make([]nid.ID, 0, n)
	for i, id := range ids {
		if len(out) < n {
			out = append(out, id)
			continue
		}
		if j := rng.Intn(i + 1); j < n {
			out[j] = id
		}
	}
	return out
}
