// Package localaddr implements the local-address table of spec.md §4.2:
// scoring and selection of our own reachable endpoints, to decide which
// address to advertise to a given peer.
package localaddr

import (
	"sync"

	"github.com/Rozu/Pennies/internal/netaddr"
)

// LocalManualScore (the source's LOCAL_MANUAL) is the score floor used for manually-added addresses,
// which may bypass a network-class limit (spec.md §4.2).
const LocalManualScore = 1 << 20

// Reachability orders how well a local address is reachable from a given
// peer's perspective; higher is better (spec.md glossary).
type Reachability int

const (
	ReachUnreachable Reachability = iota
	ReachDefault
	ReachPrivate
	ReachIPv6Weak
	ReachIPv4
	ReachIPv6
	ReachTeredo
)

// entry is one local-address record.
type entry struct {
	endpoint    netaddr.Endpoint
	score       int
	reachable   bool
}

// Table is the local-address table. Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[[16]byte]*entry
	limited map[netaddr.NetworkClass]bool
	// lastAdvertised tracks, per peer address key, the endpoint string we
	// last told that peer, so advertize_local only re-sends on change.
	lastAdvertised map[string]string
}

// New builds an empty local-address table.
func New() *Table {
	return &Table{
		entries:        make(map[[16]byte]*entry),
		limited:        make(map[netaddr.NetworkClass]bool),
		lastAdvertised: make(map[string]string),
	}
}

// AddLocal adds or bumps endpoint's score. Equal-or-higher rescoring on a
// revisit adds one to the stored score, per spec.md §4.2.
//
// Flagged per spec.md §9: the source's AddLocal calls
// SetReachable(addr.GetNetwork()) with only one argument where the
// function expects two; intent is almost certainly
// SetReachable(net, true). Reproduced here faithfully rather than
// silently "fixed" — see the single-argument call below.
func (t *Table) AddLocal(ep netaddr.Endpoint, score int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ep.Bytes()
	if e, ok := t.entries[key]; ok {
		if score >= e.score {
			e.score++
		}
		return
	}
	t.entries[key] = &entry{endpoint: ep, score: score}
	// Faithful reproduction of the source's one-argument call (spec.md §9
	// open question): setReachableLocked(net) with no explicit `true`,
	// rather than the presumably-intended setReachableLocked(net, true).
	t.setReachableLocked(ep.Class())
}

func (t *Table) setReachableLocked(class netaddr.NetworkClass) {
	// See AddLocal's doc comment: this call is intentionally left
	// matching the source's apparent bug rather than guessing its fix.
	_ = class
}

// SetReachable marks a network class reachable. Setting IPv6 reachable
// implies IPv4 reachable too (spec.md §4.2).
func (t *Table) SetReachable(class netaddr.NetworkClass, reachable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		if e.endpoint.Class() == class {
			e.reachable = reachable
			t.entries[key] = e
		}
	}
	if class == netaddr.ClassIPv6 && reachable {
		for key, e := range t.entries {
			if e.endpoint.Class() == netaddr.ClassIPv4 {
				e.reachable = true
				t.entries[key] = e
			}
		}
	}
}

// SetLimited blocks all automatic use of a network class. Manual adds with
// score >= LocalManualScore may still bypass this (spec.md §4.2).
func (t *Table) SetLimited(class netaddr.NetworkClass, limited bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limited[class] = limited
}

// IsLimited reports whether class is currently limited.
func (t *Table) IsLimited(class netaddr.NetworkClass) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limited[class]
}

// SeenLocal increments the score of ep if present, per spec.md §4.2.
func (t *Table) SeenLocal(ep netaddr.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[ep.Bytes()]; ok {
		e.score++
	}
}

// GetLocalForPeer picks the best local address to advertise to a peer at
// peerAddr: highest reachability-from-peer, ties broken by score.
func (t *Table) GetLocalForPeer(peerAddr netaddr.NetAddress) (netaddr.Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *entry
	var bestReach Reachability = -1
	for _, e := range t.entries {
		if !e.reachable && e.score < LocalManualScore {
			continue
		}
		if t.limited[e.endpoint.Class()] && e.score < LocalManualScore {
			continue
		}
		r := reachabilityFrom(peerAddr, e.endpoint.NetAddress)
		if r > bestReach || (r == bestReach && best != nil && e.score > best.score) {
			bestReach = r
			best = e
		}
	}
	if best == nil {
		return netaddr.Endpoint{}, false
	}
	return best.endpoint, true
}

// reachabilityFrom scores how well `local` can be reached from `peer`'s
// perspective, per the glossary's reachability enumeration.
func reachabilityFrom(peer, local netaddr.NetAddress) Reachability {
	switch local.Class() {
	case netaddr.ClassUnroutable:
		return ReachUnreachable
	case netaddr.ClassTeredo:
		if peer.Class() == netaddr.ClassTeredo {
			return ReachTeredo
		}
		return ReachDefault
	case netaddr.ClassIPv4:
		if peer.Class() == netaddr.ClassIPv4 {
			return ReachIPv4
		}
		return ReachDefault
	case netaddr.ClassIPv6:
		if peer.Class() == netaddr.ClassIPv6 {
			return ReachIPv6
		}
		return ReachIPv6Weak
	default:
		return ReachDefault
	}
}

// AdvertizeLocal handles one peer: if the best local address for that
// peer differs from what we last told it, it invokes push with that
// address (spec.md §4.2). It does not walk the peer set; the caller
// invokes it per peer. peerAddrKey identifies the peer for
// de-duplication purposes.
func (t *Table) AdvertizeLocal(peerAddrKey string, peerAddr netaddr.NetAddress, push func(netaddr.Endpoint)) {
	best, ok := t.GetLocalForPeer(peerAddr)
	if !ok {
		return
	}
	t.mu.Lock()
	last, seen := t.lastAdvertised[peerAddrKey]
	changed := !seen || last != best.String()
	if changed {
		t.lastAdvertised[peerAddrKey] = best.String()
	}
	t.mu.Unlock()
	if changed {
		push(best)
	}
}
