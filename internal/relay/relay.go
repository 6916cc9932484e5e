// Package relay implements the relay pool of spec.md §4.9: a short-lived
// cache of recently broadcast payloads keyed by inventory identifier, for
// re-serving to peers that request after the initial broadcast.
package relay

import (
	"container/list"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TTL is the expiry window from spec.md §3 RelayCacheEntry.
const TTL = 15 * time.Minute

type entry struct {
	id      chainhash.Hash
	payload []byte
	expiry  time.Time
}

// Pool is the relay cache. Entries whose expiry has passed are evicted
// lazily from the head before every insert (spec.md §4.9).
type Pool struct {
	mu      sync.Mutex
	byID    map[chainhash.Hash]*list.Element
	order   *list.List // FIFO by insertion/expiry order
	now     func() time.Time
}

// New builds an empty relay pool.
func New() *Pool {
	return &Pool{
		byID:  make(map[chainhash.Hash]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// evictExpiredLocked evicts every entry at the head whose expiry has
// passed, the head always being the oldest since TTL is constant and
// entries are appended in insertion order.
func (p *Pool) evictExpiredLocked(at time.Time) {
	for {
		front := p.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		if e.expiry.After(at) {
			return
		}
		p.order.Remove(front)
		delete(p.byID, e.id)
	}
}

// Insert adds payload under id with a fresh TTL, evicting expired entries
// first (spec.md §4.9/§8 relay cache invariant).
func (p *Pool) Insert(id chainhash.Hash, payload []byte) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpiredLocked(now)
	if el, ok := p.byID[id]; ok {
		p.order.Remove(el)
	}
	e := &entry{id: id, payload: payload, expiry: now.Add(TTL)}
	el := p.order.PushBack(e)
	p.byID[id] = el
}

// Get returns the cached payload for id, if present and not expired.
func (p *Pool) Get(id chainhash.Hash) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpiredLocked(p.now())
	el, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).payload, true
}

// Len reports the current (possibly-expired-but-not-yet-evicted) entry
// count; used by tests only.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// BloomFilter is the optional per-peer filter named in spec.md §4.9.
type BloomFilter interface {
	// RelevantAndUpdate reports whether payload matches the filter,
	// updating it as a side effect per BIP37-style semantics.
	RelevantAndUpdate(payload []byte) bool
}

// RelayTarget is the minimal peer view the broadcast loop needs.
type RelayTarget struct {
	RelayTxes bool
	Filter    BloomFilter // nil if the peer set none
	Push      func(id chainhash.Hash, payload []byte)
}

// Broadcast pushes id/payload to every peer with RelayTxes set: if a peer
// has a bloom filter, only when it reports relevant-and-update; otherwise
// unconditionally (spec.md §4.9).
func Broadcast(peers []RelayTarget, id chainhash.Hash, payload []byte) {
	for _, t := range peers {
		if !t.RelayTxes {
			continue
		}
		if t.Filter != nil {
			if !t.Filter.RelevantAndUpdate(payload) {
				continue
			}
		}
		t.Push(id, payload)
	}
}
