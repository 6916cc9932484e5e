// Package addrbook implements the peer address book of spec.md §4.1: it
// stores candidate peer addresses with last-seen/last-try timestamps,
// partitions them into "tried" (successfully connected at least once) and
// "new" (never yet connected) sets grouped by network group for
// anti-eclipse diversity, and exposes biased random selection.
package addrbook

import (
	"encoding/gob"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Rozu/Pennies/internal/netaddr"
)

// Record is one address-book entry (spec.md §3 AddressRecord).
type Record struct {
	Endpoint netaddr.Endpoint
	Services wire.ServiceFlag
	LastSeen time.Time
	LastTry  time.Time
	Tried    bool
	Attempts int
}

// Book is the address book. Safe for concurrent use.
type Book struct {
	mu    sync.Mutex
	byKey map[[16]byte]*Record
	tried map[string][]*Record // group -> records
	new_  map[string][]*Record
	rng   *rand.Rand
}

// New builds an empty address book.
func New() *Book {
	return &Book{
		byKey: make(map[[16]byte]*Record),
		tried: make(map[string][]*Record),
		new_:  make(map[string][]*Record),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add inserts records learned from source (an advertising peer, or the
// nil NetAddress for self-originated seeds); existing entries are left in
// whichever bucket they already occupy (spec.md §4.1).
func (b *Book) Add(records []Record, source netaddr.NetAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		key := r.Endpoint.Bytes()
		if _, exists := b.byKey[key]; exists {
			continue
		}
		rec := r
		b.byKey[key] = &rec
		group := rec.Endpoint.GroupKey()
		b.new_[group] = append(b.new_[group], &rec)
	}
}

// Connected marks ep as successfully connected: updates LastSeen and
// promotes it from "new" to "tried" (spec.md §4.1/§3 nTime semantics).
func (b *Book) Connected(ep netaddr.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.byKey[ep.Bytes()]
	if !ok {
		rec = &Record{Endpoint: ep}
		b.byKey[ep.Bytes()] = rec
	}
	rec.LastSeen = time.Now()
	if !rec.Tried {
		group := ep.GroupKey()
		b.removeFromLocked(b.new_, group, rec)
		rec.Tried = true
		b.tried[group] = append(b.tried[group], rec)
	}
}

// Attempt records a dial attempt's timestamp, regardless of outcome
// (spec.md §4.1 nLastTry).
func (b *Book) Attempt(ep netaddr.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.byKey[ep.Bytes()]
	if !ok {
		rec = &Record{Endpoint: ep}
		b.byKey[ep.Bytes()] = rec
		b.new_[ep.GroupKey()] = append(b.new_[ep.GroupKey()], rec)
	}
	rec.LastTry = time.Now()
	rec.Attempts++
}

func (b *Book) removeFromLocked(set map[string][]*Record, group string, target *Record) {
	list := set[group]
	for i, r := range list {
		if r == target {
			set[group] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Size returns the total number of known addresses.
func (b *Book) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey)
}

// Select returns a random candidate, biased toward "new" (untried)
// addresses by unkBiasPercent (clamped to [10,90] per spec.md §4.1): the
// dialer computes 10 + min(outbound_count,8)*10, so as our outbound count
// grows we bias more toward addresses we've never tried.
func (b *Book) Select(unkBiasPercent int) (Record, bool) {
	if unkBiasPercent < 10 {
		unkBiasPercent = 10
	}
	if unkBiasPercent > 90 {
		unkBiasPercent = 90
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	preferNew := b.rng.Intn(100) < unkBiasPercent
	if rec, ok := b.pickFromLocked(b.new_, preferNew); ok {
		return *rec, true
	}
	if rec, ok := b.pickFromLocked(b.tried, !preferNew); ok {
		return *rec, true
	}
	// Fall back to whichever set is non-empty.
	if rec, ok := b.pickFromLocked(b.new_, true); ok {
		return *rec, true
	}
	if rec, ok := b.pickFromLocked(b.tried, true); ok {
		return *rec, true
	}
	return Record{}, false
}

func (b *Book) pickFromLocked(set map[string][]*Record, want bool) (*Record, bool) {
	if !want || len(set) == 0 {
		return nil, false
	}
	groups := make([]string, 0, len(set))
	for g, list := range set {
		if len(list) > 0 {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 {
		return nil, false
	}
	g := groups[b.rng.Intn(len(groups))]
	list := set[g]
	return list[b.rng.Intn(len(list))], true
}

// snapshot is the gob-encoded on-disk form; private/opaque per spec.md §6.
type snapshot struct {
	Records []Record
}

// Save writes the address book to w (the address-dumper thread's
// periodic peers.dat flush, spec.md §6).
func (b *Book) Save(w io.Writer) error {
	b.mu.Lock()
	snap := snapshot{Records: make([]Record, 0, len(b.byKey))}
	for _, r := range b.byKey {
		snap.Records = append(snap.Records, *r)
	}
	b.mu.Unlock()
	return gob.NewEncoder(w).Encode(snap)
}

// Load restores a previously Saved book from r.
func (b *Book) Load(r io.Reader) error {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return err
	}
	b.Add(snap.Records, netaddr.NetAddress{})
	// Re-apply Tried partitioning the Add-above skipped (Add only ever
	// inserts into "new"); second pass promotes previously-tried entries.
	for _, r := range snap.Records {
		if r.Tried {
			b.Connected(r.Endpoint)
		}
	}
	return nil
}
