// Package ban implements the ban table and misbehavior scoring described
// in spec.md §4.3.
package ban

import (
	"sync"
	"time"
)

// Default thresholds, overridable via -banscore/-bantime (spec.md §6).
const (
	DefaultBanScore = 100
	DefaultBanTime  = 86400 * time.Second
)

// Table maps a peer address key to a ban-until timestamp.
type Table struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	banScore int64
	banTime  time.Duration
	now      func() time.Time
}

// New builds a ban table with the given score threshold and ban duration.
func New(banScore int64, banTime time.Duration) *Table {
	if banScore <= 0 {
		banScore = DefaultBanScore
	}
	if banTime <= 0 {
		banTime = DefaultBanTime
	}
	return &Table{
		entries:  make(map[string]time.Time),
		banScore: banScore,
		banTime:  banTime,
		now:      time.Now,
	}
}

// IsBanned reports whether addr has an entry still in the future.
func (t *Table) IsBanned(addrKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.entries[addrKey]
	return ok && until.After(t.now())
}

// Ban sets addr's ban-until to max(existing, now+duration); last-writer
// wins on the maximum per spec.md §5.
func (t *Table) Ban(addrKey string, duration time.Duration) time.Time {
	if duration <= 0 {
		duration = t.banTime
	}
	until := t.now().Add(duration)
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[addrKey]; ok && existing.After(until) {
		return existing
	}
	t.entries[addrKey] = until
	return until
}

// Threshold returns the configured misbehavior threshold.
func (t *Table) Threshold() int64 { return t.banScore }

// BanDuration returns the configured default ban duration.
func (t *Table) BanDuration() time.Duration { return t.banTime }

// Misbehaver is the minimal view Table.Misbehaving needs of a peer
// session; peer.Session implements it, so this package does not import
// internal/peer.
type Misbehaver interface {
	AddMisbehavior(delta int) int64
	IsLocal() bool
	AddrKey() string
	// Disconnect tears the peer's connection down. Called in the same
	// branch that bans, matching the original CNode::Misbehaving, which
	// calls CloseSocketDisconnect() right alongside the ban.
	Disconnect()
}

// Misbehaving applies delta to the peer's score and, once the cumulative
// score crosses the threshold, bans the address AND disconnects the peer
// in the same call (spec.md §4.3, §8 scenario 1). Returns true when the
// score after this call is at or above the threshold, which includes
// every later call on a peer already past it (each re-bans and
// disconnects again).
func (t *Table) Misbehaving(p Misbehaver, delta int) (banned bool) {
	if p.IsLocal() {
		return false
	}
	total := p.AddMisbehavior(delta)
	if total < t.banScore {
		return false
	}
	t.Ban(p.AddrKey(), t.banTime)
	p.Disconnect()
	return true
}
