package syncengine

import (
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Rozu/Pennies/internal/peer"
)

// orderBySpeedUnusedFirst sorts peers by the "unused first" tie-break
// comparator of spec.md §4.8: unused peers sort before used ones, and
// within each group peers sort by ascending speed.
func orderBySpeedUnusedFirst(peers []*peer.Session, used func(*peer.Session) bool, speed func(*peer.Session) float64) {
	sort.SliceStable(peers, func(i, j int) bool {
		ui, uj := used(peers[i]), used(peers[j])
		if ui != uj {
			return !ui // unused (false) sorts first
		}
		return speed(peers[i]) < speed(peers[j])
	})
}

// SyncHeaders runs one tick of the header scheduler (spec.md §4.8
// sync_headers), throttled to at most once per HeaderConcurrentPollTime.
// It orders candidates unused-first/header_speed-ascending, services at
// most HeaderConcurrent peers, and each peer advances at most one slot
// per invocation. Returns the peers a getheaders request was issued to,
// for tests and logging.
func (e *Engine) SyncHeaders(now time.Time, candidates []*peer.Session, maxBlockCount int32) []*peer.Session {
	e.mu.Lock()
	if now.Sub(e.lastHeaderTick) < e.cfg.HeaderConcurrentPollTime {
		e.mu.Unlock()
		return nil
	}
	e.lastHeaderTick = now
	e.mu.Unlock()

	eligible := make([]*peer.Session, 0, len(candidates))
	for _, p := range candidates {
		if p.EligibleForSync(maxBlockCount, e.cfg.MinSyncVersion, e.cfg.MaxSyncVersion) {
			eligible = append(eligible, p)
		}
	}
	// Sort once per tick (spec.md §9 redesign: the source's sort-during-
	// iteration hazard is fixed here by sorting the candidate slice
	// exactly once, before any mutation, rather than re-sorting mid-loop).
	orderBySpeedUnusedFirst(eligible, (*peer.Session).HeaderUsed, (*peer.Session).HeaderSpeed)

	if len(eligible) > e.cfg.HeaderConcurrent {
		eligible = eligible[:e.cfg.HeaderConcurrent]
	}

	var serviced []*peer.Session
	for _, p := range eligible {
		if e.serviceOneHeaderSlot(now, p, maxBlockCount) {
			serviced = append(serviced, p)
		}
	}
	return serviced
}

// serviceOneHeaderSlot advances p's header-slot cursor to the first
// slot with remaining work and, if due, emits a getheaders request for
// it. Returns whether a request was issued. tip is the externally
// known target height (the chain's best known/claimed height across
// peers), used only to decide whether the final open-ended slot still
// has work.
func (e *Engine) serviceOneHeaderSlot(now time.Time, p *peer.Session, tip int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.peerHeaderSlot[p.AddrKey()]
	for idx < len(e.headerSlots) && e.headerSlots[idx].done(tip) {
		idx++
	}
	if idx >= len(e.headerSlots) {
		e.peerHeaderSlot[p.AddrKey()] = idx
		return false
	}
	e.peerHeaderSlot[p.AddrKey()] = idx
	slot := e.headerSlots[idx]

	begin := e.heightToHash[slot.StartHeight]
	var end chainhash.Hash // stays zero for the open-ended final slot (EndHeight == 0 is a sentinel, not a real height)
	if slot.EndHeight != 0 {
		end = e.heightToHash[slot.EndHeight]
	}

	lastSent, lastBegin, lastEnd := p.GetHeadersWindow()
	fresh := lastBegin != begin || lastEnd != end
	stale := now.Sub(lastSent) >= e.cfg.ConcurrentRetry
	if !fresh && !stale {
		return false
	}
	p.StampGetHeaders(now, begin, end)
	return true
}

// SyncBlocks runs one tick of the block scheduler (spec.md §4.8
// sync_blocks), throttled to at most once per ConcurrentPollTime.
// present reports whether hash is already in block_index or
// orphan_blocks (step 1's "already present" test); askFor is the
// external ask_for(inv{block,hash}) queue the batch is handed to.
func (e *Engine) SyncBlocks(now time.Time, candidates []*peer.Session, maxBlockCount int32, present func(chainhash.Hash) bool, askFor func(p *peer.Session, hashes []chainhash.Hash)) []*peer.Session {
	e.mu.Lock()
	if now.Sub(e.lastBlockTick) < e.cfg.ConcurrentPollTime {
		e.mu.Unlock()
		return nil
	}
	e.lastBlockTick = now
	e.mu.Unlock()

	eligible := make([]*peer.Session, 0, len(candidates))
	for _, p := range candidates {
		if p.EligibleForSync(maxBlockCount, e.cfg.MinSyncVersion, e.cfg.MaxSyncVersion) {
			eligible = append(eligible, p)
		}
	}
	orderBySpeedUnusedFirst(eligible, (*peer.Session).Used, (*peer.Session).Speed)

	var serviced []*peer.Session
	for _, p := range eligible {
		if e.serviceOneBlockSlot(now, p, maxBlockCount, present, askFor) {
			serviced = append(serviced, p)
		}
	}
	return serviced
}

func (e *Engine) serviceOneBlockSlot(now time.Time, p *peer.Session, tip int32, present func(chainhash.Hash) bool, askFor func(*peer.Session, []chainhash.Hash)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.peerBlockSlot[p.AddrKey()]
	if idx >= len(e.blockSlots) {
		return false
	}
	slot := &e.blockSlots[idx]
	peerStartingHeight := p.StartingHeight()

	// Step 1: advance start_height through contiguous already-present
	// heights.
	for {
		hash, ok := e.heightToHash[slot.StartHeight]
		if !ok || !present(hash) {
			break
		}
		slot.StartHeight++
	}

	// Step 2: slot done for this peer, move to next.
	if slot.done(tip) || slot.StartHeight >= peerStartingHeight {
		e.peerBlockSlot[p.AddrKey()] = idx + 1
		return false
	}

	// Step 3: headers lagging, jump to next slot for this peer (the
	// slot itself is untouched; other peers may still make progress on
	// it once headers catch up).
	if _, ok := e.heightToHash[slot.StartHeight]; !ok {
		e.peerBlockSlot[p.AddrKey()] = idx + 1
		return false
	}

	// Step 4: collect up to BatchSize not-yet-downloaded hashes.
	upper := slot.EndHeight
	if upper == 0 || peerStartingHeight < upper {
		upper = peerStartingHeight
	}
	var batch []chainhash.Hash
	for h := slot.StartHeight; h < upper && int32(len(batch)) < int32(e.cfg.BatchSize); h++ {
		hash, ok := e.heightToHash[h]
		if !ok {
			break
		}
		if present(hash) {
			continue
		}
		batch = append(batch, hash)
	}
	if len(batch) == 0 {
		return false
	}

	// Emit only if the prior getdata window has gone stale by the poll
	// interval, or this batch's (begin,end) differs from it outright.
	// See DESIGN.md's internal/syncengine entry for why this reads the
	// source's "fresh... or differs by more than concurrent_retry"
	// condition this way rather than literally.
	beginHash := batch[0]
	endHash := batch[len(batch)-1]
	lastSent, lastBegin, lastEnd := p.GetDataWindow()
	fresh := now.Sub(lastSent) >= e.cfg.ConcurrentPollTime
	changed := lastBegin != beginHash || lastEnd != endHash
	if !fresh && !changed {
		return false
	}

	askFor(p, batch)
	p.StampGetData(now, beginHash, endHash)
	return true
}
