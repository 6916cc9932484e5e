package syncengine

import "time"

// AdvanceChain runs the chain-advance step of spec.md §4.8, throttled
// to once per CheckIPTime (60s by default). Starting at best_block.
// height+1, it walks height->hash while each height is present in the
// index: set_best_chain for a height whose hash has a block on disk,
// accept_block for one that's an in-memory orphan, stopping at the
// first height whose hash is unknown or whose block is unavailable
// (spec.md §8 scenario 6's "chain-advance monotonicity").
func (e *Engine) AdvanceChain(now time.Time) error {
	e.mu.Lock()
	if now.Sub(e.lastChainAdvance) < e.cfg.CheckIPTime {
		e.mu.Unlock()
		return nil
	}
	e.lastChainAdvance = now
	e.mu.Unlock()

	for {
		best := e.chain.BestBlock()
		next := best.Height + 1

		e.mu.Lock()
		hash, ok := e.heightToHash[next]
		e.mu.Unlock()
		if !ok {
			return nil
		}

		switch {
		case e.chain.HasBlock(hash):
			if err := e.chain.SetBestChain(hash); err != nil {
				return err
			}
		case e.chain.HasOrphan(hash):
			if err := e.chain.AcceptOrphan(hash); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
