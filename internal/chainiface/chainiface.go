// Package chainiface declares the `chain` collaborator interface the sync
// engine consumes (spec.md §6). Validation, persistent storage, and
// consensus rule enforcement live outside this module's scope; this
// package is only the boundary.
package chainiface

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// BestBlock identifies the chain's current tip.
type BestBlock struct {
	Height int32
	Hash   chainhash.Hash
}

// Chain is the external collaborator spec.md §6 names: is_initial_block_
// download, best_block, read_block, set_best_chain, block_index,
// orphan_blocks, accept_block.
type Chain interface {
	IsInitialBlockDownload() bool
	BestBlock() BestBlock
	HasBlock(hash chainhash.Hash) bool
	HasOrphan(hash chainhash.Hash) bool
	SetBestChain(hash chainhash.Hash) error
	AcceptOrphan(hash chainhash.Hash) error

	// HardenedSyncPoints returns the externally supplied checkpoint set
	// (spec.md §3/§4.8) the sync engine anchors its slot table on.
	HardenedSyncPoints() map[int32]chainhash.Hash
}
