package core

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when a requested object does not exist in storage.
	ErrNotFound = errors.New("not found")
	// ErrBadBeacon is returned when a block's beacon does not chain from its parent.
	ErrBadBeacon = errors.New("beacon mismatch")
	// ErrBadLink is returned when a block does not extend the current tip.
	ErrBadLink = errors.New("block does not extend tip")
)

// BlockStore persists blocks. Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	// CommitBlock writes the block, its height index and the tip pointer
	// atomically.
	CommitBlock(block *Block) error
}

// Blockchain tracks the canonical tip over a BlockStore. Every block after
// genesis must extend the tip and carry the beacon derived from it.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns an empty Blockchain; Init loads a persisted tip.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip, if any.
func (bc *Blockchain) Init() error {
	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block %s: %w", tipHash, err)
	}
	bc.mu.Lock()
	bc.tip = tip
	bc.mu.Unlock()
	return nil
}

// extends checks that block directly follows tip. A nil tip accepts any
// first block.
func extends(tip, block *Block) error {
	if tip == nil {
		return nil
	}
	h := block.Header
	switch {
	case h.Height != tip.Header.Height+1:
		return fmt.Errorf("%w: height %d after %d", ErrBadLink, h.Height, tip.Header.Height)
	case h.PrevHash != tip.Hash:
		return fmt.Errorf("%w: prev_hash %s, tip %s", ErrBadLink, h.PrevHash, tip.Hash)
	case h.Beacon != DeriveBeacon(tip, h.Height):
		return fmt.Errorf("%w at height %d", ErrBadBeacon, h.Height)
	}
	return nil
}

// CheckNext reports whether block would be accepted by AddBlock.
func (bc *Blockchain) CheckNext(block *Block) error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return extends(bc.tip, block)
}

// AddBlock persists block and advances the tip.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if err := extends(bc.tip, block); err != nil {
		return err
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// NextBeacon returns the beacon the next block must carry.
func (bc *Blockchain) NextBeacon() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return DeriveBeacon(bc.tip, bc.height()+1)
}

// Height returns the tip height, 0 for a fresh chain.
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height()
}

func (bc *Blockchain) height() int64 {
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}
