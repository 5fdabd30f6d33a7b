// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tolelom/hilochain/config"
	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/internal/logger"
	"github.com/tolelom/hilochain/vm"
)

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     *slog.Logger

	// mu serialises block production against state readers.
	mu  sync.RWMutex
	now func() time.Time
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *PoA {
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		log:     logger.For("consensus"),
		now:     time.Now,
	}
}

// ReadLocker returns a lock readers of the shared state must hold while
// block production could be mutating it.
func (p *PoA) ReadLocker() sync.Locker { return p.mu.RLocker() }

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// ProduceBlock builds, executes, signs and commits the next block.
// Pending transactions that fail are left out of the block and dropped from
// the mempool.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	pending := p.mempool.Pending(limit)

	tip := p.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	block := core.NewBlock(nextHeight, prevHash, p.pubKey.Hex(), p.bc.NextBeacon(), nil)
	block.Header.Timestamp = p.now().UnixNano()
	if tip != nil && block.Header.Timestamp <= tip.Header.Timestamp {
		block.Header.Timestamp = tip.Header.Timestamp + 1
	}

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	applied, failed := p.exec.ApplyEach(block, pending)
	for _, f := range failed {
		p.log.Info("dropping transaction", "tx", f.Tx.ID, "type", f.Tx.Type, "err", f.Err)
	}
	block.Transactions = applied
	block.Header.TxRoot = core.ComputeTxRoot(applied)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if revErr := p.state.RevertToSnapshot(snap); revErr != nil {
			p.log.Error("revert after failed block", "height", nextHeight, "err", revErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		p.log.Error("block stored but state commit failed", "height", block.Header.Height, "err", err)
		os.Exit(1)
	}

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "dropped": len(failed)},
	})

	txIDs := make([]string, 0, len(pending))
	for _, tx := range pending {
		txIDs = append(txIDs, tx.ID)
	}
	p.mempool.Remove(txIDs)

	return block, nil
}

// ValidateBlock checks that block was proposed by the expected validator
// and carries the beacon chained from the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if block.Header.TxRoot != core.ComputeTxRoot(block.Transactions) {
		return errors.New("tx root mismatch")
	}

	if p.bc.Tip() == nil && !config.IsGenesisHash(block.Header.PrevHash) {
		return errors.New("first block must reference the genesis prev hash")
	}
	return p.bc.CheckNext(block)
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p.IsProposer() {
				if _, err := p.ProduceBlock(); err != nil {
					p.log.Warn("produce block failed", "err", err)
				}
			}
		}
	}
}
