package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/oracle"
)

var (
	// ErrUnknownTxType is returned for a transaction no module handles.
	ErrUnknownTxType = errors.New("no handler registered for tx type")
	// ErrUnauthorized is returned when the sender lacks a required capability.
	ErrUnauthorized = errors.New("unauthorized")
)

// Capabilities checked by the modules.
const (
	CapAdmin    = "admin"
	CapOperator = "operator"
)

// OracleFactory builds the collaborator handles for the state a
// transaction executes against.
type OracleFactory func(state core.State) *oracle.Set

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, the per-transaction event
// batch, the collaborator handles and the game rules.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Events  events.Sink
	Oracles *oracle.Set
	Params  game.Params

	latch *phase.Latch
}

// Now returns the block timestamp in nanoseconds; all game clocks use it.
func (c *Context) Now() int64 { return c.Block.Header.Timestamp }

// Height returns the executing block's height.
func (c *Context) Height() int64 { return c.Block.Header.Height }

// Beacon returns the executing block's entropy beacon.
func (c *Context) Beacon() string { return c.Block.Header.Beacon }

// Event builds an event stamped with the current transaction and block.
func (c *Context) Event(typ events.EventType, data map[string]any) events.Event {
	return events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	}
}

// Enter latches the entry point op for the sender. The returned release
// must be deferred by the handler.
func (c *Context) Enter(op string) (func(), error) {
	if c.latch == nil {
		c.latch = phase.NewLatch()
	}
	return c.latch.Enter(op + ":" + c.Tx.From)
}

// Require fails with ErrUnauthorized unless the sender holds capability.
func (c *Context) Require(capability string) error {
	ok, err := HasCapability(c.State, c.Tx.From, capability)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s capability required", ErrUnauthorized, capability)
	}
	return nil
}

// HasCapability reports whether address was granted capability. Admins
// implicitly hold every capability.
func HasCapability(state core.State, address, capability string) (bool, error) {
	caps, err := state.GetCapabilities(address)
	if err != nil {
		return false, err
	}
	for _, c := range caps {
		if c == capability || c == CapAdmin {
			return true, nil
		}
	}
	return false, nil
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	oracles OracleFactory
	params  game.Params
	latch   *phase.Latch
}

// Option customises an Executor.
type Option func(*Executor)

// WithParams sets the game rules handlers see.
func WithParams(p game.Params) Option {
	return func(e *Executor) { e.params = p }
}

// WithOracles replaces the ledger-backed collaborators.
func WithOracles(f OracleFactory) Option {
	return func(e *Executor) { e.oracles = f }
}

// NewExecutor creates an Executor with the given state and event emitter.
// Without options it uses game.DefaultParams and oracle.LedgerSet.
func NewExecutor(state core.State, emitter *events.Emitter, opts ...Option) *Executor {
	e := &Executor{
		state:   state,
		emitter: emitter,
		oracles: oracle.LedgerSet,
		params:  game.DefaultParams(),
		latch:   phase.NewLatch(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// Failed pairs a rejected transaction with its reason.
type Failed struct {
	Tx  *core.Transaction
	Err error
}

// ApplyEach executes txs against block in order and returns the ones that
// applied. Rejected transactions leave no trace in state or events.
func (e *Executor) ApplyEach(block *core.Block, txs []*core.Transaction) (applied []*core.Transaction, failed []Failed) {
	for _, tx := range txs {
		if err := e.ExecuteTx(block, tx); err != nil {
			failed = append(failed, Failed{Tx: tx, Err: err})
			continue
		}
		applied = append(applied, tx)
	}
	return applied, failed
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
// Events raised by the handler are delivered to the emitter only if the
// transaction succeeds.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	var batch events.Batch
	if err := e.applyTx(block, tx, &batch); err != nil {
		batch.Discard()
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	batch.Emit(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	if e.emitter != nil {
		batch.Flush(e.emitter)
	}
	return nil
}

// applyTx deducts the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction, batch *events.Batch) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Events:  batch,
		Oracles: e.oracles(e.state),
		Params:  e.params,
		latch:   e.latch,
	}
	return dispatch(tx.Type, ctx, tx.Payload)
}
