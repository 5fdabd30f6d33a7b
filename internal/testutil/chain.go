package testutil

import (
	"testing"
	"time"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/storage"
	"github.com/tolelom/hilochain/vm"
	"github.com/tolelom/hilochain/wallet"
)

// ChainID is the chain id test wallets sign for.
const ChainID = "hilo-test"

// GenesisTime is the block time a Chain starts at: 2024-01-01T00:00:00Z.
var GenesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

// Chain executes transactions one per block against an in-memory state so
// module tests can drive handlers through the real executor.
type Chain struct {
	t      testing.TB
	State  *storage.StateDB
	Exec   *vm.Executor
	Events []events.Event
	Height int64
	Now    int64 // timestamp of the next block
	nonces map[string]uint64
}

// NewChain returns a Chain at GenesisTime recording every emitted event.
func NewChain(t testing.TB, opts ...vm.Option) *Chain {
	t.Helper()
	c := &Chain{
		t:      t,
		State:  NewStateDB(),
		Now:    GenesisTime,
		nonces: make(map[string]uint64),
	}
	emitter := events.NewEmitter()
	emitter.SubscribeAll(func(ev events.Event) { c.Events = append(c.Events, ev) })
	c.Exec = vm.NewExecutor(c.State, emitter, opts...)
	return c
}

// Wallet returns a fresh funded wallet.
func (c *Chain) Wallet() *wallet.Wallet {
	c.t.Helper()
	w, err := wallet.Generate(ChainID)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.State.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1_000}); err != nil {
		c.t.Fatal(err)
	}
	return w
}

// Run signs the transaction built for w's next nonce and executes it in a
// new block at c.Now.
func (c *Chain) Run(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) error {
	c.t.Helper()
	tx, err := build(c.nonces[w.PubKey()])
	if err != nil {
		c.t.Fatalf("build tx: %v", err)
	}
	c.Height++
	block := core.NewBlock(c.Height, "test", w.PubKey(), core.DeriveBeacon(nil, c.Height), []*core.Transaction{tx})
	block.Header.Timestamp = c.Now
	if err := c.Exec.ExecuteTx(block, tx); err != nil {
		return err
	}
	c.nonces[w.PubKey()]++
	return nil
}

// MustRun is Run that fails the test on error.
func (c *Chain) MustRun(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) {
	c.t.Helper()
	if err := c.Run(w, build); err != nil {
		c.t.Fatalf("tx failed: %v", err)
	}
}

// Advance moves the clock for subsequent blocks.
func (c *Chain) Advance(d time.Duration) {
	c.Now += int64(d)
}

// EventsOf returns the recorded events of typ in emission order.
func (c *Chain) EventsOf(typ events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range c.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
