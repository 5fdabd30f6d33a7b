package vm_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/internal/testutil"
	"github.com/tolelom/hilochain/vm"
	"github.com/tolelom/hilochain/wallet"
)

const (
	txTestEmit      core.TxType = "test_emit"
	txTestEmitFail  core.TxType = "test_emit_fail"
	txTestReentrant core.TxType = "test_reentrant"
)

var errTestFail = errors.New("handler failed")

func init() {
	vm.Register(txTestEmit, func(ctx *vm.Context, _ json.RawMessage) error {
		_ = ctx.State.SetAccount(&core.Account{Address: "marker", Balance: 1})
		ctx.Events.Emit(ctx.Event(events.EventGameStarted, nil))
		return nil
	})
	vm.Register(txTestEmitFail, func(ctx *vm.Context, _ json.RawMessage) error {
		_ = ctx.State.SetAccount(&core.Account{Address: "marker", Balance: 1})
		ctx.Events.Emit(ctx.Event(events.EventGameStarted, nil))
		return errTestFail
	})
	vm.Register(txTestReentrant, func(ctx *vm.Context, _ json.RawMessage) error {
		release, err := ctx.Enter("op")
		if err != nil {
			return err
		}
		defer release()
		_, err = ctx.Enter("op")
		return err
	})
}

func setup(t *testing.T) (*vm.Executor, *events.Emitter, *wallet.Wallet, core.State, *[]events.EventType) {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	var seen []events.EventType
	emitter.SubscribeAll(func(ev events.Event) { seen = append(seen, ev.Type) })
	w, err := wallet.Generate("hilo-test")
	if err != nil {
		t.Fatal(err)
	}
	if err := state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 100}); err != nil {
		t.Fatal(err)
	}
	return vm.NewExecutor(state, emitter), emitter, w, state, &seen
}

func testBlock(w *wallet.Wallet) *core.Block {
	return core.NewBlock(1, "0000", w.PubKey(), core.DeriveBeacon(nil, 1), nil)
}

func TestExecutorFlushesEventsOnSuccess(t *testing.T) {
	exec, _, w, state, seen := setup(t)
	tx, _ := w.NewTx(txTestEmit, 0, 0, struct{}{})
	if err := exec.ExecuteTx(testBlock(w), tx); err != nil {
		t.Fatalf("ExecuteTx: %v", err)
	}
	if len(*seen) != 2 || (*seen)[0] != events.EventGameStarted || (*seen)[1] != events.EventTxExecuted {
		t.Errorf("events: got %v", *seen)
	}
	acc, _ := state.GetAccount("marker")
	if acc.Balance != 1 {
		t.Error("handler write not applied")
	}
}

func TestExecutorRollbackDiscardsEvents(t *testing.T) {
	exec, _, w, state, seen := setup(t)
	tx, _ := w.NewTx(txTestEmitFail, 0, 0, struct{}{})
	if err := exec.ExecuteTx(testBlock(w), tx); !errors.Is(err, errTestFail) {
		t.Fatalf("got %v want errTestFail", err)
	}
	if len(*seen) != 0 {
		t.Errorf("events leaked from a reverted tx: %v", *seen)
	}
	acc, _ := state.GetAccount("marker")
	if acc.Balance != 0 {
		t.Error("handler write survived rollback")
	}
	sender, _ := state.GetAccount(w.PubKey())
	if sender.Nonce != 0 {
		t.Errorf("nonce: got %d want 0 after rollback", sender.Nonce)
	}
}

func TestNonceReplay(t *testing.T) {
	exec, _, w, _, _ := setup(t)
	block := testBlock(w)
	tx, _ := w.NewTx(txTestEmit, 0, 0, struct{}{})
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("first tx: %v", err)
	}
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("replay should fail due to nonce mismatch")
	}
}

func TestUnknownTxType(t *testing.T) {
	exec, _, w, _, _ := setup(t)
	tx, _ := w.NewTx("no_such_type", 0, 0, struct{}{})
	if err := exec.ExecuteTx(testBlock(w), tx); !errors.Is(err, vm.ErrUnknownTxType) {
		t.Errorf("got %v want ErrUnknownTxType", err)
	}
}

func TestReentryRejected(t *testing.T) {
	exec, _, w, _, _ := setup(t)
	tx, _ := w.NewTx(txTestReentrant, 0, 0, struct{}{})
	if err := exec.ExecuteTx(testBlock(w), tx); !errors.Is(err, phase.ErrReentrant) {
		t.Errorf("got %v want ErrReentrant", err)
	}
}

func TestApplyEachSkipsFailures(t *testing.T) {
	exec, _, w, _, _ := setup(t)
	ok0, _ := w.NewTx(txTestEmit, 0, 0, struct{}{})
	bad, _ := w.NewTx(txTestEmitFail, 1, 0, struct{}{})
	ok1, _ := w.NewTx(txTestEmit, 1, 0, struct{}{})
	applied, failed := exec.ApplyEach(testBlock(w), []*core.Transaction{ok0, bad, ok1})
	if len(applied) != 2 || applied[0] != ok0 || applied[1] != ok1 {
		t.Errorf("applied: %d txs", len(applied))
	}
	if len(failed) != 1 || failed[0].Tx != bad {
		t.Errorf("failed: %+v", failed)
	}
}

func TestHasCapability(t *testing.T) {
	state := testutil.NewStateDB()
	_ = state.SetCapabilities("op", []string{vm.CapOperator})
	_ = state.SetCapabilities("root", []string{vm.CapAdmin})
	cases := []struct {
		addr, capability string
		want             bool
	}{
		{"op", vm.CapOperator, true},
		{"op", vm.CapAdmin, false},
		{"root", vm.CapOperator, true},
		{"nobody", vm.CapOperator, false},
	}
	for _, c := range cases {
		got, err := vm.HasCapability(state, c.addr, c.capability)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("%s/%s: got %v want %v", c.addr, c.capability, got, c.want)
		}
	}
}
