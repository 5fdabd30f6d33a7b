// Package economy registers the token and operator ledger handlers:
// native transfers, collaborator grants and capability grants.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/vm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
	vm.Register(core.TxGrant, handleGrant)
	vm.Register(core.TxGrantCapability, handleGrantCapability)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}

	var sender, recipient *core.Account
	return phase.Run("transfer", phase.Steps{
		Validate: func() error {
			if p.Amount == 0 {
				return fmt.Errorf("transfer amount must be > 0")
			}
			if p.To == "" {
				return fmt.Errorf("transfer to address required")
			}
			if p.To == ctx.Tx.From {
				return fmt.Errorf("cannot transfer to self")
			}
			var err error
			if sender, err = ctx.State.GetAccount(ctx.Tx.From); err != nil {
				return err
			}
			if sender.Balance < p.Amount {
				return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, p.Amount)
			}
			if recipient, err = ctx.State.GetAccount(p.To); err != nil {
				return err
			}
			if recipient.Balance > math.MaxUint64-p.Amount {
				return ErrBalanceOverflow
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			return g.Apply(func() error {
				sender.Balance -= p.Amount
				if err := ctx.State.SetAccount(sender); err != nil {
					return err
				}
				recipient.Balance += p.Amount
				return ctx.State.SetAccount(recipient)
			})
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventTokenTransfer, map[string]any{
				"from":   ctx.Tx.From,
				"to":     p.To,
				"amount": p.Amount,
			}))
		},
	})
}
