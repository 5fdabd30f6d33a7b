package session

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/vm"
)

// BatchSummary aggregates the outcomes of one batch guess.
type BatchSummary struct {
	Count     int    `json:"count"`
	Wins      int    `json:"wins"`
	Ties      int    `json:"ties"`
	Losses    int    `json:"losses"`
	SuitMiss  int    `json:"suit_misses"`
	Points    uint64 `json:"points"` // rewards and achievement bonuses
	Penalties uint64 `json:"penalties"`
}

func (s *BatchSummary) add(out Outcome) {
	s.Count++
	switch {
	case out.Win:
		s.Wins++
	case out.Tie:
		s.Ties++
	default:
		s.Losses++
	}
	if out.SuitMiss {
		s.SuitMiss++
	}
	s.Points += out.Points + out.Bonus
	s.Penalties += out.Penalty
}

func handleBatchGuess(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BatchGuessPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode game_batch_guess payload: %w", err)
	}
	release, err := ctx.Enter("game_batch_guess")
	if err != nil {
		return err
	}
	defer release()

	var (
		e       *engine
		results []Outcome
		summary BatchSummary
	)
	return phase.Run("game_batch_guess", phase.Steps{
		Validate: func() error {
			n := len(p.Kinds)
			if n == 0 || n > ctx.Params.MaxBatchSize {
				return fmt.Errorf("%w: %d predictions, want 1..%d", ErrBatchShape, n, ctx.Params.MaxBatchSize)
			}
			if len(p.Suits) != n {
				return fmt.Errorf("%w: %d kinds but %d suits", ErrBatchShape, n, len(p.Suits))
			}
			if e, err = load(ctx); err != nil {
				return err
			}
			bc, err := ctx.Oracles.Batch.GetBatchCapability(e.acct)
			if err != nil {
				return err
			}
			if bc.ExpiresAt != 0 && ctx.Now() >= bc.ExpiresAt {
				return fmt.Errorf("%w: expired", ErrNoBatchCapability)
			}
			if bc.RemainingUses < uint64(n) {
				return fmt.Errorf("%w: %d uses left, %d needed", ErrNoBatchCapability, bc.RemainingUses, n)
			}
			return e.validate(p.Kinds, p.Suits, p.UseSkip)
		},
		Mutate: func(g *phase.Guard) error {
			for i, kind := range p.Kinds {
				out, err := e.play(g, kind, p.Suits[i], p.UseSkip)
				if err != nil {
					return fmt.Errorf("prediction %d: %w", i, err)
				}
				results = append(results, out)
				summary.add(out)
			}
			for range results {
				ok, err := ctx.Oracles.Batch.ConsumeBatchUse(e.acct)
				if err != nil {
					return err
				}
				if !ok {
					return ErrNoBatchCapability
				}
			}
			return e.save(g)
		},
		Notify: func(g *phase.Guard) error {
			for _, out := range results {
				if err := e.publish(g, out); err != nil {
					return err
				}
			}
			return g.Emit(ctx.Events, ctx.Event(events.EventBatchCompleted, map[string]any{
				"player":  e.acct,
				"summary": summary,
				"streak":  e.player.Streak,
				"total":   e.player.Points,
			}))
		},
	})
}
