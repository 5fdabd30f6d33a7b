package battle

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/game/predict"
	"github.com/tolelom/hilochain/vm"
)

// expire resolves a detected timeout. g must be in Mutate.
func expire(g *phase.Guard, ctx *vm.Context, b *core.Battle, to Timeout) error {
	return finish(g, ctx, b, core.BattleExpired, to.Winner)
}

func expiredEvent(ctx *vm.Context, b *core.Battle, to Timeout) events.Event {
	return endedEvent(ctx, events.EventMatchExpired, b, map[string]any{"reason": to.Reason})
}

func handlePlay(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BattlePlayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battle_play payload: %w", err)
	}
	release, err := ctx.Enter("battle_play")
	if err != nil {
		return err
	}
	defer release()

	from := ctx.Tx.From
	var (
		b        *core.Battle
		timeout  Timeout
		timedOut bool
		round    *Round
		moveNo   int
	)
	return phase.Run("battle_play", phase.Steps{
		Validate: func() error {
			if b, err = loadBattle(ctx, p.BattleID); err != nil {
				return err
			}
			if err := requireParticipant(b, from); err != nil {
				return err
			}
			if err := requireStatus(b, core.BattleActive); err != nil {
				return err
			}
			if timeout, timedOut = CheckTimeout(b, ctx.Now(), ctx.Params); timedOut {
				return nil
			}
			if !predict.ValidKind(p.Kind) || !predict.ValidSuit(p.Suit) {
				return fmt.Errorf("%w: kind %d suit %d", ErrInvalidMove, p.Kind, p.Suit)
			}
			if Due(b) != from {
				return ErrNotYourTurn
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			if timedOut {
				return expire(g, ctx, b, timeout)
			}
			move := core.Move{Kind: p.Kind, Suit: p.Suit}
			if from == b.Challenger {
				b.ChallengerMove, b.ChallengerPlayed = move, true
			} else {
				b.OpponentMove, b.OpponentPlayed = move, true
			}
			b.LastMoveAt = ctx.Now()
			moveNo = b.Rounds + 1
			if b.ChallengerPlayed && b.OpponentPlayed {
				r, err := resolveRound(b, ctx.Height())
				if err != nil {
					return err
				}
				round = &r
				if b.Rounds >= ctx.Params.BattleRounds {
					return finish(g, ctx, b, core.BattleCompleted, Leader(b))
				}
			}
			return g.Apply(func() error { return ctx.State.SetBattle(b) })
		},
		Notify: func(g *phase.Guard) error {
			if timedOut {
				return g.Emit(ctx.Events, expiredEvent(ctx, b, timeout))
			}
			if err := g.Emit(ctx.Events, ctx.Event(events.EventMoveSubmitted, map[string]any{
				"battle_id": b.ID,
				"player":    from,
				"round":     moveNo,
			})); err != nil {
				return err
			}
			if round == nil {
				return nil
			}
			if err := g.Emit(ctx.Events, ctx.Event(events.EventRoundCompleted, map[string]any{
				"battle_id":        b.ID,
				"round":            round.Number,
				"base":             round.Base,
				"drawn":            round.Drawn,
				"challenger_delta": round.ChallengerScore,
				"opponent_delta":   round.OpponentScore,
				"challenger_score": b.ChallengerScore,
				"opponent_score":   b.OpponentScore,
			})); err != nil {
				return err
			}
			if b.Status == core.BattleCompleted {
				return g.Emit(ctx.Events, endedEvent(ctx, events.EventMatchCompleted, b, nil))
			}
			return nil
		},
	})
}

func handleClaimTimeout(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BattleRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battle_claim_timeout payload: %w", err)
	}
	release, err := ctx.Enter("battle_claim_timeout")
	if err != nil {
		return err
	}
	defer release()

	var (
		b       *core.Battle
		timeout Timeout
	)
	return phase.Run("battle_claim_timeout", phase.Steps{
		Validate: func() error {
			if b, err = loadBattle(ctx, p.BattleID); err != nil {
				return err
			}
			if err := requireParticipant(b, ctx.Tx.From); err != nil {
				return err
			}
			if err := requireStatus(b, core.BattleActive); err != nil {
				return err
			}
			var ok bool
			if timeout, ok = CheckTimeout(b, ctx.Now(), ctx.Params); !ok {
				return ErrNoTimeout
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			return expire(g, ctx, b, timeout)
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, expiredEvent(ctx, b, timeout))
		},
	})
}

func handleReact(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BattleReactPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battle_react payload: %w", err)
	}
	release, err := ctx.Enter("battle_react")
	if err != nil {
		return err
	}
	defer release()

	from := ctx.Tx.From
	var b *core.Battle
	return phase.Run("battle_react", phase.Steps{
		Validate: func() error {
			if p.ItemID == "" {
				return fmt.Errorf("%w: item id required", ErrNoReaction)
			}
			if b, err = loadBattle(ctx, p.BattleID); err != nil {
				return err
			}
			if err := requireParticipant(b, from); err != nil {
				return err
			}
			if err := requireStatus(b, core.BattleCompleted); err != nil {
				return err
			}
			held, err := ctx.Oracles.Reactions.HasReaction(from, p.ItemID)
			if err != nil {
				return err
			}
			if !held {
				return fmt.Errorf("%w: %s", ErrNoReaction, p.ItemID)
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			ok, err := ctx.Oracles.Reactions.ConsumeReaction(from, p.ItemID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrNoReaction, p.ItemID)
			}
			return nil
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventReactionSent, map[string]any{
				"battle_id": b.ID,
				"from":      from,
				"to":        Other(b, from),
				"item_id":   p.ItemID,
			}))
		},
	})
}
