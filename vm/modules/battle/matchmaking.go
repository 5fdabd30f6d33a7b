package battle

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game/deck"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/vm"
)

// deckOwner namespaces battle deck seeds away from session decks.
const deckOwner = "battle"

// create stores a new pending battle and marks both sides as engaged.
// Either side is dropped from the matchmaking pool. g must be in Mutate.
func create(g *phase.Guard, ctx *vm.Context, challenger, opponent string) (*core.Battle, error) {
	if err := g.Check(phase.Mutate); err != nil {
		return nil, err
	}
	id, err := ctx.State.NextBattleID()
	if err != nil {
		return nil, err
	}
	b := &core.Battle{
		ID:         id,
		Challenger: challenger,
		Opponent:   opponent,
		Status:     core.BattlePending,
		CreatedAt:  ctx.Now(),
	}
	if err := ctx.State.SetBattle(b); err != nil {
		return nil, err
	}
	for _, addr := range []string{challenger, opponent} {
		if err := ctx.State.SetOpenBattle(addr, id); err != nil {
			return nil, err
		}
	}
	pool, err := ctx.State.GetMatchPool()
	if err != nil {
		return nil, err
	}
	if pool.Contains(challenger) || pool.Contains(opponent) {
		pool.Remove(challenger)
		pool.Remove(opponent)
		if err := ctx.State.SetMatchPool(pool); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func createdEvent(ctx *vm.Context, b *core.Battle, via string) events.Event {
	return ctx.Event(events.EventMatchCreated, map[string]any{
		"battle_id":  b.ID,
		"challenger": b.Challenger,
		"opponent":   b.Opponent,
		"via":        via,
	})
}

func handleChallenge(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ChallengePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battle_challenge payload: %w", err)
	}
	release, err := ctx.Enter("battle_challenge")
	if err != nil {
		return err
	}
	defer release()

	from := ctx.Tx.From
	var b *core.Battle
	return phase.Run("battle_challenge", phase.Steps{
		Validate: func() error {
			if p.Opponent == "" {
				return fmt.Errorf("%w: opponent required", ErrInvalidMove)
			}
			if p.Opponent == from {
				return ErrSelfChallenge
			}
			if err := requireNoOpenBattle(ctx, from); err != nil {
				return err
			}
			return requireNoOpenBattle(ctx, p.Opponent)
		},
		Mutate: func(g *phase.Guard) error {
			b, err = create(g, ctx, from, p.Opponent)
			return err
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, createdEvent(ctx, b, "challenge"))
		},
	})
}

func handleCancel(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BattleRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battle_cancel payload: %w", err)
	}
	release, err := ctx.Enter("battle_cancel")
	if err != nil {
		return err
	}
	defer release()

	var b *core.Battle
	return phase.Run("battle_cancel", phase.Steps{
		Validate: func() error {
			if b, err = loadBattle(ctx, p.BattleID); err != nil {
				return err
			}
			if err := requireParticipant(b, ctx.Tx.From); err != nil {
				return err
			}
			return requireStatus(b, core.BattlePending)
		},
		Mutate: func(g *phase.Guard) error {
			return finish(g, ctx, b, core.BattleCancelled, "")
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventMatchCancelled, map[string]any{
				"battle_id": b.ID,
				"by":        ctx.Tx.From,
			}))
		},
	})
}

func handleAccept(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BattleRefPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode battle_accept payload: %w", err)
	}
	release, err := ctx.Enter("battle_accept")
	if err != nil {
		return err
	}
	defer release()

	var b *core.Battle
	return phase.Run("battle_accept", phase.Steps{
		Validate: func() error {
			if b, err = loadBattle(ctx, p.BattleID); err != nil {
				return err
			}
			if err := requireStatus(b, core.BattlePending); err != nil {
				return err
			}
			if ctx.Tx.From != b.Opponent {
				return ErrNotInvited
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			seed := deck.NewSeed(ctx.Beacon(), ctx.Height(), deckOwner, b.ID)
			b.Deck = deck.New(seed)
			first, err := deck.Draw(&b.Deck, ctx.Height())
			if err != nil {
				return err
			}
			b.CurrentCard = first
			b.Status = core.BattleActive
			b.StartedAt = ctx.Now()
			b.LastMoveAt = ctx.Now()
			return g.Apply(func() error { return ctx.State.SetBattle(b) })
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventMatchStarted, map[string]any{
				"battle_id":  b.ID,
				"challenger": b.Challenger,
				"opponent":   b.Opponent,
				"card":       b.CurrentCard,
			}))
		},
	})
}

// ---- matchmaking pool ----

func handleJoinQueue(ctx *vm.Context, _ json.RawMessage) error {
	release, err := ctx.Enter("battle_join_queue")
	if err != nil {
		return err
	}
	defer release()

	from := ctx.Tx.From
	var pool *core.MatchPool
	return phase.Run("battle_join_queue", phase.Steps{
		Validate: func() error {
			if pool, err = ctx.State.GetMatchPool(); err != nil {
				return err
			}
			if pool.Contains(from) {
				return ErrAlreadyQueued
			}
			return requireNoOpenBattle(ctx, from)
		},
		Mutate: func(g *phase.Guard) error {
			pool.Members = append(pool.Members, from)
			return g.Apply(func() error { return ctx.State.SetMatchPool(pool) })
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventQueueJoined, map[string]any{
				"player": from,
				"size":   len(pool.Members),
			}))
		},
	})
}

func handleLeaveQueue(ctx *vm.Context, _ json.RawMessage) error {
	release, err := ctx.Enter("battle_leave_queue")
	if err != nil {
		return err
	}
	defer release()

	from := ctx.Tx.From
	var pool *core.MatchPool
	return phase.Run("battle_leave_queue", phase.Steps{
		Validate: func() error {
			if pool, err = ctx.State.GetMatchPool(); err != nil {
				return err
			}
			if !pool.Contains(from) {
				return ErrNotQueued
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			pool.Remove(from)
			return g.Apply(func() error { return ctx.State.SetMatchPool(pool) })
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventQueueLeft, map[string]any{
				"player": from,
				"size":   len(pool.Members),
			}))
		},
	})
}

// PickOpponent chooses a pool member other than caller from the block
// beacon. candidates must not contain caller and must be non-empty.
func PickOpponent(beacon string, height int64, caller string, candidates []string) string {
	h := crypto.HashParts([]byte(beacon), crypto.Uint64Bytes(uint64(height)), []byte(caller))
	idx := binary.BigEndian.Uint64(h[:8]) % uint64(len(candidates))
	return candidates[idx]
}

func handleFindOpponent(ctx *vm.Context, _ json.RawMessage) error {
	release, err := ctx.Enter("battle_find_opponent")
	if err != nil {
		return err
	}
	defer release()

	from := ctx.Tx.From
	var (
		others []string
		b      *core.Battle
	)
	return phase.Run("battle_find_opponent", phase.Steps{
		Validate: func() error {
			pool, err := ctx.State.GetMatchPool()
			if err != nil {
				return err
			}
			if !pool.Contains(from) {
				return ErrNotQueued
			}
			for _, m := range pool.Members {
				if m != from {
					others = append(others, m)
				}
			}
			if len(others) == 0 {
				return ErrQueueTooSmall
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			opponent := PickOpponent(ctx.Beacon(), ctx.Height(), from, others)
			b, err = create(g, ctx, from, opponent)
			return err
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, createdEvent(ctx, b, "queue"))
		},
	})
}
