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

// Grant validation errors.
var (
	ErrUnknownGrant = errors.New("unknown grant kind")
	ErrBadGrant     = errors.New("invalid grant")
)

// expiry converts a grant duration to an absolute block time. Zero means
// the grant never expires; boosts are rejected without one.
func expiry(now, duration int64) int64 {
	if duration <= 0 {
		return 0
	}
	if now > math.MaxInt64-duration {
		return math.MaxInt64
	}
	return now + duration
}

func addCapped(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: amount overflow", ErrBadGrant)
	}
	return a + b, nil
}

func validateGrant(p core.GrantPayload) error {
	if p.To == "" {
		return fmt.Errorf("%w: recipient required", ErrBadGrant)
	}
	switch p.Kind {
	case core.GrantMembership:
		if p.Tier == core.TierNone || p.Tier > core.TierPro {
			return fmt.Errorf("%w: tier %d", ErrBadGrant, p.Tier)
		}
	case core.GrantBoost:
		if p.Amount < 10 {
			return fmt.Errorf("%w: boost multiplier x10 must be >= 10", ErrBadGrant)
		}
		if p.Duration <= 0 {
			return fmt.Errorf("%w: boost needs a duration", ErrBadGrant)
		}
	case core.GrantCredits, core.GrantSkipTokens, core.GrantBatch:
		if p.Amount == 0 {
			return fmt.Errorf("%w: %s amount must be > 0", ErrBadGrant, p.Kind)
		}
	case core.GrantReaction:
		if p.ItemID == "" || p.Amount == 0 {
			return fmt.Errorf("%w: reaction needs item id and amount", ErrBadGrant)
		}
	case core.GrantTeam:
		if p.TeamID == "" {
			return fmt.Errorf("%w: team id required", ErrBadGrant)
		}
	case core.GrantStreakProtection:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownGrant, p.Kind)
	}
	if p.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrBadGrant)
	}
	return nil
}

// applyGrant writes one collaborator record for p.To.
func applyGrant(state core.State, p core.GrantPayload, now int64) error {
	switch p.Kind {
	case core.GrantMembership:
		return state.SetMembership(&core.Membership{
			Address:     p.To,
			Tier:        p.Tier,
			PurchasedAt: now,
			ExpiresAt:   expiry(now, p.Duration),
		})
	case core.GrantBoost:
		return state.SetBoost(&core.Boost{
			Address:       p.To,
			MultiplierX10: p.Amount,
			ExpiresAt:     expiry(now, p.Duration),
		})
	case core.GrantBatch:
		c, err := state.GetBatchCapability(p.To)
		if err != nil {
			return err
		}
		if c.RemainingUses, err = addCapped(c.RemainingUses, p.Amount); err != nil {
			return err
		}
		c.ExpiresAt = expiry(now, p.Duration)
		return state.SetBatchCapability(c)
	case core.GrantTeam:
		return state.SetTeamOf(p.To, p.TeamID)
	}

	inv, err := state.GetInventory(p.To)
	if err != nil {
		return err
	}
	switch p.Kind {
	case core.GrantCredits:
		inv.ExtraCredits, err = addCapped(inv.ExtraCredits, p.Amount)
	case core.GrantSkipTokens:
		inv.SkipTokens, err = addCapped(inv.SkipTokens, p.Amount)
	case core.GrantStreakProtection:
		inv.StreakProtection = true
	case core.GrantReaction:
		inv.Reactions[p.ItemID], err = addCapped(inv.Reactions[p.ItemID], p.Amount)
	}
	if err != nil {
		return err
	}
	return state.SetInventory(inv)
}

func handleGrant(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GrantPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode grant payload: %w", err)
	}
	return phase.Run("grant", phase.Steps{
		Validate: func() error {
			if err := ctx.Require(vm.CapOperator); err != nil {
				return err
			}
			return validateGrant(p)
		},
		Mutate: func(g *phase.Guard) error {
			return g.Apply(func() error { return applyGrant(ctx.State, p, ctx.Now()) })
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventGrant, map[string]any{
				"kind":     p.Kind,
				"to":       p.To,
				"operator": ctx.Tx.From,
				"amount":   p.Amount,
			}))
		},
	})
}

func handleGrantCapability(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GrantCapabilityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode grant_capability payload: %w", err)
	}
	var caps []string
	return phase.Run("grant_capability", phase.Steps{
		Validate: func() error {
			if err := ctx.Require(vm.CapAdmin); err != nil {
				return err
			}
			if p.To == "" || p.Capability == "" {
				return fmt.Errorf("%w: recipient and capability required", ErrBadGrant)
			}
			var err error
			caps, err = ctx.State.GetCapabilities(p.To)
			return err
		},
		Mutate: func(g *phase.Guard) error {
			for _, c := range caps {
				if c == p.Capability {
					return nil
				}
			}
			return g.Apply(func() error {
				return ctx.State.SetCapabilities(p.To, append(caps, p.Capability))
			})
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventCapability, map[string]any{
				"to":         p.To,
				"capability": p.Capability,
				"by":         ctx.Tx.From,
			}))
		},
	})
}
