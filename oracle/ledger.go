package oracle

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/tolelom/hilochain/core"
)

// ErrScoreOverflow is returned when a team score would exceed uint64.
var ErrScoreOverflow = errors.New("team score overflow")

// Ledger implements every collaborator interface over core.State. Its
// records are written by the economy module's operator grants.
type Ledger struct {
	state core.State
}

// NewLedger returns a Ledger reading and writing state.
func NewLedger(state core.State) *Ledger {
	return &Ledger{state: state}
}

// ---- Membership ----

func (l *Ledger) GetMembership(account string) (core.Membership, error) {
	m, err := l.state.GetMembership(account)
	if err != nil {
		return core.Membership{}, err
	}
	return *m, nil
}

func (l *Ledger) GetActiveMultiplierBoost(account string) (core.Boost, error) {
	b, err := l.state.GetBoost(account)
	if err != nil {
		return core.Boost{}, err
	}
	return *b, nil
}

func (l *Ledger) GetExtraCredits(account string) (uint64, error) {
	inv, err := l.state.GetInventory(account)
	if err != nil {
		return 0, err
	}
	return inv.ExtraCredits, nil
}

// ---- Credits ----

func (l *Ledger) ConsumeExtraCredit(account string, n uint64) (bool, error) {
	return l.consume(account, func(inv *core.Inventory) bool {
		if inv.ExtraCredits < n {
			return false
		}
		inv.ExtraCredits -= n
		return true
	})
}

func (l *Ledger) SkipTokens(account string) (uint64, error) {
	inv, err := l.state.GetInventory(account)
	if err != nil {
		return 0, err
	}
	return inv.SkipTokens, nil
}

func (l *Ledger) ConsumeSkipToken(account string, n uint64) (bool, error) {
	return l.consume(account, func(inv *core.Inventory) bool {
		if inv.SkipTokens < n {
			return false
		}
		inv.SkipTokens -= n
		return true
	})
}

func (l *Ledger) HasStreakProtection(account string) (bool, error) {
	inv, err := l.state.GetInventory(account)
	if err != nil {
		return false, err
	}
	return inv.StreakProtection, nil
}

func (l *Ledger) ConsumeStreakProtection(account string) error {
	_, err := l.consume(account, func(inv *core.Inventory) bool {
		inv.StreakProtection = false
		return true
	})
	return err
}

// consume loads the inventory, applies take and persists it when take
// reports success.
func (l *Ledger) consume(account string, take func(*core.Inventory) bool) (bool, error) {
	inv, err := l.state.GetInventory(account)
	if err != nil {
		return false, err
	}
	if !take(inv) {
		return false, nil
	}
	return true, l.state.SetInventory(inv)
}

// ---- Batch ----

func (l *Ledger) GetBatchCapability(account string) (core.BatchCapability, error) {
	c, err := l.state.GetBatchCapability(account)
	if err != nil {
		return core.BatchCapability{}, err
	}
	return *c, nil
}

func (l *Ledger) ConsumeBatchUse(account string) (bool, error) {
	c, err := l.state.GetBatchCapability(account)
	if err != nil {
		return false, err
	}
	if c.RemainingUses == 0 {
		return false, nil
	}
	c.RemainingUses--
	return true, l.state.SetBatchCapability(c)
}

// ---- Teams ----

func (l *Ledger) GetTeamOf(account string) (string, error) {
	return l.state.GetTeamOf(account)
}

func (l *Ledger) AddMatchScore(teamID string, points uint64) error {
	if teamID == "" {
		return errors.New("team id required")
	}
	t, err := l.state.GetTeamScore(teamID)
	if err != nil {
		return err
	}
	if t.Score > math.MaxUint64-points {
		return fmt.Errorf("%w: team %q", ErrScoreOverflow, teamID)
	}
	t.Score += points
	return l.state.SetTeamScore(t)
}

// GetTopTeams walks the team registry; ties keep registration order.
func (l *Ledger) GetTopTeams(n int) ([]core.TeamScore, error) {
	count, err := l.state.TeamCount()
	if err != nil {
		return nil, err
	}
	teams := make([]core.TeamScore, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := l.state.TeamAt(i)
		if err != nil {
			return nil, fmt.Errorf("team index %d: %w", i, err)
		}
		t, err := l.state.GetTeamScore(id)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].Score > teams[j].Score })
	if n >= 0 && len(teams) > n {
		teams = teams[:n]
	}
	return teams, nil
}

// ---- Reactions ----

func (l *Ledger) HasReaction(account, itemID string) (bool, error) {
	inv, err := l.state.GetInventory(account)
	if err != nil {
		return false, err
	}
	return inv.Reactions[itemID] > 0, nil
}

func (l *Ledger) ConsumeReaction(account, itemID string) (bool, error) {
	return l.consume(account, func(inv *core.Inventory) bool {
		if inv.Reactions[itemID] == 0 {
			return false
		}
		inv.Reactions[itemID]--
		if inv.Reactions[itemID] == 0 {
			delete(inv.Reactions, itemID)
		}
		return true
	})
}
