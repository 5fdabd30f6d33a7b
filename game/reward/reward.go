// Package reward computes the single-player points economy: membership
// multipliers, streak bonuses, the joker bonus and achievement milestones.
//
// Multipliers are fixed-point with one decimal: 15 means 1.5x.
package reward

import (
	"errors"
	"math"
	"math/bits"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/oracle"
)

// ErrPointsOverflow is returned instead of wrapping the points counter.
var ErrPointsOverflow = errors.New("points overflow")

const (
	BasicX10 = 15
	PlusX10  = 20
	ProX10   = 30

	// JokerFactor multiplies the reward of a correctly predicted joker.
	JokerFactor = 100

	baseWin     = 1
	baseSuitWin = 5
)

// Milestone is a consecutive-correct threshold and its one-time bonus.
type Milestone struct {
	Count uint64
	Bonus uint64
}

// Milestones are ordered by Count.
var Milestones = []Milestone{
	{Count: 5, Bonus: 5},
	{Count: 10, Bonus: 15},
	{Count: 20, Bonus: 50},
}

// streakBonuses is indexed by tier; each row is {>=5, >=10}.
var streakBonuses = map[core.MembershipTier][2]uint64{
	core.TierBasic: {1, 2},
	core.TierPlus:  {2, 3},
	core.TierPro:   {3, 5},
}

// EffectiveTier collapses missing and expired memberships to Basic.
// ExpiresAt == 0 never expires.
func EffectiveTier(m core.Membership, now int64) core.MembershipTier {
	if m.Tier == core.TierNone || m.Tier > core.TierPro {
		return core.TierBasic
	}
	if m.ExpiresAt != 0 && now >= m.ExpiresAt {
		return core.TierBasic
	}
	return m.Tier
}

// TierMultiplier returns the x10 multiplier for tier.
func TierMultiplier(tier core.MembershipTier) uint64 {
	switch tier {
	case core.TierPlus:
		return PlusX10
	case core.TierPro:
		return ProX10
	default:
		return BasicX10
	}
}

// Multiplier returns the tier multiplier plus any boost still active at now.
func Multiplier(m core.Membership, boost core.Boost, now int64) (uint64, error) {
	mult := TierMultiplier(EffectiveTier(m, now))
	if boost.MultiplierX10 > 0 && now < boost.ExpiresAt {
		return AddPoints(mult, boost.MultiplierX10)
	}
	return mult, nil
}

// StreakBonus returns the flat bonus for streak under tier. It is zero below
// the first threshold and grows with both tier and streak.
func StreakBonus(tier core.MembershipTier, streak uint64) uint64 {
	row, ok := streakBonuses[tier]
	if !ok {
		row = streakBonuses[core.TierBasic]
	}
	switch {
	case streak >= 10:
		return row[1]
	case streak >= 5:
		return row[0]
	}
	return 0
}

// Reward returns floor(base * multiplierX10 / 10) + streakBonus, where base
// is 5 on a suit win and 1 otherwise.
func Reward(isSuitWin bool, multiplierX10, streakBonus uint64) (uint64, error) {
	base := uint64(baseWin)
	if isSuitWin {
		base = baseSuitWin
	}
	hi, lo := bits.Mul64(base, multiplierX10)
	if hi != 0 {
		return 0, ErrPointsOverflow
	}
	return AddPoints(lo/10, streakBonus)
}

// JokerBonus multiplies points by JokerFactor.
func JokerBonus(points uint64) (uint64, error) {
	if points > math.MaxUint64/JokerFactor {
		return 0, ErrPointsOverflow
	}
	return points * JokerFactor, nil
}

// AchievementBonus pays every milestone in (lastPaid, consecutive] and
// returns the new highest paid milestone. A milestone at or below lastPaid
// is never paid again.
func AchievementBonus(consecutive, lastPaid uint64) (bonus, newMilestone uint64) {
	newMilestone = lastPaid
	for _, m := range Milestones {
		if m.Count > lastPaid && m.Count <= consecutive {
			bonus += m.Bonus
			newMilestone = m.Count
		}
	}
	return bonus, newMilestone
}

// AddPoints is a checked addition.
func AddPoints(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrPointsOverflow
	}
	return sum, nil
}

// SubFloor subtracts b from a, flooring at zero.
func SubFloor(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Engine reads membership data through the oracle.
type Engine struct {
	members oracle.Membership
}

// NewEngine returns an Engine backed by members.
func NewEngine(members oracle.Membership) *Engine {
	return &Engine{members: members}
}

// Quote is what the engine computed for one account at one instant.
type Quote struct {
	Tier          core.MembershipTier
	MultiplierX10 uint64
}

// Quote looks up account's effective tier and multiplier at now.
func (e *Engine) Quote(account string, now int64) (Quote, error) {
	m, err := e.members.GetMembership(account)
	if err != nil {
		return Quote{}, err
	}
	boost, err := e.members.GetActiveMultiplierBoost(account)
	if err != nil {
		return Quote{}, err
	}
	mult, err := Multiplier(m, boost, now)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Tier: EffectiveTier(m, now), MultiplierX10: mult}, nil
}

// WinReward returns the points for a correct prediction at streak (already
// incremented), including the joker factor when jokerWin is set.
func (q Quote) WinReward(isSuitWin, jokerWin bool, streak uint64) (uint64, error) {
	pts, err := Reward(isSuitWin, q.MultiplierX10, StreakBonus(q.Tier, streak))
	if err != nil {
		return 0, err
	}
	if jokerWin {
		return JokerBonus(pts)
	}
	return pts, nil
}
