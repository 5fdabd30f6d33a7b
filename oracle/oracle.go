// Package oracle declares the collaborator interfaces the game engines
// consume, and a ledger-backed implementation of all of them.
//
// The engines hold these as one-directional handles: a collaborator never
// calls back into an engine.
package oracle

import "github.com/tolelom/hilochain/core"

// Membership is the read-only membership oracle.
type Membership interface {
	GetMembership(account string) (core.Membership, error)
	GetActiveMultiplierBoost(account string) (core.Boost, error)
	GetExtraCredits(account string) (uint64, error)
}

// Credits is the consumable sink used by the session engine.
type Credits interface {
	ConsumeExtraCredit(account string, n uint64) (bool, error)
	SkipTokens(account string) (uint64, error)
	ConsumeSkipToken(account string, n uint64) (bool, error)
	HasStreakProtection(account string) (bool, error)
	ConsumeStreakProtection(account string) error
}

// Batch is the batch-capability oracle.
type Batch interface {
	GetBatchCapability(account string) (core.BatchCapability, error)
	ConsumeBatchUse(account string) (bool, error)
}

// Teams is the team aggregation collaborator.
type Teams interface {
	// GetTeamOf returns "" when account belongs to no team.
	GetTeamOf(account string) (string, error)
	AddMatchScore(teamID string, points uint64) error
	// GetTopTeams returns up to n teams by descending score.
	GetTopTeams(n int) ([]core.TeamScore, error)
}

// Reactions is the consumable-reaction sink used after a battle.
type Reactions interface {
	HasReaction(account, itemID string) (bool, error)
	ConsumeReaction(account, itemID string) (bool, error)
}

// Set bundles the collaborator handles injected into every handler.
type Set struct {
	Membership Membership
	Credits    Credits
	Batch      Batch
	Teams      Teams
	Reactions  Reactions
}

// LedgerSet returns a Set whose every handle is backed by state.
func LedgerSet(state core.State) *Set {
	l := NewLedger(state)
	return &Set{
		Membership: l,
		Credits:    l,
		Batch:      l,
		Teams:      l,
		Reactions:  l,
	}
}
