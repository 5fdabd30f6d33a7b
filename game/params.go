// Package game holds the tunable parameters shared by the session, battle
// and leaderboard modules.
package game

import (
	"errors"
	"time"
)

// Params are the game rules a chain is configured with. Every validator
// must run with identical values.
type Params struct {
	DailyFreeGuesses uint64 `json:"daily_free_guesses"`
	MaxResetsPerHour uint64 `json:"max_resets_per_hour"`
	MaxBatchSize     int    `json:"max_batch_size"`
	LossPenalty      uint64 `json:"loss_penalty"`      // also applied on a tie
	SuitMissPenalty  uint64 `json:"suit_miss_penalty"` // correct rank, wrong suit

	BattleRounds       int           `json:"battle_rounds"`
	BattleTurnTimeout  time.Duration `json:"battle_turn_timeout"`
	BattleMatchTimeout time.Duration `json:"battle_match_timeout"`
}

// DefaultParams returns the standard rule set.
func DefaultParams() Params {
	return Params{
		DailyFreeGuesses:   100,
		MaxResetsPerHour:   3,
		MaxBatchSize:       10,
		LossPenalty:        1,
		SuitMissPenalty:    2,
		BattleRounds:       10,
		BattleTurnTimeout:  5 * time.Minute,
		BattleMatchTimeout: 30 * time.Minute,
	}
}

// Validate rejects parameter sets the engines cannot run with.
func (p Params) Validate() error {
	switch {
	case p.MaxBatchSize <= 0:
		return errors.New("max_batch_size must be > 0")
	case p.BattleRounds <= 0:
		return errors.New("battle_rounds must be > 0")
	case p.BattleTurnTimeout <= 0:
		return errors.New("battle_turn_timeout must be > 0")
	case p.BattleMatchTimeout <= 0:
		return errors.New("battle_match_timeout must be > 0")
	}
	return nil
}

const (
	Day  = int64(24 * time.Hour)
	Hour = int64(time.Hour)
	Week = 7 * Day
)

// DayBucket returns the epoch-aligned day number containing ts (ns).
func DayBucket(ts int64) int64 { return ts / Day }

// HourBucket returns the epoch-aligned hour number containing ts (ns).
func HourBucket(ts int64) int64 { return ts / Hour }

// WeekBucket returns the epoch-aligned week number containing ts (ns).
func WeekBucket(ts int64) int64 { return ts / Week }
