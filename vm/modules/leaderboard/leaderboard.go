// Package leaderboard maintains the rolling weekly leaderboard: one current
// entry per epoch-aligned week holding the top single-player scorer and the
// top team polled from the team collaborator.
package leaderboard

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/game/reward"
	"github.com/tolelom/hilochain/internal/logger"
	"github.com/tolelom/hilochain/oracle"
	"github.com/tolelom/hilochain/vm"
)

func init() {
	vm.Register(core.TxLeaderboardRefresh, handleRefresh)
}

// Board reads and writes the weekly entries in state.
type Board struct {
	state core.State
	teams oracle.Teams
}

// New returns a Board over state. teams may be nil, in which case team
// polls are skipped.
func New(state core.State, teams oracle.Teams) *Board {
	return &Board{state: state, teams: teams}
}

// Result describes what one Record or Refresh changed.
type Result struct {
	Entry  core.WeeklyEntry
	Rolled *core.WeeklyEntry // archived by this call, nil if none

	// Record only.
	Account string
	Score   uint64 // account's weekly score after recording
	NewTop  bool

	// Refresh only.
	Polled bool
}

// Record adds points to account's score for the week containing now and
// updates the top scorer. g must be in Mutate.
func (b *Board) Record(g *phase.Guard, account string, points uint64, now int64) (Result, error) {
	if err := g.Check(phase.Mutate); err != nil {
		return Result{}, err
	}
	entry, rolled, err := b.current(now)
	if err != nil {
		return Result{}, err
	}
	score, err := b.state.GetWeeklyScore(entry.Week, account)
	if err != nil {
		return Result{}, err
	}
	score, err = reward.AddPoints(score, points)
	if err != nil {
		return Result{}, fmt.Errorf("weekly score: %w", err)
	}
	if err := b.state.SetWeeklyScore(entry.Week, account, score); err != nil {
		return Result{}, err
	}

	res := Result{Account: account, Score: score, Rolled: rolled}
	if score > entry.TopScore {
		entry.TopScorer = account
		entry.TopScore = score
		res.NewTop = true
		if err := b.state.SetWeeklyEntry(entry); err != nil {
			return Result{}, err
		}
	}
	res.Entry = *entry
	return res, nil
}

// Refresh polls the team collaborator for the current top team. A failing
// poll is logged and discarded; only state errors are returned. g must be
// in Mutate.
func (b *Board) Refresh(g *phase.Guard, now int64) (Result, error) {
	if err := g.Check(phase.Mutate); err != nil {
		return Result{}, err
	}
	entry, rolled, err := b.current(now)
	if err != nil {
		return Result{}, err
	}
	res := Result{Rolled: rolled}
	if b.pollTeam(entry) {
		res.Polled = true
		if err := b.state.SetWeeklyEntry(entry); err != nil {
			return Result{}, err
		}
	}
	res.Entry = *entry
	return res, nil
}

// Current returns the current entry without modifying state, or
// core.ErrNotFound before the first recorded score.
func Current(state core.State) (*core.WeeklyEntry, error) {
	week, ok, err := state.GetCurrentWeek()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound
	}
	return state.GetWeeklyEntry(week)
}

// current returns the entry covering now. When the stored current entry's
// window has passed it is archived, after a final team poll, and the entry
// for now's week is created.
func (b *Board) current(now int64) (entry, rolled *core.WeeklyEntry, err error) {
	cur, err := Current(b.state)
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		return nil, nil, err
	case now < cur.WindowEnd:
		return cur, nil, nil
	default:
		if b.pollTeam(cur) {
			if err := b.state.SetWeeklyEntry(cur); err != nil {
				return nil, nil, err
			}
		}
		rolled = cur
	}

	week := game.WeekBucket(now)
	entry = &core.WeeklyEntry{
		Week:        week,
		WindowStart: week * game.Week,
		WindowEnd:   (week + 1) * game.Week,
	}
	if err := b.state.SetWeeklyEntry(entry); err != nil {
		return nil, nil, err
	}
	if err := b.state.SetCurrentWeek(week); err != nil {
		return nil, nil, err
	}
	return entry, rolled, nil
}

// pollTeam copies the top team into e. It reports whether the poll
// succeeded; failures never propagate.
func (b *Board) pollTeam(e *core.WeeklyEntry) bool {
	if b.teams == nil {
		return false
	}
	top, err := b.teams.GetTopTeams(1)
	if err != nil {
		logger.For("leaderboard").Warn("team poll failed", "week", e.Week, "err", err)
		return false
	}
	if len(top) > 0 {
		e.TopTeam = top[0].ID
		e.TopTeamScore = top[0].Score
	}
	return true
}

// Publish emits the events describing r. g must be in Notify.
func (r Result) Publish(g *phase.Guard, ctx *vm.Context) error {
	if r.Rolled != nil {
		if err := g.Emit(ctx.Events, ctx.Event(events.EventLeaderboardRolled, map[string]any{
			"week":       r.Rolled.Week,
			"top_scorer": r.Rolled.TopScorer,
			"top_score":  r.Rolled.TopScore,
			"top_team":   r.Rolled.TopTeam,
			"next_week":  r.Entry.Week,
		})); err != nil {
			return err
		}
	}
	if r.NewTop {
		if err := g.Emit(ctx.Events, ctx.Event(events.EventLeaderboardUpdated, map[string]any{
			"week":       r.Entry.Week,
			"top_scorer": r.Entry.TopScorer,
			"top_score":  r.Entry.TopScore,
		})); err != nil {
			return err
		}
	}
	return nil
}

func handleRefresh(ctx *vm.Context, _ json.RawMessage) error {
	release, err := ctx.Enter("leaderboard_refresh")
	if err != nil {
		return err
	}
	defer release()

	board := New(ctx.State, ctx.Oracles.Teams)
	var res Result
	return phase.Run("leaderboard_refresh", phase.Steps{
		Mutate: func(g *phase.Guard) error {
			res, err = board.Refresh(g, ctx.Now())
			return err
		},
		Notify: func(g *phase.Guard) error {
			if err := res.Publish(g, ctx); err != nil {
				return err
			}
			return g.Emit(ctx.Events, ctx.Event(events.EventLeaderboardTeamPoll, map[string]any{
				"week":           res.Entry.Week,
				"polled":         res.Polled,
				"top_team":       res.Entry.TopTeam,
				"top_team_score": res.Entry.TopTeamScore,
			}))
		},
	})
}
