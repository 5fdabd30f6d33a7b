// Package session implements the single-player game: starting a session,
// single and batch guesses, and resets. Every handler follows the
// Validate, Mutate, Notify discipline of package phase.
package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game"
	"github.com/tolelom/hilochain/game/deck"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/game/predict"
	"github.com/tolelom/hilochain/game/reward"
	"github.com/tolelom/hilochain/vm"
	"github.com/tolelom/hilochain/vm/modules/leaderboard"
)

// Errors returned by the game transactions. Any of them aborts the
// transaction.
var (
	ErrInSession         = errors.New("session already in progress")
	ErrNoSession         = errors.New("no session in progress")
	ErrInvalidKind       = errors.New("invalid prediction kind")
	ErrInvalidSuit       = errors.New("invalid suit prediction")
	ErrNoGuessesLeft     = errors.New("no free guesses or extra credits left")
	ErrNoSkipToken       = errors.New("not enough skip tokens")
	ErrResetLimit        = errors.New("hourly reset limit reached")
	ErrBatchShape        = errors.New("malformed batch")
	ErrNoBatchCapability = errors.New("no active batch capability")
)

func init() {
	vm.Register(core.TxGameStart, handleStart)
	vm.Register(core.TxGameGuess, handleGuess)
	vm.Register(core.TxGameBatchGuess, handleBatchGuess)
	vm.Register(core.TxGameReset, handleReset)
}

// engine holds the records one session transaction reads and writes. They
// are loaded in Validate and written back in Mutate.
type engine struct {
	ctx    *vm.Context
	acct   string
	player *core.PlayerSession
	ach    *core.AchievementState
	rate   *core.RateWindow
	quote  reward.Quote
	board  *leaderboard.Board
}

func load(ctx *vm.Context) (*engine, error) {
	acct := ctx.Tx.From
	p, err := ctx.State.GetPlayer(acct)
	if err != nil {
		return nil, fmt.Errorf("load player: %w", err)
	}
	a, err := ctx.State.GetAchievements(acct)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	w, err := ctx.State.GetRateWindow(acct)
	if err != nil {
		return nil, fmt.Errorf("load rate window: %w", err)
	}
	now := ctx.Now()
	if d := game.DayBucket(now); w.GuessDay != d {
		w.GuessDay, w.GuessCount = d, 0
	}
	if h := game.HourBucket(now); w.ResetHour != h {
		w.ResetHour, w.ResetCount = h, 0
	}
	return &engine{
		ctx:    ctx,
		acct:   acct,
		player: p,
		ach:    a,
		rate:   w,
		board:  leaderboard.New(ctx.State, ctx.Oracles.Teams),
	}, nil
}

// save writes all three records. g must be in Mutate.
func (e *engine) save(g *phase.Guard) error {
	return g.Apply(func() error {
		if err := e.ctx.State.SetPlayer(e.player); err != nil {
			return err
		}
		if err := e.ctx.State.SetAchievements(e.ach); err != nil {
			return err
		}
		return e.ctx.State.SetRateWindow(e.rate)
	})
}

func (e *engine) resetAchievements() {
	e.ach.Consecutive = 0
	e.ach.LastMilestone = 0
}

// ---- start ----

func handleStart(ctx *vm.Context, _ json.RawMessage) error {
	release, err := ctx.Enter("game_start")
	if err != nil {
		return err
	}
	defer release()

	var e *engine
	return phase.Run("game_start", phase.Steps{
		Validate: func() error {
			if e, err = load(ctx); err != nil {
				return err
			}
			if e.player.InSession {
				return ErrInSession
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			if _, err := ctx.State.RegisterPlayer(e.acct); err != nil {
				return fmt.Errorf("register player: %w", err)
			}
			p := e.player
			seed := deck.NewSeed(ctx.Beacon(), ctx.Height(), e.acct, p.SessionCount)
			p.SessionCount++
			p.Deck = deck.New(seed)
			first, err := deck.Draw(&p.Deck, ctx.Height())
			if err != nil {
				return err
			}
			p.InSession = true
			p.CurrentCard = first
			p.Streak = 0
			p.LastPlayedAt = ctx.Now()
			e.resetAchievements()
			return e.save(g)
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventGameStarted, map[string]any{
				"player":  e.acct,
				"session": e.player.SessionCount,
				"card":    e.player.CurrentCard,
			}))
		},
	})
}

// ---- guess ----

func handleGuess(ctx *vm.Context, payload json.RawMessage) error {
	var p core.GuessPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode game_guess payload: %w", err)
	}
	release, err := ctx.Enter("game_guess")
	if err != nil {
		return err
	}
	defer release()

	var (
		e   *engine
		out Outcome
	)
	return phase.Run("game_guess", phase.Steps{
		Validate: func() error {
			if e, err = load(ctx); err != nil {
				return err
			}
			return e.validate([]core.PredictionKind{p.Kind}, []core.Suit{p.Suit}, p.UseSkip)
		},
		Mutate: func(g *phase.Guard) error {
			if out, err = e.play(g, p.Kind, p.Suit, p.UseSkip); err != nil {
				return err
			}
			return e.save(g)
		},
		Notify: func(g *phase.Guard) error {
			return e.publish(g, out)
		},
	})
}

// validate checks every precondition of playing len(kinds) predictions.
func (e *engine) validate(kinds []core.PredictionKind, suits []core.Suit, useSkip bool) error {
	if !e.player.InSession {
		return ErrNoSession
	}
	for i, k := range kinds {
		if !predict.ValidKind(k) {
			return fmt.Errorf("%w: %d", ErrInvalidKind, k)
		}
		if !predict.ValidSuit(suits[i]) {
			return fmt.Errorf("%w: %d", ErrInvalidSuit, suits[i])
		}
	}
	n := uint64(len(kinds))

	free := e.freeLeft()
	if n > free {
		credits, err := e.ctx.Oracles.Membership.GetExtraCredits(e.acct)
		if err != nil {
			return err
		}
		if credits < n-free {
			return ErrNoGuessesLeft
		}
	}
	if useSkip {
		tokens, err := e.ctx.Oracles.Credits.SkipTokens(e.acct)
		if err != nil {
			return err
		}
		if tokens < n {
			return ErrNoSkipToken
		}
	}

	q, err := reward.NewEngine(e.ctx.Oracles.Membership).Quote(e.acct, e.ctx.Now())
	if err != nil {
		return fmt.Errorf("membership quote: %w", err)
	}
	e.quote = q
	return nil
}

func (e *engine) freeLeft() uint64 {
	return reward.SubFloor(e.ctx.Params.DailyFreeGuesses, e.rate.GuessCount)
}

// consumeGuess takes one free guess or, once those are gone, one extra credit.
func (e *engine) consumeGuess() (paid bool, err error) {
	if e.freeLeft() > 0 {
		e.rate.GuessCount++
		return false, nil
	}
	ok, err := e.ctx.Oracles.Credits.ConsumeExtraCredit(e.acct, 1)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNoGuessesLeft
	}
	return true, nil
}

// Outcome is the result of one played prediction.
type Outcome struct {
	Kind     core.PredictionKind `json:"kind"`
	Suit     core.Suit           `json:"suit"`
	Skipped  bool                `json:"skipped"`
	Paid     bool                `json:"paid"` // consumed an extra credit
	Previous core.Card           `json:"previous"`
	Drawn    core.Card           `json:"drawn"`
	predict.Outcome

	SuitMiss     bool   `json:"suit_miss"`
	Points       uint64 `json:"points"`  // reward credited, excluding achievement bonus
	Penalty      uint64 `json:"penalty"` // deduction before flooring
	StreakBroken bool   `json:"streak_broken"`
	Protected    bool   `json:"protected"`
	BrokenStreak uint64 `json:"broken_streak"`
	Milestone    uint64 `json:"milestone,omitempty"`
	Bonus        uint64 `json:"bonus,omitempty"` // achievement bonus paid
	Streak       uint64 `json:"streak"`           // after this prediction
	Total        uint64 `json:"total"`            // points balance after this prediction

	board *leaderboard.Result
}

// play draws the next card and applies one prediction to the in-memory
// records. g must be in Mutate.
func (e *engine) play(g *phase.Guard, kind core.PredictionKind, suit core.Suit, skip bool) (Outcome, error) {
	if err := g.Check(phase.Mutate); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Kind: kind, Suit: suit, Skipped: skip}

	paid, err := e.consumeGuess()
	if err != nil {
		return out, err
	}
	out.Paid = paid
	if skip {
		ok, err := e.ctx.Oracles.Credits.ConsumeSkipToken(e.acct, 1)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, ErrNoSkipToken
		}
	}

	p := e.player
	out.Previous = p.CurrentCard
	out.Drawn, err = deck.Draw(&p.Deck, e.ctx.Height())
	if err != nil {
		return out, err
	}
	if skip {
		out.Outcome = predict.Outcome{Win: true}
	} else {
		out.Outcome = predict.Evaluate(kind, suit, out.Previous, out.Drawn)
	}
	p.CurrentCard = out.Drawn
	p.Plays++
	p.LastPlayedAt = e.ctx.Now()

	switch {
	case out.Win:
		err = e.applyWin(g, &out)
	case out.Tie:
		out.Penalty = e.ctx.Params.LossPenalty
		p.Points = reward.SubFloor(p.Points, out.Penalty)
		e.resetAchievements()
	default:
		if err = e.breakStreak(&out); err != nil {
			return out, err
		}
		out.Penalty = e.ctx.Params.LossPenalty
		p.Points = reward.SubFloor(p.Points, out.Penalty)
		e.resetAchievements()
	}
	out.Streak = p.Streak
	out.Total = p.Points
	return out, err
}

func (e *engine) applyWin(g *phase.Guard, out *Outcome) error {
	p := e.player
	p.Wins++

	out.SuitMiss = !out.Skipped && !out.JokerWin && out.Suit != core.SuitNone && !out.SuitWin
	if out.SuitMiss {
		// Not a correct prediction: no milestone progress. A protected miss
		// keeps the run and its count; an unprotected one ends both.
		if err := e.breakStreak(out); err != nil {
			return err
		}
		if out.StreakBroken {
			e.resetAchievements()
		}
		out.Penalty = e.ctx.Params.SuitMissPenalty
		p.Points = reward.SubFloor(p.Points, out.Penalty)
		return nil
	}

	e.ach.Consecutive++
	bonus, milestone := reward.AchievementBonus(e.ach.Consecutive, e.ach.LastMilestone)
	if milestone != e.ach.LastMilestone {
		out.Milestone = milestone
		e.ach.LastMilestone = milestone
	}
	out.Bonus = bonus

	p.Streak++
	if p.Streak > p.BestStreak {
		p.BestStreak = p.Streak
	}
	pts, err := e.quote.WinReward(out.SuitWin, out.JokerWin, p.Streak)
	if err != nil {
		return err
	}
	out.Points = pts
	total, err := reward.AddPoints(pts, bonus)
	if err != nil {
		return err
	}
	if err := e.credit(total); err != nil {
		return err
	}
	res, err := e.board.Record(g, e.acct, total, e.ctx.Now())
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	out.board = &res
	return nil
}

func (e *engine) credit(points uint64) error {
	sum, err := reward.AddPoints(e.player.Points, points)
	if err != nil {
		return err
	}
	e.player.Points = sum
	return nil
}

// breakStreak zeroes the streak unless the one-shot protection is held, in
// which case the protection is consumed and the streak kept.
func (e *engine) breakStreak(out *Outcome) error {
	protected, err := e.ctx.Oracles.Credits.HasStreakProtection(e.acct)
	if err != nil {
		return err
	}
	if protected {
		if err := e.ctx.Oracles.Credits.ConsumeStreakProtection(e.acct); err != nil {
			return err
		}
		out.Protected = true
		return nil
	}
	out.StreakBroken = true
	out.BrokenStreak = e.player.Streak
	e.player.Streak = 0
	return nil
}

// publish emits the events for one outcome. g must be in Notify.
func (e *engine) publish(g *phase.Guard, out Outcome) error {
	ctx := e.ctx
	if err := g.Emit(ctx.Events, ctx.Event(events.EventPredictionResult, map[string]any{
		"player":    e.acct,
		"kind":      out.Kind.String(),
		"suit":      out.Suit.String(),
		"skipped":   out.Skipped,
		"previous":  out.Previous,
		"drawn":     out.Drawn,
		"win":       out.Win,
		"joker_win": out.JokerWin,
		"suit_win":  out.SuitWin,
		"suit_miss": out.SuitMiss,
		"tie":       out.Tie,
		"points":    out.Points,
		"penalty":   out.Penalty,
		"streak":    out.Streak,
		"total":     out.Total,
	})); err != nil {
		return err
	}
	if out.StreakBroken {
		if err := g.Emit(ctx.Events, ctx.Event(events.EventStreakBroken, map[string]any{
			"player": e.acct,
			"streak": out.BrokenStreak,
		})); err != nil {
			return err
		}
	}
	if out.Protected {
		if err := g.Emit(ctx.Events, ctx.Event(events.EventStreakProtected, map[string]any{
			"player": e.acct,
			"streak": out.Streak,
		})); err != nil {
			return err
		}
	}
	if out.Milestone != 0 {
		if err := g.Emit(ctx.Events, ctx.Event(events.EventAchievementUnlocked, map[string]any{
			"player":    e.acct,
			"milestone": out.Milestone,
			"bonus":     out.Bonus,
		})); err != nil {
			return err
		}
	}
	if out.board != nil {
		return out.board.Publish(g, ctx)
	}
	return nil
}

// ---- reset ----

func handleReset(ctx *vm.Context, _ json.RawMessage) error {
	release, err := ctx.Enter("game_reset")
	if err != nil {
		return err
	}
	defer release()

	var e *engine
	return phase.Run("game_reset", phase.Steps{
		Validate: func() error {
			if e, err = load(ctx); err != nil {
				return err
			}
			if !e.player.InSession {
				return ErrNoSession
			}
			if e.rate.ResetCount >= ctx.Params.MaxResetsPerHour {
				return ErrResetLimit
			}
			return nil
		},
		Mutate: func(g *phase.Guard) error {
			e.rate.ResetCount++
			p := e.player
			p.InSession = false
			p.CurrentCard = core.Card{}
			p.Streak = 0
			p.Deck = core.Deck{}
			e.resetAchievements()
			return e.save(g)
		},
		Notify: func(g *phase.Guard) error {
			return g.Emit(ctx.Events, ctx.Event(events.EventGameReset, map[string]any{
				"player":      e.acct,
				"resets_left": ctx.Params.MaxResetsPerHour - e.rate.ResetCount,
			}))
		},
	})
}
