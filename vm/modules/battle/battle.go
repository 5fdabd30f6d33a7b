// Package battle implements two-player ten-round matches over a shared card
// sequence, direct challenges and the matchmaking pool.
//
// Timeouts are never triggered in the background: every turn attempt, and
// the explicit claim transaction, first checks whether the match has run
// out of time and resolves it instead of applying the move.
package battle

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game"
	"github.com/tolelom/hilochain/game/deck"
	"github.com/tolelom/hilochain/game/phase"
	"github.com/tolelom/hilochain/game/predict"
	"github.com/tolelom/hilochain/vm"
)

// Errors returned by the battle transactions. A timeout detected during a
// move is not an error: the battle expires and the transaction succeeds.
var (
	ErrUnknownBattle   = errors.New("unknown battle")
	ErrSelfChallenge   = errors.New("cannot challenge yourself")
	ErrAlreadyInBattle = errors.New("account already has an open battle")
	ErrNotParticipant  = errors.New("not a participant")
	ErrNotInvited      = errors.New("only the invited opponent may accept")
	ErrBadStatus       = errors.New("battle is not in the required status")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrInvalidMove     = errors.New("invalid move")
	ErrAlreadyQueued   = errors.New("already in the matchmaking pool")
	ErrNotQueued       = errors.New("not in the matchmaking pool")
	ErrQueueTooSmall   = errors.New("not enough players in the matchmaking pool")
	ErrNoTimeout       = errors.New("battle has not timed out")
	ErrNoReaction      = errors.New("reaction item not held")
	ErrScoreOverflow   = errors.New("battle score overflow")
)

// Tariff points per correct round prediction. Battle scoring ignores
// membership tiers.
const (
	PointsWin     = 2   // rank correct
	PointsSuitWin = 4   // rank and suit correct
	PointsJoker   = 200 // joker called and drawn
)

func init() {
	vm.Register(core.TxBattleChallenge, handleChallenge)
	vm.Register(core.TxBattleCancel, handleCancel)
	vm.Register(core.TxBattleAccept, handleAccept)
	vm.Register(core.TxBattleJoinQueue, handleJoinQueue)
	vm.Register(core.TxBattleLeaveQueue, handleLeaveQueue)
	vm.Register(core.TxBattleFindOpponent, handleFindOpponent)
	vm.Register(core.TxBattlePlay, handlePlay)
	vm.Register(core.TxBattleClaimTimeout, handleClaimTimeout)
	vm.Register(core.TxBattleReact, handleReact)
}

// Tariff scores one round outcome.
func Tariff(o predict.Outcome) uint64 {
	switch {
	case o.JokerWin:
		return PointsJoker
	case o.Win && o.SuitWin:
		return PointsSuitWin
	case o.Win:
		return PointsWin
	}
	return 0
}

// Due returns the side that must move next in an active battle. The
// challenger always moves first.
func Due(b *core.Battle) string {
	if !b.ChallengerPlayed {
		return b.Challenger
	}
	return b.Opponent
}

// Other returns the participant that is not addr.
func Other(b *core.Battle, addr string) string {
	if addr == b.Challenger {
		return b.Opponent
	}
	return b.Challenger
}

// Leader returns the side with the higher score, or "" on a tie.
func Leader(b *core.Battle) string {
	switch {
	case b.ChallengerScore > b.OpponentScore:
		return b.Challenger
	case b.OpponentScore > b.ChallengerScore:
		return b.Opponent
	}
	return ""
}

// Timeout describes a detected timeout.
type Timeout struct {
	Reason string // "match" or "turn"
	Winner string // "" when no side wins
}

// CheckTimeout reports whether an active battle has timed out at now. The
// absolute match timeout is checked first: the leader wins, a tie has no
// winner. Otherwise a stale turn forfeits the match for the due side.
func CheckTimeout(b *core.Battle, now int64, p game.Params) (Timeout, bool) {
	if b.Status != core.BattleActive {
		return Timeout{}, false
	}
	if now-b.StartedAt >= int64(p.BattleMatchTimeout) {
		return Timeout{Reason: "match", Winner: Leader(b)}, true
	}
	if now-b.LastMoveAt >= int64(p.BattleTurnTimeout) {
		return Timeout{Reason: "turn", Winner: Other(b, Due(b))}, true
	}
	return Timeout{}, false
}

// Round is the result of resolving one round.
type Round struct {
	Number          int
	Base, Drawn     core.Card
	Challenger      predict.Outcome
	Opponent        predict.Outcome
	ChallengerScore uint64 // points scored this round
	OpponentScore   uint64
}

// resolveRound draws the next shared card, scores both pending moves
// against the current card and advances the round.
func resolveRound(b *core.Battle, height int64) (Round, error) {
	drawn, err := deck.Draw(&b.Deck, height)
	if err != nil {
		return Round{}, err
	}
	r := Round{
		Base:       b.CurrentCard,
		Drawn:      drawn,
		Challenger: predict.Evaluate(b.ChallengerMove.Kind, b.ChallengerMove.Suit, b.CurrentCard, drawn),
		Opponent:   predict.Evaluate(b.OpponentMove.Kind, b.OpponentMove.Suit, b.CurrentCard, drawn),
	}
	r.ChallengerScore = Tariff(r.Challenger)
	r.OpponentScore = Tariff(r.Opponent)
	if b.ChallengerScore > math.MaxUint64-r.ChallengerScore || b.OpponentScore > math.MaxUint64-r.OpponentScore {
		return Round{}, ErrScoreOverflow
	}
	b.ChallengerScore += r.ChallengerScore
	b.OpponentScore += r.OpponentScore

	prev := b.CurrentCard
	b.PreviousCard = &prev
	b.CurrentCard = drawn
	b.Rounds++
	r.Number = b.Rounds
	b.ChallengerPlayed, b.OpponentPlayed = false, false
	b.ChallengerMove, b.OpponentMove = core.Move{}, core.Move{}
	return r, nil
}

// ---- shared handler plumbing ----

func loadBattle(ctx *vm.Context, id uint64) (*core.Battle, error) {
	b, err := ctx.State.GetBattle(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBattle, id)
	}
	return b, err
}

func requireStatus(b *core.Battle, want core.BattleStatus) error {
	if b.Status != want {
		return fmt.Errorf("%w: battle %d is %s, want %s", ErrBadStatus, b.ID, b.Status, want)
	}
	return nil
}

func requireParticipant(b *core.Battle, addr string) error {
	if !b.HasParticipant(addr) {
		return fmt.Errorf("%w: battle %d", ErrNotParticipant, b.ID)
	}
	return nil
}

func requireNoOpenBattle(ctx *vm.Context, addr string) error {
	id, err := ctx.State.GetOpenBattle(addr)
	if err != nil {
		return err
	}
	if id != 0 {
		return fmt.Errorf("%w: %d", ErrAlreadyInBattle, id)
	}
	return nil
}

// finish moves b to a terminal status, releases both participants and
// reports the winner's score to the team collaborator. g must be in Mutate.
func finish(g *phase.Guard, ctx *vm.Context, b *core.Battle, status core.BattleStatus, winner string) error {
	return g.Apply(func() error {
		b.Status = status
		b.Winner = winner
		b.EndedAt = ctx.Now()
		if err := ctx.State.SetOpenBattle(b.Challenger, 0); err != nil {
			return err
		}
		if err := ctx.State.SetOpenBattle(b.Opponent, 0); err != nil {
			return err
		}
		if winner != "" {
			if err := reportScore(ctx, b, winner); err != nil {
				return err
			}
		}
		return ctx.State.SetBattle(b)
	})
}

func reportScore(ctx *vm.Context, b *core.Battle, winner string) error {
	team, err := ctx.Oracles.Teams.GetTeamOf(winner)
	if err != nil {
		return fmt.Errorf("team of winner: %w", err)
	}
	if team == "" {
		return nil
	}
	score := b.ChallengerScore
	if winner == b.Opponent {
		score = b.OpponentScore
	}
	if err := ctx.Oracles.Teams.AddMatchScore(team, score); err != nil {
		return fmt.Errorf("report team score: %w", err)
	}
	return nil
}

func endedEvent(ctx *vm.Context, typ events.EventType, b *core.Battle, extra map[string]any) events.Event {
	data := map[string]any{
		"battle_id":        b.ID,
		"challenger":       b.Challenger,
		"opponent":         b.Opponent,
		"winner":           b.Winner,
		"challenger_score": b.ChallengerScore,
		"opponent_score":   b.OpponentScore,
		"rounds":           b.Rounds,
	}
	for k, v := range extra {
		data[k] = v
	}
	return ctx.Event(typ, data)
}
