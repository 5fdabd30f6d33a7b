package session

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/game/deck"
	"github.com/tolelom/hilochain/game/reward"
	"github.com/tolelom/hilochain/internal/testutil"
	"github.com/tolelom/hilochain/vm/modules/leaderboard"
	"github.com/tolelom/hilochain/wallet"
)

func newGame(t *testing.T) (*testutil.Chain, *wallet.Wallet) {
	t.Helper()
	c := testutil.NewChain(t)
	w := c.Wallet()
	c.MustRun(w, w.StartGame)
	return c, w
}

func guess(c *testutil.Chain, w *wallet.Wallet, kind core.PredictionKind, suit core.Suit, skip bool) error {
	return c.Run(w, func(n uint64) (*core.Transaction, error) { return w.Guess(n, kind, suit, skip) })
}

func player(t *testing.T, c *testutil.Chain, w *wallet.Wallet) *core.PlayerSession {
	t.Helper()
	p, err := c.State.GetPlayer(w.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func savePlayer(t *testing.T, c *testutil.Chain, p *core.PlayerSession) {
	t.Helper()
	if err := c.State.SetPlayer(p); err != nil {
		t.Fatal(err)
	}
}

func setInventory(t *testing.T, c *testutil.Chain, w *wallet.Wallet, edit func(*core.Inventory)) {
	t.Helper()
	inv, err := c.State.GetInventory(w.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	edit(inv)
	if err := c.State.SetInventory(inv); err != nil {
		t.Fatal(err)
	}
}

func inventory(t *testing.T, c *testutil.Chain, w *wallet.Wallet) *core.Inventory {
	t.Helper()
	inv, err := c.State.GetInventory(w.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

// upcoming returns the card the next guess will draw.
func upcoming(t *testing.T, c *testutil.Chain, w *wallet.Wallet) core.Card {
	t.Helper()
	p := player(t, c, w)
	if p.Deck.Cursor < core.DeckSize {
		return p.Deck.Cards[p.Deck.Cursor]
	}
	seed, err := deck.ParseSeed(p.Deck.Seed)
	if err != nil {
		t.Fatal(err)
	}
	return deck.Shuffle(seed.Next(c.Height + 1))[0]
}

// losingKind is a prediction that is a genuine loss against next.
func losingKind(next core.Card) core.PredictionKind {
	if next.IsJoker() {
		return core.PredictHigher
	}
	return core.PredictJoker
}

// rigWin arranges the current card so that the returned kind wins on rank
// against a non-joker upcoming card, which is also returned.
func rigWin(t *testing.T, c *testutil.Chain, w *wallet.Wallet) (core.PredictionKind, core.Card) {
	t.Helper()
	p := player(t, c, w)
	cur := p.Deck.Cursor
	if p.Deck.Cards[cur].IsJoker() {
		other := (cur + 1) % core.DeckSize
		p.Deck.Cards[cur], p.Deck.Cards[other] = p.Deck.Cards[other], p.Deck.Cards[cur]
	}
	next := p.Deck.Cards[cur]
	kind := core.PredictHigher
	p.CurrentCard = core.Card{Rank: core.RankAce, Suit: core.SuitClubs}
	if next.Rank == core.RankAce {
		kind = core.PredictLower
		p.CurrentCard = core.Card{Rank: core.RankKing, Suit: core.SuitClubs}
	}
	savePlayer(t, c, p)
	return kind, next
}

func wrongSuit(next core.Card) core.Suit {
	if next.Suit == core.SuitSpades {
		return core.SuitHearts
	}
	return core.SuitSpades
}

func TestStartGame(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	if !p.InSession || p.Streak != 0 || p.SessionCount != 1 {
		t.Errorf("session: %+v", p)
	}
	if !p.CurrentCard.Valid() || p.Deck.Cursor != 1 {
		t.Errorf("first card %v cursor %d", p.CurrentCard, p.Deck.Cursor)
	}
	if n, _ := c.State.PlayerCount(); n != 1 {
		t.Errorf("player registry: got %d want 1", n)
	}
	if len(c.EventsOf(events.EventGameStarted)) != 1 {
		t.Error("missing game_started event")
	}
	if err := c.Run(w, w.StartGame); !errors.Is(err, ErrInSession) {
		t.Errorf("second start: got %v want ErrInSession", err)
	}
}

func TestGuessPreconditions(t *testing.T) {
	c := testutil.NewChain(t)
	w := c.Wallet()
	if err := guess(c, w, core.PredictHigher, core.SuitNone, false); !errors.Is(err, ErrNoSession) {
		t.Errorf("guess without session: got %v want ErrNoSession", err)
	}
	c.MustRun(w, w.StartGame)
	if err := guess(c, w, core.PredictionKind(7), core.SuitNone, false); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind: got %v want ErrInvalidKind", err)
	}
	if err := guess(c, w, core.PredictHigher, core.SuitJoker, false); !errors.Is(err, ErrInvalidSuit) {
		t.Errorf("bad suit: got %v want ErrInvalidSuit", err)
	}
}

func TestCorrectWinPaysReward(t *testing.T) {
	c, w := newGame(t)
	kind, _ := rigWin(t, c, w)
	if err := guess(c, w, kind, core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	p := player(t, c, w)
	// Basic tier, plain win, streak bonus 0: floor(1*15/10) = 1.
	if p.Points != 1 || p.Streak != 1 || p.Wins != 1 || p.Plays != 1 || p.BestStreak != 1 {
		t.Errorf("after win: %+v", p)
	}

	if err := c.State.SetMembership(&core.Membership{Address: w.PubKey(), Tier: core.TierPro}); err != nil {
		t.Fatal(err)
	}
	kind, next := rigWin(t, c, w)
	if err := guess(c, w, kind, next.Suit, false); err != nil {
		t.Fatal(err)
	}
	// Pro suit win at streak 2: floor(5*30/10) = 15.
	if p := player(t, c, w); p.Points != 16 || p.Streak != 2 {
		t.Errorf("after pro suit win: points %d streak %d", p.Points, p.Streak)
	}

	entry, err := leaderboard.Current(c.State)
	if err != nil {
		t.Fatal(err)
	}
	if entry.TopScorer != w.PubKey() || entry.TopScore != 16 {
		t.Errorf("leaderboard: %+v", entry)
	}
}

func TestJokerWin(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	for i := range p.Deck.Cards {
		if p.Deck.Cards[i].IsJoker() {
			cur := p.Deck.Cursor
			p.Deck.Cards[i], p.Deck.Cards[cur] = p.Deck.Cards[cur], p.Deck.Cards[i]
			break
		}
	}
	p.CurrentCard = core.Card{Rank: 7, Suit: core.SuitHearts}
	savePlayer(t, c, p)

	if err := guess(c, w, core.PredictJoker, core.SuitHearts, false); err != nil {
		t.Fatal(err)
	}
	p = player(t, c, w)
	// floor(1*15/10) * 100; the suit prediction is ignored on a joker draw.
	if p.Points != 100 || p.Streak != 1 || !p.CurrentCard.IsJoker() {
		t.Errorf("after joker: %+v", p)
	}
	res := c.EventsOf(events.EventPredictionResult)
	if len(res) != 1 || res[0].Data["joker_win"] != true {
		t.Errorf("prediction event: %+v", res)
	}
}

func TestSuitMiss(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	p.Streak, p.Points = 3, 10
	savePlayer(t, c, p)

	kind, next := rigWin(t, c, w)
	if err := guess(c, w, kind, wrongSuit(next), false); err != nil {
		t.Fatal(err)
	}
	p = player(t, c, w)
	if p.Points != 8 || p.Streak != 0 || p.Wins != 1 {
		t.Errorf("after suit miss: points %d streak %d wins %d", p.Points, p.Streak, p.Wins)
	}
	if len(c.EventsOf(events.EventStreakBroken)) != 1 {
		t.Error("missing streak_broken event")
	}
	a, _ := c.State.GetAchievements(w.PubKey())
	if a.Consecutive != 0 || a.LastMilestone != 0 {
		t.Errorf("suit miss must reset achievements: %+v", a)
	}
}

func TestSuitMissesPayNoMilestone(t *testing.T) {
	c, w := newGame(t)
	_ = c.State.SetAchievements(&core.AchievementState{Address: w.PubKey(), Consecutive: 4})
	for i := 0; i < 5; i++ {
		kind, next := rigWin(t, c, w)
		if err := guess(c, w, kind, wrongSuit(next), false); err != nil {
			t.Fatalf("guess %d: %v", i, err)
		}
	}
	p := player(t, c, w)
	if p.Streak != 0 || p.Points != 0 {
		t.Errorf("after suit misses: streak %d points %d", p.Streak, p.Points)
	}
	if a, _ := c.State.GetAchievements(w.PubKey()); a.Consecutive != 0 || a.LastMilestone != 0 {
		t.Errorf("achievements: %+v", a)
	}
	if n := len(c.EventsOf(events.EventAchievementUnlocked)); n != 0 {
		t.Errorf("achievement events: got %d want 0", n)
	}
}

func TestProtectedSuitMissKeepsAchievements(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	p.Streak = 4
	savePlayer(t, c, p)
	_ = c.State.SetAchievements(&core.AchievementState{Address: w.PubKey(), Consecutive: 4})
	setInventory(t, c, w, func(inv *core.Inventory) { inv.StreakProtection = true })

	kind, next := rigWin(t, c, w)
	if err := guess(c, w, kind, wrongSuit(next), false); err != nil {
		t.Fatal(err)
	}
	if p := player(t, c, w); p.Streak != 4 {
		t.Errorf("streak: got %d want 4", p.Streak)
	}
	if a, _ := c.State.GetAchievements(w.PubKey()); a.Consecutive != 4 {
		t.Errorf("consecutive: got %d want 4", a.Consecutive)
	}
	if n := len(c.EventsOf(events.EventAchievementUnlocked)); n != 0 {
		t.Errorf("achievement events: got %d want 0", n)
	}
}

func TestSuitMissPenaltyFloorsAtZero(t *testing.T) {
	c, w := newGame(t)
	kind, next := rigWin(t, c, w)
	if err := guess(c, w, kind, wrongSuit(next), false); err != nil {
		t.Fatal(err)
	}
	if p := player(t, c, w); p.Points != 0 {
		t.Errorf("points: got %d want 0", p.Points)
	}
}

func TestLossBreaksStreak(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	p.Streak, p.Points = 5, 10
	savePlayer(t, c, p)

	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	p = player(t, c, w)
	if p.Streak != 0 || p.Points != 9 || p.Wins != 0 {
		t.Errorf("after loss: %+v", p)
	}
}

func TestLossWithProtection(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	p.Streak = 5
	savePlayer(t, c, p)
	setInventory(t, c, w, func(inv *core.Inventory) { inv.StreakProtection = true })

	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	if p := player(t, c, w); p.Streak != 5 {
		t.Errorf("streak: got %d want 5", p.Streak)
	}
	if inventory(t, c, w).StreakProtection {
		t.Error("protection should be consumed")
	}
	if len(c.EventsOf(events.EventStreakProtected)) != 1 || len(c.EventsOf(events.EventStreakBroken)) != 0 {
		t.Error("expected streak_protected and no streak_broken")
	}

	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	if p := player(t, c, w); p.Streak != 0 {
		t.Errorf("second loss without protection: streak %d", p.Streak)
	}
}

func TestTieKeepsStreak(t *testing.T) {
	c, w := newGame(t)
	_, next := rigWin(t, c, w)
	p := player(t, c, w)
	p.CurrentCard = core.Card{Rank: next.Rank, Suit: wrongSuit(next)}
	p.Streak, p.Points = 4, 3
	savePlayer(t, c, p)
	_ = c.State.SetAchievements(&core.AchievementState{Address: w.PubKey(), Consecutive: 4})

	if err := guess(c, w, core.PredictHigher, core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	p = player(t, c, w)
	if p.Streak != 4 || p.Points != 2 || p.Wins != 0 {
		t.Errorf("after tie: streak %d points %d wins %d", p.Streak, p.Points, p.Wins)
	}
	if a, _ := c.State.GetAchievements(w.PubKey()); a.Consecutive != 0 {
		t.Errorf("tie should reset achievements, consecutive %d", a.Consecutive)
	}
}

func TestAchievementMilestonesPayOnce(t *testing.T) {
	c, w := newGame(t)
	setInventory(t, c, w, func(inv *core.Inventory) { inv.SkipTokens = 40 })

	for i := 0; i < 25; i++ {
		if err := guess(c, w, core.PredictHigher, core.SuitNone, true); err != nil {
			t.Fatalf("skip %d: %v", i, err)
		}
	}
	unlocked := c.EventsOf(events.EventAchievementUnlocked)
	want := []struct{ milestone, bonus uint64 }{{5, 5}, {10, 15}, {20, 50}}
	if len(unlocked) != len(want) {
		t.Fatalf("unlocked %d milestones, want %d", len(unlocked), len(want))
	}
	for i, m := range want {
		if unlocked[i].Data["milestone"] != m.milestone || unlocked[i].Data["bonus"] != m.bonus {
			t.Errorf("milestone %d: %+v", i, unlocked[i].Data)
		}
	}

	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := guess(c, w, core.PredictHigher, core.SuitNone, true); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(c.EventsOf(events.EventAchievementUnlocked)); got != 4 {
		t.Errorf("after re-accumulating 5: %d unlocks, want 4", got)
	}
}

func TestSkipToken(t *testing.T) {
	c, w := newGame(t)
	setInventory(t, c, w, func(inv *core.Inventory) { inv.SkipTokens = 1 })
	before := player(t, c, w)

	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitHearts, true); err != nil {
		t.Fatal(err)
	}
	p := player(t, c, w)
	if p.Wins != 1 || p.Streak != 1 || p.Deck.Cursor != before.Deck.Cursor+1 {
		t.Errorf("skip should force a win and draw a card: %+v", p)
	}
	if inventory(t, c, w).SkipTokens != 0 {
		t.Error("skip token not consumed")
	}
	if err := guess(c, w, core.PredictHigher, core.SuitNone, true); !errors.Is(err, ErrNoSkipToken) {
		t.Errorf("got %v want ErrNoSkipToken", err)
	}
}

func TestDailyAllowance(t *testing.T) {
	c, w := newGame(t)
	for i := 0; i < 100; i++ {
		if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
			t.Fatalf("free guess %d: %v", i+1, err)
		}
	}
	if err := guess(c, w, core.PredictJoker, core.SuitNone, false); !errors.Is(err, ErrNoGuessesLeft) {
		t.Fatalf("101st guess without credits: got %v want ErrNoGuessesLeft", err)
	}

	setInventory(t, c, w, func(inv *core.Inventory) { inv.ExtraCredits = 1 })
	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
		t.Fatalf("101st guess with a credit: %v", err)
	}
	if inventory(t, c, w).ExtraCredits != 0 {
		t.Error("extra credit not consumed")
	}
	if err := guess(c, w, core.PredictJoker, core.SuitNone, false); !errors.Is(err, ErrNoGuessesLeft) {
		t.Errorf("102nd guess: got %v want ErrNoGuessesLeft", err)
	}

	c.Advance(24 * time.Hour)
	if err := guess(c, w, losingKind(upcoming(t, c, w)), core.SuitNone, false); err != nil {
		t.Fatalf("first guess of the next day: %v", err)
	}
	if rw, _ := c.State.GetRateWindow(w.PubKey()); rw.GuessCount != 1 {
		t.Errorf("guess count after rollover: %d", rw.GuessCount)
	}
}

func TestResetCap(t *testing.T) {
	c := testutil.NewChain(t)
	w := c.Wallet()
	for i := 0; i < 3; i++ {
		c.MustRun(w, w.StartGame)
		if err := c.Run(w, w.ResetGame); err != nil {
			t.Fatalf("reset %d: %v", i+1, err)
		}
	}
	c.MustRun(w, w.StartGame)
	if err := c.Run(w, w.ResetGame); !errors.Is(err, ErrResetLimit) {
		t.Fatalf("4th reset: got %v want ErrResetLimit", err)
	}
	c.Advance(time.Hour)
	if err := c.Run(w, w.ResetGame); err != nil {
		t.Fatalf("reset in the next hour: %v", err)
	}
}

func TestResetClearsSession(t *testing.T) {
	c, w := newGame(t)
	kind, _ := rigWin(t, c, w)
	if err := guess(c, w, kind, core.SuitNone, false); err != nil {
		t.Fatal(err)
	}
	c.MustRun(w, w.ResetGame)

	p := player(t, c, w)
	if p.InSession || p.Streak != 0 || p.CurrentCard != (core.Card{}) {
		t.Errorf("after reset: %+v", p)
	}
	if p.Points != 1 || p.Wins != 1 {
		t.Error("reset must keep lifetime stats")
	}
	if a, _ := c.State.GetAchievements(w.PubKey()); a.Consecutive != 0 {
		t.Error("reset must clear achievements")
	}
	if err := c.Run(w, w.ResetGame); !errors.Is(err, ErrNoSession) {
		t.Errorf("reset without session: got %v want ErrNoSession", err)
	}

	c.MustRun(w, w.StartGame)
	if p := player(t, c, w); p.SessionCount != 2 {
		t.Errorf("session count: got %d want 2", p.SessionCount)
	}
}

func TestOverflowAborts(t *testing.T) {
	c, w := newGame(t)
	p := player(t, c, w)
	p.Points = math.MaxUint64
	savePlayer(t, c, p)
	kind, _ := rigWin(t, c, w)

	if err := guess(c, w, kind, core.SuitNone, false); !errors.Is(err, reward.ErrPointsOverflow) {
		t.Fatalf("got %v want ErrPointsOverflow", err)
	}
	if p := player(t, c, w); p.Plays != 0 || p.Points != math.MaxUint64 {
		t.Errorf("state changed by aborted guess: %+v", p)
	}
	if len(c.EventsOf(events.EventPredictionResult)) != 0 {
		t.Error("aborted guess emitted events")
	}
}

func TestBatchGuess(t *testing.T) {
	c, w := newGame(t)
	batch := func(kinds []core.PredictionKind, suits []core.Suit, skip bool) error {
		return c.Run(w, func(n uint64) (*core.Transaction, error) { return w.BatchGuess(n, kinds, suits, skip) })
	}
	three := []core.PredictionKind{core.PredictJoker, core.PredictJoker, core.PredictJoker}
	noSuits := []core.Suit{core.SuitNone, core.SuitNone, core.SuitNone}

	if err := batch(three, noSuits, false); !errors.Is(err, ErrNoBatchCapability) {
		t.Fatalf("without capability: got %v want ErrNoBatchCapability", err)
	}
	_ = c.State.SetBatchCapability(&core.BatchCapability{Address: w.PubKey(), RemainingUses: 3})

	if err := batch(three, noSuits[:2], false); !errors.Is(err, ErrBatchShape) {
		t.Errorf("mismatched arrays: got %v want ErrBatchShape", err)
	}
	if err := batch(nil, nil, false); !errors.Is(err, ErrBatchShape) {
		t.Errorf("empty batch: got %v want ErrBatchShape", err)
	}
	four := append(three, core.PredictJoker)
	if err := batch(four, append(noSuits, core.SuitNone), false); !errors.Is(err, ErrNoBatchCapability) {
		t.Errorf("more predictions than uses: got %v want ErrNoBatchCapability", err)
	}
	if err := batch(three, noSuits, true); !errors.Is(err, ErrNoSkipToken) {
		t.Errorf("skip without tokens: got %v want ErrNoSkipToken", err)
	}

	if err := batch(three, noSuits, false); err != nil {
		t.Fatal(err)
	}
	if p := player(t, c, w); p.Plays != 3 {
		t.Errorf("plays: got %d want 3", p.Plays)
	}
	if bc, _ := c.State.GetBatchCapability(w.PubKey()); bc.RemainingUses != 0 {
		t.Errorf("remaining uses: got %d want 0", bc.RemainingUses)
	}
	done := c.EventsOf(events.EventBatchCompleted)
	if len(done) != 1 {
		t.Fatalf("batch_completed events: %d", len(done))
	}
	if s := done[0].Data["summary"].(BatchSummary); s.Count != 3 || s.Wins+s.Ties+s.Losses != 3 {
		t.Errorf("summary: %+v", s)
	}
	if got := len(c.EventsOf(events.EventPredictionResult)); got != 3 {
		t.Errorf("prediction events: got %d want 3", got)
	}
}

func TestBatchCapabilityExpiry(t *testing.T) {
	c, w := newGame(t)
	_ = c.State.SetBatchCapability(&core.BatchCapability{
		Address:       w.PubKey(),
		RemainingUses: 5,
		ExpiresAt:     c.Now,
	})
	err := c.Run(w, func(n uint64) (*core.Transaction, error) {
		return w.BatchGuess(n, []core.PredictionKind{core.PredictJoker}, []core.Suit{core.SuitNone}, false)
	})
	if !errors.Is(err, ErrNoBatchCapability) {
		t.Errorf("expired capability: got %v want ErrNoBatchCapability", err)
	}
}

func TestBatchRespectsMaxSize(t *testing.T) {
	c, w := newGame(t)
	_ = c.State.SetBatchCapability(&core.BatchCapability{Address: w.PubKey(), RemainingUses: 50})
	kinds := make([]core.PredictionKind, 11)
	suits := make([]core.Suit, 11)
	err := c.Run(w, func(n uint64) (*core.Transaction, error) { return w.BatchGuess(n, kinds, suits, false) })
	if !errors.Is(err, ErrBatchShape) {
		t.Errorf("11 predictions: got %v want ErrBatchShape", err)
	}
}
