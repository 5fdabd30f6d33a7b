package core

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// DeckSize is the number of slots in a shuffled deck: 52 ranked cards and
// one joker.
const DeckSize = 53

// Deck is a shuffled deck owned by exactly one session or battle.
// Cursor is the index of the next card to draw; Cursor == DeckSize means the
// deck is exhausted and must be reshuffled before the next draw.
type Deck struct {
	Seed   string         `json:"seed"` // hex
	Cards  [DeckSize]Card `json:"cards"`
	Cursor int            `json:"cursor"`
}

// PlayerSession is the per-account single-player record. It is created on
// the first game start and never deleted.
type PlayerSession struct {
	Address      string `json:"address"`
	InSession    bool   `json:"in_session"`
	CurrentCard  Card   `json:"current_card"`
	SessionCount uint64 `json:"session_count"` // deck bucket id of the current session
	Streak       uint64 `json:"streak"`
	BestStreak   uint64 `json:"best_streak"`
	Plays        uint64 `json:"plays"`
	Wins         uint64 `json:"wins"`
	Points       uint64 `json:"points"`
	LastPlayedAt int64  `json:"last_played_at"`
	Deck         Deck   `json:"deck"`
}

// AchievementState tracks consecutive correct predictions and the highest
// milestone already paid for the current unbroken run.
type AchievementState struct {
	Address       string `json:"address"`
	Consecutive   uint64 `json:"consecutive"`
	LastMilestone uint64 `json:"last_milestone"`
}

// RateWindow holds per-account counters keyed by coarse time buckets.
// GuessDay and ResetHour are the last bucket seen for each counter.
type RateWindow struct {
	Address    string `json:"address"`
	GuessDay   int64  `json:"guess_day"`
	GuessCount uint64 `json:"guess_count"`
	ResetHour  int64  `json:"reset_hour"`
	ResetCount uint64 `json:"reset_count"`
}

// BattleStatus is the lifecycle state of a battle.
type BattleStatus string

const (
	BattlePending   BattleStatus = "pending"
	BattleActive    BattleStatus = "active"
	BattleCompleted BattleStatus = "completed"
	BattleCancelled BattleStatus = "cancelled"
	BattleExpired   BattleStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s BattleStatus) Terminal() bool {
	return s == BattleCompleted || s == BattleCancelled || s == BattleExpired
}

// Move is a prediction submitted for the current battle round.
type Move struct {
	Kind PredictionKind `json:"kind"`
	Suit Suit           `json:"suit"`
}

// Battle is a two-player, ten-round match over a shared card sequence.
type Battle struct {
	ID               uint64       `json:"id"`
	Challenger       string       `json:"challenger"`
	Opponent         string       `json:"opponent"`
	Status           BattleStatus `json:"status"`
	Rounds           int          `json:"rounds"`
	CurrentCard      Card         `json:"current_card"`
	PreviousCard     *Card        `json:"previous_card,omitempty"`
	ChallengerPlayed bool         `json:"challenger_played"`
	OpponentPlayed   bool         `json:"opponent_played"`
	ChallengerMove   Move         `json:"challenger_move"`
	OpponentMove     Move         `json:"opponent_move"`
	ChallengerScore  uint64       `json:"challenger_score"`
	OpponentScore    uint64       `json:"opponent_score"`
	CreatedAt        int64        `json:"created_at"`
	StartedAt        int64        `json:"started_at"`
	LastMoveAt       int64        `json:"last_move_at"`
	EndedAt          int64        `json:"ended_at"`
	Winner           string       `json:"winner,omitempty"` // empty on a tie or no result
	Deck             Deck         `json:"deck"`
}

// HasParticipant reports whether addr is one of the two sides.
func (b *Battle) HasParticipant(addr string) bool {
	return addr == b.Challenger || addr == b.Opponent
}

// MatchPool is the ordered matchmaking queue.
type MatchPool struct {
	Members []string `json:"members"`
}

// Contains reports whether addr is queued.
func (p *MatchPool) Contains(addr string) bool {
	for _, m := range p.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// Remove drops addr from the pool, preserving order.
func (p *MatchPool) Remove(addr string) {
	kept := p.Members[:0]
	for _, m := range p.Members {
		if m != addr {
			kept = append(kept, m)
		}
	}
	p.Members = kept
}

// WeeklyEntry is one week of the rolling leaderboard.
type WeeklyEntry struct {
	Week         int64  `json:"week"`
	TopScorer    string `json:"top_scorer,omitempty"`
	TopScore     uint64 `json:"top_score"`
	TopTeam      string `json:"top_team,omitempty"`
	TopTeamScore uint64 `json:"top_team_score"`
	WindowStart  int64  `json:"window_start"`
	WindowEnd    int64  `json:"window_end"`
}

// MembershipTier is the purchased membership level.
type MembershipTier uint8

const (
	TierNone MembershipTier = iota
	TierBasic
	TierPlus
	TierPro
)

// Membership is the collaborator record for a membership purchase.
type Membership struct {
	Address     string         `json:"address"`
	Tier        MembershipTier `json:"tier"`
	PurchasedAt int64          `json:"purchased_at"`
	ExpiresAt   int64          `json:"expires_at"`
}

// Boost is a temporary multiplier bonus in tenths.
type Boost struct {
	Address       string `json:"address"`
	MultiplierX10 uint64 `json:"multiplier_x10"`
	ExpiresAt     int64  `json:"expires_at"`
}

// Inventory holds an account's consumables.
type Inventory struct {
	Address          string            `json:"address"`
	ExtraCredits     uint64            `json:"extra_credits"`
	SkipTokens       uint64            `json:"skip_tokens"`
	StreakProtection bool              `json:"streak_protection"`
	Reactions        map[string]uint64 `json:"reactions,omitempty"` // item id → count
}

// BatchCapability is a temporary grant allowing batch guesses.
type BatchCapability struct {
	Address       string `json:"address"`
	ExpiresAt     int64  `json:"expires_at"`
	RemainingUses uint64 `json:"remaining_uses"`
}

// TeamScore is a team's aggregated match score.
type TeamScore struct {
	ID    string `json:"id"`
	Score uint64 `json:"score"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Single-player records. Getters return a zero record for unknown
	// accounts.
	GetPlayer(address string) (*PlayerSession, error)
	SetPlayer(p *PlayerSession) error
	GetAchievements(address string) (*AchievementState, error)
	SetAchievements(a *AchievementState) error
	GetRateWindow(address string) (*RateWindow, error)
	SetRateWindow(w *RateWindow) error

	// Player registry: append-only dense index.
	RegisterPlayer(address string) (bool, error)
	PlayerCount() (uint64, error)
	PlayerAt(index uint64) (string, error)

	// Battles
	NextBattleID() (uint64, error)
	GetBattle(id uint64) (*Battle, error)
	SetBattle(b *Battle) error
	// GetOpenBattle returns the pending or active battle of address, or 0.
	GetOpenBattle(address string) (uint64, error)
	SetOpenBattle(address string, id uint64) error
	GetMatchPool() (*MatchPool, error)
	SetMatchPool(p *MatchPool) error

	// Weekly leaderboard
	GetCurrentWeek() (int64, bool, error)
	SetCurrentWeek(week int64) error
	GetWeeklyEntry(week int64) (*WeeklyEntry, error)
	SetWeeklyEntry(e *WeeklyEntry) error
	GetWeeklyScore(week int64, address string) (uint64, error)
	SetWeeklyScore(week int64, address string, score uint64) error

	// Collaborator ledger
	GetMembership(address string) (*Membership, error)
	SetMembership(m *Membership) error
	GetBoost(address string) (*Boost, error)
	SetBoost(b *Boost) error
	GetInventory(address string) (*Inventory, error)
	SetInventory(inv *Inventory) error
	GetBatchCapability(address string) (*BatchCapability, error)
	SetBatchCapability(c *BatchCapability) error
	GetTeamOf(address string) (string, error)
	SetTeamOf(address, teamID string) error
	GetTeamScore(teamID string) (*TeamScore, error)
	SetTeamScore(t *TeamScore) error
	TeamCount() (uint64, error)
	TeamAt(index uint64) (string, error)

	// Capability table
	GetCapabilities(address string) ([]string, error)
	SetCapabilities(address string, caps []string) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
