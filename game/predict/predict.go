// Package predict evaluates a prediction against a card transition.
package predict

import "github.com/tolelom/hilochain/core"

// Outcome is the result of one prediction.
type Outcome struct {
	Win      bool `json:"win"`
	JokerWin bool `json:"joker_win"`
	SuitWin  bool `json:"suit_win"`
	// Tie is set when the ranks could not be ordered: equal ranks, or a
	// higher/lower prediction made against a joker. A tie is never a win.
	Tie bool `json:"tie"`
}

// ValidKind reports whether k is one of the three prediction kinds.
func ValidKind(k core.PredictionKind) bool {
	return k <= core.PredictHigher
}

// ValidSuit reports whether s may be used as a suit prediction.
func ValidSuit(s core.Suit) bool {
	return s <= core.SuitClubs
}

// Evaluate scores kind and suit for the transition prev → next.
func Evaluate(kind core.PredictionKind, suit core.Suit, prev, next core.Card) Outcome {
	if next.IsJoker() {
		win := kind == core.PredictJoker
		return Outcome{Win: win, JokerWin: win}
	}

	var out Outcome
	out.SuitWin = suit != core.SuitNone && suit == next.Suit

	switch {
	case kind == core.PredictJoker:
	case prev.IsJoker() || prev.Rank == next.Rank:
		out.Tie = true
	case kind == core.PredictHigher:
		out.Win = next.Rank > prev.Rank
	case kind == core.PredictLower:
		out.Win = next.Rank < prev.Rank
	}
	return out
}
