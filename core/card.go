package core

import "fmt"

// Rank is a card rank. RankJoker is the only rank that cannot be compared
// numerically; 1..13 are ace through king.
type Rank uint8

const (
	RankJoker Rank = 0
	RankAce   Rank = 1
	RankKing  Rank = 13
)

// Suit is a card suit. SuitNone doubles as "no suit predicted".
type Suit uint8

const (
	SuitNone Suit = iota
	SuitSpades
	SuitHearts
	SuitDiamonds
	SuitClubs
	SuitJoker
)

func (s Suit) String() string {
	switch s {
	case SuitNone:
		return "none"
	case SuitSpades:
		return "spades"
	case SuitHearts:
		return "hearts"
	case SuitDiamonds:
		return "diamonds"
	case SuitClubs:
		return "clubs"
	case SuitJoker:
		return "joker"
	}
	return fmt.Sprintf("suit(%d)", uint8(s))
}

// Card is a single playing card.
type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

// JokerCard is the single joker in a deck.
var JokerCard = Card{Rank: RankJoker, Suit: SuitJoker}

// IsJoker reports whether c is the joker.
func (c Card) IsJoker() bool {
	return c.Rank == RankJoker
}

// Valid reports whether c is either the joker or a ranked card with a
// standard suit.
func (c Card) Valid() bool {
	if c.IsJoker() {
		return c.Suit == SuitJoker
	}
	return c.Rank <= RankKing && c.Suit >= SuitSpades && c.Suit <= SuitClubs
}

func (c Card) String() string {
	if c.IsJoker() {
		return "joker"
	}
	return fmt.Sprintf("%d of %s", c.Rank, c.Suit)
}

// PredictionKind is what a player expects the next card to be relative to
// the current one.
type PredictionKind uint8

const (
	PredictLower PredictionKind = iota
	PredictJoker
	PredictHigher
)

func (k PredictionKind) String() string {
	switch k {
	case PredictLower:
		return "lower"
	case PredictJoker:
		return "joker"
	case PredictHigher:
		return "higher"
	}
	return fmt.Sprintf("prediction(%d)", uint8(k))
}
