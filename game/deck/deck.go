// Package deck implements the session-scoped shuffle and draw primitive.
//
// A deck is seeded from the block beacon, the block height, an owner key and
// a bucket id, then shuffled with Fisher-Yates over 53 slots. Draws walk the
// shuffled slots in order, so no card repeats within one 53-draw bucket.
// When a bucket is exhausted the deck reseeds itself from its previous seed
// and the height of the block performing the draw.
package deck

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
)

// ErrUninitialized is returned when drawing from a deck that was never seeded.
var ErrUninitialized = errors.New("deck not initialised")

// Seed is the 32-byte shuffle seed.
type Seed [32]byte

// NewSeed derives an independent seed for owner's bucket from the beacon of
// the block at height. Changing any input changes the seed.
func NewSeed(beacon string, height int64, owner string, bucket uint64) Seed {
	return Seed(crypto.HashParts(
		[]byte(beacon),
		crypto.Uint64Bytes(uint64(height)),
		[]byte(owner),
		crypto.Uint64Bytes(bucket),
	))
}

// Next returns the reshuffle seed derived from s at height.
func (s Seed) Next(height int64) Seed {
	return Seed(crypto.HashParts(s[:], crypto.Uint64Bytes(uint64(height))))
}

// Hex returns the lowercase hex encoding of s.
func (s Seed) Hex() string {
	return hex.EncodeToString(s[:])
}

// ParseSeed decodes a hex seed as stored in core.Deck.
func ParseSeed(h string) (Seed, error) {
	var s Seed
	b, err := hex.DecodeString(h)
	if err != nil {
		return s, fmt.Errorf("decode seed: %w", err)
	}
	if len(b) != len(s) {
		return s, fmt.Errorf("seed must be %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return s, nil
}

// Ordered returns the unshuffled slot layout: slot 0 is the joker, slots
// 1..52 are ace..king of spades, hearts, diamonds and clubs.
func Ordered() [core.DeckSize]core.Card {
	var cards [core.DeckSize]core.Card
	cards[0] = core.JokerCard
	for i := 1; i < core.DeckSize; i++ {
		cards[i] = core.Card{
			Rank: core.Rank((i-1)%13 + 1),
			Suit: core.Suit((i-1)/13 + 1),
		}
	}
	return cards
}

// Shuffle returns the Fisher-Yates permutation of Ordered() for seed. Slot i
// is swapped with slot hash(seed, i) mod (i+1) for i from 52 down to 1.
func Shuffle(seed Seed) [core.DeckSize]core.Card {
	cards := Ordered()
	for i := core.DeckSize - 1; i >= 1; i-- {
		j := swapIndex(seed, i)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}

func swapIndex(seed Seed, i int) int {
	h := crypto.HashParts(seed[:], crypto.Uint64Bytes(uint64(i)))
	return int(binary.BigEndian.Uint64(h[:8]) % uint64(i+1))
}

// New returns a freshly shuffled deck with its cursor at slot 0.
func New(seed Seed) core.Deck {
	return core.Deck{
		Seed:  seed.Hex(),
		Cards: Shuffle(seed),
	}
}

// Draw returns the card under the cursor and advances it. If the deck is
// exhausted it is first reshuffled with Seed.Next(height).
func Draw(d *core.Deck, height int64) (core.Card, error) {
	if d.Seed == "" {
		return core.Card{}, ErrUninitialized
	}
	if d.Cursor < 0 || d.Cursor > core.DeckSize {
		return core.Card{}, fmt.Errorf("deck cursor %d out of range", d.Cursor)
	}
	if d.Cursor == core.DeckSize {
		seed, err := ParseSeed(d.Seed)
		if err != nil {
			return core.Card{}, err
		}
		*d = New(seed.Next(height))
	}
	card := d.Cards[d.Cursor]
	d.Cursor++
	return card, nil
}
