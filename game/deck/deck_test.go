package deck

import (
	"testing"

	"github.com/tolelom/hilochain/core"
)

func TestOrderedHasEveryCardOnce(t *testing.T) {
	cards := Ordered()
	if !cards[0].IsJoker() {
		t.Fatalf("slot 0: got %v want joker", cards[0])
	}
	seen := make(map[core.Card]bool)
	for i, c := range cards {
		if !c.Valid() {
			t.Errorf("slot %d: invalid card %+v", i, c)
		}
		if seen[c] {
			t.Errorf("slot %d: duplicate %v", i, c)
		}
		seen[c] = true
	}
	if len(seen) != core.DeckSize {
		t.Errorf("distinct cards: got %d want %d", len(seen), core.DeckSize)
	}
}

func TestShuffleIsDeterministicPermutation(t *testing.T) {
	seed := NewSeed("beacon", 7, "alice", 0)
	a := Shuffle(seed)
	b := Shuffle(seed)
	if a != b {
		t.Fatal("same seed produced different shuffles")
	}
	if a == Ordered() {
		t.Error("shuffle left the deck in order")
	}
	seen := make(map[core.Card]bool)
	for _, c := range a {
		seen[c] = true
	}
	if len(seen) != core.DeckSize {
		t.Errorf("shuffle is not a permutation: %d distinct cards", len(seen))
	}
}

func TestSeedDependsOnEveryInput(t *testing.T) {
	base := NewSeed("beacon", 7, "alice", 0)
	variants := map[string]Seed{
		"beacon":  NewSeed("beacon2", 7, "alice", 0),
		"height":  NewSeed("beacon", 8, "alice", 0),
		"account": NewSeed("beacon", 7, "bob", 0),
		"session": NewSeed("beacon", 7, "alice", 1),
	}
	for name, s := range variants {
		if s == base {
			t.Errorf("changing %s did not change the seed", name)
		}
	}
}

func TestNoRepeatWithinBucket(t *testing.T) {
	for bucket := uint64(0); bucket < 20; bucket++ {
		d := New(NewSeed("beacon", 1, "alice", bucket))
		seen := make(map[core.Card]bool)
		for i := 0; i < core.DeckSize; i++ {
			c, err := Draw(&d, 1)
			if err != nil {
				t.Fatalf("draw %d: %v", i, err)
			}
			if seen[c] {
				t.Fatalf("bucket %d: card %v repeated at draw %d", bucket, c, i)
			}
			seen[c] = true
		}
		if d.Cursor != core.DeckSize {
			t.Errorf("cursor after full bucket: got %d want %d", d.Cursor, core.DeckSize)
		}
	}
}

func TestDrawPastEndReshuffles(t *testing.T) {
	seed := NewSeed("beacon", 1, "alice", 0)
	d := New(seed)
	d.Cursor = core.DeckSize

	c, err := Draw(&d, 42)
	if err != nil {
		t.Fatal(err)
	}
	next := seed.Next(42)
	if d.Seed != next.Hex() {
		t.Errorf("seed after reshuffle: got %s want %s", d.Seed, next.Hex())
	}
	if d.Cursor != 1 {
		t.Errorf("cursor after reshuffle draw: got %d want 1", d.Cursor)
	}
	if want := Shuffle(next)[0]; c != want {
		t.Errorf("first card after reshuffle: got %v want %v", c, want)
	}
}

func TestDrawUninitialised(t *testing.T) {
	var d core.Deck
	if _, err := Draw(&d, 1); err != ErrUninitialized {
		t.Errorf("got %v want ErrUninitialized", err)
	}
}

func TestParseSeedRoundTrip(t *testing.T) {
	s := NewSeed("b", 1, "a", 2)
	got, err := ParseSeed(s.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Error("parsed seed differs")
	}
	if _, err := ParseSeed("abcd"); err == nil {
		t.Error("short seed should fail")
	}
}
