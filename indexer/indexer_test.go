package indexer

import (
	"testing"

	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/internal/testutil"
)

func TestBattlesByPlayer(t *testing.T) {
	em := events.NewEmitter()
	idx := New(testutil.NewMemDB(), em)

	em.Emit(events.Event{Type: events.EventMatchCreated, Data: map[string]any{
		"battle_id": uint64(1), "challenger": "a", "opponent": "b",
	}})
	em.Emit(events.Event{Type: events.EventMatchCreated, Data: map[string]any{
		"battle_id": float64(2), "challenger": "c", "opponent": "a",
	}})
	// Replays are ignored.
	em.Emit(events.Event{Type: events.EventMatchCreated, Data: map[string]any{
		"battle_id": uint64(1), "challenger": "a", "opponent": "b",
	}})

	got, err := idx.GetBattlesByPlayer("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("battles of a: got %v want [1 2]", got)
	}
	if got, _ := idx.GetBattlesByPlayer("nobody"); len(got) != 0 {
		t.Errorf("battles of nobody: got %v", got)
	}
}

func TestWinsByPlayer(t *testing.T) {
	em := events.NewEmitter()
	idx := New(testutil.NewMemDB(), em)

	em.Emit(events.Event{Type: events.EventMatchCompleted, Data: map[string]any{"battle_id": uint64(1), "winner": "a"}})
	em.Emit(events.Event{Type: events.EventMatchExpired, Data: map[string]any{"battle_id": uint64(2), "winner": "a"}})
	em.Emit(events.Event{Type: events.EventMatchCompleted, Data: map[string]any{"battle_id": uint64(3), "winner": ""}})

	got, err := idx.GetWinsByPlayer("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("wins of a: got %v want 2 entries", got)
	}
}
