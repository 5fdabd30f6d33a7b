package events

import "testing"

func TestEmitterDeliversToTypeAndWildcard(t *testing.T) {
	e := NewEmitter()
	var typed, all int
	e.Subscribe(EventGameStarted, func(Event) { typed++ })
	e.SubscribeAll(func(Event) { all++ })

	e.Emit(Event{Type: EventGameStarted})
	e.Emit(Event{Type: EventGameReset})

	if typed != 1 {
		t.Errorf("typed handler: got %d want 1", typed)
	}
	if all != 2 {
		t.Errorf("wildcard handler: got %d want 2", all)
	}
}

func TestEmitterRecoversFromPanic(t *testing.T) {
	e := NewEmitter()
	called := false
	e.Subscribe(EventGameStarted, func(Event) { panic("bad subscriber") })
	e.Subscribe(EventGameStarted, func(Event) { called = true })
	e.Emit(Event{Type: EventGameStarted})
	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestBatchFlushAndDiscard(t *testing.T) {
	e := NewEmitter()
	var got []EventType
	e.SubscribeAll(func(ev Event) { got = append(got, ev.Type) })

	var b Batch
	b.Emit(Event{Type: EventMatchCreated})
	b.Emit(Event{Type: EventMatchStarted})
	if len(got) != 0 {
		t.Fatal("batch delivered before flush")
	}
	b.Flush(e)
	if len(got) != 2 || got[0] != EventMatchCreated || got[1] != EventMatchStarted {
		t.Errorf("flushed: %v", got)
	}
	if len(b.Events()) != 0 {
		t.Error("batch not empty after flush")
	}

	b.Emit(Event{Type: EventGameReset})
	b.Discard()
	b.Flush(e)
	if len(got) != 2 {
		t.Errorf("discarded event was delivered: %v", got)
	}
}
