// Package phase enforces the Validate → Mutate → Notify discipline every
// mutating entry point follows.
//
// A Guard is the phase token. State writes must run while the guard is in
// Mutate and event emission while it is in Notify; helpers that write or
// emit take the guard and call Check first. Any call made out of order
// fails with ErrOrdering and the enclosing transaction is aborted.
package phase

import (
	"errors"
	"fmt"

	"github.com/tolelom/hilochain/events"
)

var (
	// ErrOrdering reports a phase operation called out of sequence.
	ErrOrdering = errors.New("phase ordering violation")
	// ErrReentrant reports an entry point entered again before it returned.
	ErrReentrant = errors.New("reentrant call")
)

// Phase is a step of the execution discipline.
type Phase uint8

const (
	Validate Phase = iota + 1
	Mutate
	Notify
	Done
)

func (p Phase) String() string {
	switch p {
	case Validate:
		return "validate"
	case Mutate:
		return "mutate"
	case Notify:
		return "notify"
	case Done:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Guard tracks the current phase of one operation.
type Guard struct {
	op  string
	cur Phase
}

// Begin returns a guard for op in the Validate phase.
func Begin(op string) *Guard {
	return &Guard{op: op, cur: Validate}
}

// Op returns the operation name.
func (g *Guard) Op() string { return g.op }

// Phase returns the current phase.
func (g *Guard) Phase() Phase { return g.cur }

// Check fails unless the guard is in p.
func (g *Guard) Check(p Phase) error {
	if g.cur != p {
		return fmt.Errorf("%w: %s: %s required, in %s", ErrOrdering, g.op, p, g.cur)
	}
	return nil
}

// Validated ends Validate and enters Mutate.
func (g *Guard) Validated() error { return g.advance(Validate, Mutate) }

// Mutated ends Mutate and enters Notify.
func (g *Guard) Mutated() error { return g.advance(Mutate, Notify) }

// Done ends Notify.
func (g *Guard) Done() error { return g.advance(Notify, Done) }

func (g *Guard) advance(from, to Phase) error {
	if err := g.Check(from); err != nil {
		return err
	}
	g.cur = to
	return nil
}

// Apply runs fn if the guard is in Mutate.
func (g *Guard) Apply(fn func() error) error {
	if err := g.Check(Mutate); err != nil {
		return err
	}
	return fn()
}

// Notify runs fn if the guard is in Notify.
func (g *Guard) Notify(fn func()) error {
	if err := g.Check(Notify); err != nil {
		return err
	}
	fn()
	return nil
}

// Emit publishes ev to sink if the guard is in Notify.
func (g *Guard) Emit(sink events.Sink, ev events.Event) error {
	if err := g.Check(Notify); err != nil {
		return err
	}
	if sink != nil {
		sink.Emit(ev)
	}
	return nil
}

// Steps are the three bodies of an operation run by Run.
type Steps struct {
	Validate func() error
	Mutate   func(g *Guard) error
	Notify   func(g *Guard) error
}

// Run drives one operation through all three phases in order. A nil step
// is skipped but its phase is still passed through.
func Run(op string, s Steps) error {
	g := Begin(op)
	if s.Validate != nil {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	if err := g.Validated(); err != nil {
		return err
	}
	if s.Mutate != nil {
		if err := s.Mutate(g); err != nil {
			return err
		}
	}
	if err := g.Mutated(); err != nil {
		return err
	}
	if s.Notify != nil {
		if err := s.Notify(g); err != nil {
			return err
		}
	}
	return g.Done()
}

// Latch is the per-entry-point reentrancy flag set.
type Latch struct {
	held map[string]bool
}

// NewLatch returns an empty Latch.
func NewLatch() *Latch {
	return &Latch{held: make(map[string]bool)}
}

// Enter marks key as running. It fails with ErrReentrant if key is already
// held; otherwise the returned release must be called when the entry point
// returns.
func (l *Latch) Enter(key string) (release func(), err error) {
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", ErrReentrant, key)
	}
	l.held[key] = true
	return func() { delete(l.held, key) }, nil
}

// Held reports whether key is currently entered.
func (l *Latch) Held(key string) bool {
	return l.held[key]
}
