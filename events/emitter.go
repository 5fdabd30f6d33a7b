package events

import (
	"sync"

	"github.com/tolelom/hilochain/internal/logger"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventTxExecuted    EventType = "tx_executed"
	EventTokenTransfer EventType = "token_transfer"
	EventGrant         EventType = "grant"
	EventCapability    EventType = "capability_granted"

	EventGameStarted         EventType = "game_started"
	EventPredictionResult    EventType = "prediction_result"
	EventStreakBroken        EventType = "streak_broken"
	EventStreakProtected     EventType = "streak_protected"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventBatchCompleted      EventType = "batch_completed"
	EventGameReset           EventType = "game_reset"

	EventMatchCreated   EventType = "match_created"
	EventMatchCancelled EventType = "match_cancelled"
	EventMatchStarted   EventType = "match_started"
	EventMoveSubmitted  EventType = "move_submitted"
	EventRoundCompleted EventType = "round_completed"
	EventMatchCompleted EventType = "match_completed"
	EventMatchExpired   EventType = "match_expired"
	EventQueueJoined    EventType = "queue_joined"
	EventQueueLeft      EventType = "queue_left"
	EventReactionSent   EventType = "reaction_sent"

	EventLeaderboardRolled   EventType = "leaderboard_rolled"
	EventLeaderboardUpdated  EventType = "leaderboard_updated"
	EventLeaderboardTeamPoll EventType = "leaderboard_team_poll"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Sink accepts events. Both Emitter and Batch implement it.
type Sink interface {
	Emit(ev Event)
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.For("events").Error("handler panicked", "type", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

// Batch buffers the events of one transaction. The executor flushes it to
// the emitter only after the transaction commits to the write buffer, and
// discards it on rollback.
type Batch struct {
	events []Event
}

// Emit appends ev to the batch.
func (b *Batch) Emit(ev Event) {
	b.events = append(b.events, ev)
}

// Events returns the buffered events in emission order.
func (b *Batch) Events() []Event {
	return b.events
}

// Flush emits every buffered event to sink and empties the batch.
func (b *Batch) Flush(sink Sink) {
	for _, ev := range b.events {
		sink.Emit(ev)
	}
	b.events = nil
}

// Discard drops every buffered event.
func (b *Batch) Discard() {
	b.events = nil
}
