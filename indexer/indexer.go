// Package indexer maintains secondary indexes over executed transactions so
// game servers can list a player's battles without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/internal/logger"
	"github.com/tolelom/hilochain/storage"
)

const (
	prefixPlayerBattles = "idx:player:battle:"
	prefixPlayerWins    = "idx:player:win:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db  storage.DB
	log *slog.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, log: logger.For("indexer")}
	emitter.Subscribe(events.EventMatchCreated, idx.onMatchCreated)
	emitter.Subscribe(events.EventMatchCompleted, idx.onMatchEnded)
	emitter.Subscribe(events.EventMatchExpired, idx.onMatchEnded)
	return idx
}

// GetBattlesByPlayer returns the ids of every battle player took part in,
// oldest first.
func (idx *Indexer) GetBattlesByPlayer(player string) ([]uint64, error) {
	return idx.getList(prefixPlayerBattles + player)
}

// GetWinsByPlayer returns the ids of the battles player won.
func (idx *Indexer) GetWinsByPlayer(player string) ([]uint64, error) {
	return idx.getList(prefixPlayerWins + player)
}

// ---- event handlers ----

func (idx *Indexer) onMatchCreated(ev events.Event) {
	id, ok := battleID(ev.Data["battle_id"])
	if !ok {
		return
	}
	for _, key := range []string{"challenger", "opponent"} {
		if player, _ := ev.Data[key].(string); player != "" {
			idx.add(prefixPlayerBattles+player, id)
		}
	}
}

func (idx *Indexer) onMatchEnded(ev events.Event) {
	id, ok := battleID(ev.Data["battle_id"])
	winner, _ := ev.Data["winner"].(string)
	if !ok || winner == "" {
		return
	}
	idx.add(prefixPlayerWins+winner, id)
}

// battleID accepts the in-process uint64 and the float64 a JSON round trip
// produces.
func battleID(v any) (uint64, bool) {
	switch id := v.(type) {
	case uint64:
		return id, id != 0
	case float64:
		return uint64(id), id > 0
	}
	return 0, false
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) add(key string, id uint64) {
	if err := idx.addToList(key, id); err != nil {
		idx.log.Warn("index update failed", "key", key, "id", id, "err", err)
	}
}

func (idx *Indexer) addToList(key string, id uint64) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, have := range ids {
		if have == id {
			return nil
		}
	}
	data, err := json.Marshal(append(ids, id))
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
