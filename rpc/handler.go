package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/indexer"
	"github.com/tolelom/hilochain/oracle"
	"github.com/tolelom/hilochain/vm/modules/leaderboard"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	topTeams        = 10
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string      // expected chain_id; used to reject cross-chain replay transactions
	lock    sync.Locker // held around state reads; nil when state is not shared
}

// NewHandler creates an RPC Handler. lock guards state reads against the
// block producer and may be nil.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string, lock sync.Locker) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID, lock: lock}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getPlayer":
		return h.getPlayer(req)

	case "getPlayers":
		return h.getPlayers(req)

	case "getBattle":
		return h.getBattle(req)

	case "getBattlesByPlayer":
		return h.getBattlesByPlayer(req)

	case "getMatchPool":
		return h.read(req, func() (any, error) { return h.state.GetMatchPool() })

	case "getLeaderboard":
		return h.read(req, h.leaderboard)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// read runs fn under the state lock and wraps its result.
func (h *Handler) read(req Request, fn func() (any, error)) Response {
	if h.lock != nil {
		h.lock.Lock()
		defer h.lock.Unlock()
	}
	v, err := fn()
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeNotFound, err.Error())
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, v)
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if resp := decode(req, &params); resp != nil {
		return *resp
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

type addressParams struct {
	Address string `json:"address"`
}

func (h *Handler) address(req Request) (string, *Response) {
	var params addressParams
	if resp := decode(req, &params); resp != nil {
		return "", resp
	}
	if params.Address == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "address is required")
		return "", &resp
	}
	return params.Address, nil
}

func (h *Handler) getBalance(req Request) Response {
	addr, resp := h.address(req)
	if resp != nil {
		return *resp
	}
	return h.read(req, func() (any, error) {
		acc, err := h.state.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		return map[string]any{"address": addr, "balance": acc.Balance, "nonce": acc.Nonce}, nil
	})
}

// PlayerView is the getPlayer result: the session record without its deck,
// plus the records around it.
type PlayerView struct {
	Address      string                 `json:"address"`
	InSession    bool                   `json:"in_session"`
	CurrentCard  core.Card              `json:"current_card"`
	Streak       uint64                 `json:"streak"`
	BestStreak   uint64                 `json:"best_streak"`
	Plays        uint64                 `json:"plays"`
	Wins         uint64                 `json:"wins"`
	Points       uint64                 `json:"points"`
	LastPlayedAt int64                  `json:"last_played_at"`
	Achievements *core.AchievementState `json:"achievements"`
	Rate         *core.RateWindow       `json:"rate"`
	Membership   core.Membership        `json:"membership"`
	Inventory    *core.Inventory        `json:"inventory"`
	OpenBattle   uint64                 `json:"open_battle,omitempty"`
}

func (h *Handler) getPlayer(req Request) Response {
	addr, resp := h.address(req)
	if resp != nil {
		return *resp
	}
	return h.read(req, func() (any, error) {
		p, err := h.state.GetPlayer(addr)
		if err != nil {
			return nil, err
		}
		v := PlayerView{
			Address:      addr,
			InSession:    p.InSession,
			CurrentCard:  p.CurrentCard,
			Streak:       p.Streak,
			BestStreak:   p.BestStreak,
			Plays:        p.Plays,
			Wins:         p.Wins,
			Points:       p.Points,
			LastPlayedAt: p.LastPlayedAt,
		}
		if v.Achievements, err = h.state.GetAchievements(addr); err != nil {
			return nil, err
		}
		if v.Rate, err = h.state.GetRateWindow(addr); err != nil {
			return nil, err
		}
		if v.Membership, err = oracle.NewLedger(h.state).GetMembership(addr); err != nil {
			return nil, err
		}
		if v.Inventory, err = h.state.GetInventory(addr); err != nil {
			return nil, err
		}
		if v.OpenBattle, err = h.state.GetOpenBattle(addr); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// getPlayers pages through the registry of every account that ever
// started a game.
func (h *Handler) getPlayers(req Request) Response {
	var params struct {
		Offset uint64 `json:"offset"`
		Limit  uint64 `json:"limit"`
	}
	if resp := decode(req, &params); resp != nil {
		return *resp
	}
	if params.Limit == 0 {
		params.Limit = defaultPageSize
	}
	if params.Limit > maxPageSize {
		params.Limit = maxPageSize
	}
	return h.read(req, func() (any, error) {
		total, err := h.state.PlayerCount()
		if err != nil {
			return nil, err
		}
		players := []string{}
		for i := params.Offset; i < total && uint64(len(players)) < params.Limit; i++ {
			addr, err := h.state.PlayerAt(i)
			if err != nil {
				return nil, err
			}
			players = append(players, addr)
		}
		return map[string]any{"total": total, "offset": params.Offset, "players": players}, nil
	})
}

func (h *Handler) getBattle(req Request) Response {
	var params struct {
		ID uint64 `json:"id"`
	}
	if resp := decode(req, &params); resp != nil {
		return *resp
	}
	if params.ID == 0 {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	return h.read(req, func() (any, error) {
		b, err := h.state.GetBattle(params.ID)
		if err != nil {
			return nil, err
		}
		// Undrawn cards stay private.
		b.Deck = core.Deck{Cursor: b.Deck.Cursor}
		return b, nil
	})
}

func (h *Handler) getBattlesByPlayer(req Request) Response {
	addr, resp := h.address(req)
	if resp != nil {
		return *resp
	}
	ids, err := h.indexer.GetBattlesByPlayer(addr)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []uint64{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) leaderboard() (any, error) {
	entry, err := leaderboard.Current(h.state)
	if err != nil {
		return nil, err
	}
	teams, err := oracle.NewLedger(h.state).GetTopTeams(topTeams)
	if err != nil {
		return nil, err
	}
	return map[string]any{"week": entry, "top_teams": teams}, nil
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
