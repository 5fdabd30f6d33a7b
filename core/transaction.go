package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/hilochain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer        TxType = "transfer"
	TxGrant           TxType = "grant"
	TxGrantCapability TxType = "grant_capability"

	TxGameStart      TxType = "game_start"
	TxGameGuess      TxType = "game_guess"
	TxGameBatchGuess TxType = "game_batch_guess"
	TxGameReset      TxType = "game_reset"

	TxBattleChallenge    TxType = "battle_challenge"
	TxBattleCancel       TxType = "battle_cancel"
	TxBattleAccept       TxType = "battle_accept"
	TxBattleJoinQueue    TxType = "battle_join_queue"
	TxBattleLeaveQueue   TxType = "battle_leave_queue"
	TxBattleFindOpponent TxType = "battle_find_opponent"
	TxBattlePlay         TxType = "battle_play"
	TxBattleClaimTimeout TxType = "battle_claim_timeout"
	TxBattleReact        TxType = "battle_react"

	TxLeaderboardRefresh TxType = "leaderboard_refresh"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// GrantKind names the collaborator record a grant writes.
type GrantKind string

const (
	GrantMembership       GrantKind = "membership"
	GrantBoost            GrantKind = "boost"
	GrantCredits          GrantKind = "credits"
	GrantSkipTokens       GrantKind = "skip_tokens"
	GrantStreakProtection GrantKind = "streak_protection"
	GrantBatch            GrantKind = "batch"
	GrantReaction         GrantKind = "reaction"
	GrantTeam             GrantKind = "team"
)

// GrantPayload is an operator write into the collaborator ledger. Only the
// fields relevant to Kind are read.
type GrantPayload struct {
	Kind     GrantKind      `json:"kind"`
	To       string         `json:"to"`
	Tier     MembershipTier `json:"tier,omitempty"`
	Amount   uint64         `json:"amount,omitempty"`   // credits, tokens, uses, boost x10, reaction count
	Duration int64          `json:"duration,omitempty"` // nanoseconds from block time
	ItemID   string         `json:"item_id,omitempty"`
	TeamID   string         `json:"team_id,omitempty"`
}

// GrantCapabilityPayload adds a capability to an account.
type GrantCapabilityPayload struct {
	To         string `json:"to"`
	Capability string `json:"capability"`
}

// GuessPayload submits one prediction in a single-player session.
type GuessPayload struct {
	Kind    PredictionKind `json:"kind"`
	Suit    Suit           `json:"suit"`
	UseSkip bool           `json:"use_skip"`
}

// BatchGuessPayload submits several predictions evaluated in order.
type BatchGuessPayload struct {
	Kinds   []PredictionKind `json:"kinds"`
	Suits   []Suit           `json:"suits"`
	UseSkip bool             `json:"use_skip"`
}

// ChallengePayload invites a specific opponent to a battle.
type ChallengePayload struct {
	Opponent string `json:"opponent"`
}

// BattleRefPayload names an existing battle.
type BattleRefPayload struct {
	BattleID uint64 `json:"battle_id"`
}

// BattlePlayPayload submits a prediction for the current battle round.
type BattlePlayPayload struct {
	BattleID uint64         `json:"battle_id"`
	Kind     PredictionKind `json:"kind"`
	Suit     Suit           `json:"suit"`
}

// BattleReactPayload sends a post-match reaction item.
type BattleReactPayload struct {
	BattleID uint64 `json:"battle_id"`
	ItemID   string `json:"item_id"`
}
