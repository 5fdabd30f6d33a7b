package wallet

import (
	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
)

// Wallet holds a key pair bound to one chain and provides
// transaction-building helpers. Game transactions carry no fee.
type Wallet struct {
	chainID string
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
}

// New creates a Wallet for chainID from an existing private key.
func New(chainID string, priv crypto.PrivateKey) *Wallet {
	return &Wallet{chainID: chainID, priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(chainID, priv), nil
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() string { return w.chainID }

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{
		To:     to,
		Amount: amount,
	})
}

// Grant creates an operator grant.
func (w *Wallet) Grant(nonce uint64, p core.GrantPayload) (*core.Transaction, error) {
	return w.NewTx(core.TxGrant, nonce, 0, p)
}

// GrantCapability creates an admin capability grant.
func (w *Wallet) GrantCapability(nonce uint64, to, capability string) (*core.Transaction, error) {
	return w.NewTx(core.TxGrantCapability, nonce, 0, core.GrantCapabilityPayload{
		To:         to,
		Capability: capability,
	})
}

// ---- single player ----

func (w *Wallet) StartGame(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxGameStart, nonce, 0, struct{}{})
}

func (w *Wallet) Guess(nonce uint64, kind core.PredictionKind, suit core.Suit, useSkip bool) (*core.Transaction, error) {
	return w.NewTx(core.TxGameGuess, nonce, 0, core.GuessPayload{Kind: kind, Suit: suit, UseSkip: useSkip})
}

func (w *Wallet) BatchGuess(nonce uint64, kinds []core.PredictionKind, suits []core.Suit, useSkip bool) (*core.Transaction, error) {
	return w.NewTx(core.TxGameBatchGuess, nonce, 0, core.BatchGuessPayload{Kinds: kinds, Suits: suits, UseSkip: useSkip})
}

func (w *Wallet) ResetGame(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxGameReset, nonce, 0, struct{}{})
}

// ---- battles ----

func (w *Wallet) Challenge(nonce uint64, opponent string) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleChallenge, nonce, 0, core.ChallengePayload{Opponent: opponent})
}

func (w *Wallet) CancelBattle(nonce, battleID uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleCancel, nonce, 0, core.BattleRefPayload{BattleID: battleID})
}

func (w *Wallet) AcceptBattle(nonce, battleID uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleAccept, nonce, 0, core.BattleRefPayload{BattleID: battleID})
}

func (w *Wallet) JoinQueue(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleJoinQueue, nonce, 0, struct{}{})
}

func (w *Wallet) LeaveQueue(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleLeaveQueue, nonce, 0, struct{}{})
}

func (w *Wallet) FindOpponent(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleFindOpponent, nonce, 0, struct{}{})
}

func (w *Wallet) Play(nonce, battleID uint64, kind core.PredictionKind, suit core.Suit) (*core.Transaction, error) {
	return w.NewTx(core.TxBattlePlay, nonce, 0, core.BattlePlayPayload{BattleID: battleID, Kind: kind, Suit: suit})
}

func (w *Wallet) ClaimTimeout(nonce, battleID uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleClaimTimeout, nonce, 0, core.BattleRefPayload{BattleID: battleID})
}

func (w *Wallet) React(nonce, battleID uint64, itemID string) (*core.Transaction, error) {
	return w.NewTx(core.TxBattleReact, nonce, 0, core.BattleReactPayload{BattleID: battleID, ItemID: itemID})
}

// RefreshLeaderboard asks the chain to poll the team collaborator.
func (w *Wallet) RefreshLeaderboard(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxLeaderboardRefresh, nonce, 0, struct{}{})
}
