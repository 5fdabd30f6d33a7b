package core

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/tolelom/hilochain/crypto"
)

// BlockHeader is the hashed and signed part of a block.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"`
	TxRoot    string `json:"tx_root"`
	Timestamp int64  `json:"timestamp"`
	Proposer  string `json:"proposer"` // pubkey hex
	// Beacon seeds every card draw made while executing this block.
	Beacon string `json:"beacon"`
}

// Block is a signed header plus the transactions it applied.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// NewBlock returns an unsigned block stamped with the current time.
func NewBlock(height int64, prevHash, proposer, beacon string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
			Beacon:    beacon,
		},
		Transactions: txs,
	}
}

// ComputeHash hashes the JSON-encoded header. BlockHeader has only string
// and integer fields, so encoding cannot fail.
func (b *Block) ComputeHash() string {
	data, _ := json.Marshal(b.Header)
	return crypto.Hash(data)
}

// Sign fills in Hash and the proposer signature over it.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot commits to the ordered list of transaction ids.
func ComputeTxRoot(txs []*Transaction) string {
	parts := make([][]byte, 0, len(txs)+1)
	parts = append(parts, []byte("txroot"))
	for _, tx := range txs {
		parts = append(parts, []byte(tx.ID))
	}
	sum := crypto.HashParts(parts...)
	return hex.EncodeToString(sum[:])
}

// DeriveBeacon returns the beacon for the block at height built on prev
// (nil before the first block). It chains prev's proposer signature, which
// nobody can know before prev is sealed.
func DeriveBeacon(prev *Block, height int64) string {
	link := []byte("genesis")
	if prev != nil {
		link = []byte(prev.Signature)
	}
	sum := crypto.HashParts([]byte("beacon"), link, crypto.Uint64Bytes(uint64(height)))
	return hex.EncodeToString(sum[:])
}
